package vectorstore

import (
	"testing"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), nil)
}

func TestAddRejectsLengthMismatch(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Get("u1", models.NamespaceEdubba)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	err = s.Add([]string{"a", "b"}, [][]float64{{1, 0}}, []map[string]string{nil, nil})
	if err == nil {
		t.Fatal("Add() with mismatched arrays should error")
	}
}

func TestQueryRanksByCosine(t *testing.T) {
	m := newTestManager(t)
	s, _ := m.Get("u1", models.NamespaceEdubba)

	docs := []string{"east", "north", "northeast"}
	embs := [][]float64{{1, 0}, {0, 1}, {1, 1}}
	metas := []map[string]string{nil, nil, nil}
	if err := s.Add(docs, embs, metas); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	hits := s.Query([]float64{1, 0.1}, 2, 0)
	if len(hits) != 2 {
		t.Fatalf("Query() returned %d hits, want 2", len(hits))
	}
	if hits[0].Document != "east" {
		t.Errorf("top hit = %q, want %q", hits[0].Document, "east")
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not sorted descending")
	}
	if hits[0].Metadata["timestamp"] == "" {
		t.Error("metadata should always carry a timestamp")
	}
}

func TestQueryThresholdAndNilEmbedding(t *testing.T) {
	m := newTestManager(t)
	s, _ := m.Get("u1", models.NamespaceMnemosyne)
	s.Add([]string{"doc"}, [][]float64{{0, 1}}, []map[string]string{nil})

	if hits := s.Query([]float64{1, 0}, 5, 0.5); len(hits) != 0 {
		t.Errorf("orthogonal vector above threshold: %v", hits)
	}
	if hits := s.Query(nil, 5, 0); hits != nil {
		t.Errorf("nil embedding should yield empty result set, got %v", hits)
	}
}

func TestMissingEmbeddingDroppedSilently(t *testing.T) {
	m := newTestManager(t)
	s, _ := m.Get("u1", models.NamespaceEdubba)

	err := s.Add([]string{"kept", "dropped"}, [][]float64{{1, 0}, nil}, []map[string]string{nil, nil})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got := s.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestPerUserIsolation(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.Get("user-a", models.NamespaceEdubba)
	b, _ := m.Get("user-b", models.NamespaceEdubba)

	if err := b.Add([]string{"secret"}, [][]float64{{1, 0}}, []map[string]string{{"userId": "user-b"}}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	hits := a.Query([]float64{1, 0}, 5, 0)
	if len(hits) != 0 {
		t.Fatalf("user-a retrieved %d records ingested by user-b", len(hits))
	}
	for _, h := range hits {
		if h.Metadata["userId"] == "user-b" {
			t.Error("cross-user record leaked into retrieval set")
		}
	}
}

func TestGuestAndBadNamespaceRefused(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Get("", models.NamespaceEdubba); err == nil {
		t.Error("anonymous caller should be refused")
	}
	if _, err := m.Get("u1", models.Namespace("scratch")); err == nil {
		t.Error("namespace outside the closed set should be refused")
	}
}

func TestUserIDSanitizationLogged(t *testing.T) {
	violations := 0
	m := NewManager(t.TempDir(), func(action string, meta map[string]any) {
		if action == "namespace_violation" {
			violations++
		}
	})
	if _, err := m.Get("../evil/../user", models.NamespaceEdubba); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if violations != 1 {
		t.Errorf("namespace violations logged = %d, want 1", violations)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m1 := NewManager(dir, nil)
	s1, _ := m1.Get("u1", models.NamespaceEdubba)
	s1.Add([]string{"persisted"}, [][]float64{{0.5, 0.5}}, []map[string]string{nil})

	m2 := NewManager(dir, nil)
	s2, err := m2.Get("u1", models.NamespaceEdubba)
	if err != nil {
		t.Fatalf("Get() after reload error = %v", err)
	}
	if s2.Count() != 1 {
		t.Errorf("reloaded Count() = %d, want 1", s2.Count())
	}
	hits := s2.Query([]float64{0.5, 0.5}, 1, 0.9)
	if len(hits) != 1 || hits[0].Document != "persisted" {
		t.Errorf("reloaded Query() = %v", hits)
	}
}
