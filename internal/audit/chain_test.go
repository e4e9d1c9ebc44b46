package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func logN(t *testing.T, c *Chain, n int) []models.AuditEntry {
	t.Helper()
	var out []models.AuditEntry
	for i := 0; i < n; i++ {
		e, err := c.Log(models.AuditEntry{
			Agent:  "test",
			Action: "unit_test",
			Result: models.AuditOK,
			UserID: "u1",
		})
		if err != nil {
			t.Fatalf("Log() error = %v", err)
		}
		out = append(out, *e)
	}
	return out
}

func TestChainLinkage(t *testing.T) {
	c := newTestChain(t)
	entries := logN(t, c, 3)

	if entries[0].Prev != GenesisHash {
		t.Errorf("first entry Prev = %q, want genesis", entries[0].Prev)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Prev != entries[i-1].Hash {
			t.Errorf("entry %d Prev = %q, want %q", i+1, entries[i].Prev, entries[i-1].Hash)
		}
		if entries[i].Seq != entries[i-1].Seq+1 {
			t.Errorf("entry %d Seq = %d, want %d", i+1, entries[i].Seq, entries[i-1].Seq+1)
		}
	}

	report := c.VerifyChain(entries[0].Date)
	if !report.Valid {
		t.Fatalf("VerifyChain() not valid: %+v", report)
	}
	if report.Entries != 3 {
		t.Errorf("VerifyChain().Entries = %d, want 3", report.Entries)
	}
	if report.SigsOK != 3 || report.SigsFailed != 0 {
		t.Errorf("signatures: ok=%d failed=%d, want 3/0", report.SigsOK, report.SigsFailed)
	}
}

func TestVerifyDetectsTamper(t *testing.T) {
	c := newTestChain(t)
	entries := logN(t, c, 3)
	date := entries[0].Date

	// Flip one byte in the middle entry's stored hash.
	path := c.dayPath(date)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read day file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("day file has %d lines, want 3", len(lines))
	}
	var mid models.AuditEntry
	if err := json.Unmarshal([]byte(lines[1]), &mid); err != nil {
		t.Fatalf("parse middle entry: %v", err)
	}
	flipped := []byte(mid.Hash)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	mid.Hash = string(flipped)
	tampered, _ := json.Marshal(&mid)
	lines[1] = string(tampered)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write tampered file: %v", err)
	}

	report := c.VerifyChain(date)
	if report.Valid {
		t.Fatal("VerifyChain() valid = true for tampered chain")
	}
	if report.BrokenAt != 2 {
		t.Errorf("BrokenAt = %d, want 2", report.BrokenAt)
	}
	if report.Expected == report.Got {
		t.Error("expected and got hashes should differ")
	}
}

func TestHeadPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	c1, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	first := logN(t, c1, 2)

	c2, err := New(dir)
	if err != nil {
		t.Fatalf("reopen New() error = %v", err)
	}
	next := logN(t, c2, 1)

	if next[0].Prev != first[1].Hash {
		t.Errorf("after reopen, Prev = %q, want %q", next[0].Prev, first[1].Hash)
	}
	if next[0].Seq != first[1].Seq+1 {
		t.Errorf("after reopen, Seq = %d, want %d", next[0].Seq, first[1].Seq+1)
	}
}

func TestSealDay(t *testing.T) {
	c := newTestChain(t)
	entries := logN(t, c, 2)
	date := entries[0].Date

	rec, err := c.SealDay(date)
	if err != nil {
		t.Fatalf("SealDay() error = %v", err)
	}
	if rec.Entries != 2 {
		t.Errorf("seal Entries = %d, want 2", rec.Entries)
	}
	if rec.Digest == "" || rec.Sig == "" {
		t.Error("seal digest/sig should not be empty")
	}
	if _, err := os.Stat(filepath.Join(c.dir, "seal_"+date+".json")); err != nil {
		t.Errorf("seal file missing: %v", err)
	}
}

func TestStats(t *testing.T) {
	c := newTestChain(t)
	logN(t, c, 3)

	stats := c.Stats()
	if stats.Seq != 3 {
		t.Errorf("Stats().Seq = %d, want 3", stats.Seq)
	}
	if stats.LastHash == GenesisHash {
		t.Error("Stats().LastHash should have advanced past genesis")
	}
	if len(stats.Days) != 1 {
		t.Errorf("Stats().Days = %v, want one day", stats.Days)
	}
	if stats.ByAction["unit_test"] != 3 {
		t.Errorf("ByAction[unit_test] = %d, want 3", stats.ByAction["unit_test"])
	}
}

func TestRecent(t *testing.T) {
	c := newTestChain(t)
	logN(t, c, 5)

	got, err := c.Recent(2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(got))
	}
	if got[1].Seq != 5 || got[0].Seq != 4 {
		t.Errorf("Recent(2) seqs = %d,%d, want 4,5", got[0].Seq, got[1].Seq)
	}
	// Timestamps must parse as RFC3339.
	if _, err := time.Parse(time.RFC3339Nano, got[0].Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}
}
