package frontier

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

var thresholds = map[models.Tier]float64{
	models.TierFree:      0,
	models.TierPro:       0.35,
	models.TierSovereign: 0.5,
}

func pro() *models.Caller       { return &models.Caller{UserID: "alice", Tier: models.TierPro} }
func sovereign() *models.Caller { return &models.Caller{UserID: "sam", Tier: models.TierSovereign} }

func TestScorePOH(t *testing.T) {
	assert.InDelta(t, 0.9, ScorePOH("what is 2+2"), 0.001)
	assert.Less(t, ScorePOH("what are the latest developments in fusion?"), 0.9)

	long := make([]byte, 2500)
	for i := range long {
		long[i] = 'a'
	}
	assert.Less(t, ScorePOH(string(long)), 0.6)
	assert.GreaterOrEqual(t, ScorePOH("a? b? c? d? e? "+string(long)+" latest"), 0.0)
}

func TestDecideThresholds(t *testing.T) {
	r := NewRouter(true, "openai", "gpt-test", 10, thresholds, nil)

	// Free tier never escalates.
	d := r.Decide(&models.Caller{UserID: "bob", Tier: models.TierFree}, 0.1)
	assert.False(t, d.Escalate)
	assert.Equal(t, "tier_not_eligible", d.Reason)

	// Above threshold stays local.
	d = r.Decide(pro(), 0.8)
	assert.False(t, d.Escalate)
	assert.Equal(t, "poh_above_threshold", d.Reason)

	// Below threshold escalates.
	d = r.Decide(pro(), 0.2)
	assert.True(t, d.Escalate)
	assert.Equal(t, "poh_below_threshold", d.Reason)

	// Sovereign has a higher threshold: 0.4 escalates there but not for pro.
	assert.True(t, r.Decide(sovereign(), 0.4).Escalate)
	assert.False(t, r.Decide(pro(), 0.4).Escalate)
}

func TestDecideDisabled(t *testing.T) {
	r := NewRouter(false, "openai", "gpt-test", 10, thresholds, nil)
	d := r.Decide(pro(), 0.0)
	assert.False(t, d.Escalate)
	assert.Equal(t, "frontier_disabled", d.Reason)
}

func TestHourlyQuotaWindow(t *testing.T) {
	r := NewRouter(true, "openai", "gpt-test", 2, thresholds, nil)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	assert.True(t, r.Decide(pro(), 0.1).Escalate)
	assert.True(t, r.Decide(pro(), 0.1).Escalate)

	d := r.Decide(pro(), 0.1)
	assert.False(t, d.Escalate)
	assert.Equal(t, "provider_quota_exhausted", d.Reason)

	used, limit := r.Usage("alice")
	assert.Equal(t, 2, used)
	assert.Equal(t, 2, limit)

	// Window slides.
	r.now = func() time.Time { return base.Add(61 * time.Minute) }
	assert.True(t, r.Decide(pro(), 0.1).Escalate)
}

func TestAdapterStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/v1/chat/completions", req.URL.Path)
		require.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	b := NewBackend("openai", srv.URL+"/v1", "gpt-test", "test-key", 10*time.Second)
	var got string
	err := b.Stream(context.Background(), []models.ChatMessage{{Role: "user", Content: "hi"}}, contracts.StreamOptions{}, func(tok string) error {
		got += tok
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestAdapterComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"full answer"}}]}`)
	}))
	defer srv.Close()

	b := NewBackend("openai", srv.URL, "gpt-test", "k", 10*time.Second)
	out, err := b.Complete(context.Background(), nil, contracts.StreamOptions{})
	require.NoError(t, err)
	assert.Equal(t, "full answer", out)
}
