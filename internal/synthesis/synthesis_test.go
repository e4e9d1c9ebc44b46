package synthesis

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// scriptedBackend answers Complete calls by request shape: candidate
// generations echo their temperature, judge and merge prompts get
// scripted replies.
type scriptedBackend struct {
	judgeReply string
	mergeReply string
	failSlots  int32
	calls      atomic.Int32
}

func (b *scriptedBackend) Name() string  { return "local" }
func (b *scriptedBackend) Model() string { return "test-model" }

func (b *scriptedBackend) Stream(context.Context, []models.ChatMessage, contracts.StreamOptions, func(string) error) error {
	return fmt.Errorf("not used")
}

func (b *scriptedBackend) Complete(_ context.Context, msgs []models.ChatMessage, opts contracts.StreamOptions) (string, error) {
	b.calls.Add(1)
	content := msgs[len(msgs)-1].Content
	switch {
	case strings.HasPrefix(content, "Score each answer"):
		return b.judgeReply, nil
	case strings.HasPrefix(content, "Combine the two draft"):
		return b.mergeReply, nil
	default:
		if atomic.AddInt32(&b.failSlots, -1) >= 0 {
			return "", fmt.Errorf("candidate backend error")
		}
		return fmt.Sprintf("candidate@%.2f", opts.Temperature), nil
	}
}

func (b *scriptedBackend) HealthCheck(context.Context) error { return nil }

func TestRunGenerateJudgeMerge(t *testing.T) {
	backend := &scriptedBackend{
		judgeReply: "1: 4\n2: 9\n3: 7",
		mergeReply: "the merged answer",
	}
	s := New(backend, 3)

	merged, meta, err := s.Run(context.Background(), []models.ChatMessage{{Role: "user", Content: "q"}}, contracts.StreamOptions{Temperature: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "the merged answer", merged)
	require.NotNil(t, meta)
	assert.Equal(t, 3, meta.Candidates)
	assert.Equal(t, "generate-judge-merge", meta.Strategy)
	// 3 candidates + judge + merge.
	assert.Equal(t, int32(5), backend.calls.Load())
}

func TestRunToleratesOneCandidateFailure(t *testing.T) {
	backend := &scriptedBackend{
		judgeReply: "1: 5\n2: 6",
		mergeReply: "merged",
		failSlots:  1,
	}
	s := New(backend, 3)
	merged, meta, err := s.Run(context.Background(), []models.ChatMessage{{Role: "user", Content: "q"}}, contracts.StreamOptions{})
	require.NoError(t, err)
	assert.Equal(t, "merged", merged)
	assert.Equal(t, 2, meta.Candidates)
}

func TestRunFailsWithoutTwoCandidates(t *testing.T) {
	backend := &scriptedBackend{failSlots: 2}
	s := New(backend, 3)
	_, _, err := s.Run(context.Background(), []models.ChatMessage{{Role: "user", Content: "q"}}, contracts.StreamOptions{})
	assert.Error(t, err)
}

func TestParseScores(t *testing.T) {
	scores := parseScores("1: 4\nAnswer 2: 9.5\nnoise line\n3: 7\n9: 1", 3)
	assert.Equal(t, []float64{4, 9.5, 7}, scores)
}

func TestChunksRoundTrip(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 10)
	chunks := Chunks(text)
	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, len(c), ChunkSize+1)
	}
}

func TestChunksShortText(t *testing.T) {
	assert.Equal(t, []string{"short"}, Chunks("short"))
	assert.Nil(t, Chunks(""))
}
