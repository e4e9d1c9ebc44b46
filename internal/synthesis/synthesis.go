// Package synthesis implements the generate-judge-merge completion
// strategy: N parallel candidates, a judge pass ranking them, a merge
// pass combining the two best into one answer.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

const defaultCandidates = 3

// ChunkSize approximates token cadence when the merged answer is
// re-streamed to the client.
const ChunkSize = 24

// Synthesizer runs the strategy against a chat backend. Any internal
// failure returns an error; the orchestrator falls back to plain
// single-candidate streaming.
type Synthesizer struct {
	backend    contracts.ChatBackend
	candidates int
}

func New(backend contracts.ChatBackend, candidates int) *Synthesizer {
	if candidates < 2 {
		candidates = defaultCandidates
	}
	return &Synthesizer{backend: backend, candidates: candidates}
}

// Run produces the merged answer and the timing metadata surfaced in
// the final done event.
func (s *Synthesizer) Run(ctx context.Context, prompt []models.ChatMessage, opts contracts.StreamOptions) (string, *models.SynthesisMeta, error) {
	start := time.Now()

	candidates, err := s.generate(ctx, prompt, opts)
	if err != nil {
		return "", nil, err
	}

	judgeStart := time.Now()
	ranked, err := s.judge(ctx, prompt, candidates)
	if err != nil {
		return "", nil, err
	}
	judgeMs := time.Since(judgeStart).Milliseconds()

	mergeStart := time.Now()
	merged, err := s.merge(ctx, prompt, ranked[0], ranked[1])
	if err != nil {
		return "", nil, err
	}
	mergeMs := time.Since(mergeStart).Milliseconds()

	meta := &models.SynthesisMeta{
		Candidates: len(candidates),
		Strategy:   "generate-judge-merge",
		JudgeMs:    judgeMs,
		MergeMs:    mergeMs,
		TotalMs:    time.Since(start).Milliseconds(),
	}
	return merged, meta, nil
}

// generate runs N completions in parallel over the same prompt. A
// candidate failure is tolerated as long as two survive.
func (s *Synthesizer) generate(ctx context.Context, prompt []models.ChatMessage, opts contracts.StreamOptions) ([]string, error) {
	results := make([]string, s.candidates)
	errs := make([]error, s.candidates)
	var wg sync.WaitGroup
	for i := 0; i < s.candidates; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			// Vary temperature per slot so candidates actually differ.
			slotOpts := opts
			slotOpts.Temperature = opts.Temperature + float64(slot)*0.15
			results[slot], errs[slot] = s.backend.Complete(ctx, prompt, slotOpts)
		}(i)
	}
	wg.Wait()

	var ok []string
	for i, r := range results {
		if errs[i] != nil {
			log.Warn().Err(errs[i]).Int("slot", i).Msg("Synthesis candidate failed")
			continue
		}
		if strings.TrimSpace(r) != "" {
			ok = append(ok, r)
		}
	}
	if len(ok) < 2 {
		return nil, fmt.Errorf("only %d usable candidates of %d", len(ok), s.candidates)
	}
	return ok, nil
}

// judge asks the backend to score every candidate 1-10 and returns them
// best first. An unparseable verdict falls back to input order.
func (s *Synthesizer) judge(ctx context.Context, prompt []models.ChatMessage, candidates []string) ([]string, error) {
	var sb strings.Builder
	sb.WriteString("Score each answer to the question below from 1 to 10 for accuracy and completeness. Reply with scores only, one per line, as `N: score`.\n\nQuestion:\n")
	sb.WriteString(lastUser(prompt))
	for i, c := range candidates {
		fmt.Fprintf(&sb, "\n\nAnswer %d:\n%s", i+1, c)
	}

	verdict, err := s.backend.Complete(ctx, []models.ChatMessage{{Role: "user", Content: sb.String()}}, contracts.StreamOptions{Temperature: 0})
	if err != nil {
		return nil, fmt.Errorf("judge pass: %w", err)
	}

	scores := parseScores(verdict, len(candidates))
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	ranked := make([]string, len(candidates))
	for i, idx := range order {
		ranked[i] = candidates[idx]
	}
	return ranked, nil
}

func (s *Synthesizer) merge(ctx context.Context, prompt []models.ChatMessage, best, second string) (string, error) {
	content := fmt.Sprintf(
		"Combine the two draft answers below into one final answer to the question. Keep the strongest parts of each; remove repetition; do not mention the drafts.\n\nQuestion:\n%s\n\nDraft A:\n%s\n\nDraft B:\n%s",
		lastUser(prompt), best, second)

	merged, err := s.backend.Complete(ctx, []models.ChatMessage{{Role: "user", Content: content}}, contracts.StreamOptions{Temperature: 0.3})
	if err != nil {
		return "", fmt.Errorf("merge pass: %w", err)
	}
	if strings.TrimSpace(merged) == "" {
		return "", fmt.Errorf("merge produced empty answer")
	}
	return merged, nil
}

// Chunks splits a merged answer for re-streaming at token-like cadence.
func Chunks(text string) []string {
	var out []string
	for len(text) > ChunkSize {
		cut := ChunkSize
		// Prefer a space so words survive the split.
		if i := strings.LastIndexByte(text[:ChunkSize], ' '); i > 0 {
			cut = i + 1
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func lastUser(prompt []models.ChatMessage) string {
	for i := len(prompt) - 1; i >= 0; i-- {
		if prompt[i].Role == "user" {
			return prompt[i].Content
		}
	}
	return ""
}

// parseScores pulls `N: score` lines out of the judge verdict. Missing
// entries default to 0.
func parseScores(verdict string, n int) []float64 {
	scores := make([]float64, n)
	for _, line := range strings.Split(verdict, "\n") {
		idxStr, scoreStr, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(idxStr, "Answer ")))
		if err != nil || idx < 1 || idx > n {
			continue
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(scoreStr), 64)
		if err != nil {
			continue
		}
		scores[idx-1] = score
	}
	return scores
}
