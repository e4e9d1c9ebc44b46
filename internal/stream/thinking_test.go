package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func feedAll(e *ThinkingExtractor, tokens []string) (string, []string) {
	var visible strings.Builder
	var thoughts []string
	for _, tok := range tokens {
		v, th := e.Feed(tok)
		visible.WriteString(v)
		thoughts = append(thoughts, th...)
	}
	v, th := e.Flush()
	visible.WriteString(v)
	thoughts = append(thoughts, th...)
	return visible.String(), thoughts
}

func TestExtractorPassThrough(t *testing.T) {
	visible, thoughts := feedAll(&ThinkingExtractor{}, []string{"hello ", "world"})
	assert.Equal(t, "hello world", visible)
	assert.Empty(t, thoughts)
}

func TestExtractorSplitsBlock(t *testing.T) {
	visible, thoughts := feedAll(&ThinkingExtractor{}, []string{
		"<think>the user wants brevity. keep it short.</think>", "Short answer.",
	})
	assert.Equal(t, "Short answer.", visible)
	assert.Equal(t, []string{"the user wants brevity.", "keep it short."}, thoughts)
}

func TestExtractorDelimiterAcrossTokens(t *testing.T) {
	visible, thoughts := feedAll(&ThinkingExtractor{}, []string{
		"before <th", "ink>hidden reasoning", ".</thi", "nk> after",
	})
	assert.Equal(t, "before  after", visible)
	assert.Equal(t, []string{"hidden reasoning."}, thoughts)
}

func TestExtractorCoalescesSentences(t *testing.T) {
	e := &ThinkingExtractor{}
	e.Feed("<think>")

	// Tokens trickle in; no thought until a sentence completes.
	_, th := e.Feed("first I")
	assert.Empty(t, th)
	_, th = e.Feed(" check the premise")
	assert.Empty(t, th)
	_, th = e.Feed(". then")
	assert.Equal(t, []string{"first I check the premise."}, th)

	_, th = e.Feed(" I answer. ")
	assert.Equal(t, []string{"then I answer."}, th)
}

func TestExtractorUnclosedBlockFlushesAsThought(t *testing.T) {
	visible, thoughts := feedAll(&ThinkingExtractor{}, []string{"<think>never closed"})
	assert.Empty(t, visible)
	assert.Equal(t, []string{"never closed"}, thoughts)
}

func TestExtractorAngleBracketFalseAlarm(t *testing.T) {
	visible, thoughts := feedAll(&ThinkingExtractor{}, []string{"a < b and x <t", "able> done"})
	assert.Equal(t, "a < b and x <table> done", visible)
	assert.Empty(t, thoughts)
}

func TestStripThinking(t *testing.T) {
	in := "pre <think>secret.</think>post"
	assert.Equal(t, "pre post", StripThinking(in))

	// Unclosed block strips to end of text.
	assert.Equal(t, "pre", StripThinking("pre <think>dangling"))
}

func TestStripThinkingIdempotent(t *testing.T) {
	inputs := []string{
		"pre <think>a.</think> post",
		"no blocks at all",
		"<think>only block</think>",
	}
	for _, in := range inputs {
		once := StripThinking(in)
		assert.Equal(t, once, StripThinking(once), "second strip must be a no-op: %q", in)
	}
}
