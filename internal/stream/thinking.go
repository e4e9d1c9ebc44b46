package stream

import (
	"regexp"
	"strings"
)

// Reasoning models wrap their scratchpad in think tags. The extractor
// mirrors those blocks into thinking events while keeping them out of
// the user-visible text.
const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*|<think>.*$`)

// StripThinking removes every reasoning block from a completed text.
// Applying it to already-stripped text is a no-op.
func StripThinking(text string) string {
	return strings.TrimSpace(thinkBlockRe.ReplaceAllString(text, ""))
}

// ThinkingExtractor is the streaming counterpart of StripThinking.
// Tokens are fed as they arrive; delimiters may split across tokens, so
// a short carry is held back until it can be classified. Thoughts are
// coalesced on sentence boundaries: one complete sentence, one event.
type ThinkingExtractor struct {
	carry    string
	inside   bool
	sentence strings.Builder
}

// Feed consumes one backend token and returns the user-visible part
// plus any completed thinking sentences.
func (e *ThinkingExtractor) Feed(token string) (string, []string) {
	e.carry += token
	var visible strings.Builder
	var thoughts []string

	for {
		if !e.inside {
			if idx := strings.Index(e.carry, thinkOpen); idx >= 0 {
				visible.WriteString(e.carry[:idx])
				e.carry = e.carry[idx+len(thinkOpen):]
				e.inside = true
				continue
			}
			keep := partialDelimiter(e.carry, thinkOpen)
			visible.WriteString(e.carry[:len(e.carry)-keep])
			e.carry = e.carry[len(e.carry)-keep:]
			break
		}

		if idx := strings.Index(e.carry, thinkClose); idx >= 0 {
			e.sentence.WriteString(e.carry[:idx])
			thoughts = append(thoughts, e.drainSentences()...)
			if s := strings.TrimSpace(e.sentence.String()); s != "" {
				thoughts = append(thoughts, s)
			}
			e.sentence.Reset()
			e.carry = e.carry[idx+len(thinkClose):]
			e.inside = false
			continue
		}
		keep := partialDelimiter(e.carry, thinkClose)
		e.sentence.WriteString(e.carry[:len(e.carry)-keep])
		e.carry = e.carry[len(e.carry)-keep:]
		thoughts = append(thoughts, e.drainSentences()...)
		break
	}
	return visible.String(), thoughts
}

// Flush terminates the stream: leftover carry is visible text if we are
// outside a block, or a final thought if the block never closed.
func (e *ThinkingExtractor) Flush() (string, []string) {
	var thoughts []string
	visible := ""
	if e.inside {
		e.sentence.WriteString(e.carry)
		if s := strings.TrimSpace(e.sentence.String()); s != "" {
			thoughts = append(thoughts, s)
		}
	} else {
		visible = e.carry
	}
	e.carry = ""
	e.sentence.Reset()
	e.inside = false
	return visible, thoughts
}

var sentenceEnds = []string{". ", ".\n", "! ", "!\n", "? ", "?\n"}

// drainSentences moves complete sentences out of the pending buffer,
// leaving any trailing fragment for the next token.
func (e *ThinkingExtractor) drainSentences() []string {
	text := e.sentence.String()
	var out []string
	for {
		cut := -1
		for _, end := range sentenceEnds {
			if i := strings.Index(text, end); i >= 0 && (cut == -1 || i+len(end) < cut) {
				cut = i + len(end)
			}
		}
		if cut == -1 {
			break
		}
		if s := strings.TrimSpace(text[:cut]); s != "" {
			out = append(out, s)
		}
		text = text[cut:]
	}
	e.sentence.Reset()
	e.sentence.WriteString(text)
	return out
}

// partialDelimiter reports the length of the longest suffix of s that
// is a proper prefix of delim. That suffix must be held back until the
// next token resolves it.
func partialDelimiter(s, delim string) int {
	maxLen := min(len(s), len(delim)-1)
	for l := maxLen; l > 0; l-- {
		if strings.HasPrefix(delim, s[len(s)-l:]) {
			return l
		}
	}
	return 0
}
