package pipeline

import (
	"fmt"
	"strings"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// agentHeaders open the system prompt per persona.
var agentHeaders = map[string]string{
	"kuro":  "You are Kuro, a precise and direct assistant running on sovereign local infrastructure.",
	"forge": "You are Forge, a senior software engineer. Show working code before prose.",
	"sage":  "You are Sage, an analyst. Reason step by step and state your assumptions.",
	"muse":  "You are Muse, a creative writer. Voice and imagery over exposition.",
}

var modeAddenda = map[string]string{
	"standard":   "",
	"focus":      "Answer only the question asked. No preamble, no follow-up suggestions.",
	"incubation": "Explore the problem from several angles before committing to an answer.",
	"red_team":   "Adversarially stress-test the user's idea. Attack assumptions, enumerate failure modes.",
}

var skillAddenda = map[string]string{
	"summarize": "Condense aggressively; preserve numbers, names and causal links.",
	"translate": "Translate faithfully; keep formatting and register.",
	"review":    "Review as a strict maintainer: correctness first, then style.",
	"explain":   "Explain for a newcomer; define every term of art on first use.",
}

// PromptInput gathers everything the builder folds into the final
// system prompt.
type PromptInput struct {
	Selection AgentSelection
	Skill     string
	Thinking  bool
	Hits      []models.RetrievalHit
	History   []models.ChatMessage
	UserMsgs  []models.ChatMessage
}

// BuildPrompt assembles the message list sent to the backend: system
// prompt (agent header + mode + skill + protocol toggles + retrieved
// context), then bounded history, then the request's own messages.
func BuildPrompt(in PromptInput) []models.ChatMessage {
	var sys strings.Builder

	header, ok := agentHeaders[in.Selection.Agent]
	if !ok {
		header = agentHeaders["kuro"]
	}
	sys.WriteString(header)

	if addendum := modeAddenda[in.Selection.Mode]; addendum != "" {
		sys.WriteString("\n\n")
		sys.WriteString(addendum)
	}
	if addendum, ok := skillAddenda[in.Skill]; ok {
		sys.WriteString("\n\n")
		sys.WriteString(addendum)
	}
	if in.Thinking {
		sys.WriteString("\n\nWhen reasoning is useful, wrap it in <think></think> tags. The user sees only what is outside the tags.")
	}

	if len(in.Hits) > 0 {
		sys.WriteString("\n\nContext retrieved from the user's knowledge store:\n")
		for i, hit := range in.Hits {
			fmt.Fprintf(&sys, "\n[%d] (relevance %.2f)\n%s\n", i+1, hit.Score, hit.Document)
		}
		sys.WriteString("\nGround your answer in this context where relevant; do not invent citations.")
	}

	out := make([]models.ChatMessage, 0, 1+len(in.History)+len(in.UserMsgs))
	out = append(out, models.ChatMessage{Role: "system", Content: sys.String()})
	out = append(out, in.History...)
	out = append(out, in.UserMsgs...)
	return out
}
