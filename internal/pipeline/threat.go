// Package pipeline holds the ordered gating and enrichment stages a
// chat request traverses before the backend is contacted. Each stage is
// pure against its inputs; the orchestrator owns sequencing and the
// layer events around them.
package pipeline

import (
	"regexp"
	"strings"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// ThreatVerdict is the threat filter's decision.
type ThreatVerdict struct {
	Clear  bool
	Rule   string
	Sample string
}

type threatRule struct {
	name string
	re   *regexp.Regexp
}

// Patterns target prompt-injection and exfiltration phrasing, not
// topics. Topic policy lives in the intent router.
var threatRules = []threatRule{
	{"injection_override", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`)},
	{"injection_roleplay", regexp.MustCompile(`(?i)\b(you\s+are\s+now|pretend\s+to\s+be)\s+(dan|an?\s+unrestricted)`)},
	{"system_prompt_leak", regexp.MustCompile(`(?i)(reveal|print|repeat|show)\s+(your\s+)?(system\s+prompt|initial\s+instructions)`)},
	{"credential_phish", regexp.MustCompile(`(?i)(send|give|show)\s+me\s+(the\s+)?(api\s*keys?|credentials|passwords|signing\s+key)`)},
	{"shell_smuggle", regexp.MustCompile(`(?i)(\$\(|` + "``" + `|;\s*rm\s+-rf|\|\s*bash)`)},
}

// ThreatFilter screens the whole message list. A single match blocks
// the request before any other stage runs.
func ThreatFilter(messages []models.ChatMessage) ThreatVerdict {
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		for _, rule := range threatRules {
			if loc := rule.re.FindString(msg.Content); loc != "" {
				sample := loc
				if len(sample) > 80 {
					sample = sample[:80]
				}
				return ThreatVerdict{Clear: false, Rule: rule.name, Sample: strings.TrimSpace(sample)}
			}
		}
	}
	return ThreatVerdict{Clear: true}
}
