package pipeline

import (
	"regexp"
	"strings"
)

// Intent is the router's classification of the last user message.
type Intent struct {
	Label       string
	Temperature float64
	Reasoning   string // none | light | heavy
	Blocked     bool
	BlockReason string
}

type intentRule struct {
	label       string
	temperature float64
	reasoning   string
	re          *regexp.Regexp
}

// Keyword heuristics, checked in order; first match wins. The backend
// does the real understanding — this only picks sampling defaults and
// lets deployment policy veto whole categories.
var intentRules = []intentRule{
	{"code", 0.2, "light", regexp.MustCompile(`(?i)\b(code|function|compile|debug|refactor|implement|stack\s*trace|golang|python|typescript)\b`)},
	{"math", 0.1, "heavy", regexp.MustCompile(`(?i)\b(calculate|equation|integral|derivative|proof|theorem|probability)\b`)},
	{"analysis", 0.4, "heavy", regexp.MustCompile(`(?i)\b(analy[sz]e|compare|evaluate|trade-?offs?|pros\s+and\s+cons|summari[sz]e)\b`)},
	{"creative", 1.0, "none", regexp.MustCompile(`(?i)\b(story|poem|fiction|lyrics|screenplay|creative)\b`)},
	{"factual", 0.3, "none", regexp.MustCompile(`(?i)^\s*(who|what|when|where|which|how\s+many)\b`)},
}

// IntentRouter labels the message and applies the deployment's blocked
// category set.
type IntentRouter struct {
	blocked map[string]bool
}

// NewIntentRouter takes the policy-blocked category labels.
func NewIntentRouter(blockedCategories []string) *IntentRouter {
	blocked := make(map[string]bool, len(blockedCategories))
	for _, c := range blockedCategories {
		blocked[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return &IntentRouter{blocked: blocked}
}

// Route classifies the last user message.
func (r *IntentRouter) Route(lastMessage string) Intent {
	intent := Intent{Label: "chat", Temperature: 0.7, Reasoning: "none"}
	for _, rule := range intentRules {
		if rule.re.MatchString(lastMessage) {
			intent = Intent{Label: rule.label, Temperature: rule.temperature, Reasoning: rule.reasoning}
			break
		}
	}
	if r.blocked[intent.Label] {
		intent.Blocked = true
		intent.BlockReason = "policy_blocked_category"
	}
	return intent
}
