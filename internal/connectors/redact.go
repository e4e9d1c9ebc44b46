package connectors

import (
	"regexp"

	"github.com/rs/zerolog/log"
)

// redaction rules run in order over every connector read. Each match is
// replaced with a labelled placeholder so downstream context assembly
// still sees that something was there.
type redactRule struct {
	label string
	re    *regexp.Regexp
}

var redactRules = []redactRule{
	{"private_key", regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)},
	{"aws_key", regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{16,}`)},
	{"api_key", regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey|secret|token|password|passwd)\b\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`)},
	{"db_url", regexp.MustCompile(`\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^\s'"]+`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
}

// Redact strips credential-shaped content and returns the cleaned text
// plus the number of replacements made.
func Redact(content string) (string, int) {
	total := 0
	for _, rule := range redactRules {
		content = rule.re.ReplaceAllStringFunc(content, func(string) string {
			total++
			return "[REDACTED:" + rule.label + "]"
		})
	}
	if total > 0 {
		log.Debug().Int("redactions", total).Msg("Connector read redacted")
	}
	return content, total
}
