// Package validate centralizes request-body checks and the path, name
// and id sanitizers used across the gateway. Uploads, sandbox writes,
// artifact serving, connector reads and session files all resolve paths
// through ResolveUnder — no handler does its own string checks.
package validate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

var (
	userIDRe   = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	filenameRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	idRe       = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// PathError marks a resolution that would escape its root.
type PathError struct {
	Root string
	Path string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %q resolves outside root %q", e.Path, e.Root)
}

// ResolveUnder joins parts beneath root and guarantees the result stays
// inside it. Returns a *PathError on traversal.
func ResolveUnder(root string, parts ...string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	joined := filepath.Join(append([]string{absRoot}, parts...)...)
	cleaned := filepath.Clean(joined)
	if cleaned != absRoot && !strings.HasPrefix(cleaned, absRoot+string(filepath.Separator)) {
		return "", &PathError{Root: absRoot, Path: filepath.Join(parts...)}
	}
	return cleaned, nil
}

// SanitizeUserID maps an arbitrary string onto [A-Za-z0-9_-]{1,64}.
// The second return value reports whether the input was altered —
// callers log that as a namespace violation.
func SanitizeUserID(raw string) (string, bool) {
	clean := userIDRe.ReplaceAllString(raw, "_")
	if len(clean) > 64 {
		clean = clean[:64]
	}
	if clean == "" {
		clean = "_"
	}
	return clean, clean != raw
}

// SanitizeFilename strips path separators and shell metacharacters from
// an upload filename, keeping the extension.
func SanitizeFilename(raw string) string {
	base := filepath.Base(strings.ReplaceAll(raw, "\\", "/"))
	clean := filenameRe.ReplaceAllString(base, "_")
	if clean == "" || clean == "." || clean == ".." {
		clean = "upload.bin"
	}
	if len(clean) > 128 {
		clean = clean[len(clean)-128:]
	}
	return clean
}

// ValidID reports whether id is an opaque identifier the gateway minted
// (uuid-shaped or shorter): 1–64 chars of [A-Za-z0-9_-].
func ValidID(id string) bool {
	return idRe.MatchString(id)
}

// StreamRequest checks the /api/stream body and returns every problem
// found, not just the first.
func StreamRequest(req *models.StreamRequest) []string {
	var errs []string
	if len(req.Messages) == 0 {
		errs = append(errs, "messages: required, must be a non-empty array")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			errs = append(errs, fmt.Sprintf("messages[%d].role: must be system, user or assistant", i))
		}
		if m.Content == "" {
			errs = append(errs, fmt.Sprintf("messages[%d].content: required", i))
		}
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		errs = append(errs, "temperature: must be within [0, 2]")
	}
	if req.SessionID != "" && !ValidID(req.SessionID) {
		errs = append(errs, "sessionId: must match [A-Za-z0-9_-]{1,64}")
	}
	if req.RAGNamespace != "" && !models.ValidNamespace(models.Namespace(req.RAGNamespace)) {
		errs = append(errs, "ragNamespace: must be edubba or mnemosyne")
	}
	if req.RAGTopK < 0 || req.RAGTopK > 50 {
		errs = append(errs, "ragTopK: must be within [0, 50]")
	}
	switch req.PowerDial {
	case "", models.DialInstant, models.DialBalanced, models.DialDeep, models.DialSovereign:
	default:
		errs = append(errs, "powerDial: unknown profile")
	}
	return errs
}
