package sandbox

import (
	"path/filepath"
	"strings"
)

// artifactTypes is the allowlist of content types served from a run's
// artifacts directory. Anything else is delivered as an opaque binary
// so an HTML artifact can never render in the gateway's origin.
var artifactTypes = map[string]string{
	".txt":  "text/plain; charset=utf-8",
	".log":  "text/plain; charset=utf-8",
	".md":   "text/plain; charset=utf-8",
	".csv":  "text/csv; charset=utf-8",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "text/plain; charset=utf-8", // never image/svg+xml: svg can script
	".pdf":  "application/pdf",
}

// ArtifactContentType maps an artifact filename onto a safe content
// type. The second return reports whether the extension was on the
// allowlist; either way the returned type is safe to serve.
func ArtifactContentType(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := artifactTypes[ext]; ok {
		return ct, true
	}
	return "application/octet-stream", false
}
