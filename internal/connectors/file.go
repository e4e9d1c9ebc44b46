// Package connectors wraps the three host-facing accessors — file,
// shell, session history — in capability checks, scope tables and
// redaction. Nothing else in the gateway touches the filesystem or
// spawns a process on a caller's behalf.
package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kurolabs/kuro-gateway/internal/validate"
	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// DeniedError is a capability or scope refusal. Distinct from a missing
// file so handlers can map them to 403 vs 404.
type DeniedError struct {
	Op     string
	Target string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s %q denied: %s", e.Op, e.Target, e.Reason)
}

// NotFoundError wraps a read of a path inside scope that doesn't exist.
type NotFoundError struct{ Target string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("%q not found", e.Target) }

// Roots are the two directory trees connectors may touch plus the audit
// directory, which is write-forbidden for everyone.
type Roots struct {
	Data  string
	Code  string
	Audit string
}

// denyFragments always win over any scope grant. vectors/ and uploads/
// hold per-user stores under the data root; exposing them through the
// gate would let one caller read another's documents.
var denyFragments = []string{
	"signing.key",
	".env",
	"sessions" + string(filepath.Separator),
	"quota.json",
	"vectors" + string(filepath.Separator),
	"uploads" + string(filepath.Separator),
}

// WriteRecord describes a completed gated write.
type WriteRecord struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	SHA256     string `json:"sha256"`
	BackupPath string `json:"backup_path,omitempty"`
}

// FileGate mediates reads and writes under the deployment roots.
type FileGate struct {
	roots Roots
	audit contracts.AuditSink
}

// NewFileGate wires the gate. audit may be nil in tests.
func NewFileGate(roots Roots, audit contracts.AuditSink) *FileGate {
	return &FileGate{roots: roots, audit: audit}
}

// readRoots maps the caller's level to the trees it may read. Level 1
// sees the data root; level 2 and above also see the code root.
func (g *FileGate) readRoots(caller *models.Caller) []string {
	if caller == nil || !caller.Can(models.CapRead) {
		return nil
	}
	roots := []string{g.roots.Data}
	if caller.Level >= 2 && g.roots.Code != "" {
		roots = append(roots, g.roots.Code)
	}
	return roots
}

func denied(path string) (string, bool) {
	for _, frag := range denyFragments {
		if strings.Contains(path, frag) {
			return frag, true
		}
	}
	return "", false
}

// Read resolves relPath against the caller's read scope, applies the
// deny list, and redacts the content. Out-of-scope attempts produce a
// read_denied audit entry.
func (g *FileGate) Read(caller *models.Caller, relPath string) (string, int, error) {
	for _, root := range g.readRoots(caller) {
		abs, err := validate.ResolveUnder(root, relPath)
		if err != nil {
			continue
		}
		if frag, hit := denied(abs); hit {
			g.logDenied(caller, "file.read", relPath, "deny list: "+frag)
			return "", 0, &DeniedError{Op: "read", Target: relPath, Reason: "path is deny-listed"}
		}
		raw, err := os.ReadFile(abs)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", 0, fmt.Errorf("read %s: %w", relPath, err)
		}
		clean, n := Redact(string(raw))
		return clean, n, nil
	}

	// Distinguish "nowhere in scope" from "in scope but absent": if the
	// path resolves under some readable root, it is a miss, not a denial.
	for _, root := range g.readRoots(caller) {
		if _, err := validate.ResolveUnder(root, relPath); err == nil {
			return "", 0, &NotFoundError{Target: relPath}
		}
	}
	g.logDenied(caller, "file.read", relPath, "outside read scope")
	return "", 0, &DeniedError{Op: "read", Target: relPath, Reason: "outside read scope"}
}

// Write puts content under the data root. Existing targets are backed
// up to a timestamped sibling first; the audit directory is never a
// valid target.
func (g *FileGate) Write(caller *models.Caller, relPath string, content []byte) (*WriteRecord, error) {
	if !caller.Can(models.CapWrite) {
		g.logDenied(caller, "file.write", relPath, "missing write capability")
		return nil, &DeniedError{Op: "write", Target: relPath, Reason: "missing write capability"}
	}
	abs, err := validate.ResolveUnder(g.roots.Data, relPath)
	if err != nil {
		g.logDenied(caller, "file.write", relPath, "outside data root")
		return nil, &DeniedError{Op: "write", Target: relPath, Reason: "outside data root"}
	}
	if g.insideAudit(abs) {
		g.logDenied(caller, "file.write", relPath, "audit directory")
		return nil, &DeniedError{Op: "write", Target: relPath, Reason: "audit directory is write-forbidden"}
	}
	if frag, hit := denied(abs); hit {
		g.logDenied(caller, "file.write", relPath, "deny list: "+frag)
		return nil, &DeniedError{Op: "write", Target: relPath, Reason: "path is deny-listed"}
	}

	rec := &WriteRecord{Path: relPath}
	if _, err := os.Stat(abs); err == nil {
		backup := fmt.Sprintf("%s.%s.bak", abs, time.Now().UTC().Format("20060102T150405"))
		if err := os.Rename(abs, backup); err != nil {
			return nil, fmt.Errorf("back up %s: %w", relPath, err)
		}
		rec.BackupPath = filepath.Base(backup)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("create parent: %w", err)
	}
	if err := os.WriteFile(abs, content, 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", relPath, err)
	}

	sum := sha256.Sum256(content)
	rec.Size = int64(len(content))
	rec.SHA256 = hex.EncodeToString(sum[:])

	if g.audit != nil {
		_, _ = g.audit.Log(models.AuditEntry{
			Agent: "connector", Action: "file_write", Target: relPath,
			Result: models.AuditOK, UserID: caller.UserID,
			Meta: map[string]any{"size": rec.Size, "sha256": rec.SHA256, "backed_up": rec.BackupPath != ""},
		})
	}
	return rec, nil
}

// PatchMeta accompanies a staged patch.
type PatchMeta struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Description string    `json:"description,omitempty"`
	Files       []string  `json:"files"`
	StagedAt    time.Time `json:"staged_at"`
}

// StagePatch writes files into patches/{id}/ under the data root along
// with a metadata record. Promotion to the live tree is a separate,
// operator-driven step.
func (g *FileGate) StagePatch(caller *models.Caller, id, description string, files map[string][]byte) (*PatchMeta, error) {
	if !caller.Can(models.CapWrite) {
		g.logDenied(caller, "patch.stage", id, "missing write capability")
		return nil, &DeniedError{Op: "stage", Target: id, Reason: "missing write capability"}
	}
	if !validate.ValidID(id) {
		return nil, &DeniedError{Op: "stage", Target: id, Reason: "invalid patch id"}
	}

	meta := &PatchMeta{ID: id, UserID: caller.UserID, Description: description, StagedAt: time.Now().UTC()}
	for name, content := range files {
		abs, err := validate.ResolveUnder(g.roots.Data, "patches", id, name)
		if err != nil {
			return nil, &DeniedError{Op: "stage", Target: name, Reason: "escapes patch directory"}
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
			return nil, fmt.Errorf("create patch dir: %w", err)
		}
		if err := os.WriteFile(abs, content, 0o600); err != nil {
			return nil, fmt.Errorf("stage %s: %w", name, err)
		}
		meta.Files = append(meta.Files, name)
	}

	metaPath, err := validate.ResolveUnder(g.roots.Data, "patches", id, "patch.json")
	if err != nil {
		return nil, err
	}
	raw, _ := json.MarshalIndent(meta, "", "  ")
	if err := os.WriteFile(metaPath, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write patch meta: %w", err)
	}

	if g.audit != nil {
		_, _ = g.audit.Log(models.AuditEntry{
			Agent: "connector", Action: "patch_staged", Target: id,
			Result: models.AuditOK, UserID: caller.UserID,
			Meta: map[string]any{"files": len(meta.Files)},
		})
	}
	return meta, nil
}

func (g *FileGate) insideAudit(abs string) bool {
	if g.roots.Audit == "" {
		return false
	}
	auditAbs, err := filepath.Abs(g.roots.Audit)
	if err != nil {
		return true
	}
	return abs == auditAbs || strings.HasPrefix(abs, auditAbs+string(filepath.Separator))
}

func (g *FileGate) logDenied(caller *models.Caller, op, target, reason string) {
	if g.audit == nil {
		return
	}
	userID := ""
	if caller != nil {
		userID = caller.UserID
	}
	action := "read_denied"
	if op != "file.read" {
		action = "write_denied"
	}
	_, _ = g.audit.Log(models.AuditEntry{
		Agent: "connector", Action: action, Target: target,
		Result: models.AuditDenied, UserID: userID,
		Meta: map[string]any{"op": op, "reason": reason},
	})
}
