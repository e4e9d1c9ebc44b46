package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/internal/metrics"
	"github.com/kurolabs/kuro-gateway/internal/quota"
	"github.com/kurolabs/kuro-gateway/internal/validate"
	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

const (
	maxFileBytes      = 5 << 20  // per written file
	maxWorkspaceBytes = 50 << 20 // sum of files/
)

var (
	// ErrDisabled is returned for callers below the compute tier.
	ErrDisabled = errors.New("sandbox_disabled")
	// ErrNotFound covers unknown workspaces and runs.
	ErrNotFound = errors.New("not_found")
	// ErrLimit covers workspace count, run concurrency and throttle hits.
	ErrLimit = errors.New("limit_exceeded")
	// ErrSidecar marks a delegation failure; handlers map it to 502.
	ErrSidecar = errors.New("sidecar_unavailable")
)

var defaultBudget = models.RunBudget{
	RuntimeSeconds: 60,
	MemoryMB:       512,
	OutputBytes:    2 << 20,
	MaxFiles:       64,
}

type runEntry struct {
	record *models.SandboxRun
	dir    string
}

// Manager owns the sandbox tree: {base}/{userId}/{workspaceId}/files
// for user content, sibling runs/{runId} directories for run records
// and artifacts.
type Manager struct {
	base    string
	sidecar SidecarClient
	audit   contracts.AuditSink

	mu       sync.Mutex
	runs     map[string]*runEntry
	inFlight map[string]int
	launches map[string][]time.Time
	perMin   int

	now func() time.Time
}

func NewManager(base string, sidecar SidecarClient, runsPerMinute int, audit contracts.AuditSink) (*Manager, error) {
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	if runsPerMinute <= 0 {
		runsPerMinute = 6
	}
	return &Manager{
		base:     base,
		sidecar:  sidecar,
		audit:    audit,
		runs:     make(map[string]*runEntry),
		inFlight: make(map[string]int),
		launches: make(map[string][]time.Time),
		perMin:   runsPerMinute,
		now:      time.Now,
	}, nil
}

func (m *Manager) allowed(caller *models.Caller) bool {
	return caller != nil && !caller.IsGuest && caller.Can(models.CapCompute)
}

// CreateWorkspace provisions a workspace, bounded per tier. The second
// return reports whether a new directory was created.
func (m *Manager) CreateWorkspace(caller *models.Caller, name string) (*models.Workspace, bool, error) {
	if !m.allowed(caller) {
		return nil, false, ErrDisabled
	}
	limits := quota.Limits[caller.Tier]
	existing, err := m.listWorkspaces(caller.UserID)
	if err != nil {
		return nil, false, err
	}
	if len(existing) >= limits.MaxWorkspaces {
		return nil, false, fmt.Errorf("%w: workspace cap %d", ErrLimit, limits.MaxWorkspaces)
	}

	ws := &models.Workspace{
		ID:        uuid.NewString(),
		UserID:    caller.UserID,
		Name:      validate.SanitizeFilename(name),
		CreatedAt: m.now().UTC(),
		UpdatedAt: m.now().UTC(),
	}
	filesDir, err := validate.ResolveUnder(m.base, caller.UserID, ws.ID, "files")
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filesDir, 0o700); err != nil {
		return nil, false, fmt.Errorf("create workspace: %w", err)
	}
	if err := m.writeMeta(caller.UserID, ws); err != nil {
		return nil, false, err
	}
	m.logAudit(caller, "workspace_created", models.AuditOK, ws.ID, nil)
	return ws, true, nil
}

// WriteFile puts content into a workspace, enforcing the per-file and
// per-workspace size bounds and path confinement.
func (m *Manager) WriteFile(caller *models.Caller, workspaceID, name string, content []byte) error {
	if !m.allowed(caller) {
		return ErrDisabled
	}
	if int64(len(content)) > maxFileBytes {
		return fmt.Errorf("%w: file exceeds %d bytes", ErrLimit, maxFileBytes)
	}
	filesDir, err := m.filesDir(caller.UserID, workspaceID)
	if err != nil {
		return err
	}
	used, err := dirSize(filesDir)
	if err != nil {
		return err
	}
	if used+int64(len(content)) > maxWorkspaceBytes {
		return fmt.Errorf("%w: workspace exceeds %d bytes", ErrLimit, maxWorkspaceBytes)
	}

	target, err := validate.ResolveUnder(filesDir, name)
	if err != nil {
		m.logAudit(caller, "sandbox_traversal", models.AuditDenied, name, nil)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return err
	}
	return os.WriteFile(target, content, 0o600)
}

// Run enqueues a budgeted execution: concurrency and per-minute checks
// first, record second, sidecar delegation last.
func (m *Manager) Run(ctx context.Context, caller *models.Caller, workspaceID, entrypoint string) (*models.SandboxRun, error) {
	if !m.allowed(caller) {
		return nil, ErrDisabled
	}
	filesDir, err := m.filesDir(caller.UserID, workspaceID)
	if err != nil {
		return nil, err
	}

	limits := quota.Limits[caller.Tier]
	m.mu.Lock()
	if m.inFlight[caller.UserID] >= limits.MaxConcurrent {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d runs in flight", ErrLimit, limits.MaxConcurrent)
	}
	if !m.allowLaunchLocked(caller.UserID) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: run throttle", ErrLimit)
	}
	m.inFlight[caller.UserID]++
	m.mu.Unlock()

	run := &models.SandboxRun{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		UserID:      caller.UserID,
		Status:      models.RunQueued,
		Entrypoint:  entrypoint,
		Budget:      defaultBudget,
		CreatedAt:   m.now().UTC(),
	}
	runDir, err := validate.ResolveUnder(m.base, caller.UserID, workspaceID, "runs", run.ID)
	if err != nil {
		m.releaseSlot(caller.UserID)
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(runDir, "artifacts"), 0o700); err != nil {
		m.releaseSlot(caller.UserID)
		return nil, err
	}

	sidecarID, err := m.sidecar.Launch(ctx, run.ID, filesDir, entrypoint, run.Budget)
	if err != nil {
		now := m.now().UTC()
		run.Status = models.RunFailed
		run.Error = err.Error()
		run.FinishedAt = &now
		m.storeRun(run, runDir)
		m.releaseSlot(caller.UserID)
		metrics.SandboxRuns.WithLabelValues(string(models.RunFailed)).Inc()
		m.logAudit(caller, "sandbox_run_failed", models.AuditError, run.ID, map[string]any{"error": err.Error()})
		return run, fmt.Errorf("%w: %v", ErrSidecar, err)
	}

	now := m.now().UTC()
	run.SidecarID = sidecarID
	run.Status = models.RunRunning
	run.StartedAt = &now
	m.storeRun(run, runDir)
	m.logAudit(caller, "sandbox_run_started", models.AuditOK, run.ID, map[string]any{"workspace": workspaceID, "entrypoint": entrypoint})
	return run, nil
}

// GetRun returns the run record, refreshing it from the sidecar while
// the run is live. The terminal transition is applied exactly once and
// releases the user's slot.
func (m *Manager) GetRun(ctx context.Context, caller *models.Caller, runID string) (*models.SandboxRun, error) {
	entry, err := m.lookup(caller, runID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	terminal := entry.record.Status.Terminal()
	m.mu.Unlock()
	if terminal {
		return entry.record, nil
	}

	state, err := m.sidecar.Poll(ctx, entry.record.SidecarID)
	if err != nil {
		// The run may still be alive; report the stored state.
		log.Warn().Err(err).Str("run", runID).Msg("Sidecar poll failed")
		return entry.record, nil
	}
	if state.Status.Terminal() {
		m.finishRun(entry, state)
	}
	return entry.record, nil
}

// Kill asks the sidecar to stop a run; the killed state lands on the
// next poll or immediately if the sidecar confirms.
func (m *Manager) Kill(ctx context.Context, caller *models.Caller, runID string) error {
	entry, err := m.lookup(caller, runID)
	if err != nil {
		return err
	}
	if entry.record.Status.Terminal() {
		return nil
	}
	if err := m.sidecar.Kill(ctx, entry.record.SidecarID); err != nil {
		return fmt.Errorf("%w: %v", ErrSidecar, err)
	}
	m.finishRun(entry, &SidecarState{Status: models.RunKilled})
	m.logAudit(caller, "sandbox_run_killed", models.AuditOK, runID, nil)
	return nil
}

// ArtifactPath resolves an artifact fetch strictly inside the run's
// artifacts directory.
func (m *Manager) ArtifactPath(caller *models.Caller, runID, rel string) (string, error) {
	entry, err := m.lookup(caller, runID)
	if err != nil {
		return "", err
	}
	return validate.ResolveUnder(filepath.Join(entry.dir, "artifacts"), rel)
}

// InFlight reports a user's live runs.
func (m *Manager) InFlight(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight[userID]
}

func (m *Manager) finishRun(entry *runEntry, state *SidecarState) {
	m.mu.Lock()
	if entry.record.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	now := m.now().UTC()
	entry.record.Status = state.Status
	entry.record.ExitCode = state.ExitCode
	entry.record.Artifacts = state.Artifacts
	entry.record.Error = state.Error
	entry.record.FinishedAt = &now
	userID := entry.record.UserID
	m.mu.Unlock()

	m.persistRun(entry)
	m.releaseSlot(userID)
	metrics.SandboxRuns.WithLabelValues(string(state.Status)).Inc()
	if state.Logs != "" {
		_ = os.WriteFile(filepath.Join(entry.dir, "logs.txt"), []byte(state.Logs), 0o600)
	}
}

func (m *Manager) releaseSlot(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[userID] > 0 {
		m.inFlight[userID]--
	}
	if m.inFlight[userID] == 0 {
		delete(m.inFlight, userID)
	}
}

func (m *Manager) allowLaunchLocked(userID string) bool {
	cutoff := m.now().Add(-time.Minute)
	stamps := m.launches[userID]
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	stamps = stamps[i:]
	if len(stamps) >= m.perMin {
		m.launches[userID] = stamps
		return false
	}
	m.launches[userID] = append(stamps, m.now())
	return true
}

func (m *Manager) lookup(caller *models.Caller, runID string) (*runEntry, error) {
	if !m.allowed(caller) {
		return nil, ErrDisabled
	}
	m.mu.Lock()
	entry, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok || entry.record.UserID != caller.UserID {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (m *Manager) storeRun(run *models.SandboxRun, dir string) {
	entry := &runEntry{record: run, dir: dir}
	m.mu.Lock()
	m.runs[run.ID] = entry
	m.mu.Unlock()
	m.persistRun(entry)
}

func (m *Manager) persistRun(entry *runEntry) {
	raw, err := json.MarshalIndent(entry.record, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(entry.dir, "run.json"), raw, 0o600); err != nil {
		log.Warn().Err(err).Str("run", entry.record.ID).Msg("Run record persist failed")
	}
}

func (m *Manager) filesDir(userID, workspaceID string) (string, error) {
	if !validate.ValidID(workspaceID) {
		return "", ErrNotFound
	}
	dir, err := validate.ResolveUnder(m.base, userID, workspaceID, "files")
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
		return "", ErrNotFound
	}
	return dir, nil
}

func (m *Manager) listWorkspaces(userID string) ([]string, error) {
	userDir, err := validate.ResolveUnder(m.base, userID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(userDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (m *Manager) writeMeta(userID string, ws *models.Workspace) error {
	path, err := validate.ResolveUnder(m.base, userID, ws.ID, "workspace.json")
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func (m *Manager) logAudit(caller *models.Caller, action string, result models.AuditResult, target string, meta map[string]any) {
	if m.audit == nil {
		return
	}
	_, _ = m.audit.Log(models.AuditEntry{
		Agent: "sandbox", Action: action, Target: target,
		Result: result, UserID: caller.UserID, Meta: meta,
	})
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
