// Package models defines the shared data types for the Kuro gateway.
//
// Everything request-scoped (Caller), persisted (Session, AuditEntry,
// Workspace, SandboxRun) and wire-visible (SSE events, tool envelopes)
// lives here so internal packages and pkg/contracts can share them
// without import cycles.
package models

import "time"

// ── Identity ────────────────────────────────────────────────

// Tier is the subscription level governing feature access and quotas.
type Tier string

const (
	TierFree      Tier = "free"
	TierPro       Tier = "pro"
	TierSovereign Tier = "sovereign"
)

// Role is the coarse authorization role derived from the tier.
type Role string

const (
	RoleGuest    Role = "guest"
	RoleViewer   Role = "viewer"
	RoleAnalyst  Role = "analyst"
	RoleOperator Role = "operator"
)

// Capability is a single grantable permission.
type Capability string

const (
	CapRead      Capability = "read"
	CapWrite     Capability = "write"
	CapExec      Capability = "exec"
	CapCompute   Capability = "compute"
	CapAggregate Capability = "aggregate"
)

// AuthMethod records which leg of the auth waterfall produced the caller.
type AuthMethod string

const (
	AuthSession     AuthMethod = "session"
	AuthLegacyToken AuthMethod = "legacy_token"
	AuthNone        AuthMethod = "none"
)

// Caller is the request-scoped identity produced by the auth resolver.
// It lives for one request and is never persisted.
type Caller struct {
	UserID       string              `json:"user_id"`
	DisplayName  string              `json:"display_name,omitempty"`
	Tier         Tier                `json:"tier"`
	Role         Role                `json:"role"`
	Level        int                 `json:"level"`
	Capabilities map[Capability]bool `json:"capabilities"`
	IsGuest      bool                `json:"is_guest"`
	AuthMethod   AuthMethod          `json:"auth_method"`
	Fingerprint  string              `json:"-"`
}

// Can reports whether the caller holds the given capability.
func (c *Caller) Can(cap Capability) bool {
	if c == nil {
		return false
	}
	return c.Capabilities[cap]
}

// Session is the server-side authentication state behind the kuro_sid cookie.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	LastSeen  time.Time `json:"last_seen"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// ── Audit chain ─────────────────────────────────────────────

// AuditResult is the outcome recorded on an audit entry.
type AuditResult string

const (
	AuditOK     AuditResult = "ok"
	AuditDenied AuditResult = "denied"
	AuditError  AuditResult = "error"
)

// AuditEntry is one hash-linked record in the tamper-evident log.
// Hash covers prev ‖ canonical JSON of the entry without hash and sig.
type AuditEntry struct {
	Seq         uint64         `json:"seq"`
	Timestamp   string         `json:"timestamp"`
	Date        string         `json:"date"`
	Prev        string         `json:"prev"`
	RequestID   string         `json:"request_id,omitempty"`
	Fingerprint string         `json:"client_fingerprint,omitempty"`
	Agent       string         `json:"agent"`
	Action      string         `json:"action"`
	Target      string         `json:"target,omitempty"`
	Result      AuditResult    `json:"result"`
	UserID      string         `json:"user_id,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	Hash        string         `json:"hash"`
	Sig         string         `json:"sig,omitempty"`
	SigScheme   string         `json:"sig_scheme,omitempty"`
}

// VerifyReport is the result of replaying one day of the audit chain.
type VerifyReport struct {
	Date       string `json:"date"`
	Valid      bool   `json:"valid"`
	Entries    int    `json:"entries"`
	BrokenAt   int    `json:"broken_at,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Got        string `json:"got,omitempty"`
	SigsOK     int    `json:"sigs_ok"`
	SigsFailed int    `json:"sigs_failed"`
	Error      string `json:"error,omitempty"`
}

// SealRecord is a signed digest over a whole day file.
type SealRecord struct {
	Date      string `json:"date"`
	Entries   int    `json:"entries"`
	Digest    string `json:"digest"`
	Sig       string `json:"sig"`
	SigScheme string `json:"sig_scheme"`
	SealedAt  string `json:"sealed_at"`
}

// AuditStats is the read-only summary exposed on the audit surface.
type AuditStats struct {
	Seq       uint64         `json:"seq"`
	LastHash  string         `json:"last_hash"`
	Days      []string       `json:"days"`
	ByAction  map[string]int `json:"by_action,omitempty"`
	ByResult  map[string]int `json:"by_result,omitempty"`
	Signed    bool           `json:"signed"`
	SigScheme string         `json:"sig_scheme"`
}

// ── Retrieval ───────────────────────────────────────────────

// Namespace is a per-user vector-store partition. The set is closed.
type Namespace string

const (
	// NamespaceEdubba holds durable user knowledge.
	NamespaceEdubba Namespace = "edubba"
	// NamespaceMnemosyne holds response traces.
	NamespaceMnemosyne Namespace = "mnemosyne"
)

// ValidNamespace reports whether ns is in the closed namespace set.
func ValidNamespace(ns Namespace) bool {
	return ns == NamespaceEdubba || ns == NamespaceMnemosyne
}

// RetrievalHit is one ranked result from a vector store query.
type RetrievalHit struct {
	Document string            `json:"document"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ── Quotas ──────────────────────────────────────────────────

// QuotaAction names a metered operation.
type QuotaAction string

const (
	ActionChatDaily   QuotaAction = "chat_daily"
	ActionChatWeekly  QuotaAction = "chat_weekly"
	ActionImageWeekly QuotaAction = "image_weekly"
	ActionShellHourly QuotaAction = "shell_hourly"
	ActionEditHourly  QuotaAction = "file_edit_hourly"
)

// QuotaResult is the non-mutating answer from the quota gate.
type QuotaResult struct {
	Allowed   bool        `json:"allowed"`
	Action    QuotaAction `json:"action"`
	Used      int64       `json:"used"`
	Limit     int64       `json:"limit"`
	Remaining int64       `json:"remaining"`
}

// TierLimits bundles the per-tier quota ceilings.
type TierLimits struct {
	ChatPerWeek   int64 `json:"chat_per_week"`
	ChatPerDay    int64 `json:"chat_per_day"`
	ImagesPerWeek int64 `json:"images_per_week"`
	ShellPerHour  int64 `json:"shell_per_hour"`
	EditsPerHour  int64 `json:"edits_per_hour"`
	MaxConcurrent int   `json:"max_concurrent"`
	MaxWorkspaces int   `json:"max_workspaces"`
}

// ── Capability profiles ─────────────────────────────────────

// PowerDial is the per-request capability selector.
type PowerDial string

const (
	DialInstant   PowerDial = "instant"
	DialBalanced  PowerDial = "balanced"
	DialDeep      PowerDial = "deep"
	DialSovereign PowerDial = "sovereign"
)

// Profile is the effective per-request configuration resolved from a
// power dial and the caller's tier ceiling.
type Profile struct {
	Dial          PowerDial `json:"dial"`
	Requested     PowerDial `json:"requested"`
	Downgraded    bool      `json:"downgraded"`
	DowngradeWhy  string    `json:"downgrade_reason,omitempty"`
	ContextTokens int       `json:"context_tokens"`
	Temperature   float64   `json:"temperature"`
	Speculative   bool      `json:"speculative"`
	Reasoning     bool      `json:"reasoning"`
	RetrievalTopK int       `json:"retrieval_top_k"`
	HistoryTurns  int       `json:"history_turns"`
	Tools         []string  `json:"tools,omitempty"`
	Synthesis     bool      `json:"synthesis"`
}

// Summary returns the client-visible slice of the profile.
func (p *Profile) Summary() ProfileSummary {
	return ProfileSummary{Dial: p.Dial, Downgraded: p.Downgraded, DowngradeWhy: p.DowngradeWhy}
}

// ProfileSummary is what the client is allowed to see.
type ProfileSummary struct {
	Dial         PowerDial `json:"dial"`
	Downgraded   bool      `json:"downgraded"`
	DowngradeWhy string    `json:"downgrade_reason,omitempty"`
}

// ── Chat & streaming ────────────────────────────────────────

// ChatMessage is a single conversation turn.
type ChatMessage struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// StreamRequest is the body of POST /api/stream.
type StreamRequest struct {
	Messages     []ChatMessage `json:"messages"`
	Mode         string        `json:"mode,omitempty"`
	Skill        string        `json:"skill,omitempty"`
	Temperature  float64       `json:"temperature,omitempty"`
	SessionID    string        `json:"sessionId,omitempty"`
	Thinking     bool          `json:"thinking,omitempty"`
	Reasoning    bool          `json:"reasoning,omitempty"`
	Incubation   bool          `json:"incubation,omitempty"`
	RedTeam      bool          `json:"redTeam,omitempty"`
	NuclearMode  bool          `json:"nuclearFusion,omitempty"`
	UseRAG       bool          `json:"useRAG,omitempty"`
	RAGNamespace string        `json:"ragNamespace,omitempty"`
	RAGTopK      int           `json:"ragTopK,omitempty"`
	FileIDs      []string      `json:"fileIds,omitempty"`
	PowerDial    PowerDial     `json:"powerDial,omitempty"`
}

// LastUserMessage returns the content of the most recent user turn.
func (r *StreamRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// SSE event payloads. Every frame is a JSON object with a "type"
// discriminator; unknown types are client-ignored.

// LayerEvent marks a pipeline stage entering or leaving.
type LayerEvent struct {
	Type    string `json:"type"` // "layer"
	Layer   string `json:"layer"`
	Status  string `json:"status"` // active | complete | blocked
	Detail  string `json:"detail,omitempty"`
	Elapsed int64  `json:"elapsed_ms,omitempty"`
}

// TokenEvent carries one user-visible token.
type TokenEvent struct {
	Type  string `json:"type"` // "token"
	Token string `json:"token"`
}

// ThinkingEvent mirrors one complete sentence of bracketed reasoning.
type ThinkingEvent struct {
	Type string `json:"type"` // "thinking"
	Text string `json:"text"`
}

// ModelEvent announces the model serving the request.
type ModelEvent struct {
	Type     string `json:"type"` // "model"
	Model    string `json:"model"`
	Provider string `json:"provider"` // "local" or the frontier provider
}

// CapabilityEvent reports the resolved profile summary.
type CapabilityEvent struct {
	Type    string         `json:"type"` // "capability"
	Profile ProfileSummary `json:"profile"`
}

// RoutingEvent reports intent routing and the frontier decision.
type RoutingEvent struct {
	Type     string  `json:"type"` // "routing"
	Intent   string  `json:"intent"`
	Frontier bool    `json:"frontier"`
	POH      float64 `json:"poh,omitempty"`
}

// PolicyNoticeEvent surfaces a non-blocking policy annotation.
type PolicyNoticeEvent struct {
	Type   string `json:"type"` // "policy_notice"
	Notice string `json:"notice"`
}

// GuestQuotaEvent reports anonymous usage after a delivered response.
type GuestQuotaEvent struct {
	Type      string `json:"type"` // "guest_quota"
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// GateEvent terminates a request that hit an auth or quota gate.
type GateEvent struct {
	Type      string `json:"type"` // "gate"
	Reason    string `json:"reason"`
	Tier      Tier   `json:"tier,omitempty"`
	Remaining int64  `json:"remaining"`
	ResetAt   string `json:"reset_at,omitempty"`
}

// BlockedEvent terminates a request stopped by a policy stage.
type BlockedEvent struct {
	Type   string `json:"type"` // "blocked"
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// ErrorEvent reports an upstream or internal failure on the stream.
type ErrorEvent struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// DoneEvent is always the last payload event on a successful stream.
type DoneEvent struct {
	Type      string         `json:"type"` // "done"
	Tokens    int            `json:"tokens"`
	Model     string         `json:"model"`
	RequestID string         `json:"request_id"`
	Elapsed   int64          `json:"elapsed_ms"`
	Synthesis *SynthesisMeta `json:"synthesis,omitempty"`
}

// AbortEvent is emitted when a pending correction cancels the backend call.
type AbortEvent struct {
	Type   string `json:"type"` // "aborted_for_correction"
	Reason string `json:"reason,omitempty"`
}

// SynthesisMeta describes a generate-judge-merge run.
type SynthesisMeta struct {
	Candidates int    `json:"candidates"`
	Strategy   string `json:"strategy"`
	JudgeMs    int64  `json:"judge_ms"`
	MergeMs    int64  `json:"merge_ms"`
	TotalMs    int64  `json:"total_ms"`
}

// ── Sandbox ─────────────────────────────────────────────────

// Workspace is a per-user scratch directory for sandbox runs.
type Workspace struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStatus is the sandbox run state machine.
type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
	RunKilled  RunStatus = "killed"
	RunTimeout RunStatus = "timeout"
)

// Terminal reports whether the status releases the user's run slot.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunDone, RunFailed, RunKilled, RunTimeout:
		return true
	}
	return false
}

// RunBudget bounds a sandbox run.
type RunBudget struct {
	RuntimeSeconds int   `json:"runtime_seconds"`
	MemoryMB       int   `json:"memory_mb"`
	OutputBytes    int64 `json:"output_bytes"`
	MaxFiles       int   `json:"max_files"`
}

// SandboxRun is a budgeted code-execution job inside a workspace.
type SandboxRun struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	UserID      string     `json:"user_id"`
	Status      RunStatus  `json:"status"`
	Entrypoint  string     `json:"entrypoint"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Budget      RunBudget  `json:"budget"`
	SidecarID   string     `json:"sidecar_id,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ── Tool protocol ───────────────────────────────────────────

// ToolCall is the request half of the JSON tool envelope.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult is the response half. The ID echoes the call unchanged.
type ToolResult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Truncated bool   `json:"truncated"`
}
