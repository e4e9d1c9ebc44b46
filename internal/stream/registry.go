package stream

import (
	"context"
	"sync"
	"time"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// Handle is the controller for one in-flight stream. It carries the
// abort signal, the partial output buffer (kept for diagnosis when a
// stream aborts) and a pending-correction slot the orchestrator polls
// between backend frames.
type Handle struct {
	SessionID string
	UserID    string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	partial    []byte
	correction string
}

// Context is cancelled when the stream is aborted: client disconnect,
// injected correction, or server shutdown.
func (h *Handle) Context() context.Context { return h.ctx }

// Abort flips the signal. Idempotent.
func (h *Handle) Abort() { h.cancel() }

// AppendPartial records delivered visible text.
func (h *Handle) AppendPartial(token string) {
	h.mu.Lock()
	h.partial = append(h.partial, token...)
	h.mu.Unlock()
}

// Partial returns the text delivered so far.
func (h *Handle) Partial() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.partial)
}

// InjectCorrection asks the orchestrator to abort the current backend
// call and acknowledge with an aborted_for_correction event.
func (h *Handle) InjectCorrection(text string) {
	h.mu.Lock()
	h.correction = text
	h.mu.Unlock()
}

// PendingCorrection returns and clears the correction slot.
func (h *Handle) PendingCorrection() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.correction == "" {
		return "", false
	}
	c := h.correction
	h.correction = ""
	return c, true
}

// handleKey scopes a session to its owner. Two users may reuse the
// same session id without ever seeing or aborting each other's stream.
type handleKey struct {
	userID    string
	sessionID string
}

// OwnerID is the key that scopes stream handles and transcripts to a
// caller. Guests have no user id; their fingerprint stands in so two
// anonymous clients never share a session namespace.
func OwnerID(caller *models.Caller, fingerprint string) string {
	if caller.IsGuest {
		return "guest:" + fingerprint
	}
	return caller.UserID
}

// Registry tracks in-flight streams by owner and session id. A second
// stream on the same pair aborts the first; the newest request wins.
type Registry struct {
	mu      sync.Mutex
	handles map[handleKey]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[handleKey]*Handle)}
}

// Register creates a handle bound to parent. The returned handle must
// be Deregistered when the stream finishes.
func (r *Registry) Register(parent context.Context, userID, sessionID string) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{
		SessionID: sessionID,
		UserID:    userID,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	key := handleKey{userID: userID, sessionID: sessionID}
	r.mu.Lock()
	if prev, ok := r.handles[key]; ok {
		prev.Abort()
	}
	r.handles[key] = h
	r.mu.Unlock()
	return h
}

// Deregister removes the handle if it is still the active one for its
// session and releases its context.
func (r *Registry) Deregister(h *Handle) {
	key := handleKey{userID: h.UserID, sessionID: h.SessionID}
	r.mu.Lock()
	if cur, ok := r.handles[key]; ok && cur == h {
		delete(r.handles, key)
	}
	r.mu.Unlock()
	h.cancel()
}

// Get returns the active handle for the caller's session. A session id
// belonging to another user is simply not found.
func (r *Registry) Get(userID, sessionID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[handleKey{userID: userID, sessionID: sessionID}]
	return h, ok
}

// Active reports the number of in-flight streams.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// AbortAll flips every abort signal; used on shutdown.
func (r *Registry) AbortAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		h.Abort()
	}
}
