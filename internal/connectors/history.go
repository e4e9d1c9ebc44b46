package connectors

import (
	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// HistorySource is implemented by the stream memory store. Transcripts
// are addressed by owner and session id together; a session id alone
// never resolves.
type HistorySource interface {
	Recent(userID, sessionID string, n int) ([]models.ChatMessage, error)
}

// HistoryGate mediates session-history reads. History is per-session,
// so the gate also refuses cross-session reads for guests, who have no
// stable identity to pin a session to.
type HistoryGate struct {
	source HistorySource
	audit  contracts.AuditSink
}

func NewHistoryGate(source HistorySource, audit contracts.AuditSink) *HistoryGate {
	return &HistoryGate{source: source, audit: audit}
}

// Read returns up to n recent messages from the session transcript.
func (g *HistoryGate) Read(caller *models.Caller, sessionID string, n int) ([]models.ChatMessage, error) {
	if caller == nil || !caller.Can(models.CapRead) {
		return nil, &DeniedError{Op: "history", Target: sessionID, Reason: "missing read capability"}
	}
	if caller.IsGuest {
		g.logDenied(caller, sessionID)
		return nil, &DeniedError{Op: "history", Target: sessionID, Reason: "guests cannot read history"}
	}
	if n <= 0 || n > 200 {
		n = 50
	}
	return g.source.Recent(caller.UserID, sessionID, n)
}

func (g *HistoryGate) logDenied(caller *models.Caller, sessionID string) {
	if g.audit == nil {
		return
	}
	_, _ = g.audit.Log(models.AuditEntry{
		Agent: "connector", Action: "history_denied", Target: sessionID,
		Result: models.AuditDenied, UserID: caller.UserID,
	})
}
