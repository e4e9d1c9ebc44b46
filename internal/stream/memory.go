package stream

import (
	"sync"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// maxTranscriptTurns bounds the per-session transcript. Older turns
// fall off; durable recall belongs to the vector store, not here.
const maxTranscriptTurns = 200

// MemoryStore holds per-session chat history in process memory, keyed
// by the owning user so a session id alone never addresses another
// caller's transcript. It feeds the memory/context pipeline stage and
// the history connector.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]models.ChatMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]models.ChatMessage)}
}

// transcriptKey scopes a session to its owner. The NUL separator keeps
// crafted user or session ids from colliding with another pair.
func transcriptKey(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}

// Append records turns at the end of a stream. Assistant turns are
// stored with thinking already stripped.
func (m *MemoryStore) Append(userID, sessionID string, msgs ...models.ChatMessage) {
	if sessionID == "" {
		return
	}
	key := transcriptKey(userID, sessionID)
	m.mu.Lock()
	defer m.mu.Unlock()
	history := append(m.sessions[key], msgs...)
	if len(history) > maxTranscriptTurns {
		history = history[len(history)-maxTranscriptTurns:]
	}
	m.sessions[key] = history
}

// Recent returns up to n of the owner's latest turns, oldest first.
func (m *MemoryStore) Recent(userID, sessionID string, n int) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.sessions[transcriptKey(userID, sessionID)]
	if n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]models.ChatMessage, len(history))
	copy(out, history)
	return out, nil
}

// Forget drops a session's transcript.
func (m *MemoryStore) Forget(userID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, transcriptKey(userID, sessionID))
}
