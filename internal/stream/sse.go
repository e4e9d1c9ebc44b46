package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const keepaliveInterval = 15 * time.Second

// Emitter writes SSE frames: `data: {json}\n\n` per event, `:ka\n\n`
// comments as keepalives. Writes are serialized because the keepalive
// ticker runs concurrently with the request goroutine.
type Emitter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	stopKA  chan struct{}
	kaDone  chan struct{}
}

// NewEmitter opens the SSE response: content type, no proxy buffering,
// headers flushed immediately so the client sees the stream open.
func NewEmitter(w http.ResponseWriter) (*Emitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	e := &Emitter{
		w:       w,
		flusher: flusher,
		stopKA:  make(chan struct{}),
		kaDone:  make(chan struct{}),
	}
	go e.keepaliveLoop()
	return e, nil
}

// Send marshals event and writes one data frame. Errors after the
// client disconnects are swallowed; the orchestrator notices the
// disconnect through the request context instead.
func (e *Emitter) Send(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	fmt.Fprintf(e.w, "data: %s\n\n", payload)
	e.flusher.Flush()
}

// Close stops the keepalive. The response itself is closed by the
// handler returning.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	close(e.stopKA)
	<-e.kaDone
}

func (e *Emitter) keepaliveLoop() {
	defer close(e.kaDone)
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.mu.Lock()
			if !e.closed {
				fmt.Fprint(e.w, ":ka\n\n")
				e.flusher.Flush()
			}
			e.mu.Unlock()
		case <-e.stopKA:
			return
		}
	}
}
