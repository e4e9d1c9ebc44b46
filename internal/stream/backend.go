// Package stream contains the streaming side of the gateway: the local
// backend client, the SSE emitter, the stream-handle registry, the
// thinking extractor and the orchestrator that ties them together.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// LocalBackend speaks the local runtime's /api/chat protocol: one JSON
// frame per line, token in message.content, done flag on the last frame.
type LocalBackend struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewLocalBackend creates the client. The timeout is the hard cap on a
// whole chat stream, minutes-scale.
func NewLocalBackend(endpoint, model string, timeout time.Duration) *LocalBackend {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &LocalBackend{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

func (b *LocalBackend) Name() string  { return "local" }
func (b *LocalBackend) Model() string { return b.model }

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  chatOptions          `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type chatFrame struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Stream runs a streaming completion, invoking onToken per frame in
// backend order. Frames are parsed as they arrive; the full response is
// never buffered.
func (b *LocalBackend) Stream(ctx context.Context, messages []models.ChatMessage, opts contracts.StreamOptions, onToken func(string) error) error {
	resp, err := b.post(ctx, messages, opts, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame chatFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			// A malformed frame mid-stream is a backend bug; skip it
			// rather than killing a half-delivered response.
			continue
		}
		if frame.Error != "" {
			return fmt.Errorf("backend error: %s", frame.Error)
		}
		if frame.Message.Content != "" {
			if err := onToken(frame.Message.Content); err != nil {
				return err
			}
		}
		if frame.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// Complete runs a non-streaming completion. Used by the synthesis
// judge/merge calls and the intent probes.
func (b *LocalBackend) Complete(ctx context.Context, messages []models.ChatMessage, opts contracts.StreamOptions) (string, error) {
	resp, err := b.post(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var frame chatFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if frame.Error != "" {
		return "", fmt.Errorf("backend error: %s", frame.Error)
	}
	return frame.Message.Content, nil
}

// HealthCheck hits the runtime's version endpoint.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return nil
}

func (b *LocalBackend) post(ctx context.Context, messages []models.ChatMessage, opts contracts.StreamOptions, streaming bool) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:    b.model,
		Messages: messages,
		Stream:   streaming,
		Options:  chatOptions{Temperature: opts.Temperature, NumCtx: opts.ContextTokens},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(raw))
	}
	return resp, nil
}
