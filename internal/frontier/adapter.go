package frontier

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// Backend adapts an OpenAI-style chat completions provider to the
// ChatBackend contract, so the orchestrator streams escalated requests
// through the exact same path as local ones.
type Backend struct {
	provider string
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

func NewBackend(provider, endpoint, model, apiKey string, timeout time.Duration) *Backend {
	return &Backend{
		provider: provider,
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (b *Backend) Name() string  { return b.provider }
func (b *Backend) Model() string { return b.model }

type providerRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	Stream      bool                 `json:"stream"`
	Temperature float64              `json:"temperature"`
}

type providerChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream reads the provider's `data:` framed events and re-emits plain
// tokens, terminating on the [DONE] sentinel.
func (b *Backend) Stream(ctx context.Context, messages []models.ChatMessage, opts contracts.StreamOptions, onToken func(string) error) error {
	resp, err := b.post(ctx, messages, opts, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])
		if bytes.Equal(payload, []byte("[DONE]")) {
			return nil
		}
		var chunk providerChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if token := chunk.Choices[0].Delta.Content; token != "" {
			if err := onToken(token); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read provider stream: %w", err)
	}
	return nil
}

func (b *Backend) Complete(ctx context.Context, messages []models.ChatMessage, opts contracts.StreamOptions) (string, error) {
	resp, err := b.post(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var chunk providerChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(chunk.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	return chunk.Choices[0].Message.Content, nil
}

func (b *Backend) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	return nil
}

func (b *Backend) post(ctx context.Context, messages []models.ChatMessage, opts contracts.StreamOptions, streaming bool) (*http.Response, error) {
	body, err := json.Marshal(providerRequest{
		Model:       b.model,
		Messages:    messages,
		Stream:      streaming,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(raw))
	}
	return resp, nil
}
