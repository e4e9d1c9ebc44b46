// Package retrieval is the RAG layer: embedding generation against the
// local runtime, document chunking, per-user ingestion and similarity
// query over the vector stores.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaEmbedder implements contracts.EmbeddingDriver against the local
// runtime's /api/embed endpoint. Known models: nomic-embed-text (768d),
// mxbai-embed-large (1024d), all-minilm (384d).
type OllamaEmbedder struct {
	endpoint   string
	model      string
	dimensions int
	batchSize  int
	client     *http.Client
}

// NewOllamaEmbedder creates the driver. Embedding calls are short; the
// timeout is seconds-scale, unlike the chat stream.
func NewOllamaEmbedder(endpoint, model string, timeout time.Duration) *OllamaEmbedder {
	dims := 768
	switch model {
	case "nomic-embed-text":
		dims = 768
	case "mxbai-embed-large":
		dims = 1024
	case "all-minilm", "all-minilm:l6-v2":
		dims = 384
	}
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &OllamaEmbedder{
		endpoint:   endpoint,
		model:      model,
		dimensions: dims,
		batchSize:  256,
		client:     &http.Client{Timeout: timeout},
	}
}

func (d *OllamaEmbedder) Kind() string      { return "ollama" }
func (d *OllamaEmbedder) Dimensions() int   { return d.dimensions }
func (d *OllamaEmbedder) MaxBatchSize() int { return d.batchSize }

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed generates vectors for a batch of texts.
func (d *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > d.batchSize {
		return nil, fmt.Errorf("batch size %d exceeds max %d", len(texts), d.batchSize)
	}

	body, err := json.Marshal(embedRequest{Model: d.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result embedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

// HealthCheck verifies the runtime serves the embedding model.
func (d *OllamaEmbedder) HealthCheck(ctx context.Context) error {
	_, err := d.Embed(ctx, []string{"health check"})
	return err
}
