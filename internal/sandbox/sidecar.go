// Package sandbox manages isolated per-user workspaces and budgeted
// code-execution runs. Execution itself is delegated to an external
// sidecar; this package owns the records, the bounds and the artifact
// surface.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// SidecarClient is the execution delegate. The HTTP implementation
// talks to the isolation sidecar; tests substitute a fake.
type SidecarClient interface {
	// Launch starts a run and returns the sidecar's run id immediately.
	Launch(ctx context.Context, runID, workspaceDir, entrypoint string, budget models.RunBudget) (string, error)

	// Poll reports the sidecar's view of a run.
	Poll(ctx context.Context, sidecarID string) (*SidecarState, error)

	// Kill terminates a run.
	Kill(ctx context.Context, sidecarID string) error
}

// SidecarState is the sidecar's status report.
type SidecarState struct {
	Status    models.RunStatus `json:"status"`
	ExitCode  *int             `json:"exit_code,omitempty"`
	Logs      string           `json:"logs,omitempty"`
	Artifacts []string         `json:"artifacts,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// HTTPSidecar talks to the isolation sidecar over HTTP.
type HTTPSidecar struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSidecar(baseURL string, timeout time.Duration) *HTTPSidecar {
	return &HTTPSidecar{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type launchRequest struct {
	RunID      string           `json:"run_id"`
	Workspace  string           `json:"workspace"`
	Entrypoint string           `json:"entrypoint"`
	Budget     models.RunBudget `json:"budget"`
}

type launchResponse struct {
	SidecarID string `json:"sidecar_id"`
}

func (s *HTTPSidecar) Launch(ctx context.Context, runID, workspaceDir, entrypoint string, budget models.RunBudget) (string, error) {
	body, err := json.Marshal(launchRequest{RunID: runID, Workspace: workspaceDir, Entrypoint: entrypoint, Budget: budget})
	if err != nil {
		return "", fmt.Errorf("marshal launch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("sidecar returned %d: %s", resp.StatusCode, string(raw))
	}
	var out launchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parse launch response: %w", err)
	}
	return out.SidecarID, nil
}

func (s *HTTPSidecar) Poll(ctx context.Context, sidecarID string) (*SidecarState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/runs/"+sidecarID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar returned %d", resp.StatusCode)
	}
	var state SidecarState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("parse poll response: %w", err)
	}
	return &state, nil
}

func (s *HTTPSidecar) Kill(ctx context.Context, sidecarID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/runs/"+sidecarID, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("sidecar returned %d", resp.StatusCode)
	}
	return nil
}
