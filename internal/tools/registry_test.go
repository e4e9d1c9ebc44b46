package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurolabs/kuro-gateway/internal/connectors"
	"github.com/kurolabs/kuro-gateway/internal/quota"
	"github.com/kurolabs/kuro-gateway/internal/retrieval"
	"github.com/kurolabs/kuro-gateway/internal/vectorstore"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

type axisEmbedder struct{}

func (axisEmbedder) Kind() string      { return "axis" }
func (axisEmbedder) Dimensions() int   { return 2 }
func (axisEmbedder) MaxBatchSize() int { return 8 }
func (axisEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if strings.Contains(text, "gateway") {
			out[i] = []float64{1, 0}
		} else {
			out[i] = []float64{0, 1}
		}
	}
	return out, nil
}
func (axisEmbedder) HealthCheck(context.Context) error { return nil }

func operatorCaller() *models.Caller {
	return &models.Caller{
		UserID: "op", Tier: models.TierSovereign, Role: models.RoleOperator, Level: 3,
		Capabilities: map[models.Capability]bool{
			models.CapRead: true, models.CapWrite: true, models.CapExec: true,
		},
		AuthMethod: models.AuthSession,
	}
}

func viewerCaller() *models.Caller {
	return &models.Caller{
		UserID: "viewer", Tier: models.TierFree, Role: models.RoleViewer, Level: 1,
		Capabilities: map[models.Capability]bool{models.CapRead: true},
		AuthMethod:   models.AuthSession,
	}
}

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dataDir := t.TempDir()
	roots := connectors.Roots{Data: dataDir}
	return NewDefaultRegistry(Deps{
		Files:     connectors.NewFileGate(roots, nil),
		Shell:     connectors.NewShellGate(roots, nil),
		Retrieval: retrieval.NewLayer(axisEmbedder{}, vectorstore.NewManager(t.TempDir(), nil)),
	}), dataDir
}

func TestUnknownToolIsOkFalseNotError(t *testing.T) {
	r, _ := newTestRegistry(t)
	res := r.Invoke(context.Background(), operatorCaller(), models.ToolCall{
		ID: "abc", Name: "unknown.tool", Args: map[string]any{},
	})

	assert.Equal(t, "abc", res.ID, "id echoes unchanged")
	assert.Equal(t, "unknown.tool", res.Name)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "unknown tool")
	assert.False(t, res.Truncated)
}

func TestFsReadTool(t *testing.T) {
	r, dataDir := newTestRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "notes.txt"), []byte("local first"), 0o600))

	res := r.Invoke(context.Background(), operatorCaller(), models.ToolCall{
		ID: "r1", Name: "fs.read", Args: map[string]any{"path": "notes.txt"},
	})
	require.True(t, res.OK, res.Error)
	out := res.Result.(map[string]any)
	assert.Equal(t, "local first", out["content"])
}

func TestFsWriteToolRespectsCapability(t *testing.T) {
	r, _ := newTestRegistry(t)
	call := models.ToolCall{ID: "w1", Name: "fs.write", Args: map[string]any{"path": "out.txt", "content": "x"}}

	res := r.Invoke(context.Background(), viewerCaller(), call)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "write capability")

	res = r.Invoke(context.Background(), operatorCaller(), call)
	assert.True(t, res.OK, res.Error)
	rec := res.Result.(*connectors.WriteRecord)
	assert.NotEmpty(t, rec.SHA256)
}

func TestShellToolBlocksDangerousPattern(t *testing.T) {
	r, _ := newTestRegistry(t)
	res := r.Invoke(context.Background(), operatorCaller(), models.ToolCall{
		ID: "s1", Name: "shell.exec", Args: map[string]any{"command": "rm -rf /"},
	})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "deny")
}

func TestRagQueryToolIsolatesUsers(t *testing.T) {
	r, _ := newTestRegistry(t)

	res := r.Invoke(context.Background(), operatorCaller(), models.ToolCall{
		ID: "q1", Name: "rag.query", Args: map[string]any{"query": "gateway", "namespace": "edubba"},
	})
	require.True(t, res.OK, res.Error)
	out := res.Result.(map[string]any)
	assert.Empty(t, out["results"], "nothing ingested for this user")

	guest := &models.Caller{UserID: "guest-1", Tier: models.TierFree, IsGuest: true}
	res = r.Invoke(context.Background(), guest, models.ToolCall{
		ID: "q2", Name: "rag.query", Args: map[string]any{"query": "gateway"},
	})
	assert.False(t, res.OK)
}

func TestShellAndEditToolsAreMetered(t *testing.T) {
	store, err := quota.NewFileCounterStore(filepath.Join(t.TempDir(), "quota.json"))
	require.NoError(t, err)
	gate := quota.NewGate(store, time.Hour)
	t.Cleanup(func() { _ = gate.Close() })

	roots := connectors.Roots{Data: t.TempDir()}
	r := NewDefaultRegistry(Deps{
		Files: connectors.NewFileGate(roots, nil),
		Shell: connectors.NewShellGate(roots, nil),
		Quota: gate,
	})
	op := operatorCaller()

	// A metered write both succeeds and consumes a unit.
	res := r.Invoke(context.Background(), op, models.ToolCall{
		ID: "w1", Name: "fs.write", Args: map[string]any{"path": "a.txt", "content": "x"},
	})
	require.True(t, res.OK, res.Error)
	assert.EqualValues(t, 1, gate.Check(op.UserID, op.Tier, models.ActionEditHourly).Used)

	// Exhaust the hourly shell budget; the denial happens before any
	// process is spawned.
	for i := int64(0); i < quota.Limits[models.TierSovereign].ShellPerHour; i++ {
		gate.Record(op.UserID, models.ActionShellHourly)
	}
	res = r.Invoke(context.Background(), op, models.ToolCall{
		ID: "s1", Name: "shell.exec", Args: map[string]any{"command": "ls"},
	})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "quota exhausted")

	// Edits are metered independently of shell.
	for i := int64(0); i < quota.Limits[models.TierSovereign].EditsPerHour; i++ {
		gate.Record(op.UserID, models.ActionEditHourly)
	}
	res = r.Invoke(context.Background(), op, models.ToolCall{
		ID: "w2", Name: "fs.write", Args: map[string]any{"path": "b.txt", "content": "x"},
	})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "quota exhausted")
}

func TestMissingArgsAreToolErrors(t *testing.T) {
	r, _ := newTestRegistry(t)
	res := r.Invoke(context.Background(), operatorCaller(), models.ToolCall{
		ID: "m1", Name: "fs.read", Args: map[string]any{},
	})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "args.path")
}

func TestTruncateBoundsResult(t *testing.T) {
	out, truncated := truncate(strings.Repeat("a", maxResultBytes*2))
	assert.True(t, truncated)
	s := out.(string)
	assert.Len(t, s, maxResultBytes)

	out, truncated = truncate("small")
	assert.False(t, truncated)
	assert.Equal(t, "small", out)
}

func TestNamesSorted(t *testing.T) {
	r, _ := newTestRegistry(t)
	names := r.Names()
	assert.Contains(t, names, "fs.read")
	assert.Contains(t, names, "shell.exec")
	assert.Contains(t, names, "rag.query")
	assert.IsType(t, []string{}, names)
}
