// Package tools implements the JSON tool protocol: a registry of named
// tools dispatching onto the connector gates and the retrieval layer.
// The call id is echoed unchanged; an unknown tool is a normal result
// with ok=false, never a transport error.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kurolabs/kuro-gateway/internal/connectors"
	"github.com/kurolabs/kuro-gateway/internal/quota"
	"github.com/kurolabs/kuro-gateway/internal/retrieval"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

// maxResultBytes caps the serialized result payload. Oversized results
// are truncated and flagged, not rejected.
const maxResultBytes = 64 << 10

// Handler executes one tool call for a caller.
type Handler func(ctx context.Context, caller *models.Caller, args map[string]any) (any, error)

// Registry maps tool names onto handlers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Handler)}
}

// Register adds a tool. Re-registering a name replaces the handler.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	r.tools[name] = h
	r.mu.Unlock()
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke runs one call and always produces a result envelope echoing
// the call's id and name.
func (r *Registry) Invoke(ctx context.Context, caller *models.Caller, call models.ToolCall) models.ToolResult {
	res := models.ToolResult{ID: call.ID, Name: call.Name}

	r.mu.RLock()
	handler, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		res.Error = fmt.Sprintf("unknown tool %q", call.Name)
		return res
	}

	out, err := handler(ctx, caller, call.Args)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.OK = true
	res.Result, res.Truncated = truncate(out)
	return res
}

// truncate bounds the serialized result. When the payload is over the
// cap the result degrades to a prefix string.
func truncate(v any) (any, bool) {
	raw, err := json.Marshal(v)
	if err != nil || len(raw) <= maxResultBytes {
		return v, false
	}
	return string(raw[:maxResultBytes]), true
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string) int {
	switch n := args[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

// Deps are the gates the built-in tools dispatch onto.
type Deps struct {
	Files     *connectors.FileGate
	Shell     *connectors.ShellGate
	History   *connectors.HistoryGate
	Retrieval *retrieval.Layer

	// Quota meters the shell and edit actions. Nil skips metering,
	// for wirings that gate those tools some other way.
	Quota *quota.Gate
}

// checkQuota answers whether the caller has budget for one more unit.
func (d Deps) checkQuota(caller *models.Caller, action models.QuotaAction) error {
	if d.Quota == nil || caller == nil {
		return nil
	}
	if res := d.Quota.Check(caller.UserID, caller.Tier, action); !res.Allowed {
		return fmt.Errorf("quota exhausted: %s limit %d reached", action, res.Limit)
	}
	return nil
}

func (d Deps) recordQuota(caller *models.Caller, action models.QuotaAction) {
	if d.Quota != nil && caller != nil {
		d.Quota.Record(caller.UserID, action)
	}
}

// NewDefaultRegistry wires the built-in tool set. Nil deps leave the
// corresponding tools unregistered.
func NewDefaultRegistry(d Deps) *Registry {
	r := NewRegistry()

	if d.Files != nil {
		r.Register("fs.read", func(_ context.Context, caller *models.Caller, args map[string]any) (any, error) {
			path := argString(args, "path")
			if path == "" {
				return nil, fmt.Errorf("args.path: required")
			}
			content, size, err := d.Files.Read(caller, path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"path": path, "size": size, "content": content}, nil
		})
		r.Register("fs.write", func(_ context.Context, caller *models.Caller, args map[string]any) (any, error) {
			path := argString(args, "path")
			content := argString(args, "content")
			if path == "" {
				return nil, fmt.Errorf("args.path: required")
			}
			if err := d.checkQuota(caller, models.ActionEditHourly); err != nil {
				return nil, err
			}
			rec, err := d.Files.Write(caller, path, []byte(content))
			if err != nil {
				return nil, err
			}
			d.recordQuota(caller, models.ActionEditHourly)
			return rec, nil
		})
	}

	if d.Shell != nil {
		r.Register("shell.exec", func(ctx context.Context, caller *models.Caller, args map[string]any) (any, error) {
			command := argString(args, "command")
			if command == "" {
				return nil, fmt.Errorf("args.command: required")
			}
			if err := d.checkQuota(caller, models.ActionShellHourly); err != nil {
				return nil, err
			}
			res, err := d.Shell.Exec(ctx, caller, command, argString(args, "cwd"))
			if err != nil {
				return nil, err
			}
			d.recordQuota(caller, models.ActionShellHourly)
			return res, nil
		})
	}

	if d.History != nil {
		r.Register("history.read", func(_ context.Context, caller *models.Caller, args map[string]any) (any, error) {
			sessionID := argString(args, "sessionId")
			if sessionID == "" {
				return nil, fmt.Errorf("args.sessionId: required")
			}
			n := argInt(args, "n")
			if n == 0 {
				n = 20
			}
			msgs, err := d.History.Read(caller, sessionID, n)
			if err != nil {
				return nil, err
			}
			return map[string]any{"sessionId": sessionID, "messages": msgs}, nil
		})
	}

	if d.Retrieval != nil {
		r.Register("rag.query", func(ctx context.Context, caller *models.Caller, args map[string]any) (any, error) {
			if caller == nil || caller.IsGuest {
				return nil, fmt.Errorf("retrieval requires an authenticated caller")
			}
			query := argString(args, "query")
			if query == "" {
				return nil, fmt.Errorf("args.query: required")
			}
			ns := models.Namespace(argString(args, "namespace"))
			if ns == "" {
				ns = models.NamespaceEdubba
			}
			if !models.ValidNamespace(ns) {
				return nil, fmt.Errorf("args.namespace: must be edubba or mnemosyne")
			}
			hits, err := d.Retrieval.Query(ctx, caller.UserID, ns, query, argInt(args, "topK"))
			if err != nil {
				return nil, err
			}
			if hits == nil {
				hits = []models.RetrievalHit{}
			}
			return map[string]any{"results": hits}, nil
		})
	}

	return r
}
