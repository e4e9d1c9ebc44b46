package connectors

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kurolabs/kuro-gateway/internal/validate"
	"github.com/kurolabs/kuro-gateway/pkg/contracts"
	"github.com/kurolabs/kuro-gateway/pkg/models"
)

const (
	shellTimeout   = 30 * time.Second
	maxStreamBytes = 2 << 20 // 2 MiB per stream
)

// binaryRule is one allowlist row: how many args the binary accepts and
// which substrings are forbidden in any arg.
type binaryRule struct {
	maxArgs  int
	denyArgs []string
}

var shellAllowlist = map[string]binaryRule{
	"ls":     {maxArgs: 4},
	"cat":    {maxArgs: 4, denyArgs: []string{"/etc/", "/proc/", "/sys/"}},
	"head":   {maxArgs: 5},
	"tail":   {maxArgs: 5, denyArgs: []string{"-f"}},
	"wc":     {maxArgs: 4},
	"grep":   {maxArgs: 8, denyArgs: []string{"-r/", "--include=/"}},
	"find":   {maxArgs: 8, denyArgs: []string{"-exec", "-delete", "-ok"}},
	"git":    {maxArgs: 8, denyArgs: []string{"push", "config", "--upload-pack", "--exec"}},
	"python": {maxArgs: 6, denyArgs: []string{"-c"}},
	"go":     {maxArgs: 8, denyArgs: []string{"generate"}},
	"du":     {maxArgs: 4},
	"file":   {maxArgs: 4},
	"diff":   {maxArgs: 6},
	"sort":   {maxArgs: 5, denyArgs: []string{"-o"}},
	"uniq":   {maxArgs: 4},
	"date":   {maxArgs: 2},
	"env":    {maxArgs: 0},
	"pwd":    {maxArgs: 0},
	"echo":   {maxArgs: 8},
}

// globalDeny kills a command regardless of allowlist membership. These
// run over the raw command string, catching payloads smuggled in args.
var globalDeny = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rf]`),
	regexp.MustCompile(`\b(bash|sh|zsh|dash|ksh|fish)\b`),
	regexp.MustCompile(`\|\s*(bash|sh|python)`),
	regexp.MustCompile(`\b(sudo|doas|su)\b`),
	regexp.MustCompile(`\b(nc|ncat|netcat|nmap|masscan)\b`),
	regexp.MustCompile(`\b(mkfs|dd|fdisk|shutdown|reboot|kill(all)?)\b`),
	regexp.MustCompile(`\b(curl|wget)\b`),
	regexp.MustCompile(`[;&|<>` + "`" + `$]`),
	regexp.MustCompile(`\bchmod\s+[0-7]*7[0-7]*\b`),
}

// ShellResult is the gated execution outcome. Output hashes are logged
// for cross-referencing with audit records.
type ShellResult struct {
	Command    string        `json:"command"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	StdoutSHA  string        `json:"stdout_sha256"`
	StderrSHA  string        `json:"stderr_sha256"`
	Truncated  bool          `json:"truncated"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// ShellGate runs allowlisted commands for exec-capable callers, confined
// to the data or code root, without a shell interpreter in the loop.
type ShellGate struct {
	roots Roots
	audit contracts.AuditSink
}

func NewShellGate(roots Roots, audit contracts.AuditSink) *ShellGate {
	return &ShellGate{roots: roots, audit: audit}
}

// vet parses and screens a command. Returns (binary, args) on pass.
func (g *ShellGate) vet(command string) (string, []string, error) {
	for _, re := range globalDeny {
		if re.MatchString(command) {
			return "", nil, &DeniedError{Op: "exec", Target: command, Reason: "matches global deny pattern"}
		}
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil, &DeniedError{Op: "exec", Target: command, Reason: "empty command"}
	}
	binary, args := fields[0], fields[1:]

	rule, ok := shellAllowlist[binary]
	if !ok {
		return "", nil, &DeniedError{Op: "exec", Target: binary, Reason: "binary not allowlisted"}
	}
	if len(args) > rule.maxArgs {
		return "", nil, &DeniedError{Op: "exec", Target: binary,
			Reason: fmt.Sprintf("too many arguments (%d > %d)", len(args), rule.maxArgs)}
	}
	for _, arg := range args {
		for _, deny := range rule.denyArgs {
			if strings.Contains(arg, deny) {
				return "", nil, &DeniedError{Op: "exec", Target: binary, Reason: "forbidden argument " + deny}
			}
		}
	}
	return binary, args, nil
}

// Screen runs only the deny-list half of vetting. The dev surface uses
// it to reject dangerous patterns before attempting execution, with its
// own audit trail.
func (g *ShellGate) Screen(command string) error {
	for _, re := range globalDeny {
		if re.MatchString(command) {
			return &DeniedError{Op: "exec", Target: command, Reason: "matches global deny pattern"}
		}
	}
	return nil
}

// resolveCwd confines the working directory to the data or code root.
func (g *ShellGate) resolveCwd(cwd string) (string, error) {
	if cwd == "" {
		return g.roots.Data, nil
	}
	if abs, err := validate.ResolveUnder(g.roots.Data, cwd); err == nil {
		return abs, nil
	}
	if g.roots.Code != "" {
		if abs, err := validate.ResolveUnder(g.roots.Code, cwd); err == nil {
			return abs, nil
		}
	}
	return "", &DeniedError{Op: "exec", Target: cwd, Reason: "cwd outside data and code roots"}
}

// Exec runs a vetted command. Requires the exec capability.
func (g *ShellGate) Exec(ctx context.Context, caller *models.Caller, command, cwd string) (*ShellResult, error) {
	if !caller.Can(models.CapExec) {
		g.logResult(caller, command, models.AuditDenied, map[string]any{"reason": "missing exec capability"})
		return nil, &DeniedError{Op: "exec", Target: command, Reason: "missing exec capability"}
	}
	binary, args, err := g.vet(command)
	if err != nil {
		g.logResult(caller, command, models.AuditDenied, map[string]any{"reason": err.Error()})
		return nil, err
	}
	dir, err := g.resolveCwd(cwd)
	if err != nil {
		g.logResult(caller, command, models.AuditDenied, map[string]any{"reason": err.Error()})
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := &ShellResult{
		Command:    command,
		Duration:   elapsed,
		DurationMS: elapsed.Milliseconds(),
	}
	res.Stdout, res.Truncated = capStream(stdout.Bytes())
	var errTrunc bool
	res.Stderr, errTrunc = capStream(stderr.Bytes())
	res.Truncated = res.Truncated || errTrunc
	res.StdoutSHA = hashStream(res.Stdout)
	res.StderrSHA = hashStream(res.Stderr)

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		res.ExitCode = -1
		res.Stderr = "command timed out after " + shellTimeout.String()
	case runErr != nil:
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("exec %s: %w", binary, runErr)
		}
	}

	log.Info().
		Str("binary", binary).
		Int("exit", res.ExitCode).
		Str("stdout_sha", res.StdoutSHA).
		Str("stderr_sha", res.StderrSHA).
		Dur("took", elapsed).
		Msg("Gated shell execution")
	g.logResult(caller, command, models.AuditOK, map[string]any{
		"exit_code": res.ExitCode, "stdout_sha": res.StdoutSHA, "stderr_sha": res.StderrSHA,
	})
	return res, nil
}

func capStream(b []byte) (string, bool) {
	if len(b) > maxStreamBytes {
		return string(b[:maxStreamBytes]), true
	}
	return string(b), false
}

func hashStream(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (g *ShellGate) logResult(caller *models.Caller, command string, result models.AuditResult, meta map[string]any) {
	if g.audit == nil {
		return
	}
	_, _ = g.audit.Log(models.AuditEntry{
		Agent: "connector", Action: "shell_exec", Target: command,
		Result: result, UserID: caller.UserID, Meta: meta,
	})
}
