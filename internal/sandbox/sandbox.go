// Package sandbox executes untrusted generated scripts out of process, in an
// isolated workspace with an enforced wall-clock timeout and memory ceiling.
//
// Timeouts and resource violations are reported as outcomes, never as fatal
// errors: the validator treats them as a failed verdict, not a crash.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/probeweave/probeweave/internal/types"
)

// Outcome reports what happened to one sandboxed run.
type Outcome struct {
	// Ran is true when the process started and exited on its own.
	Ran bool

	// TimedOut is true when the run hit the wall-clock timeout and was killed.
	TimedOut bool

	// ResourceExceeded is true when the run died to the memory ceiling.
	ResourceExceeded bool

	Stdout     string
	Stderr     string
	ExitStatus int
	Duration   time.Duration
}

// Config holds sandbox runner configuration.
type Config struct {
	// Root is the directory under which per-attempt workspaces are created.
	Root string

	// Interpreter runs the generated scripts (default "python3"). The
	// generated transform/test contract is interpreter-level Python
	// regardless of the construct's source language.
	Interpreter string

	// Timeout is the wall-clock limit for one run.
	Timeout time.Duration

	// MemoryLimitMB caps the run's address space via ulimit. Zero disables
	// the ceiling.
	MemoryLimitMB int

	// PreserveFailed keeps the workspace of a failed run on disk for
	// debugging instead of removing it.
	PreserveFailed bool
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Root:          filepath.Join(os.TempDir(), "probeweave-sandbox"),
		Interpreter:   "python3",
		Timeout:       10 * time.Second,
		MemoryLimitMB: 512,
	}
}

// Runner executes artifacts in isolated workspaces. Safe for concurrent use:
// every run gets its own workspace and shares no mutable state.
type Runner struct {
	cfg Config
	log *slog.Logger
}

// NewRunner creates a sandbox runner and ensures the workspace root exists.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Root == "" {
		cfg.Root = DefaultConfig().Root
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}
	return &Runner{cfg: cfg, log: slog.Default().With("component", "sandbox")}, nil
}

// Run writes the artifact's scripts plus the input corpus into a fresh
// workspace and executes the test suite there.
//
// The returned error covers infrastructure problems only (workspace I/O,
// interpreter missing). Script failures, timeouts and resource violations all
// come back inside the Outcome.
func (r *Runner) Run(ctx context.Context, artifact *types.Artifact, corpus string) (*Outcome, error) {
	ws, cleanup, err := r.workspace(artifact.Fingerprint)
	if err != nil {
		return nil, err
	}

	files := map[string]string{
		"transform.py": artifact.TransformCode,
		"test.py":      artifact.TestCode,
		"corpus.txt":   corpus,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(ws, name), []byte(content), 0o644); err != nil {
			cleanup(false)
			return nil, fmt.Errorf("failed to stage %s: %w", name, err)
		}
	}

	outcome, err := r.execute(ctx, ws, "test.py")
	if err != nil {
		cleanup(false)
		return nil, err
	}

	cleanup(outcome.Ran && outcome.ExitStatus == 0)
	return outcome, nil
}

// CheckSyntax compiles a single script without executing it. The compile-only
// invocation never runs untrusted code, so it is safe to call before the
// security scan has passed.
func (r *Runner) CheckSyntax(ctx context.Context, code string) (bool, string, error) {
	ws, cleanup, err := r.workspace("syntax")
	if err != nil {
		return false, "", err
	}
	defer cleanup(true)

	path := filepath.Join(ws, "candidate.py")
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return false, "", fmt.Errorf("failed to stage candidate: %w", err)
	}

	outcome, err := r.execute(ctx, ws, "-m", "py_compile", "candidate.py")
	if err != nil {
		return false, "", err
	}
	if outcome.TimedOut {
		return false, "syntax check timed out", nil
	}
	if outcome.ExitStatus != 0 {
		return false, strings.TrimSpace(outcome.Stderr), nil
	}
	return true, "", nil
}

// workspace creates a unique per-attempt directory and returns a cleanup
// function. The cleanup honors PreserveFailed when the run did not succeed.
func (r *Runner) workspace(tag any) (string, func(ok bool), error) {
	name := fmt.Sprintf("ws-%v-%s", shortTag(tag), uuid.NewString()[:8])
	ws := filepath.Join(r.cfg.Root, name)
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	cleanup := func(ok bool) {
		if !ok && r.cfg.PreserveFailed {
			r.log.Debug("preserving failed workspace", "path", ws)
			return
		}
		if err := os.RemoveAll(ws); err != nil {
			r.log.Warn("failed to remove workspace", "path", ws, "error", err)
		}
	}
	return ws, cleanup, nil
}

func shortTag(tag any) string {
	if fp, ok := tag.(types.Fingerprint); ok {
		return fp.Short()
	}
	return fmt.Sprintf("%v", tag)
}

// execute runs the interpreter inside the workspace with an allowlist-only
// environment and a process group so the whole tree dies on timeout.
func (r *Runner) execute(ctx context.Context, ws string, args ...string) (*Outcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	argv := append([]string{r.cfg.Interpreter}, args...)
	var cmd *exec.Cmd
	if r.cfg.MemoryLimitMB > 0 {
		// ulimit applies to the shell and is inherited through exec, which
		// keeps the ceiling on the interpreter without extra tooling. argv
		// goes through as positional parameters so paths containing spaces
		// survive the shell.
		script := fmt.Sprintf(`ulimit -v %d; exec "$@"`, r.cfg.MemoryLimitMB*1024)
		cmd = exec.Command("sh", append([]string{"-c", script, "sh"}, argv...)...)
	} else {
		cmd = exec.Command(argv[0], argv[1:]...)
	}

	cmd.Dir = ws
	// Allowlist environment: enough to find the interpreter, nothing from the
	// host beyond that.
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + ws,
		"TMPDIR=" + ws,
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start sandbox process: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-runCtx.Done():
		// Hard kill the whole process group, then reap.
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		elapsed := time.Since(start)
		// A parent cancellation (not our own timeout) still reports as a
		// timed-out run: the artifact did not finish, and the caller decides
		// what the cancellation means.
		r.log.Warn("sandbox run killed", "workspace", filepath.Base(ws), "after", elapsed)
		return &Outcome{
			TimedOut: true,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: elapsed,
		}, nil
	case waitErr = <-done:
	}

	outcome := &Outcome{
		Ran:      true,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("failed to execute sandbox process: %w", waitErr)
		}
		outcome.ExitStatus = exitErr.ExitCode()
	}
	if looksLikeMemoryDeath(outcome) {
		outcome.ResourceExceeded = true
	}
	return outcome, nil
}

// looksLikeMemoryDeath classifies exits caused by the memory ceiling. A
// ulimit hit surfaces either as a Python MemoryError or as a SIGKILL/SIGSEGV
// from the allocator failing hard.
func looksLikeMemoryDeath(o *Outcome) bool {
	if o.ExitStatus == 0 {
		return false
	}
	if strings.Contains(o.Stderr, "MemoryError") {
		return true
	}
	return o.ExitStatus == 137 || o.ExitStatus == -1 && strings.Contains(o.Stderr, "out of memory")
}
