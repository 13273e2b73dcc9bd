// Package validator decides whether an artifact can be trusted: syntax gate,
// static security scan, then sandboxed test execution. Each gate
// short-circuits; the sandbox only ever sees code that passed the first two.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/probeweave/probeweave/internal/sandbox"
	"github.com/probeweave/probeweave/internal/types"
)

// Executor is the slice of the sandbox runner the validator needs. Narrowed
// to an interface so tests can validate without spawning processes.
type Executor interface {
	Run(ctx context.Context, artifact *types.Artifact, corpus string) (*sandbox.Outcome, error)
	CheckSyntax(ctx context.Context, code string) (bool, string, error)
}

// Validator produces verdicts. Oracle-repaired candidates go through the
// exact same gates as template output; nothing is special-cased as trusted.
type Validator struct {
	exec Executor
	log  *slog.Logger
}

// New creates a Validator backed by the given executor.
func New(exec Executor) *Validator {
	return &Validator{exec: exec, log: slog.Default().With("component", "validator")}
}

// Validate runs the three gates in order and returns a structured verdict.
// The error return covers infrastructure failures only (sandbox unusable);
// everything about the artifact itself is expressed in the verdict.
func (v *Validator) Validate(ctx context.Context, artifact *types.Artifact, corpus string) (*types.Verdict, error) {
	verdict := &types.Verdict{}

	// Gate 1: both scripts must parse standalone.
	for _, part := range []struct {
		name string
		code string
	}{
		{"transform", artifact.TransformCode},
		{"test", artifact.TestCode},
	} {
		ok, diag, err := v.exec.CheckSyntax(ctx, part.code)
		if err != nil {
			return nil, fmt.Errorf("syntax check for %s code: %w", part.name, err)
		}
		if !ok {
			verdict.Diagnostics = fmt.Sprintf("%s code: %s", part.name, diag)
			v.log.Debug("syntax gate failed", "fingerprint", artifact.Fingerprint.Short(), "part", part.name)
			return verdict, nil
		}
	}
	verdict.SyntaxOK = true

	// Gate 2: static denylist scan. A hit skips the sandbox entirely; there
	// is no reason to execute code we already know is hostile.
	findings := scanSecurity(artifact.TransformCode)
	findings = append(findings, scanSecurity(artifact.TestCode)...)
	if len(findings) > 0 {
		verdict.Diagnostics = "security scan: " + strings.Join(findings, "; ")
		v.log.Warn("security gate failed",
			"fingerprint", artifact.Fingerprint.Short(), "findings", len(findings))
		return verdict, nil
	}
	verdict.SecurityOK = true

	// Gate 3: sandboxed test execution.
	outcome, err := v.exec.Run(ctx, artifact, corpus)
	if err != nil {
		return nil, fmt.Errorf("sandbox run: %w", err)
	}

	switch {
	case outcome.TimedOut:
		verdict.SandboxFault = true
		verdict.Diagnostics = fmt.Sprintf("sandbox timeout after %v", outcome.Duration)
		verdict.FailingTests = []string{"sandbox_timeout"}
		// Logged distinctly: repeated timeouts usually mean a misconfigured
		// sandbox, not a bad artifact.
		v.log.Warn("sandbox timed out", "fingerprint", artifact.Fingerprint.Short(), "after", outcome.Duration)
	case outcome.ResourceExceeded:
		verdict.SandboxFault = true
		verdict.Diagnostics = "sandbox resource limit exceeded"
		verdict.FailingTests = []string{"sandbox_resource_limit"}
		v.log.Warn("sandbox resource limit hit", "fingerprint", artifact.Fingerprint.Short())
	case outcome.ExitStatus == 0:
		verdict.TestsPassed = true
	default:
		verdict.FailingTests = parseFailures(outcome.Stdout)
		verdict.Diagnostics = strings.TrimSpace(outcome.Stderr)
		if len(verdict.FailingTests) == 0 {
			// Non-zero exit without protocol output: the suite itself blew
			// up. Record what we have for the repair prompt.
			verdict.FailingTests = []string{"test_suite_crashed"}
			if verdict.Diagnostics == "" {
				verdict.Diagnostics = fmt.Sprintf("test suite exited %d without output", outcome.ExitStatus)
			}
		}
	}
	return verdict, nil
}

// parseFailures extracts failing test names from the runner's line protocol
// ("ok <name>" / "FAIL <name> <detail>").
func parseFailures(stdout string) []string {
	var failing []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "FAIL "); ok {
			name, _, _ := strings.Cut(rest, " ")
			if name != "" {
				failing = append(failing, name)
			}
		}
	}
	return failing
}
