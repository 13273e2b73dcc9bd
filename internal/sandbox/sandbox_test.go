package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeweave/probeweave/internal/types"
)

// shRunner builds a runner that uses sh as the "interpreter" so tests do not
// depend on a Python installation. The execution contract (workspace, env,
// timeout, process group) is identical.
func shRunner(t *testing.T, timeout time.Duration) *Runner {
	t.Helper()
	r, err := NewRunner(Config{
		Root:        t.TempDir(),
		Interpreter: "sh",
		Timeout:     timeout,
	})
	require.NoError(t, err)
	return r
}

func shArtifact(testCode string) *types.Artifact {
	return &types.Artifact{
		Fingerprint:   "deadbeefdeadbeef",
		TransformCode: "# unused in sh tests\n",
		TestCode:      testCode,
	}
}

func TestRunSuccess(t *testing.T) {
	r := shRunner(t, 5*time.Second)

	out, err := r.Run(context.Background(), shArtifact("cat corpus.txt\nexit 0\n"), "hello corpus")
	require.NoError(t, err)

	assert.True(t, out.Ran)
	assert.False(t, out.TimedOut)
	assert.Equal(t, 0, out.ExitStatus)
	assert.Contains(t, out.Stdout, "hello corpus")
}

func TestRunFailureIsAnOutcomeNotAnError(t *testing.T) {
	r := shRunner(t, 5*time.Second)

	out, err := r.Run(context.Background(), shArtifact("echo 'FAIL idempotent'\nexit 1\n"), "x")
	require.NoError(t, err, "script failure must not surface as a runner error")

	assert.True(t, out.Ran)
	assert.Equal(t, 1, out.ExitStatus)
	assert.Contains(t, out.Stdout, "FAIL idempotent")
}

func TestRunTimeout(t *testing.T) {
	r := shRunner(t, 300*time.Millisecond)

	start := time.Now()
	out, err := r.Run(context.Background(), shArtifact("sleep 30\n"), "x")
	require.NoError(t, err)

	assert.True(t, out.TimedOut)
	assert.False(t, out.Ran)
	assert.Less(t, time.Since(start), 5*time.Second,
		"worker must be released promptly after the timeout boundary")
}

func TestRunEnvironmentIsAllowlistOnly(t *testing.T) {
	t.Setenv("PROBEWEAVE_SECRET", "leaky")
	r := shRunner(t, 5*time.Second)

	out, err := r.Run(context.Background(), shArtifact("echo \"secret=[$PROBEWEAVE_SECRET]\"\n"), "x")
	require.NoError(t, err)

	assert.Contains(t, out.Stdout, "secret=[]", "host environment must not leak into the sandbox")
}

func TestRunCleansWorkspace(t *testing.T) {
	root := t.TempDir()
	r, err := NewRunner(Config{Root: root, Interpreter: "sh", Timeout: 5 * time.Second})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), shArtifact("exit 0\n"), "x")
	require.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace must be removed after the run")
}

func TestRunPreservesFailedWorkspace(t *testing.T) {
	root := t.TempDir()
	r, err := NewRunner(Config{Root: root, Interpreter: "sh", Timeout: 5 * time.Second, PreserveFailed: true})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), shArtifact("exit 3\n"), "x")
	require.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	_, err = os.Stat(filepath.Join(root, entries[0].Name(), "test.py"))
	assert.NoError(t, err, "failed workspace should keep its staged scripts")
}

func TestRunMemoryLimitedInterpreterPathWithSpaces(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tool bin")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	interp := filepath.Join(dir, "probe sh")
	require.NoError(t, os.WriteFile(interp, []byte("#!/bin/sh\nexec sh \"$@\"\n"), 0o755))

	r, err := NewRunner(Config{
		Root:          t.TempDir(),
		Interpreter:   interp,
		Timeout:       5 * time.Second,
		MemoryLimitMB: 4096,
	})
	require.NoError(t, err)

	out, err := r.Run(context.Background(), shArtifact("cat corpus.txt\n"), "spaced payload")
	require.NoError(t, err)

	assert.True(t, out.Ran)
	assert.Equal(t, 0, out.ExitStatus)
	assert.Contains(t, out.Stdout, "spaced payload")
}

func TestRunConcurrent(t *testing.T) {
	r := shRunner(t, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.Run(context.Background(), shArtifact("cat corpus.txt\n"), "payload")
			assert.NoError(t, err)
			assert.Contains(t, out.Stdout, "payload")
		}()
	}
	wg.Wait()
}

func TestCheckSyntax(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	r, err := NewRunner(Config{Root: t.TempDir(), Interpreter: "python3", Timeout: 10 * time.Second})
	require.NoError(t, err)

	ok, diag, err := r.CheckSyntax(context.Background(), "def f():\n    return 1\n")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, diag)

	ok, diag, err = r.CheckSyntax(context.Background(), "def f(:\n")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, diag)
}
