package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeweave/probeweave/internal/types"
)

// fakeRunner resolves jobs with configurable latency and failures, tracking
// peak concurrency.
type fakeRunner struct {
	delay      func(i int) time.Duration
	fail       func(i int) error    // per-job failure (a value)
	runErr     func(i int) error    // run-level failure
	inFlight   atomic.Int32
	peak       atomic.Int32
	calls      atomic.Int32
}

func (f *fakeRunner) Build(ctx context.Context, d *types.ConstructDescriptor) (*types.Result, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.peak.Load()
		if cur <= old || f.peak.CompareAndSwap(old, cur) {
			break
		}
	}

	i := jobIndex(d)
	if f.delay != nil {
		select {
		case <-time.After(f.delay(i)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.runErr != nil {
		if err := f.runErr(i); err != nil {
			return nil, err
		}
	}
	if f.fail != nil {
		if err := f.fail(i); err != nil {
			return &types.Result{Fingerprint: jobFingerprint(i), Status: types.StatusFailed, Err: err}, nil
		}
	}
	return &types.Result{Fingerprint: jobFingerprint(i), Status: types.StatusBuilt}, nil
}

// Jobs carry their index in the body so the fake can identify them.
func job(i int) *types.ConstructDescriptor {
	return &types.ConstructDescriptor{
		Language: "python",
		Body:     fmt.Sprintf("job-%03d", i),
		Plan:     []types.Insertion{{Anchor: "job", Fragment: "probe"}},
	}
}

func jobIndex(d *types.ConstructDescriptor) int {
	var i int
	fmt.Sscanf(d.Body, "job-%d", &i)
	return i
}

func jobFingerprint(i int) types.Fingerprint {
	return types.Fingerprint(fmt.Sprintf("fp-%03d", i))
}

func jobs(n int) []*types.ConstructDescriptor {
	out := make([]*types.ConstructDescriptor, n)
	for i := range out {
		out[i] = job(i)
	}
	return out
}

func TestProcessPreservesInputOrder(t *testing.T) {
	// Later jobs finish first; output order must still match input order.
	runner := &fakeRunner{delay: func(i int) time.Duration {
		return time.Duration(50-i) * time.Millisecond
	}}
	p := New(runner, Config{Workers: 8})

	results, err := p.Process(context.Background(), jobs(20))
	require.NoError(t, err)
	require.Len(t, results, 20)
	for i, res := range results {
		require.NotNil(t, res, "result %d missing", i)
		assert.Equal(t, jobFingerprint(i), res.Fingerprint, "result %d out of order", i)
	}
}

func TestProcessRespectsCapacity(t *testing.T) {
	runner := &fakeRunner{delay: func(int) time.Duration { return 20 * time.Millisecond }}
	p := New(runner, Config{Workers: 3})

	_, err := p.Process(context.Background(), jobs(12))
	require.NoError(t, err)
	assert.LessOrEqual(t, runner.peak.Load(), int32(3), "semaphore cap must never be exceeded")
}

func TestProcessFailuresAreValues(t *testing.T) {
	runner := &fakeRunner{fail: func(i int) error {
		if i == 2 {
			return errors.New("repair budget exhausted")
		}
		return nil
	}}
	p := New(runner, Config{Workers: 4})

	results, err := p.Process(context.Background(), jobs(6))
	require.NoError(t, err, "one job failing must not fail the run")

	assert.Equal(t, types.StatusFailed, results[2].Status)
	for i, res := range results {
		if i == 2 {
			continue
		}
		assert.Equal(t, types.StatusBuilt, res.Status, "job %d should be unaffected", i)
	}
	assert.Equal(t, int32(6), runner.calls.Load(), "failure of one job must not cancel others")
}

func TestProcessSlowJobDoesNotBlockOthers(t *testing.T) {
	runner := &fakeRunner{delay: func(i int) time.Duration {
		if i == 0 {
			return 300 * time.Millisecond
		}
		return time.Millisecond
	}}
	p := New(runner, Config{Workers: 4})

	start := time.Now()
	results, err := p.Process(context.Background(), jobs(8))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, results, 8)
}

func TestProcessRunLevelErrorStopsAdmission(t *testing.T) {
	runner := &fakeRunner{
		delay: func(int) time.Duration { return 10 * time.Millisecond },
		runErr: func(i int) error {
			if i == 0 {
				return types.ErrCacheUnavailable
			}
			return nil
		},
	}
	p := New(runner, Config{Workers: 1})

	results, err := p.Process(context.Background(), jobs(10))
	require.ErrorIs(t, err, types.ErrCacheUnavailable)

	// With one worker, job 0 fails the run before most others are admitted.
	assert.Less(t, runner.calls.Load(), int32(10), "admission must stop after a run-level error")
	notAdmitted := 0
	for _, res := range results {
		if res != nil && res.Err != nil && errors.Is(res.Err, context.Canceled) {
			notAdmitted++
		}
	}
	assert.Greater(t, notAdmitted, 0, "unadmitted jobs must carry a structured result")
}

func TestProcessCancellation(t *testing.T) {
	runner := &fakeRunner{delay: func(int) time.Duration { return 50 * time.Millisecond }}
	p := New(runner, Config{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results, err := p.Process(ctx, jobs(50))
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 50)
	assert.Less(t, runner.calls.Load(), int32(50), "cancellation must stop admitting new jobs")
}

func TestProcessCancellationDrainsAdmittedJobs(t *testing.T) {
	runner := &fakeRunner{delay: func(int) time.Duration { return 60 * time.Millisecond }}
	p := New(runner, Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	results, err := p.Process(ctx, jobs(4))
	require.ErrorIs(t, err, context.Canceled)

	require.NotNil(t, results[0])
	assert.Equal(t, types.StatusBuilt, results[0].Status,
		"the in-flight job must finish after the cancel, not die mid-run")
	for i, res := range results[1:] {
		require.NotNil(t, res, "job %d missing a result", i+1)
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestComputeCapacityOverride(t *testing.T) {
	assert.Equal(t, 7, ComputeCapacity(Config{Workers: 7, RequestsPerMinute: 6}))
}

func TestComputeCapacityDefaultsToCPUs(t *testing.T) {
	assert.Equal(t, runtime.NumCPU(), ComputeCapacity(Config{}))
}

func TestComputeCapacityRateBound(t *testing.T) {
	want := 2
	if cpus := runtime.NumCPU(); cpus < want {
		want = cpus
	}
	got := ComputeCapacity(Config{RequestsPerMinute: 6, MaxAttempts: 3})
	assert.Equal(t, want, got, "rate budget must bound workers by worst-case repair calls")

	assert.Equal(t, 1, ComputeCapacity(Config{RequestsPerMinute: 1, MaxAttempts: 3}),
		"capacity never drops below one worker")
}
