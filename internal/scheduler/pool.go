// Package scheduler dispatches independent construct jobs across a bounded
// worker pool. Admission is a real semaphore, not a heuristic: the capacity
// computed at startup is never exceeded.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/probeweave/probeweave/internal/types"
)

// Runner resolves one descriptor to a terminal result. The pipeline Builder
// satisfies this.
type Runner interface {
	Build(ctx context.Context, d *types.ConstructDescriptor) (*types.Result, error)
}

// Pool runs jobs concurrently under a fixed capacity.
type Pool struct {
	runner   Runner
	capacity int64
	sem      *semaphore.Weighted
	log      *slog.Logger
}

// New creates a pool with capacity derived from cfg (see ComputeCapacity).
func New(runner Runner, cfg Config) *Pool {
	capacity := int64(ComputeCapacity(cfg))
	return &Pool{
		runner:   runner,
		capacity: capacity,
		sem:      semaphore.NewWeighted(capacity),
		log:      slog.Default().With("component", "scheduler", "capacity", capacity),
	}
}

// Capacity returns the worker cap chosen for this run.
func (p *Pool) Capacity() int { return int(p.capacity) }

// Process runs every job and returns results in input order regardless of
// completion order.
//
// Per-job failures are values inside the result slice; the error return is
// reserved for run-level failures (cache store unavailable), which stop
// admission of new jobs while already-admitted jobs drain.
func (p *Pool) Process(ctx context.Context, jobs []*types.ConstructDescriptor) ([]*types.Result, error) {
	results := make([]*types.Result, len(jobs))

	g, admitCtx := errgroup.WithContext(ctx)
	// Admitted jobs run detached from the caller's cancellation so they
	// drain instead of dying mid-build; the sandbox and oracle timeouts
	// still bound them.
	runCtx := context.WithoutCancel(ctx)
	for i, job := range jobs {
		// Stop admitting once the run is canceled or a run-level error
		// fired; jobs already holding a slot keep running until they
		// finish or hit their own sandbox timeouts.
		if admitCtx.Err() != nil {
			results[i] = notAdmitted(admitCtx.Err())
			continue
		}
		if err := p.sem.Acquire(admitCtx, 1); err != nil {
			results[i] = notAdmitted(err)
			continue
		}

		g.Go(func() error {
			defer p.sem.Release(1)
			res, err := p.runner.Build(runCtx, job)
			if err != nil {
				// Run-level: cancels admission via admitCtx.
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.log.Error("run aborted", "error", err)
		return results, err
	}
	if err := ctx.Err(); err != nil {
		p.log.Warn("run canceled", "error", err)
		return results, err
	}
	return results, nil
}

func notAdmitted(cause error) *types.Result {
	return &types.Result{
		Status: types.StatusFailed,
		Err:    fmt.Errorf("job not admitted: %w", cause),
	}
}
