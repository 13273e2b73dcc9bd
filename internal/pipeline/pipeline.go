// Package pipeline turns a construct descriptor into a verified, cached
// transformation artifact, repairing failed candidates through the oracle
// inside a bounded, explicit state machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/probeweave/probeweave/internal/cache"
	"github.com/probeweave/probeweave/internal/fingerprint"
	"github.com/probeweave/probeweave/internal/oracle"
	"github.com/probeweave/probeweave/internal/types"
)

// Generator produces the first-pass artifact. Total over well-formed
// descriptors.
type Generator interface {
	Generate(d *types.ConstructDescriptor) *types.Artifact
}

// Validator judges a candidate against the corpus.
type Validator interface {
	Validate(ctx context.Context, artifact *types.Artifact, corpus string) (*types.Verdict, error)
}

// DefaultMaxAttempts is the repair budget when none is configured.
const DefaultMaxAttempts = 3

// Builder wires the generator, validator, oracle and cache into the
// self-healing build flow.
type Builder struct {
	gen         Generator
	val         Validator
	oracle      oracle.Oracle
	cache       *cache.Cache
	maxAttempts int
	log         *slog.Logger
}

// NewBuilder creates a Builder. maxAttempts <= 0 selects the default budget.
func NewBuilder(gen Generator, val Validator, orc oracle.Oracle, c *cache.Cache, maxAttempts int) *Builder {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Builder{
		gen:         gen,
		val:         val,
		oracle:      orc,
		cache:       c,
		maxAttempts: maxAttempts,
		log:         slog.Default().With("component", "pipeline"),
	}
}

// Build resolves one descriptor to a terminal result.
//
// The error return carries run-level failures only (cache store unavailable,
// run canceled); every per-job failure comes back inside the Result so the
// scheduler can keep going.
func (b *Builder) Build(ctx context.Context, d *types.ConstructDescriptor) (*types.Result, error) {
	if err := d.Validate(); err != nil {
		// Caller error: rejected before fingerprinting, never retried.
		return &types.Result{
			Status: types.StatusFailed,
			Err:    fmt.Errorf("malformed descriptor: %w", err),
		}, nil
	}

	fp := fingerprint.Compute(d)
	artifact, hit, err := b.cache.GetOrBuild(ctx, fp, func(buildCtx context.Context) (*types.Artifact, error) {
		return b.buildLoop(buildCtx, d, fp)
	})
	if err != nil {
		if errors.Is(err, types.ErrCacheUnavailable) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return &types.Result{Fingerprint: fp, Status: types.StatusFailed, Err: err}, nil
	}

	result := &types.Result{Fingerprint: fp, Artifact: artifact}
	switch {
	case hit:
		result.Status = types.StatusCachedHit
	case artifact.Origin.Repaired == 0:
		result.Status = types.StatusBuilt
	default:
		result.Status = types.StatusRepaired
	}
	return result, nil
}

// buildState is the self-healing loop's explicit state. Keeping the machine
// explicit makes termination and attempt-counting structural instead of
// depending on loop-exit discipline.
type buildState int

const (
	stateGenerated buildState = iota // candidate awaiting validation
	stateInvalid                     // candidate rejected, repair possible
	stateValid                       // terminal success
	stateFailed                      // terminal failure
)

// buildLoop runs generate → validate → repair until Valid or Failed. The
// cache's single-flight guarantees at most one loop per fingerprint
// process-wide, so attempts within one fingerprint are strictly sequential.
func (b *Builder) buildLoop(ctx context.Context, d *types.ConstructDescriptor, fp types.Fingerprint) (*types.Artifact, error) {
	candidate := b.gen.Generate(d)
	state := stateGenerated

	var (
		verdict   *types.Verdict
		attempts  int // repair calls consumed
		lessons   []string
		oracleErr error
	)

	for {
		switch state {
		case stateGenerated:
			v, err := b.val.Validate(ctx, candidate, d.Body)
			if err != nil {
				return nil, fmt.Errorf("validation infrastructure: %w", err)
			}
			verdict = v
			b.recordAttempt(ctx, fp, attempts, candidate.Origin.String(), verdict.Summary())
			if verdict.Valid() {
				state = stateValid
			} else {
				state = stateInvalid
			}

		case stateInvalid:
			if attempts >= b.maxAttempts {
				state = stateFailed
				continue
			}
			lessons = append(lessons, fmt.Sprintf("attempt %d: %s", attempts, verdict.Summary()))

			code, err := b.oracle.Repair(ctx, &oracle.RepairRequest{
				Descriptor: d,
				Artifact:   candidate,
				Verdict:    verdict,
				Lessons:    lessons,
			})
			attempts++
			if err != nil {
				// Oracle failures consume an attempt and move straight on;
				// they never crash the loop.
				oracleErr = err
				b.log.Warn("repair oracle failed",
					"fingerprint", fp.Short(), "attempt", attempts, "error", err)
				lessons = append(lessons, fmt.Sprintf("attempt %d: oracle failure: %v", attempts, err))
				if attempts >= b.maxAttempts {
					state = stateFailed
				}
				continue
			}
			oracleErr = nil

			// A repaired candidate re-enters Generated and is re-validated
			// from scratch; the oracle gets no trust the template does not.
			candidate = &types.Artifact{
				Fingerprint:   fp,
				Language:      candidate.Language,
				TransformCode: code,
				TestCode:      candidate.TestCode,
				Origin:        types.Origin{Repaired: attempts},
				CreatedAt:     time.Now().UTC(),
			}
			state = stateGenerated

		case stateValid:
			candidate.Verdict = verdict
			if attempts > 0 {
				b.log.Info("artifact repaired",
					"fingerprint", fp.Short(), "attempts", attempts)
			}
			return candidate, nil

		case stateFailed:
			return nil, &types.JobError{
				Fingerprint: fp,
				Attempts:    attempts,
				LastVerdict: verdict,
				OracleErr:   oracleErr,
			}
		}
	}
}

// recordAttempt writes provenance. Provenance is observability, not
// correctness, so a write failure is logged and swallowed.
func (b *Builder) recordAttempt(ctx context.Context, fp types.Fingerprint, attempt int, origin, summary string) {
	err := b.cache.Store().RecordAttempt(ctx, &cache.Attempt{
		Fingerprint: fp,
		Attempt:     attempt,
		Origin:      origin,
		Verdict:     summary,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		b.log.Warn("failed to record attempt provenance", "fingerprint", fp.Short(), "error", err)
	}
}
