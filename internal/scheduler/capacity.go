package scheduler

import (
	"runtime"
)

// Config holds the capacity signals available at process start.
type Config struct {
	// Workers overrides the computed capacity when > 0.
	Workers int

	// RequestsPerMinute is the oracle provider's rate budget. Zero means no
	// provider constraint.
	RequestsPerMinute int

	// MaxAttempts is the repair budget per job, used to translate the rate
	// budget into a worker bound (a worst-case job makes MaxAttempts calls).
	MaxAttempts int
}

// ComputeCapacity derives the worker cap once per run.
//
// The base signal is available parallelism. When a provider rate budget is
// supplied, the cap also respects the worst case where every in-flight job
// burns its full repair budget inside one minute: admitting more workers than
// RequestsPerMinute/MaxAttempts could exceed the provider's limit even with
// perfect client-side spacing.
func ComputeCapacity(cfg Config) int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}

	capacity := runtime.NumCPU()

	if cfg.RequestsPerMinute > 0 {
		attempts := cfg.MaxAttempts
		if attempts <= 0 {
			attempts = 3
		}
		rateBound := cfg.RequestsPerMinute / attempts
		if rateBound < 1 {
			rateBound = 1
		}
		if rateBound < capacity {
			capacity = rateBound
		}
	}

	if capacity < 1 {
		capacity = 1
	}
	return capacity
}
