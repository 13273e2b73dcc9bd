package types

import (
	"errors"
	"fmt"
)

// ErrCacheUnavailable marks cache store I/O failures. These are fatal for the
// run: the pipeline must never silently degrade to always-rebuild.
var ErrCacheUnavailable = errors.New("cache store unavailable")

// JobError is the structured terminal error for a job whose repair budget was
// exhausted. It carries the last verdict so callers can report diagnostics
// without re-running anything.
type JobError struct {
	Fingerprint Fingerprint
	Attempts    int
	LastVerdict *Verdict

	// OracleErr is set when the final attempt died on a repair-oracle failure
	// (network, malformed response) rather than a failed validation.
	OracleErr error
}

func (e *JobError) Error() string {
	if e.OracleErr != nil {
		return fmt.Sprintf("job %s failed after %d attempt(s): repair oracle: %v",
			e.Fingerprint.Short(), e.Attempts, e.OracleErr)
	}
	return fmt.Sprintf("job %s failed after %d attempt(s): %s",
		e.Fingerprint.Short(), e.Attempts, e.LastVerdict.Summary())
}

func (e *JobError) Unwrap() error { return e.OracleErr }
