package types

import (
	"fmt"
	"strings"
	"time"
)

// ConstructDescriptor identifies one unit of instrumentation work: a source
// construct plus the plan describing what to insert and where.
//
// Descriptors are immutable once created. They exist only long enough to be
// fingerprinted and handed to the pipeline; they are not persisted.
type ConstructDescriptor struct {
	// Language is the source language tag (e.g. "python", "javascript").
	Language string `json:"language"`

	// Body is the raw source text of the construct. The fingerprint uses a
	// normalized form of this text, so whitespace and comment changes do not
	// invalidate cached work.
	Body string `json:"body"`

	// Plan is the ordered list of insertions to perform.
	Plan []Insertion `json:"plan"`

	// Assertions are extra properties the transformed output must satisfy,
	// beyond the fixed test battery (e.g. "parse must still succeed").
	Assertions []string `json:"assertions,omitempty"`
}

// Insertion is a single {anchor, fragment} pair: the fragment is inserted
// immediately after the first line containing the anchor text.
type Insertion struct {
	Anchor   string `json:"anchor"`
	Fragment string `json:"fragment"`
}

// Validate checks the descriptor for structural sanity. Malformed descriptors
// are a caller error and are rejected before fingerprinting; they never reach
// the generator.
func (d *ConstructDescriptor) Validate() error {
	if strings.TrimSpace(d.Language) == "" {
		return fmt.Errorf("language is required")
	}
	if strings.TrimSpace(d.Body) == "" {
		return fmt.Errorf("body is required")
	}
	if len(d.Plan) == 0 {
		return fmt.Errorf("insertion plan is empty")
	}
	for i, ins := range d.Plan {
		if ins.Anchor == "" {
			return fmt.Errorf("insertion %d: anchor is empty", i)
		}
		if strings.TrimSpace(ins.Fragment) == "" {
			return fmt.Errorf("insertion %d: fragment is empty", i)
		}
		if !strings.Contains(d.Body, ins.Anchor) {
			return fmt.Errorf("insertion %d: anchor %q not found in body", i, ins.Anchor)
		}
	}
	return nil
}

// Fingerprint is the deterministic digest identifying equivalent
// transformation work. Two jobs with the same fingerprint are guaranteed
// to produce equivalent artifacts.
type Fingerprint string

// String returns the hex digest.
func (f Fingerprint) String() string { return string(f) }

// Short returns a truncated digest suitable for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// Origin records how an artifact came to be: straight from the template
// generator, or after N repair attempts.
type Origin struct {
	// Repaired is the number of repair attempts that produced this artifact.
	// Zero means the template output validated on the first try.
	Repaired int `json:"repaired"`
}

func (o Origin) String() string {
	if o.Repaired == 0 {
		return "template"
	}
	return fmt.Sprintf("repaired(%d)", o.Repaired)
}

// Artifact is the transformation unit: a self-contained transform script, its
// test suite, and the verdict that last judged them.
type Artifact struct {
	Fingerprint   Fingerprint `json:"fingerprint"`
	Language      string      `json:"language"`
	TransformCode string      `json:"transform_code"`
	TestCode      string      `json:"test_code"`
	Origin        Origin      `json:"origin"`
	Verdict       *Verdict    `json:"verdict,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Verdict is the structured result of validating an artifact.
// A verdict is valid iff all three gate booleans are true.
type Verdict struct {
	SyntaxOK     bool     `json:"syntax_ok"`
	SecurityOK   bool     `json:"security_ok"`
	TestsPassed  bool     `json:"tests_passed"`
	FailingTests []string `json:"failing_tests,omitempty"`
	Diagnostics  string   `json:"diagnostics,omitempty"`

	// SandboxFault is set when the failure came from the sandbox itself
	// (timeout or resource limit) rather than from the artifact's tests.
	// It still fails the verdict, but is logged distinctly because it may
	// indicate sandbox misconfiguration rather than a bad artifact.
	SandboxFault bool `json:"sandbox_fault,omitempty"`
}

// Valid reports whether every validation gate passed.
func (v *Verdict) Valid() bool {
	return v != nil && v.SyntaxOK && v.SecurityOK && v.TestsPassed
}

// Summary renders a one-line description for logs and provenance records.
func (v *Verdict) Summary() string {
	if v == nil {
		return "no verdict"
	}
	if v.Valid() {
		return "valid"
	}
	switch {
	case !v.SyntaxOK:
		return "syntax check failed"
	case !v.SecurityOK:
		return "security check failed"
	case v.SandboxFault:
		return "sandbox fault: " + v.Diagnostics
	default:
		return fmt.Sprintf("tests failed: %s", strings.Join(v.FailingTests, ", "))
	}
}

// Status is the terminal state of one job.
type Status string

const (
	// StatusCachedHit means a valid artifact already existed for the fingerprint.
	StatusCachedHit Status = "cached_hit"
	// StatusBuilt means the template output validated with zero repairs.
	StatusBuilt Status = "built"
	// StatusRepaired means the artifact validated after one or more repairs.
	StatusRepaired Status = "repaired"
	// StatusFailed means the repair budget was exhausted without a valid artifact.
	StatusFailed Status = "failed"
)

// IsValid checks if the status value is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusCachedHit, StatusBuilt, StatusRepaired, StatusFailed:
		return true
	}
	return false
}

// Result is the per-job outcome handed back to the caller. Failures are
// first-class values here, never panics or run-level errors.
type Result struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Status      Status      `json:"status"`
	Artifact    *Artifact   `json:"artifact,omitempty"`
	Err         error       `json:"-"`
}

// Describe renders the result for user-facing reporting.
func (r *Result) Describe() string {
	switch r.Status {
	case StatusCachedHit:
		return fmt.Sprintf("%s cache hit", r.Fingerprint.Short())
	case StatusBuilt:
		return fmt.Sprintf("%s built", r.Fingerprint.Short())
	case StatusRepaired:
		n := 0
		if r.Artifact != nil {
			n = r.Artifact.Origin.Repaired
		}
		return fmt.Sprintf("%s repaired after %d attempt(s)", r.Fingerprint.Short(), n)
	case StatusFailed:
		return fmt.Sprintf("%s failed: %v", r.Fingerprint.Short(), r.Err)
	default:
		return fmt.Sprintf("%s unknown status %q", r.Fingerprint.Short(), r.Status)
	}
}
