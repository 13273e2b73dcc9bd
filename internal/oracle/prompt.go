package oracle

import (
	"fmt"
	"strings"
)

// buildRepairPrompt assembles the repair request. The contract lines at the
// bottom matter: the test battery is fixed, so the model may only change the
// transform script, and only within the sandbox's capabilities.
func buildRepairPrompt(req *RepairRequest) string {
	var b strings.Builder

	b.WriteString("You are repairing a source-instrumentation script that failed validation.\n\n")

	b.WriteString("The script must define transform(source) -> str, a pure function that\n")
	b.WriteString("inserts the planned fragments after their anchor lines, preserving every\n")
	b.WriteString("original line, exactly once even when reapplied to its own output.\n\n")

	fmt.Fprintf(&b, "Target language of the source being instrumented: %s\n\n", req.Descriptor.Language)

	b.WriteString("Insertion plan (anchor -> fragment):\n")
	for _, ins := range req.Descriptor.Plan {
		fmt.Fprintf(&b, "  %q -> %q\n", ins.Anchor, ins.Fragment)
	}
	b.WriteString("\nFailing transform script:\n```python\n")
	b.WriteString(req.Artifact.TransformCode)
	b.WriteString("\n```\n\n")

	fmt.Fprintf(&b, "Validation verdict: %s\n", req.Verdict.Summary())
	if len(req.Verdict.FailingTests) > 0 {
		fmt.Fprintf(&b, "Failing tests: %s\n", strings.Join(req.Verdict.FailingTests, ", "))
	}
	if req.Verdict.Diagnostics != "" {
		fmt.Fprintf(&b, "Diagnostics:\n%s\n", req.Verdict.Diagnostics)
	}

	if len(req.Lessons) > 0 {
		b.WriteString("\nEarlier repair attempts already failed; do not repeat them:\n")
		for _, lesson := range req.Lessons {
			fmt.Fprintf(&b, "  - %s\n", lesson)
		}
	}

	b.WriteString("\nRules:\n")
	b.WriteString("  - Reply with the complete replacement script in a single ```python code block.\n")
	b.WriteString("  - Standard library only; no subprocess, eval/exec, network, or filesystem\n")
	b.WriteString("    access outside the working directory (the validator rejects all of these).\n")
	b.WriteString("  - Keep the __main__ stdin-to-stdout behavior.\n")

	return b.String()
}
