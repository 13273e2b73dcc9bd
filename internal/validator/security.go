package validator

import (
	"fmt"
	"regexp"
)

// denyRule flags a construct the generated scripts are never allowed to use.
// The scan is static and deliberately blunt: a hit means the artifact is
// rejected before it ever reaches the sandbox.
type denyRule struct {
	pattern *regexp.Regexp
	reason  string
}

var denyRules = []denyRule{
	// Arbitrary process execution.
	{regexp.MustCompile(`\bimport\s+subprocess\b|\bfrom\s+subprocess\b`), "process execution (subprocess)"},
	{regexp.MustCompile(`\bos\.(system|popen|exec[a-z]*|spawn[a-z]*)\s*\(`), "process execution (os)"},
	{regexp.MustCompile(`\bimport\s+pty\b`), "process execution (pty)"},

	// Dynamic evaluation of unchecked strings.
	{regexp.MustCompile(`\beval\s*\(`), "dynamic evaluation (eval)"},
	{regexp.MustCompile(`\bexec\s*\(`), "dynamic evaluation (exec)"},
	{regexp.MustCompile(`\b__import__\s*\(`), "dynamic import"},
	{regexp.MustCompile(`\bimportlib\b`), "dynamic import (importlib)"},
	{regexp.MustCompile(`\bimport\s+ctypes\b`), "native code loading (ctypes)"},

	// Network access.
	{regexp.MustCompile(`\bimport\s+socket\b`), "network access (socket)"},
	{regexp.MustCompile(`\bimport\s+(urllib|requests|httpx)\b|\bfrom\s+(urllib|requests|httpx)\b`), "network access (http client)"},
	{regexp.MustCompile(`\bhttp\.client\b`), "network access (http.client)"},
	{regexp.MustCompile(`\bimport\s+(ftplib|smtplib|telnetlib)\b`), "network access (protocol client)"},

	// Filesystem escape. Scripts only ever touch their own workspace via
	// relative paths; absolute paths and parent traversal are both escapes.
	{regexp.MustCompile(`\bopen\s*\(\s*["']/`), "filesystem escape (absolute path)"},
	{regexp.MustCompile(`\.\./`), "filesystem escape (parent traversal)"},
	{regexp.MustCompile(`\bshutil\b`), "filesystem manipulation (shutil)"},
	{regexp.MustCompile(`\bos\.(remove|unlink|rmdir|rename|chmod|chown)\s*\(`), "filesystem manipulation (os)"},
}

// scanSecurity returns a human-readable finding per denylist hit. An empty
// slice means the code passed the gate.
func scanSecurity(code string) []string {
	var findings []string
	for _, rule := range denyRules {
		if loc := rule.pattern.FindString(code); loc != "" {
			findings = append(findings, fmt.Sprintf("%s: %q", rule.reason, loc))
		}
	}
	return findings
}
