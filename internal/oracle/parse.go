package oracle

import (
	"fmt"
	"regexp"
	"strings"
)

// Pre-compiled fence patterns. Models wrap code in markdown fences with or
// without a language tag, and sometimes without trailing newlines.
var (
	codeFenceRegex = regexp.MustCompile("(?s)```(?:python|py)?\\s*\n?(.*?)\n?```")
)

// ExtractCode pulls the replacement script out of a model response.
//
// Strategy: prefer the first fenced code block; if there are no fences,
// accept the whole response when it plausibly is a bare script. Anything
// else is a malformed response, which the caller budgets as a failed
// repair attempt.
func ExtractCode(response string) (string, error) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return "", fmt.Errorf("empty response")
	}

	if m := codeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		code := strings.TrimSpace(m[1])
		if code == "" {
			return "", fmt.Errorf("empty code block")
		}
		return code, nil
	}

	// Bare script heuristic: responses that start with prose are rejected
	// rather than guessed at.
	if looksLikeScript(trimmed) {
		return trimmed, nil
	}
	return "", fmt.Errorf("no code block found")
}

func looksLikeScript(s string) bool {
	first := strings.SplitN(s, "\n", 2)[0]
	for _, prefix := range []string{"import ", "from ", "def ", "class ", "#", "\"\"\""} {
		if strings.HasPrefix(first, prefix) {
			return true
		}
	}
	return false
}
