package fingerprint

import (
	"strings"
)

// lineCommentPrefix maps a language tag to its line-comment marker. Languages
// not listed here are normalized for whitespace only; an unknown language
// still fingerprints deterministically, it just keeps its comments.
var lineCommentPrefix = map[string]string{
	"python":     "#",
	"ruby":       "#",
	"shell":      "#",
	"javascript": "//",
	"typescript": "//",
	"go":         "//",
	"java":       "//",
	"c":          "//",
	"cpp":        "//",
	"rust":       "//",
}

// blockCommentLanguages use C-style /* ... */ block comments.
var blockCommentLanguages = map[string]bool{
	"javascript": true,
	"typescript": true,
	"go":         true,
	"java":       true,
	"c":          true,
	"cpp":        true,
	"rust":       true,
}

// NormalizeBody produces the whitespace- and comment-insensitive form of a
// construct body used for fingerprinting. Reformatting a function or editing
// its comments must not invalidate cached transform work.
//
// This is a lexical approximation, not a parse: comment markers inside string
// literals will be treated as comments. That only risks an unnecessary cache
// miss (two bodies normalizing apart), never a false cache hit, because
// normalization is deterministic for any given input.
func NormalizeBody(language, body string) string {
	lang := strings.ToLower(strings.TrimSpace(language))

	if blockCommentLanguages[lang] {
		body = stripBlockComments(body)
	}

	prefix := lineCommentPrefix[lang]
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if prefix != "" {
			if idx := strings.Index(line, prefix); idx >= 0 {
				line = line[:idx]
			}
		}
		// Collapse internal whitespace runs so indentation style is irrelevant.
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, "\n")
}

func stripBlockComments(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "/*")
		if start < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:start])
		end := strings.Index(s[start+2:], "*/")
		if end < 0 {
			// Unterminated block comment: drop the rest.
			break
		}
		// Preserve a separator so adjacent tokens do not fuse.
		b.WriteString(" ")
		s = s[start+2+end+2:]
	}
	return b.String()
}
