// Package generator produces first-pass transformation artifacts from a
// deterministic template. No external calls, no randomness: the same
// descriptor always yields byte-identical transform and test code.
package generator

import (
	"bytes"
	"encoding/json"
	"strings"
	"text/template"
	"time"

	"github.com/probeweave/probeweave/internal/fingerprint"
	"github.com/probeweave/probeweave/internal/types"
)

// Generator renders transform and test scripts for a descriptor. Generation
// is total over well-formed descriptors: malformed ones are a caller error
// surfaced before this component is reached.
type Generator struct {
	transformTmpl *template.Template
	testTmpl      *template.Template
}

// New creates a Generator with the built-in script templates.
func New() *Generator {
	return &Generator{
		transformTmpl: template.Must(template.New("transform").Funcs(tmplFuncs).Parse(transformTemplate)),
		testTmpl:      template.Must(template.New("test").Funcs(tmplFuncs).Parse(testTemplate)),
	}
}

var tmplFuncs = template.FuncMap{
	// pylit renders a Go string as a Python string literal. JSON string
	// encoding is a valid Python literal for every input we produce.
	"pylit": func(s string) string {
		b, _ := json.Marshal(s)
		return string(b)
	},
}

type templateData struct {
	Language   string
	Plan       []types.Insertion
	Assertions []string
	Corpus     string

	// WantParseCheck enables the AST parse assertion for languages the test
	// runner can parse natively.
	WantParseCheck bool
}

// Generate renders the transform script and its test battery for the
// descriptor. The returned artifact carries the descriptor's fingerprint and
// no verdict; validation is the caller's job.
func (g *Generator) Generate(d *types.ConstructDescriptor) *types.Artifact {
	data := templateData{
		Language:       d.Language,
		Plan:           d.Plan,
		Assertions:     d.Assertions,
		Corpus:         d.Body,
		WantParseCheck: wantsParseCheck(d),
	}

	var transform, test bytes.Buffer
	// Must(...) above guarantees the templates parse; Execute over a plain
	// struct cannot fail, so generation stays total.
	if err := g.transformTmpl.Execute(&transform, data); err != nil {
		panic("generator: transform template: " + err.Error())
	}
	if err := g.testTmpl.Execute(&test, data); err != nil {
		panic("generator: test template: " + err.Error())
	}

	return &types.Artifact{
		Fingerprint:   fingerprint.Compute(d),
		Language:      d.Language,
		TransformCode: transform.String(),
		TestCode:      test.String(),
		Origin:        types.Origin{Repaired: 0},
		CreatedAt:     time.Now().UTC(),
	}
}

// wantsParseCheck reports whether the test battery should assert that the
// transformed output still parses. Always on for Python bodies, the one
// language the test runner can parse without extra tooling; other languages
// fall back to the structural checks.
func wantsParseCheck(d *types.ConstructDescriptor) bool {
	return strings.EqualFold(d.Language, "python")
}
