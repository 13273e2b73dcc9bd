package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeweave/probeweave/internal/types"
)

func sampleDescriptor() *types.ConstructDescriptor {
	return &types.ConstructDescriptor{
		Language: "python",
		Body:     "def handler(req):\n    user = req.user\n    return render(user)\n",
		Plan: []types.Insertion{
			{Anchor: "user = req.user", Fragment: "probe.record('handler.user', user)"},
			{Anchor: "return render(user)", Fragment: "probe.record('handler.exit', None)"},
		},
		Assertions: []string{"parse must still succeed"},
	}
}

func TestComputeDeterministic(t *testing.T) {
	a := Compute(sampleDescriptor())
	b := Compute(sampleDescriptor())
	assert.Equal(t, a, b, "identical descriptors must fingerprint identically")
	assert.Len(t, string(a), 64, "sha256 hex digest")
}

func TestComputeIgnoresWhitespaceAndComments(t *testing.T) {
	base := sampleDescriptor()

	reformatted := sampleDescriptor()
	reformatted.Body = "def handler(req):\n\n        user   = req.user   # pull the user\n        return render(user)\n"

	assert.Equal(t, Compute(base), Compute(reformatted),
		"reformatting and comments must not invalidate cached work")
}

func TestComputeSensitiveToContent(t *testing.T) {
	base := Compute(sampleDescriptor())

	body := sampleDescriptor()
	body.Body = "def handler(req):\n    user = req.admin\n    return render(user)\n"
	// Anchor must still exist for a well-formed descriptor; adjust it too.
	body.Plan[0].Anchor = "user = req.admin"
	assert.NotEqual(t, base, Compute(body), "body change must change the fingerprint")

	frag := sampleDescriptor()
	frag.Plan[0].Fragment = "probe.record('handler.user', user.id)"
	assert.NotEqual(t, base, Compute(frag), "fragment change must change the fingerprint")

	lang := sampleDescriptor()
	lang.Language = "ruby"
	assert.NotEqual(t, base, Compute(lang), "language change must change the fingerprint")

	asserted := sampleDescriptor()
	asserted.Assertions = nil
	assert.NotEqual(t, base, Compute(asserted), "assertion change must change the fingerprint")
}

func TestComputeSensitiveToPlanOrder(t *testing.T) {
	base := sampleDescriptor()
	swapped := sampleDescriptor()
	swapped.Plan[0], swapped.Plan[1] = swapped.Plan[1], swapped.Plan[0]

	assert.NotEqual(t, Compute(base), Compute(swapped),
		"insertion order is part of the work identity")
}

func TestNormalizeBody(t *testing.T) {
	got := NormalizeBody("python", "def f():\n    # a comment\n    x = 1   \n\n    return x\n")
	require.Equal(t, "def f():\nx = 1\nreturn x", got)
}

func TestNormalizeBodyBlockComments(t *testing.T) {
	got := NormalizeBody("javascript", "function f() {\n  /* probe\n     notes */ return 1;\n}\n")
	assert.NotContains(t, got, "probe")
	assert.Contains(t, got, "return 1;")
}

func TestNormalizeBodyUnknownLanguage(t *testing.T) {
	// Unknown languages keep comments but still normalize whitespace.
	got := NormalizeBody("cobol", "  MOVE A TO   B\n")
	assert.Equal(t, "MOVE A TO B", got)
}
