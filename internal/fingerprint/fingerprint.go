// Package fingerprint computes the content-addressed identity of
// transformation work.
//
// Two descriptors that would produce equivalent artifacts must fingerprint
// identically across runs and machines; anything that changes the generation
// contract (including the template schema version) must change the digest.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/probeweave/probeweave/internal/types"
)

// SchemaVersion is folded into every fingerprint. Bump it whenever the
// generated transform or test templates change shape, so stale cache entries
// built under the old contract stop matching without a manual purge.
const SchemaVersion = 2

// Compute derives the deterministic digest for a descriptor.
//
// The digest covers (schema version, language, normalized body, insertion
// plan, assertions). Every field is length-prefixed so adjacent fields can
// never be confused, and the plan keeps its order: reordering insertions is
// different work.
func Compute(d *types.ConstructDescriptor) types.Fingerprint {
	h := sha256.New()

	writeField := func(data []byte) {
		var prefix [8]byte
		binary.BigEndian.PutUint64(prefix[:], uint64(len(data)))
		h.Write(prefix[:])
		h.Write(data)
	}
	writeCount := func(n int) {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}

	writeCount(SchemaVersion)
	writeField([]byte(d.Language))
	writeField([]byte(NormalizeBody(d.Language, d.Body)))

	writeCount(len(d.Plan))
	for _, ins := range d.Plan {
		writeField([]byte(ins.Anchor))
		writeField([]byte(ins.Fragment))
	}

	writeCount(len(d.Assertions))
	for _, a := range d.Assertions {
		writeField([]byte(a))
	}

	return types.Fingerprint(hex.EncodeToString(h.Sum(nil)))
}
