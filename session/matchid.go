package session

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/user/auralink/wire"
)

// ComputeMatchID derives the identifier both peers agree on without a
// negotiation round-trip: sort the two identity hashes lexicographically,
// concatenate, and hash the result. Either peer computes the same id no
// matter who initiated.
func ComputeMatchID(a, b wire.IdentityHash) string {
	lo, hi := a, b
	if bytes.Compare(hi[:], lo[:]) < 0 {
		lo, hi = hi, lo
	}

	joined := make([]byte, 0, len(lo)+len(hi))
	joined = append(joined, lo[:]...)
	joined = append(joined, hi[:]...)

	sum := sha256.Sum256(joined)
	return hex.EncodeToString(sum[:16])
}
