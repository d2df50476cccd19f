package wire

import (
	"crypto/sha256"
	"encoding/hex"
)

// IdentityHash is the 8-byte protocol-level peer identifier. It is a digest
// of a stable local identity token; the raw token never goes on the air.
type IdentityHash [IdentityHashSize]byte

// HashIdentity derives the identity hash from a stable local token.
func HashIdentity(token string) IdentityHash {
	sum := sha256.Sum256([]byte(token))
	var h IdentityHash
	copy(h[:], sum[:IdentityHashSize])
	return h
}

// String returns the full hex form of the hash
func (h IdentityHash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns a short hex form for log prefixes
func (h IdentityHash) Short() string {
	return hex.EncodeToString(h[:4])
}
