// Package randomness derives the final 32-byte outcome of a draw from the
// material committed during its lifecycle.
//
// Both strategies use SHA-256:
//
//	preimage:  result = H(secret ‖ anchor ‖ le32(seed)), commitment = H(secret)
//	signature: result = H(signature), signature over le32(seed)
//
// The outcome is immutable once a reveal succeeds; consumers only read it.
package randomness

import (
	"crypto/sha256"
	"encoding/binary"
)

// Size is the width of every digest produced here.
const Size = sha256.Size

const (
	// SecretSize is the width of a preimage secret.
	SecretSize = 32
	// SignatureSize is the width of an ed25519 signature.
	SignatureSize = 64
)

// Commitment returns the hash a requester publishes before the seed exists.
func Commitment(secret [SecretSize]byte) [Size]byte {
	return sha256.Sum256(secret[:])
}

// SeedMessage returns the little-endian encoding of a seed. It is the
// message signed in the signature strategy and the seed contribution to the
// preimage strategy.
func SeedMessage(seed uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], seed)
	return buf[:]
}

// FromPreimage binds the requester secret, the entropy anchor captured at
// seed time and the attested seed.
func FromPreimage(secret [SecretSize]byte, anchor [Size]byte, seed uint32) [Size]byte {
	h := sha256.New()
	h.Write(secret[:])
	h.Write(anchor[:])
	h.Write(SeedMessage(seed))

	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// FromSignature turns the record holder's signature over the seed into the
// outcome.
func FromSignature(signature [SignatureSize]byte) [Size]byte {
	return sha256.Sum256(signature[:])
}
