package randomness

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeedMessage(t *testing.T) {
	assert.Equal(t, []byte{42, 0, 0, 0}, SeedMessage(42))
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, SeedMessage(0x12345678))
}

func TestFromPreimage_MatchesConcatenation(t *testing.T) {
	secret := [SecretSize]byte{1, 2, 3}
	anchor := [Size]byte{9, 9, 9}

	var input []byte
	input = append(input, secret[:]...)
	input = append(input, anchor[:]...)
	input = append(input, 42, 0, 0, 0)

	assert.Equal(t, sha256.Sum256(input), FromPreimage(secret, anchor, 42))
}

func TestFromPreimage_Deterministic(t *testing.T) {
	secret := [SecretSize]byte{0xaa}
	anchor := [Size]byte{0xbb}

	first := FromPreimage(secret, anchor, 7)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, FromPreimage(secret, anchor, 7))
	}
}

func TestFromPreimage_Sensitivity(t *testing.T) {
	secret := [SecretSize]byte{0xaa}
	anchor := [Size]byte{0xbb}
	base := FromPreimage(secret, anchor, 7)

	otherSecret := secret
	otherSecret[31] ^= 1
	assert.NotEqual(t, base, FromPreimage(otherSecret, anchor, 7), "secret")

	otherAnchor := anchor
	otherAnchor[0] ^= 1
	assert.NotEqual(t, base, FromPreimage(secret, otherAnchor, 7), "anchor")

	assert.NotEqual(t, base, FromPreimage(secret, anchor, 8), "seed")
}

func TestCommitment(t *testing.T) {
	secret := [SecretSize]byte{5}
	assert.Equal(t, sha256.Sum256(secret[:]), Commitment(secret))
	assert.NotEqual(t, Commitment(secret), Commitment([SecretSize]byte{6}))
}

func TestFromSignature(t *testing.T) {
	sig := [SignatureSize]byte{1}
	assert.Equal(t, sha256.Sum256(sig[:]), FromSignature(sig))

	other := sig
	other[63] = 1
	assert.NotEqual(t, FromSignature(sig), FromSignature(other))
}
