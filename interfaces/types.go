package interfaces

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// IdentitySize is the width of an Identity in bytes.
const IdentitySize = 32

// Identity is a 32-byte ed25519 public key naming an account or a signer.
type Identity [IdentitySize]byte

// ZeroIdentity is the default, never valid, identity.
var ZeroIdentity Identity

// ErrInvalidIdentity is returned when an identity cannot be parsed.
var ErrInvalidIdentity = errors.New("invalid identity")

// NewIdentityFromBytes creates an identity from a 32-byte slice.
func NewIdentityFromBytes(source []byte) (Identity, error) {
	if len(source) != IdentitySize {
		return Identity{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidIdentity, IdentitySize, len(source))
	}

	var id Identity
	copy(id[:], source)
	return id, nil
}

// NewIdentityFromString parses the base58 text form of an identity.
func NewIdentityFromString(source string) (Identity, error) {
	decoded, err := base58.Decode(source)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return NewIdentityFromBytes(decoded)
}

// IdentityFromPublicKey converts an ed25519 public key.
func IdentityFromPublicKey(pub ed25519.PublicKey) Identity {
	var id Identity
	copy(id[:], pub)
	return id
}

// IdentityFromSeed derives a well-known identity from a name. Program ids are
// derived this way; nobody holds the matching private key.
func IdentityFromSeed(name string) Identity {
	return Identity(sha256.Sum256([]byte(name)))
}

// String returns the base58 representation.
func (id Identity) String() string {
	return base58.Encode(id[:])
}

// Bytes returns the raw 32 bytes.
func (id Identity) Bytes() []byte {
	return id[:]
}

// IsZero reports whether the identity was left at its default value.
func (id Identity) IsZero() bool {
	return id == ZeroIdentity
}

// PublicKey returns the identity as an ed25519 public key.
func (id Identity) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(id.Bytes())
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := NewIdentityFromString(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
