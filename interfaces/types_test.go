package interfaces

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_TextRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	id := IdentityFromPublicKey(pub)
	parsed, err := NewIdentityFromString(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	encoded, err := json.Marshal(map[string]Identity{"key": id})
	require.NoError(t, err)
	assert.Contains(t, string(encoded), id.String())

	var decoded map[string]Identity
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, id, decoded["key"])
}

func TestIdentity_Invalid(t *testing.T) {
	_, err := NewIdentityFromString("0OIl")
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = NewIdentityFromString("abc")
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = NewIdentityFromBytes(make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestIdentity_Zero(t *testing.T) {
	assert.True(t, ZeroIdentity.IsZero())
	assert.False(t, IdentityFromSeed("program").IsZero())
	assert.Equal(t, IdentityFromSeed("program"), IdentityFromSeed("program"))
	assert.NotEqual(t, IdentityFromSeed("a"), IdentityFromSeed("b"))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
	}{
		{ErrInvalidParams, KindValidation},
		{fmt.Errorf("seed: %w", ErrAlreadySeeded), KindState},
		{fmt.Errorf("reveal: %w", ErrKeyVerifyFailed), KindAuthorization},
		{fmt.Errorf("%w: %w", ErrCompanionMissing, ErrSigVerifyFailed), KindIntegrity},
		{errors.New("plain"), KindUnknown},
		{nil, KindUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(tt.err), "%v", tt.err)
	}

	wrapped := fmt.Errorf("%w: %w", ErrCompanionMismatch, ErrSigVerifyFailed)
	assert.ErrorIs(t, wrapped, ErrSigVerifyFailed)
	assert.ErrorIs(t, wrapped, ErrCompanionMismatch)
}

func TestProtocolErrorByCode(t *testing.T) {
	seen := map[uint32]bool{}
	for _, pe := range protocolErrors {
		assert.False(t, seen[pe.Code], "duplicate code %d", pe.Code)
		seen[pe.Code] = true

		got, ok := ProtocolErrorByCode(pe.Code)
		require.True(t, ok)
		assert.Same(t, pe, got)
	}

	_, ok := ProtocolErrorByCode(1)
	assert.False(t, ok)
}

func TestStorageBackendLocation(t *testing.T) {
	loc, err := NewStorageBackendLocation("s3://bucket/prefix?region=eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, "s3", loc.Scheme)
	assert.Equal(t, "bucket", loc.Host)
	assert.Equal(t, "eu-west-1", loc.GetParam("region"))

	_, err = NewStorageBackendLocation("github://owner/repo")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)
}
