package record

import (
	"encoding/json"
	"testing"

	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRequest = interfaces.IdentityFromSeed("external-request")

func seededRecord(t *testing.T, strategy Strategy) *Record {
	t.Helper()
	rec, err := New(strategy, [32]byte{0xc0})
	require.NoError(t, err)
	require.NoError(t, rec.MarkRequested(testRequest, 100))
	require.NoError(t, rec.CommitSeed(42, [32]byte{0xa0}, 101))
	return rec
}

func TestNew(t *testing.T) {
	_, err := New(StrategyPreimage, [32]byte{})
	assert.ErrorIs(t, err, interfaces.ErrInvalidInstruction)

	_, err = New(Strategy(9), [32]byte{1})
	assert.ErrorIs(t, err, interfaces.ErrInvalidInstruction)

	rec, err := New(StrategySignature, [32]byte{1})
	require.NoError(t, err)
	assert.Equal(t, StateCreated, rec.State)
	assert.Equal(t, [32]byte{}, rec.Commitment, "signature records carry no commitment")
}

func TestLifecycle(t *testing.T) {
	rec, err := New(StrategyPreimage, [32]byte{0xc0})
	require.NoError(t, err)

	assert.ErrorIs(t, rec.CommitSeed(1, [32]byte{}, 1), interfaces.ErrNotRequested)
	assert.ErrorIs(t, rec.MarkRequested(interfaces.ZeroIdentity, 1), interfaces.ErrZeroIdentity)
	assert.ErrorIs(t, rec.MarkRequested(testRequest, 0), interfaces.ErrInvalidTimestamp)

	require.NoError(t, rec.MarkRequested(testRequest, 100))
	assert.Equal(t, StateRequested, rec.State)
	assert.ErrorIs(t, rec.CommitResult([32]byte{1}, 100), interfaces.ErrNotSeeded)
	assert.ErrorIs(t, rec.CommitSeed(42, [32]byte{0xa0}, 99), interfaces.ErrInvalidTimestamp)

	require.NoError(t, rec.CommitSeed(42, [32]byte{0xa0}, 100))
	assert.Equal(t, StateSeeded, rec.State)
	assert.Equal(t, uint32(42), rec.Seed)
	assert.Equal(t, [32]byte{0xa0}, rec.Anchor)

	require.NoError(t, rec.CommitResult([32]byte{0xee}, 105))
	assert.Equal(t, StateRevealed, rec.State)
	require.NoError(t, rec.Validate())
}

func TestCommitSeed_OnlyOnce(t *testing.T) {
	rec := seededRecord(t, StrategyPreimage)

	for _, seed := range []uint32{0, 42, 1 << 31} {
		assert.ErrorIs(t, rec.CommitSeed(seed, [32]byte{0xff}, 200), interfaces.ErrAlreadySeeded)
	}
	assert.Equal(t, uint32(42), rec.Seed)
	assert.Equal(t, [32]byte{0xa0}, rec.Anchor)
}

func TestCommitResult_OnlyOnce(t *testing.T) {
	rec := seededRecord(t, StrategySignature)
	require.NoError(t, rec.CommitResult([32]byte{1}, 150))

	assert.ErrorIs(t, rec.CommitResult([32]byte{2}, 151), interfaces.ErrAlreadyRevealed)
	assert.ErrorIs(t, rec.CommitSeed(1, [32]byte{}, 151), interfaces.ErrAlreadySeeded)
	assert.Equal(t, [32]byte{1}, rec.Result)
}

func TestSignatureStrategyDropsAnchor(t *testing.T) {
	rec := seededRecord(t, StrategySignature)
	assert.Equal(t, [32]byte{}, rec.Anchor)
}

func TestEncodeDecode(t *testing.T) {
	rec := seededRecord(t, StrategyPreimage)
	require.NoError(t, rec.CommitResult([32]byte{0xee}, 102))

	data := rec.Encode()
	require.Len(t, data, Size)
	assert.Equal(t, Discriminator[:], data[:8])
	assert.Equal(t, byte(Version), data[8])
	assert.Equal(t, []byte{42, 0, 0, 0}, data[offSeed:offSeed+4])
	assert.Equal(t, testRequest[:], data[offExternalRequest:offExternalRequest+32])

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestDecode_Rejects(t *testing.T) {
	good := seededRecord(t, StrategyPreimage).Encode()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"short", func(b []byte) []byte { return b[:Size-1] }},
		{"discriminator", func(b []byte) []byte { b[0] ^= 0xff; return b }},
		{"version", func(b []byte) []byte { b[offVersion] = 2; return b }},
		{"state", func(b []byte) []byte { b[offState] = 7; return b }},
		{"seeded state without seeded-at", func(b []byte) []byte {
			copy(b[offSeededAt:], make([]byte, 8))
			return b
		}},
		{"revealed-at while seeded", func(b []byte) []byte { b[offRevealedAt] = 1; return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append([]byte(nil), good...)
			_, err := Decode(tt.mutate(data))
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestJSON(t *testing.T) {
	rec := seededRecord(t, StrategyPreimage)

	encoded, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"state":"seeded"`)
	assert.Contains(t, string(encoded), `"strategy":"preimage"`)

	var decoded Record
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, *rec, decoded)
}
