// Package record defines the randomness record: the per-draw state entity
// tracked through request, seed and reveal, and its fixed-width account
// layout.
//
// Layout (version 1, little-endian, no padding, 167 bytes):
//
//	offset size field
//	0      8    discriminator
//	8      1    version
//	9      1    state
//	10     1    strategy
//	11     32   external request
//	43     32   commitment
//	75     4    seed
//	79     32   entropy anchor
//	111    32   result
//	143    8    requested at (unix seconds)
//	151    8    seeded at
//	159    8    revealed at
package record

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ruteri/attested-randomness/interfaces"
)

const (
	// Version is the layout version written by Encode.
	Version = 1

	// Size is the encoded size of a record account.
	Size = 167

	offDiscriminator   = 0
	offVersion         = 8
	offState           = 9
	offStrategy        = 10
	offExternalRequest = 11
	offCommitment      = 43
	offSeed            = 75
	offAnchor          = 79
	offResult          = 111
	offRequestedAt     = 143
	offSeededAt        = 151
	offRevealedAt      = 159
)

// Discriminator prefixes every record account.
var Discriminator = discriminator("account:RandomnessRecord")

// ErrInvalidRecord is returned when account data is not a valid record.
var ErrInvalidRecord = errors.New("invalid record")

func discriminator(name string) [8]byte {
	h := sha256.Sum256([]byte(name))
	var d [8]byte
	copy(d[:], h[:8])
	return d
}

// Record is one randomness draw.
type Record struct {
	State           State
	Strategy        Strategy
	ExternalRequest interfaces.Identity
	Commitment      [32]byte
	Seed            uint32
	Anchor          [32]byte
	Result          [32]byte
	RequestedAt     int64
	SeededAt        int64
	RevealedAt      int64
}

// New allocates a record in StateCreated. The preimage strategy requires a
// non-zero commitment; the signature strategy ignores it.
func New(strategy Strategy, commitment [32]byte) (*Record, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %d", interfaces.ErrInvalidInstruction, strategy)
	}
	rec := &Record{State: StateCreated, Strategy: strategy}
	if strategy == StrategyPreimage {
		if commitment == [32]byte{} {
			return nil, fmt.Errorf("%w: preimage strategy needs a commitment", interfaces.ErrInvalidInstruction)
		}
		rec.Commitment = commitment
	}
	return rec, nil
}

// MarkRequested links the external request and closes the request phase.
func (r *Record) MarkRequested(externalRequest interfaces.Identity, ts int64) error {
	if r.State != StateCreated {
		return fmt.Errorf("record already %s: %w", r.State, interfaces.ErrInvalidInstruction)
	}
	if externalRequest.IsZero() {
		return interfaces.ErrZeroIdentity
	}
	if ts <= 0 {
		return interfaces.ErrInvalidTimestamp
	}

	r.ExternalRequest = externalRequest
	r.RequestedAt = ts
	r.State = StateRequested
	return nil
}

// CommitSeed writes the attested seed exactly once. The anchor is only kept
// for the preimage strategy.
func (r *Record) CommitSeed(seed uint32, anchor [32]byte, ts int64) error {
	if r.State >= StateSeeded || r.SeededAt != 0 {
		return interfaces.ErrAlreadySeeded
	}
	if r.State != StateRequested {
		return interfaces.ErrNotRequested
	}
	if ts <= 0 || ts < r.RequestedAt {
		return interfaces.ErrInvalidTimestamp
	}

	r.Seed = seed
	if r.Strategy == StrategyPreimage {
		r.Anchor = anchor
	}
	r.SeededAt = ts
	r.State = StateSeeded
	return nil
}

// CommitResult writes the final outcome exactly once.
func (r *Record) CommitResult(result [32]byte, ts int64) error {
	if r.State >= StateRevealed || r.RevealedAt != 0 {
		return interfaces.ErrAlreadyRevealed
	}
	if r.State != StateSeeded {
		return interfaces.ErrNotSeeded
	}
	if ts <= 0 || ts < r.SeededAt {
		return interfaces.ErrInvalidTimestamp
	}

	r.Result = result
	r.RevealedAt = ts
	r.State = StateRevealed
	return nil
}

// Validate checks the cross-field invariants of the record.
func (r *Record) Validate() error {
	if !r.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %d", ErrInvalidRecord, r.Strategy)
	}
	if r.Strategy == StrategyPreimage && r.Commitment == [32]byte{} {
		return fmt.Errorf("%w: missing commitment", ErrInvalidRecord)
	}

	switch r.State {
	case StateCreated:
		if r.RequestedAt != 0 || r.SeededAt != 0 || r.RevealedAt != 0 {
			return fmt.Errorf("%w: created record has timestamps", ErrInvalidRecord)
		}
	case StateRequested:
		if r.RequestedAt <= 0 || r.SeededAt != 0 || r.RevealedAt != 0 {
			return fmt.Errorf("%w: inconsistent requested timestamps", ErrInvalidRecord)
		}
	case StateSeeded:
		if r.RequestedAt <= 0 || r.SeededAt < r.RequestedAt || r.RevealedAt != 0 {
			return fmt.Errorf("%w: inconsistent seeded timestamps", ErrInvalidRecord)
		}
	case StateRevealed:
		if r.RequestedAt <= 0 || r.SeededAt < r.RequestedAt || r.RevealedAt < r.SeededAt {
			return fmt.Errorf("%w: inconsistent revealed timestamps", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown state %d", ErrInvalidRecord, r.State)
	}

	if r.State >= StateRequested && r.ExternalRequest.IsZero() {
		return fmt.Errorf("%w: missing external request", ErrInvalidRecord)
	}
	return nil
}

// Encode writes the version 1 layout.
func (r *Record) Encode() []byte {
	buf := make([]byte, Size)
	copy(buf[offDiscriminator:], Discriminator[:])
	buf[offVersion] = Version
	buf[offState] = byte(r.State)
	buf[offStrategy] = byte(r.Strategy)
	copy(buf[offExternalRequest:], r.ExternalRequest[:])
	copy(buf[offCommitment:], r.Commitment[:])
	binary.LittleEndian.PutUint32(buf[offSeed:], r.Seed)
	copy(buf[offAnchor:], r.Anchor[:])
	copy(buf[offResult:], r.Result[:])
	binary.LittleEndian.PutUint64(buf[offRequestedAt:], uint64(r.RequestedAt))
	binary.LittleEndian.PutUint64(buf[offSeededAt:], uint64(r.SeededAt))
	binary.LittleEndian.PutUint64(buf[offRevealedAt:], uint64(r.RevealedAt))
	return buf
}

// Decode parses and validates account data.
func Decode(data []byte) (*Record, error) {
	if len(data) != Size {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidRecord, Size, len(data))
	}
	if [8]byte(data[offDiscriminator:offVersion]) != Discriminator {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrInvalidRecord)
	}
	if data[offVersion] != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidRecord, data[offVersion])
	}

	r := &Record{
		State:       State(data[offState]),
		Strategy:    Strategy(data[offStrategy]),
		Seed:        binary.LittleEndian.Uint32(data[offSeed:]),
		RequestedAt: int64(binary.LittleEndian.Uint64(data[offRequestedAt:])),
		SeededAt:    int64(binary.LittleEndian.Uint64(data[offSeededAt:])),
		RevealedAt:  int64(binary.LittleEndian.Uint64(data[offRevealedAt:])),
	}
	copy(r.ExternalRequest[:], data[offExternalRequest:offCommitment])
	copy(r.Commitment[:], data[offCommitment:offSeed])
	copy(r.Anchor[:], data[offAnchor:offResult])
	copy(r.Result[:], data[offResult:offRequestedAt])

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
