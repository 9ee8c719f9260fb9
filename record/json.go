package record

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/attested-randomness/interfaces"
)

type recordJSON struct {
	State           string              `json:"state"`
	Strategy        string              `json:"strategy"`
	ExternalRequest interfaces.Identity `json:"external_request"`
	Commitment      hexutil.Bytes       `json:"commitment,omitempty"`
	Seed            uint32              `json:"seed"`
	Anchor          hexutil.Bytes       `json:"anchor,omitempty"`
	Result          hexutil.Bytes       `json:"result,omitempty"`
	RequestedAt     int64               `json:"requested_at"`
	SeededAt        int64               `json:"seeded_at"`
	RevealedAt      int64               `json:"revealed_at"`
}

func nonZero(b [32]byte) hexutil.Bytes {
	if b == [32]byte{} {
		return nil
	}
	return b[:]
}

// MarshalJSON renders the record for the RPC API.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		State:           r.State.String(),
		Strategy:        r.Strategy.String(),
		ExternalRequest: r.ExternalRequest,
		Commitment:      nonZero(r.Commitment),
		Seed:            r.Seed,
		Anchor:          nonZero(r.Anchor),
		Result:          nonZero(r.Result),
		RequestedAt:     r.RequestedAt,
		SeededAt:        r.SeededAt,
		RevealedAt:      r.RevealedAt,
	})
}

// UnmarshalJSON parses the RPC representation.
func (r *Record) UnmarshalJSON(data []byte) error {
	var v recordJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	state, err := parseState(v.State)
	if err != nil {
		return err
	}
	strategy, err := ParseStrategy(v.Strategy)
	if err != nil {
		return err
	}

	*r = Record{
		State:           state,
		Strategy:        strategy,
		ExternalRequest: v.ExternalRequest,
		Seed:            v.Seed,
		RequestedAt:     v.RequestedAt,
		SeededAt:        v.SeededAt,
		RevealedAt:      v.RevealedAt,
	}
	for _, f := range []struct {
		dst *[32]byte
		src hexutil.Bytes
	}{{&r.Commitment, v.Commitment}, {&r.Anchor, v.Anchor}, {&r.Result, v.Result}} {
		if len(f.src) == 0 {
			continue
		}
		if len(f.src) != 32 {
			return fmt.Errorf("%w: field of %d bytes", ErrInvalidRecord, len(f.src))
		}
		copy(f.dst[:], f.src)
	}
	return nil
}

func parseState(s string) (State, error) {
	for st := StateCreated; st <= StateRevealed; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", s)
}
