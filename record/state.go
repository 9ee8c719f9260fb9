package record

import "fmt"

// State is the lifecycle phase of a record. Phases only move forward.
type State uint8

const (
	// StateCreated is a freshly allocated record whose external request has
	// not been triggered yet. It never outlives the request transaction.
	StateCreated State = iota
	// StateRequested records have a live external request and wait for a seed.
	StateRequested
	// StateSeeded records carry attested entropy and wait for a reveal.
	StateSeeded
	// StateRevealed records carry their final outcome.
	StateRevealed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRequested:
		return "requested"
	case StateSeeded:
		return "seeded"
	case StateRevealed:
		return "revealed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Strategy selects how a record is revealed. It is fixed at request time.
type Strategy uint8

const (
	// StrategyPreimage reveals a secret whose hash was committed at request
	// time; the outcome also binds an entropy anchor captured at seed time.
	StrategyPreimage Strategy = 1
	// StrategySignature reveals the record key's signature over the seed.
	StrategySignature Strategy = 2
)

func (s Strategy) String() string {
	switch s {
	case StrategyPreimage:
		return "preimage"
	case StrategySignature:
		return "signature"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyPreimage || s == StrategySignature
}

// ParseStrategy parses the text form of a strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "preimage":
		return StrategyPreimage, nil
	case "signature":
		return StrategySignature, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q", s)
	}
}
