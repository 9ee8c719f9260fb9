package program

import (
	"encoding/binary"
	"errors"

	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
)

// Event names.
const (
	EventSeeded   = "RequestSeeded"
	EventRevealed = "RequestRevealed"
)

// ErrNotProgramEvent is returned when decoding an event of another kind.
var ErrNotProgramEvent = errors.New("not a randomness program event")

// SeededEvent is emitted when a record receives its seed.
type SeededEvent struct {
	Record interfaces.Identity `json:"record"`
	Seed   uint32              `json:"seed"`
}

func (e SeededEvent) encode() []byte {
	return binary.LittleEndian.AppendUint32(e.Record.Bytes(), e.Seed)
}

// DecodeSeededEvent decodes a ledger event emitted by seed.
func DecodeSeededEvent(ev ledger.Event) (SeededEvent, error) {
	if ev.Program != ProgramID || ev.Name != EventSeeded || len(ev.Data) != 36 {
		return SeededEvent{}, ErrNotProgramEvent
	}
	out := SeededEvent{Seed: binary.LittleEndian.Uint32(ev.Data[32:])}
	copy(out.Record[:], ev.Data[:32])
	return out, nil
}

// RevealedEvent is emitted when a record's result is fixed.
type RevealedEvent struct {
	Record interfaces.Identity `json:"record"`
	Result [32]byte            `json:"result"`
}

func (e RevealedEvent) encode() []byte {
	return append(e.Record.Bytes(), e.Result[:]...)
}

// DecodeRevealedEvent decodes a ledger event emitted by reveal.
func DecodeRevealedEvent(ev ledger.Event) (RevealedEvent, error) {
	if ev.Program != ProgramID || ev.Name != EventRevealed || len(ev.Data) != 64 {
		return RevealedEvent{}, ErrNotProgramEvent
	}
	var out RevealedEvent
	copy(out.Record[:], ev.Data[:32])
	copy(out.Result[:], ev.Data[32:])
	return out, nil
}
