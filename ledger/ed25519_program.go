package ledger

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ruteri/attested-randomness/interfaces"
)

// Ed25519ProgramID is the native signature verification program. Its
// instructions are checked before execution. A failure is reported to a
// program that inspects the instruction, and otherwise rejects the
// transaction once every other instruction has run.
var Ed25519ProgramID = interfaces.IdentityFromSeed("native:ed25519-verify")

// ErrMalformedEd25519Instruction is returned for undecodable verify instructions.
var ErrMalformedEd25519Instruction = errors.New("malformed ed25519 instruction")

const ed25519HeaderSize = 1 + ed25519.PublicKeySize + ed25519.SignatureSize + 2

// NewEd25519Instruction builds a verify instruction over msg. Layout:
// count(1) | pubkey(32) | signature(64) | len(msg) u16 LE | msg.
func NewEd25519Instruction(pub interfaces.Identity, msg, sig []byte) Instruction {
	data := make([]byte, 0, ed25519HeaderSize+len(msg))
	data = append(data, 1)
	data = append(data, pub[:]...)
	data = append(data, sig...)
	data = binary.LittleEndian.AppendUint16(data, uint16(len(msg)))
	data = append(data, msg...)
	return Instruction{ProgramID: Ed25519ProgramID, Data: data}
}

// ParseEd25519Instruction splits a verify instruction into its parts.
func ParseEd25519Instruction(ix Instruction) (interfaces.Identity, []byte, []byte, error) {
	if ix.ProgramID != Ed25519ProgramID {
		return interfaces.Identity{}, nil, nil, fmt.Errorf("%w: wrong program", ErrMalformedEd25519Instruction)
	}
	data := ix.Data
	if len(data) < ed25519HeaderSize || data[0] != 1 {
		return interfaces.Identity{}, nil, nil, ErrMalformedEd25519Instruction
	}

	pub, _ := interfaces.NewIdentityFromBytes(data[1 : 1+ed25519.PublicKeySize])
	sig := data[1+ed25519.PublicKeySize : 1+ed25519.PublicKeySize+ed25519.SignatureSize]
	msgLen := int(binary.LittleEndian.Uint16(data[ed25519HeaderSize-2 : ed25519HeaderSize]))
	if len(data) != ed25519HeaderSize+msgLen {
		return interfaces.Identity{}, nil, nil, fmt.Errorf("%w: message length", ErrMalformedEd25519Instruction)
	}
	return pub, data[ed25519HeaderSize:], sig, nil
}

func verifyEd25519Instruction(ix Instruction) error {
	pub, msg, sig, err := ParseEd25519Instruction(ix)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub.PublicKey(), msg, sig) {
		return fmt.Errorf("%w: %w: ed25519 verify instruction for %s", ErrInvalidSignature, interfaces.ErrSigVerifyFailed, pub)
	}
	return nil
}
