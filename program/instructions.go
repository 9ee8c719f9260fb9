package program

import (
	"encoding/binary"
	"fmt"

	"github.com/ruteri/attested-randomness/functions"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/randomness"
	"github.com/ruteri/attested-randomness/record"
)

// ProgramID addresses the randomness program.
var ProgramID = interfaces.IdentityFromSeed("program:randomness")

var (
	ixRequest         = ledger.InstructionDiscriminator("request")
	ixSeed            = ledger.InstructionDiscriminator("seed")
	ixRevealPreimage  = ledger.InstructionDiscriminator("reveal_preimage")
	ixRevealSignature = ledger.InstructionDiscriminator("reveal_signature")
)

const (
	requestDataSize         = 8 + 1 + 32 + 8
	seedDataSize            = 8 + 4
	revealPreimageDataSize  = 8 + randomness.SecretSize
	revealSignatureDataSize = 8 + randomness.SignatureSize
)

// RequestAccounts names the accounts of a request instruction.
type RequestAccounts struct {
	Payer           interfaces.Identity
	Record          interfaces.Identity
	Authority       interfaces.Identity
	Function        interfaces.Identity
	ExternalRequest interfaces.Identity
}

// RequestArgs are the request instruction arguments.
type RequestArgs struct {
	Strategy   record.Strategy
	Commitment [32]byte
	// ExpirationSlots of zero keeps the function queue default.
	ExpirationSlots uint64
}

// NewRequestInstruction builds a request. Payer, record, authority and the
// external request must all sign.
func NewRequestInstruction(accts RequestAccounts, args RequestArgs) ledger.Instruction {
	data := make([]byte, 0, requestDataSize)
	data = append(data, ixRequest[:]...)
	data = append(data, byte(args.Strategy))
	data = append(data, args.Commitment[:]...)
	data = binary.LittleEndian.AppendUint64(data, args.ExpirationSlots)

	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Key: accts.Payer, IsSigner: true},
			{Key: accts.Record, IsSigner: true, IsWritable: true},
			{Key: accts.Authority, IsSigner: true},
			{Key: functions.ProgramID},
			{Key: accts.Function},
			{Key: accts.ExternalRequest, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

func decodeRequestArgs(data []byte) (RequestArgs, error) {
	if len(data) != requestDataSize {
		return RequestArgs{}, fmt.Errorf("%w: request data is %d bytes", interfaces.ErrInvalidInstruction, len(data))
	}
	args := RequestArgs{
		Strategy:        record.Strategy(data[8]),
		ExpirationSlots: binary.LittleEndian.Uint64(data[41:49]),
	}
	copy(args.Commitment[:], data[9:41])
	return args, nil
}

// SeedAccounts names the accounts of a seed instruction.
type SeedAccounts struct {
	Record          interfaces.Identity
	Function        interfaces.Identity
	ExternalRequest interfaces.Identity
	EnclaveSigner   interfaces.Identity
}

// NewSeedInstruction builds the oracle's seed call.
func NewSeedInstruction(accts SeedAccounts, seed uint32) ledger.Instruction {
	data := make([]byte, 0, seedDataSize)
	data = append(data, ixSeed[:]...)
	data = binary.LittleEndian.AppendUint32(data, seed)

	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Key: accts.Record, IsWritable: true},
			{Key: accts.Function},
			{Key: accts.ExternalRequest},
			{Key: accts.EnclaveSigner, IsSigner: true},
		},
		Data: data,
	}
}

// NewRevealPreimageInstruction reveals a record with its committed secret.
func NewRevealPreimageInstruction(recordKey interfaces.Identity, secret [randomness.SecretSize]byte) ledger.Instruction {
	data := make([]byte, 0, revealPreimageDataSize)
	data = append(data, ixRevealPreimage[:]...)
	data = append(data, secret[:]...)

	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts:  []ledger.AccountMeta{{Key: recordKey, IsWritable: true}},
		Data:      data,
	}
}

// NewRevealSignatureInstructions returns the ed25519 verify instruction and
// the reveal, in the order they must appear in the transaction. The verify
// instruction must sit immediately before the reveal; a companion anywhere
// else in the transaction fails with CompanionMismatch, or CompanionMissing
// when the reveal is the first instruction.
func NewRevealSignatureInstructions(recordKey interfaces.Identity, seed uint32, signature [randomness.SignatureSize]byte) []ledger.Instruction {
	data := make([]byte, 0, revealSignatureDataSize)
	data = append(data, ixRevealSignature[:]...)
	data = append(data, signature[:]...)

	return []ledger.Instruction{
		companionInstruction(recordKey, seed, signature),
		{
			ProgramID: ProgramID,
			Accounts:  []ledger.AccountMeta{{Key: recordKey, IsWritable: true}},
			Data:      data,
		},
	}
}

func companionInstruction(recordKey interfaces.Identity, seed uint32, signature [randomness.SignatureSize]byte) ledger.Instruction {
	return ledger.NewEd25519Instruction(recordKey, randomness.SeedMessage(seed), signature[:])
}
