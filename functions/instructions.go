package functions

import (
	"encoding/binary"
	"fmt"

	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
)

// ProgramID addresses the functions program.
var ProgramID = interfaces.IdentityFromSeed("program:functions")

var (
	ixFunctionInit            = ledger.InstructionDiscriminator("function_init")
	ixFunctionRegisterEnclave = ledger.InstructionDiscriminator("function_register_enclave")
	ixRequestInitAndTrigger   = ledger.InstructionDiscriminator("request_init_and_trigger")
	ixRequestClose            = ledger.InstructionDiscriminator("request_close")
)

// NewFunctionInitInstruction creates a function account expecting enclaves
// with the given measurement. Accounts: function (signer, writable),
// authority (signer).
func NewFunctionInitInstruction(function, authority interfaces.Identity, measurement cryptoutils.Measurement) ledger.Instruction {
	data := append(append([]byte(nil), ixFunctionInit[:]...), measurement[:]...)
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Key: function, IsSigner: true, IsWritable: true},
			{Key: authority, IsSigner: true},
		},
		Data: data,
	}
}

// NewRegisterEnclaveInstruction rotates the function's enclave signer.
// Accounts: function (writable), enclave signer (signer).
func NewRegisterEnclaveInstruction(function, signer interfaces.Identity, quote []byte) ledger.Instruction {
	data := append(append([]byte(nil), ixFunctionRegisterEnclave[:]...), quote...)
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Key: function, IsWritable: true},
			{Key: signer, IsSigner: true},
		},
		Data: data,
	}
}

// RequestInit describes a new function request.
type RequestInit struct {
	Request   interfaces.Identity
	Function  interfaces.Identity
	Authority interfaces.Identity
	Payer     interfaces.Identity
	Bounty    uint64
	// ExpirationSlots of zero selects DefaultExpirationSlots.
	ExpirationSlots uint64
	ValidAfterSlot  uint64
	Params          []byte
}

// NewRequestInitAndTriggerInstruction creates and triggers a request.
// Accounts: request (signer, writable), function, authority (signer),
// payer (signer).
func NewRequestInitAndTriggerInstruction(init RequestInit) ledger.Instruction {
	data := append([]byte(nil), ixRequestInitAndTrigger[:]...)
	data = binary.LittleEndian.AppendUint64(data, init.Bounty)
	data = binary.LittleEndian.AppendUint64(data, init.ExpirationSlots)
	data = binary.LittleEndian.AppendUint64(data, init.ValidAfterSlot)
	data = binary.LittleEndian.AppendUint16(data, uint16(len(init.Params)))
	data = append(data, init.Params...)

	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Key: init.Request, IsSigner: true, IsWritable: true},
			{Key: init.Function},
			{Key: init.Authority, IsSigner: true},
			{Key: init.Payer, IsSigner: true},
		},
		Data: data,
	}
}

// NewRequestCloseInstruction closes a request. Accounts: request (writable),
// caller (signer).
func NewRequestCloseInstruction(request, caller interfaces.Identity) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			{Key: request, IsWritable: true},
			{Key: caller, IsSigner: true},
		},
		Data: append([]byte(nil), ixRequestClose[:]...),
	}
}

func decodeRequestInit(ix ledger.Instruction) (RequestInit, error) {
	if len(ix.Accounts) < 4 {
		return RequestInit{}, fmt.Errorf("%w: expected 4 accounts", interfaces.ErrInvalidInstruction)
	}
	data := ix.Data[8:]
	if len(data) < 26 {
		return RequestInit{}, fmt.Errorf("%w: short request data", interfaces.ErrInvalidInstruction)
	}
	init := RequestInit{
		Request:         ix.Accounts[0].Key,
		Function:        ix.Accounts[1].Key,
		Authority:       ix.Accounts[2].Key,
		Payer:           ix.Accounts[3].Key,
		Bounty:          binary.LittleEndian.Uint64(data[0:8]),
		ExpirationSlots: binary.LittleEndian.Uint64(data[8:16]),
		ValidAfterSlot:  binary.LittleEndian.Uint64(data[16:24]),
	}
	n := int(binary.LittleEndian.Uint16(data[24:26]))
	if len(data) != 26+n {
		return RequestInit{}, fmt.Errorf("%w: params length", interfaces.ErrInvalidInstruction)
	}
	init.Params = append([]byte(nil), data[26:]...)
	return init, nil
}
