package functions

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/routing"
)

var (
	// ErrMeasurementMismatch is returned when an enclave runs other code
	// than the function expects.
	ErrMeasurementMismatch = errors.New("enclave measurement mismatch")
	// ErrExpirationTooShort is returned for expiration windows under MinExpirationSlots.
	ErrExpirationTooShort = errors.New("request expiration too short")
	// ErrParamsTooLong is returned for params over routing.MaxLen bytes.
	ErrParamsTooLong = errors.New("request params too long")
	// ErrRequestNotRunnable is returned for requests that are expired or not
	// yet valid.
	ErrRequestNotRunnable = errors.New("request not runnable")
	// ErrCloseNotAllowed is returned when a non-authority closes a live request.
	ErrCloseNotAllowed = errors.New("request close not allowed")
)

// Event names.
const (
	EventEnclaveRegistered = "EnclaveRegistered"
	EventRequestTriggered  = "RequestTriggered"
)

// QuoteVerifier checks an attestation quote bound to reportData.
type QuoteVerifier interface {
	Verify(quote []byte, reportData [64]byte) (cryptoutils.Measurement, error)
}

// Program is the attested-function queue.
type Program struct {
	verifier QuoteVerifier
	log      *slog.Logger
}

func NewProgram(verifier QuoteVerifier, log *slog.Logger) *Program {
	ledger.NameProgram(ProgramID, "functions")
	return &Program{verifier: verifier, log: log}
}

func (p *Program) ID() interfaces.Identity { return ProgramID }

func (p *Program) Execute(ictx *ledger.InvokeContext, ix ledger.Instruction) error {
	if len(ix.Data) < 8 {
		return fmt.Errorf("%w: missing discriminator", interfaces.ErrInvalidInstruction)
	}
	switch [8]byte(ix.Data[:8]) {
	case ixFunctionInit:
		return p.functionInit(ictx, ix)
	case ixFunctionRegisterEnclave:
		return p.registerEnclave(ictx, ix)
	case ixRequestInitAndTrigger:
		return p.requestInitAndTrigger(ictx, ix)
	case ixRequestClose:
		return p.requestClose(ictx, ix)
	}
	return fmt.Errorf("%w: unknown functions instruction", interfaces.ErrInvalidInstruction)
}

func (p *Program) functionInit(ictx *ledger.InvokeContext, ix ledger.Instruction) error {
	if len(ix.Accounts) < 2 || len(ix.Data) != 8+32 {
		return fmt.Errorf("%w: function_init", interfaces.ErrInvalidInstruction)
	}
	function, authority := ix.Accounts[0].Key, ix.Accounts[1].Key
	if !ictx.IsSigner(authority) {
		return fmt.Errorf("%w: authority %s", ledger.ErrMissingSignature, authority)
	}

	if err := ictx.CreateAccount(function, FunctionSize); err != nil {
		return err
	}
	fn := &Function{
		Authority:   authority,
		Measurement: cryptoutils.Measurement(ix.Data[8:40]),
		CreatedAt:   ictx.UnixTimestamp(),
	}
	return ictx.SetData(function, fn.Encode())
}

func (p *Program) registerEnclave(ictx *ledger.InvokeContext, ix ledger.Instruction) error {
	if len(ix.Accounts) < 2 {
		return fmt.Errorf("%w: function_register_enclave", interfaces.ErrInvalidInstruction)
	}
	functionKey, signer := ix.Accounts[0].Key, ix.Accounts[1].Key
	if !ictx.IsSigner(signer) {
		return fmt.Errorf("%w: enclave signer %s", ledger.ErrMissingSignature, signer)
	}

	fn, err := loadFunction(ictx, functionKey)
	if err != nil {
		return err
	}

	measurement, err := p.verifier.Verify(ix.Data[8:], cryptoutils.EnclaveReportData(functionKey, signer))
	if err != nil {
		return err
	}
	if measurement != fn.Measurement {
		return fmt.Errorf("%w: got %s, expected %s", ErrMeasurementMismatch, measurement, fn.Measurement)
	}

	fn.EnclaveSigner = signer
	fn.SignerRegisteredAt = ictx.UnixTimestamp()
	if err := ictx.SetData(functionKey, fn.Encode()); err != nil {
		return err
	}

	ictx.Emit(EventEnclaveRegistered, append(functionKey.Bytes(), signer[:]...))
	p.log.Info("enclave signer registered", "function", functionKey, "signer", signer)
	return nil
}

func (p *Program) requestInitAndTrigger(ictx *ledger.InvokeContext, ix ledger.Instruction) error {
	init, err := decodeRequestInit(ix)
	if err != nil {
		return err
	}
	if len(init.Params) > routing.MaxLen {
		return fmt.Errorf("%w: %d bytes", ErrParamsTooLong, len(init.Params))
	}

	expiration := init.ExpirationSlots
	if expiration == 0 {
		expiration = DefaultExpirationSlots
	}
	if expiration < MinExpirationSlots {
		return fmt.Errorf("%w: %d slots, minimum %d", ErrExpirationTooShort, expiration, MinExpirationSlots)
	}

	for _, key := range []interfaces.Identity{init.Authority, init.Payer} {
		if !ictx.IsSigner(key) {
			return fmt.Errorf("%w: %s", ledger.ErrMissingSignature, key)
		}
	}
	if _, err := loadFunction(ictx, init.Function); err != nil {
		return err
	}

	if err := ictx.CreateAccount(init.Request, RequestSize); err != nil {
		return err
	}
	slot := ictx.Slot()
	req := &Request{
		Function:              init.Function,
		Authority:             init.Authority,
		Payer:                 init.Payer,
		Status:                RequestPending,
		Bounty:                init.Bounty,
		CreatedSlot:           slot,
		ExpirationSlot:        slot + expiration,
		GarbageCollectionSlot: slot + expiration + DefaultExpirationSlots,
		ValidAfterSlot:        init.ValidAfterSlot,
		Params:                init.Params,
	}
	if err := ictx.SetData(init.Request, req.Encode()); err != nil {
		return err
	}

	ictx.Emit(EventRequestTriggered, append(init.Request.Bytes(), init.Function[:]...))
	return nil
}

func (p *Program) requestClose(ictx *ledger.InvokeContext, ix ledger.Instruction) error {
	if len(ix.Accounts) < 2 {
		return fmt.Errorf("%w: request_close", interfaces.ErrInvalidInstruction)
	}
	requestKey, caller := ix.Accounts[0].Key, ix.Accounts[1].Key
	if !ictx.IsSigner(caller) {
		return fmt.Errorf("%w: %s", ledger.ErrMissingSignature, caller)
	}

	req, err := loadRequest(ictx, requestKey)
	if err != nil {
		return err
	}
	if caller != req.Authority && req.StatusAt(ictx.Slot()) != RequestExpired {
		return fmt.Errorf("%w: %s is not the authority of %s", ErrCloseNotAllowed, caller, requestKey)
	}
	return ictx.CloseAccount(requestKey)
}

func loadFunction(r ledger.AccountReader, key interfaces.Identity) (*Function, error) {
	acct, err := r.Account(key)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", key, err)
	}
	if acct.Owner != ProgramID {
		return nil, fmt.Errorf("%w: function %s", ledger.ErrNotOwner, key)
	}
	return DecodeFunction(acct.Data)
}

func loadRequest(r ledger.AccountReader, key interfaces.Identity) (*Request, error) {
	acct, err := r.Account(key)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", key, err)
	}
	if acct.Owner != ProgramID {
		return nil, fmt.Errorf("%w: request %s", ledger.ErrNotOwner, key)
	}
	return DecodeRequest(acct.Data)
}
