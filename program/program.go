package program

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/attested-randomness/functions"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/metrics"
	"github.com/ruteri/attested-randomness/randomness"
	"github.com/ruteri/attested-randomness/record"
	"github.com/ruteri/attested-randomness/routing"
)

// ErrAnchorUnavailable is returned when the slot-hash buffer is too short to
// hold an anchor.
var ErrAnchorUnavailable = errors.New("entropy anchor unavailable")

// RegistryFactory returns the attestation registry visible to an executing
// instruction.
type RegistryFactory func(ictx *ledger.InvokeContext) interfaces.AttestationRegistry

// FunctionsRegistry reads the functions program accounts through the
// transaction overlay.
func FunctionsRegistry(ictx *ledger.InvokeContext) interfaces.AttestationRegistry {
	return functions.NewRegistry(ictx)
}

// Program is the randomness program.
type Program struct {
	registryFor RegistryFactory
	log         *slog.Logger
}

// NewProgram creates the program. A nil registryFor uses FunctionsRegistry.
func NewProgram(registryFor RegistryFactory, log *slog.Logger) *Program {
	if registryFor == nil {
		registryFor = FunctionsRegistry
	}
	ledger.NameProgram(ProgramID, "randomness")
	return &Program{registryFor: registryFor, log: log}
}

func (p *Program) ID() interfaces.Identity { return ProgramID }

func (p *Program) Execute(ictx *ledger.InvokeContext, ix ledger.Instruction) error {
	if len(ix.Data) < 8 {
		return fmt.Errorf("%w: missing discriminator", interfaces.ErrInvalidInstruction)
	}
	switch [8]byte(ix.Data[:8]) {
	case ixRequest:
		return p.request(ictx, ix)
	case ixSeed:
		return p.seed(ictx, ix)
	case ixRevealPreimage:
		return p.revealPreimage(ictx, ix)
	case ixRevealSignature:
		return p.revealSignature(ictx, ix)
	}
	return fmt.Errorf("%w: unknown instruction", interfaces.ErrInvalidInstruction)
}

func (p *Program) request(ictx *ledger.InvokeContext, ix ledger.Instruction) error {
	if len(ix.Accounts) != 6 {
		return fmt.Errorf("%w: request expects 6 accounts", interfaces.ErrInvalidInstruction)
	}
	accts := RequestAccounts{
		Payer:           ix.Accounts[0].Key,
		Record:          ix.Accounts[1].Key,
		Authority:       ix.Accounts[2].Key,
		Function:        ix.Accounts[4].Key,
		ExternalRequest: ix.Accounts[5].Key,
	}
	if ix.Accounts[3].Key != functions.ProgramID {
		return fmt.Errorf("%w: unexpected functions program %s", interfaces.ErrInvalidInstruction, ix.Accounts[3].Key)
	}
	for _, key := range []interfaces.Identity{accts.Payer, accts.Record, accts.Authority, accts.Function, accts.ExternalRequest} {
		if key.IsZero() {
			return interfaces.ErrZeroIdentity
		}
	}

	args, err := decodeRequestArgs(ix.Data)
	if err != nil {
		return err
	}
	rec, err := record.New(args.Strategy, args.Commitment)
	if err != nil {
		return err
	}
	if err := ictx.CreateAccount(accts.Record, record.Size); err != nil {
		return err
	}

	init := functions.RequestInit{
		Request:         accts.ExternalRequest,
		Function:        accts.Function,
		Authority:       accts.Authority,
		Payer:           accts.Payer,
		ExpirationSlots: args.ExpirationSlots,
		Params:          routing.Encode(routing.Params{ProgramID: ProgramID, RequestKey: accts.Record}),
	}
	if args.Strategy == record.StrategyPreimage {
		// the anchor must be a slot hash produced after the commitment
		init.ValidAfterSlot = ictx.Slot() + 1
	}
	if err := ictx.Invoke(functions.NewRequestInitAndTriggerInstruction(init)); err != nil {
		return fmt.Errorf("triggering function request: %w", err)
	}

	if err := rec.MarkRequested(accts.ExternalRequest, ictx.UnixTimestamp()); err != nil {
		return err
	}
	return ictx.SetData(accts.Record, rec.Encode())
}

func (p *Program) seed(ictx *ledger.InvokeContext, ix ledger.Instruction) error {
	if len(ix.Accounts) != 4 || len(ix.Data) != seedDataSize {
		return fmt.Errorf("%w: seed", interfaces.ErrInvalidInstruction)
	}
	accts := SeedAccounts{
		Record:          ix.Accounts[0].Key,
		Function:        ix.Accounts[1].Key,
		ExternalRequest: ix.Accounts[2].Key,
		EnclaveSigner:   ix.Accounts[3].Key,
	}
	value := binary.LittleEndian.Uint32(ix.Data[8:])

	rec, err := p.loadRecord(ictx, accts.Record)
	if err != nil {
		return err
	}
	if rec.State >= record.StateSeeded || rec.SeededAt != 0 {
		return interfaces.ErrAlreadySeeded
	}

	if rec.ExternalRequest != accts.ExternalRequest {
		return fmt.Errorf("%w: record expects external request %s", interfaces.ErrRequestMismatch, rec.ExternalRequest)
	}
	registry := p.registryFor(ictx)
	function, err := registry.RequestFunction(ictx, accts.ExternalRequest, ictx.Slot())
	if err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrRequestMismatch, err)
	}
	if function != accts.Function {
		return fmt.Errorf("%w: external request belongs to function %s", interfaces.ErrRequestMismatch, function)
	}
	if !ictx.IsSigner(accts.EnclaveSigner) {
		return fmt.Errorf("%w: %s did not sign", interfaces.ErrUnauthorizedSigner, accts.EnclaveSigner)
	}
	ok, err := registry.IsRegisteredSigner(ictx, accts.Function, accts.EnclaveSigner)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not registered for %s", interfaces.ErrUnauthorizedSigner, accts.EnclaveSigner, accts.Function)
	}

	var anchor [32]byte
	if rec.Strategy == record.StrategyPreimage {
		if anchor, err = readAnchor(ictx.SlotHashes()); err != nil {
			return err
		}
	}

	if err := rec.CommitSeed(value, anchor, ictx.UnixTimestamp()); err != nil {
		return err
	}
	if err := ictx.SetData(accts.Record, rec.Encode()); err != nil {
		return err
	}

	ictx.Emit(EventSeeded, SeededEvent{Record: accts.Record, Seed: value}.encode())
	return nil
}

// readAnchor takes the newest slot hash at its fixed offset. The layout of
// the buffer is owned by the ledger; a shorter buffer is an error.
func readAnchor(slotHashes []byte) ([32]byte, error) {
	end := ledger.SlotHashesNewestOffset + 32
	if len(slotHashes) < end {
		return [32]byte{}, ErrAnchorUnavailable
	}
	return [32]byte(slotHashes[ledger.SlotHashesNewestOffset:end]), nil
}

// loadRevealable applies the checks shared by both reveal strategies, in
// order: already revealed, strategy, not yet seeded.
func (p *Program) loadRevealable(ictx *ledger.InvokeContext, key interfaces.Identity, strategy record.Strategy) (*record.Record, error) {
	rec, err := p.loadRecord(ictx, key)
	if err != nil {
		return nil, err
	}
	if rec.State >= record.StateRevealed || rec.RevealedAt != 0 {
		return nil, interfaces.ErrAlreadyRevealed
	}
	if rec.Strategy != strategy {
		return nil, fmt.Errorf("%w: record uses %s", interfaces.ErrStrategyMismatch, rec.Strategy)
	}
	if rec.State != record.StateSeeded {
		return nil, interfaces.ErrNotSeeded
	}
	return rec, nil
}

func (p *Program) revealPreimage(ictx *ledger.InvokeContext, ix ledger.Instruction) error {
	if len(ix.Accounts) != 1 || len(ix.Data) != revealPreimageDataSize {
		return fmt.Errorf("%w: reveal_preimage", interfaces.ErrInvalidInstruction)
	}
	key := ix.Accounts[0].Key
	secret := [randomness.SecretSize]byte(ix.Data[8:])

	rec, err := p.loadRevealable(ictx, key, record.StrategyPreimage)
	if err != nil {
		return err
	}
	if randomness.Commitment(secret) != rec.Commitment {
		return interfaces.ErrKeyVerifyFailed
	}

	return p.commitResult(ictx, key, rec, randomness.FromPreimage(secret, rec.Anchor, rec.Seed))
}

func (p *Program) revealSignature(ictx *ledger.InvokeContext, ix ledger.Instruction) error {
	if len(ix.Accounts) != 1 || len(ix.Data) != revealSignatureDataSize {
		return fmt.Errorf("%w: reveal_signature", interfaces.ErrInvalidInstruction)
	}
	key := ix.Accounts[0].Key
	signature := [randomness.SignatureSize]byte(ix.Data[8:])

	rec, err := p.loadRevealable(ictx, key, record.StrategySignature)
	if err != nil {
		return err
	}
	if err := checkCompanion(ictx, key, rec.Seed, signature); err != nil {
		return err
	}

	return p.commitResult(ictx, key, rec, randomness.FromSignature(signature))
}

// checkCompanion requires the instruction right before the reveal to be the
// ed25519 verification of signature over the seed under the record key. The
// ledger reports a failed verification when the companion is read, so
// equality implies a valid signature.
func checkCompanion(ictx *ledger.InvokeContext, key interfaces.Identity, seed uint32, signature [randomness.SignatureSize]byte) error {
	idx := ictx.InstructionIndex() - 1
	if idx < 0 {
		return fmt.Errorf("%w: %w", interfaces.ErrCompanionMissing, interfaces.ErrSigVerifyFailed)
	}
	got, err := ictx.InstructionAt(idx)
	if errors.Is(err, ledger.ErrInstructionIndex) {
		return fmt.Errorf("%w: %w", interfaces.ErrCompanionMissing, interfaces.ErrSigVerifyFailed)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrSigVerifyFailed, err)
	}
	if got.ProgramID != ledger.Ed25519ProgramID {
		return fmt.Errorf("%w: %w: instruction %d targets %s", interfaces.ErrCompanionMissing, interfaces.ErrSigVerifyFailed, idx, got.ProgramID)
	}

	want := companionInstruction(key, seed, signature)
	if !bytes.Equal(got.Encode(), want.Encode()) {
		return fmt.Errorf("%w: %w", interfaces.ErrCompanionMismatch, interfaces.ErrSigVerifyFailed)
	}
	return nil
}

func (p *Program) commitResult(ictx *ledger.InvokeContext, key interfaces.Identity, rec *record.Record, result [32]byte) error {
	if err := rec.CommitResult(result, ictx.UnixTimestamp()); err != nil {
		return err
	}
	if err := ictx.SetData(key, rec.Encode()); err != nil {
		return err
	}
	ictx.Emit(EventRevealed, RevealedEvent{Record: key, Result: result}.encode())
	return nil
}

func (p *Program) loadRecord(ictx *ledger.InvokeContext, key interfaces.Identity) (*record.Record, error) {
	acct, err := ictx.Account(key)
	if err != nil {
		return nil, fmt.Errorf("%w: record %s: %w", interfaces.ErrInvalidInstruction, key, err)
	}
	if acct.Owner != ProgramID {
		return nil, fmt.Errorf("%w: record %s is not owned by the randomness program", interfaces.ErrInvalidInstruction, key)
	}
	return record.Decode(acct.Data)
}

// Instrument counts seeds and reveals committed on l.
func Instrument(l *ledger.Ledger, log *slog.Logger) {
	l.Subscribe(func(ev ledger.Event) {
		if seeded, err := DecodeSeededEvent(ev); err == nil {
			metrics.SeedsTotal.Inc()
			log.Info("record seeded", "record", seeded.Record, "seed", seeded.Seed, "slot", ev.Slot)
			return
		}
		if revealed, err := DecodeRevealedEvent(ev); err == nil {
			strategy := "unknown"
			if acct, err := l.Account(revealed.Record); err == nil {
				if rec, err := record.Decode(acct.Data); err == nil {
					strategy = rec.Strategy.String()
				}
			}
			metrics.RevealsTotal.WithLabelValues(strategy).Inc()
			log.Info("record revealed", "record", revealed.Record, "result", fmt.Sprintf("%x", revealed.Result), "slot", ev.Slot)
		}
	})
}
