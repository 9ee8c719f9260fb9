package requester

import (
	"context"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/kms"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/program"
	"github.com/ruteri/attested-randomness/randomness"
	"github.com/ruteri/attested-randomness/record"
)

var (
	// ErrInvalidDraw is returned for draw files that cannot be used.
	ErrInvalidDraw = errors.New("invalid draw")

	// ErrNoSecretStore is returned when the preimage strategy is used without
	// a backend to keep the secret in.
	ErrNoSecretStore = errors.New("preimage strategy needs a secret store")

	// ErrSecretMismatch is returned when a stored or fetched secret does not
	// hash to the record commitment.
	ErrSecretMismatch = errors.New("secret does not match commitment")
)

// secretPurpose names the payer-derived key sealing stored secrets.
const secretPurpose = "requester-secrets"

// Ledger is what a requester needs from the ledger, local or remote.
type Ledger interface {
	Submit(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error)
	Record(ctx context.Context, key interfaces.Identity) (*record.Record, error)
}

// LocalLedger serves records from an in-process ledger.
type LocalLedger struct {
	*ledger.Ledger
}

func (l LocalLedger) Record(_ context.Context, key interfaces.Identity) (*record.Record, error) {
	acct, err := l.Account(key)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", key, err)
	}
	if acct.Owner != program.ProgramID {
		return nil, fmt.Errorf("%w: %s is not a record", ledger.ErrAccountNotFound, key)
	}
	return record.Decode(acct.Data)
}

// RequestOptions selects the function and the reveal strategy of a draw.
type RequestOptions struct {
	Function interfaces.Identity
	Strategy record.Strategy
	// ExpirationSlots of zero keeps the function queue default.
	ExpirationSlots uint64
}

// Requester opens and reveals draws. The payer funds each request and is
// its authority.
type Requester struct {
	payer   ed25519.PrivateKey
	ledger  Ledger
	secrets interfaces.StorageBackend
	sealer  cipher.AEAD
	rand    io.Reader
	log     *slog.Logger
}

// New creates a requester. secrets may be nil when only the signature
// strategy is used. Secrets are sealed under a key derived from the payer,
// so the same payer key is needed to reveal.
func New(payer ed25519.PrivateKey, l Ledger, secrets interfaces.StorageBackend, log *slog.Logger) (*Requester, error) {
	r := &Requester{payer: payer, ledger: l, secrets: secrets, rand: rand.Reader, log: log}
	if secrets != nil {
		derived, err := kms.NewSimpleKMS(payer.Seed())
		if err != nil {
			return nil, err
		}
		if r.sealer, err = derived.DeriveAEAD(secretPurpose); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewRequest prepares a signed request transaction with fresh record and
// external request keys. For the preimage strategy the secret is generated
// and stored before the transaction is built, so a committed request can
// always be revealed.
func (r *Requester) NewRequest(ctx context.Context, opts RequestOptions) (*Draw, *ledger.Transaction, error) {
	if !opts.Strategy.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown strategy %d", interfaces.ErrInvalidParams, opts.Strategy)
	}

	recordID, recordKey, err := ed25519.GenerateKey(r.rand)
	if err != nil {
		return nil, nil, err
	}
	extID, extKey, err := ed25519.GenerateKey(r.rand)
	if err != nil {
		return nil, nil, err
	}

	draw := &Draw{
		Record:          interfaces.IdentityFromPublicKey(recordID),
		RecordKey:       recordKey,
		ExternalRequest: interfaces.IdentityFromPublicKey(extID),
		Function:        opts.Function,
		Strategy:        opts.Strategy,
	}

	if opts.Strategy == record.StrategyPreimage {
		draw.Commitment, draw.SecretID, err = r.storeSecret(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	payer := cryptoutils.IdentityOf(r.payer)
	tx := ledger.NewTransaction(program.NewRequestInstruction(program.RequestAccounts{
		Payer:           payer,
		Record:          draw.Record,
		Authority:       payer,
		Function:        opts.Function,
		ExternalRequest: draw.ExternalRequest,
	}, program.RequestArgs{
		Strategy:        opts.Strategy,
		Commitment:      draw.Commitment,
		ExpirationSlots: opts.ExpirationSlots,
	}))
	if err := tx.Sign(r.payer, recordKey, extKey); err != nil {
		return nil, nil, err
	}
	return draw, tx, nil
}

// storeSecret generates a secret and stores it sealed, with the commitment
// as associated data. The blob is nonce || ciphertext.
func (r *Requester) storeSecret(ctx context.Context) ([32]byte, interfaces.ContentID, error) {
	if r.secrets == nil || r.sealer == nil {
		return [32]byte{}, interfaces.ContentID{}, ErrNoSecretStore
	}

	var secret [randomness.SecretSize]byte
	if _, err := io.ReadFull(r.rand, secret[:]); err != nil {
		return [32]byte{}, interfaces.ContentID{}, err
	}
	commitment := randomness.Commitment(secret)

	nonce := make([]byte, r.sealer.NonceSize(), r.sealer.NonceSize()+len(secret)+r.sealer.Overhead())
	if _, err := io.ReadFull(r.rand, nonce); err != nil {
		return [32]byte{}, interfaces.ContentID{}, err
	}
	blob := r.sealer.Seal(nonce, nonce, secret[:], commitment[:])

	id, err := r.secrets.Store(ctx, blob, interfaces.SecretType)
	if err != nil {
		return [32]byte{}, interfaces.ContentID{}, fmt.Errorf("storing secret: %w", err)
	}
	return commitment, id, nil
}

// Request submits a new request and returns its draw.
func (r *Requester) Request(ctx context.Context, opts RequestOptions) (*Draw, *ledger.Receipt, error) {
	draw, tx, err := r.NewRequest(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	receipt, err := r.ledger.Submit(ctx, tx)
	if err != nil {
		return nil, nil, fmt.Errorf("submitting request: %w", err)
	}

	r.log.Info("randomness requested", "record", draw.Record, "function", draw.Function, "strategy", draw.Strategy, "slot", receipt.Slot)
	return draw, receipt, nil
}

// RevealTransaction builds the reveal for a seeded draw. The record state is
// checked before the secret is fetched, so a secret is never exposed for a
// record that cannot be revealed.
func (r *Requester) RevealTransaction(ctx context.Context, draw *Draw) (*ledger.Transaction, error) {
	rec, err := r.ledger.Record(ctx, draw.Record)
	if err != nil {
		return nil, err
	}
	switch {
	case rec.State == record.StateRevealed:
		return nil, interfaces.ErrAlreadyRevealed
	case rec.State != record.StateSeeded:
		return nil, fmt.Errorf("%w: record is %s", interfaces.ErrNotSeeded, rec.State)
	case rec.Strategy != draw.Strategy:
		return nil, fmt.Errorf("%w: record uses %s", interfaces.ErrStrategyMismatch, rec.Strategy)
	}

	switch rec.Strategy {
	case record.StrategyPreimage:
		secret, err := r.fetchSecret(ctx, draw.SecretID, rec.Commitment)
		if err != nil {
			return nil, err
		}
		return ledger.NewTransaction(program.NewRevealPreimageInstruction(draw.Record, secret)), nil
	default:
		signature := ed25519.Sign(draw.RecordKey, randomness.SeedMessage(rec.Seed))
		return ledger.NewTransaction(program.NewRevealSignatureInstructions(draw.Record, rec.Seed, [randomness.SignatureSize]byte(signature))...), nil
	}
}

func (r *Requester) fetchSecret(ctx context.Context, id interfaces.ContentID, commitment [32]byte) ([randomness.SecretSize]byte, error) {
	var secret [randomness.SecretSize]byte
	if r.secrets == nil || r.sealer == nil {
		return secret, ErrNoSecretStore
	}

	blob, err := r.secrets.Fetch(ctx, id, interfaces.SecretType)
	if err != nil {
		return secret, fmt.Errorf("fetching secret: %w", err)
	}
	data, err := r.openSecret(blob, commitment)
	if err != nil {
		return secret, err
	}
	if len(data) != randomness.SecretSize {
		return secret, fmt.Errorf("%w: secret of %d bytes", ErrSecretMismatch, len(data))
	}
	copy(secret[:], data)
	if randomness.Commitment(secret) != commitment {
		return secret, ErrSecretMismatch
	}
	return secret, nil
}

func (r *Requester) openSecret(blob []byte, commitment [32]byte) ([]byte, error) {
	n := r.sealer.NonceSize()
	if len(blob) < n+r.sealer.Overhead() {
		return nil, fmt.Errorf("%w: sealed secret of %d bytes", ErrSecretMismatch, len(blob))
	}
	data, err := r.sealer.Open(nil, blob[:n], blob[n:], commitment[:])
	if err != nil {
		return nil, fmt.Errorf("%w: opening sealed secret: %w", ErrSecretMismatch, err)
	}
	return data, nil
}

// Reveal submits the reveal and returns the revealed record.
func (r *Requester) Reveal(ctx context.Context, draw *Draw) (*record.Record, error) {
	tx, err := r.RevealTransaction(ctx, draw)
	if err != nil {
		return nil, err
	}
	if _, err := r.ledger.Submit(ctx, tx); err != nil {
		return nil, fmt.Errorf("submitting reveal: %w", err)
	}

	rec, err := r.ledger.Record(ctx, draw.Record)
	if err != nil {
		return nil, err
	}
	r.log.Info("randomness revealed", "record", draw.Record, "result", fmt.Sprintf("%x", rec.Result))
	return rec, nil
}
