package oracle

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/functions"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/metrics"
	"github.com/ruteri/attested-randomness/program"
	"github.com/ruteri/attested-randomness/routing"
)

const (
	// DefaultMin and DefaultMax bound the sampled seed.
	DefaultMin uint32 = 0
	DefaultMax uint32 = 50_000_000

	// MaxPayloadSize is the serialized transaction budget of a seed call.
	MaxPayloadSize = 700
)

// ErrPayloadTooLarge is returned when a signed seed transaction exceeds the
// payload budget. It is a failure of the service, not of the request.
var ErrPayloadTooLarge = errors.New("seed payload too large")

// Submitter sends signed transactions to the ledger.
type Submitter interface {
	Submit(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error)
}

// RequestSource lists the runnable requests of a function.
type RequestSource interface {
	PendingRequests(ctx context.Context, function interfaces.Identity) ([]functions.PendingRequest, error)
}

// RunnerConfig configures a FunctionRunner.
type RunnerConfig struct {
	Function  interfaces.Identity
	SignerKey ed25519.PrivateKey
	Min       uint32
	Max       uint32
	// MaxPayloadSize of zero selects MaxPayloadSize.
	MaxPayloadSize int
}

// FunctionRunner answers single requests.
type FunctionRunner struct {
	cfg       RunnerConfig
	signer    interfaces.Identity
	sampler   *Sampler
	submitter Submitter
	log       *slog.Logger
}

func NewFunctionRunner(cfg RunnerConfig, sampler *Sampler, submitter Submitter, log *slog.Logger) *FunctionRunner {
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = MaxPayloadSize
	}
	if HasModuloBias(cfg.Min, cfg.Max) {
		log.Debug("seed range does not divide 2^32, samples carry modulo bias", "min", cfg.Min, "max", cfg.Max)
	}
	return &FunctionRunner{
		cfg:       cfg,
		signer:    cryptoutils.IdentityOf(cfg.SignerKey),
		sampler:   sampler,
		submitter: submitter,
		log:       log,
	}
}

// Signer returns the enclave identity seeds are signed with.
func (r *FunctionRunner) Signer() interfaces.Identity {
	return r.signer
}

// BuildSeedTransaction decodes the request's routing parameters, samples a
// seed and returns the signed single-instruction transaction.
func (r *FunctionRunner) BuildSeedTransaction(req functions.PendingRequest) (*ledger.Transaction, uint32, error) {
	params, err := routing.Decode(req.Request.Params)
	if err != nil {
		return nil, 0, err
	}

	seed, err := r.sampler.Sample(r.cfg.Min, r.cfg.Max)
	if err != nil {
		return nil, 0, err
	}

	ix := program.NewSeedInstruction(program.SeedAccounts{
		Record:          params.RequestKey,
		Function:        r.cfg.Function,
		ExternalRequest: req.Key,
		EnclaveSigner:   r.signer,
	}, seed)
	ix.ProgramID = params.ProgramID

	tx := ledger.NewTransaction(ix)
	if err := tx.Sign(r.cfg.SignerKey); err != nil {
		return nil, 0, err
	}

	payload, err := tx.Encode()
	if err != nil {
		return nil, 0, err
	}
	if len(payload) > r.cfg.MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: %d bytes, budget %d", ErrPayloadTooLarge, len(payload), r.cfg.MaxPayloadSize)
	}
	return tx, seed, nil
}

// Fulfill answers one request. Nothing is retried; an unanswered request
// expires on the ledger.
func (r *FunctionRunner) Fulfill(ctx context.Context, req functions.PendingRequest) (uint32, error) {
	log := r.log.With("request", req.Key)

	tx, seed, err := r.BuildSeedTransaction(req)
	if err != nil {
		metrics.FulfillmentsTotal.WithLabelValues(fulfillmentResult(err)).Inc()
		log.Error("could not build seed transaction", "err", err)
		return 0, err
	}

	receipt, err := r.submitter.Submit(ctx, tx)
	if err != nil {
		metrics.FulfillmentsTotal.WithLabelValues(fulfillmentResult(err)).Inc()
		log.Warn("seed rejected", "err", err)
		return 0, err
	}

	metrics.FulfillmentsTotal.WithLabelValues("seeded").Inc()
	log.Info("request seeded", "seed", seed, "slot", receipt.Slot)
	return seed, nil
}

func fulfillmentResult(err error) string {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, interfaces.ErrInvalidParams):
		return "invalid_params"
	case errors.Is(err, interfaces.ErrAlreadySeeded):
		return "already_seeded"
	case interfaces.KindOf(err) == interfaces.KindAuthorization:
		return "unauthorized"
	default:
		return "error"
	}
}
