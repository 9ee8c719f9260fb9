// Package chain assembles the execution environment: a ledger with the
// functions and randomness programs registered and instrumented.
package chain

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"

	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/functions"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/program"
)

// Submitter submits signed transactions, in process or over RPC.
type Submitter interface {
	Submit(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error)
}

// NewLedger creates a ledger running both programs. Attestation quotes are
// checked with verifier.
func NewLedger(store ledger.AccountStore, clock ledger.Clock, verifier functions.QuoteVerifier, log *slog.Logger) (*ledger.Ledger, error) {
	l := ledger.New(store, clock, log)
	if err := l.Register(functions.NewProgram(verifier, log)); err != nil {
		return nil, err
	}
	if err := l.Register(program.NewProgram(program.FunctionsRegistry, log)); err != nil {
		return nil, err
	}
	program.Instrument(l, log)
	return l, nil
}

// CreateFunction creates a fresh function account expecting measurement and
// returns its key. The authority signs and controls the function.
func CreateFunction(ctx context.Context, submitter Submitter, authority ed25519.PrivateKey, measurement cryptoutils.Measurement) (interfaces.Identity, error) {
	function, functionKey, err := cryptoutils.GenerateKey()
	if err != nil {
		return interfaces.Identity{}, err
	}

	tx := ledger.NewTransaction(functions.NewFunctionInitInstruction(function, cryptoutils.IdentityOf(authority), measurement))
	if err := tx.Sign(functionKey, authority); err != nil {
		return interfaces.Identity{}, err
	}
	if _, err := submitter.Submit(ctx, tx); err != nil {
		return interfaces.Identity{}, fmt.Errorf("creating function: %w", err)
	}
	return function, nil
}
