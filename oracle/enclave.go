package oracle

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"

	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/functions"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
)

// Enclave is the oracle's attested identity.
type Enclave struct {
	Function interfaces.Identity
	Key      ed25519.PrivateKey
	Provider cryptoutils.AttestationProvider
	// Quote, when set, is submitted instead of attesting with Provider.
	Quote []byte
	Log   *slog.Logger
}

// Signer returns the enclave's public identity.
func (e *Enclave) Signer() interfaces.Identity {
	return cryptoutils.IdentityOf(e.Key)
}

// Register attests the enclave key for the function and submits the
// registration.
func (e *Enclave) Register(ctx context.Context, submitter Submitter) error {
	signer := e.Signer()
	quote := e.Quote
	if quote == nil {
		var err error
		quote, err = e.Provider.Attest(cryptoutils.EnclaveReportData(e.Function, signer))
		if err != nil {
			return fmt.Errorf("attesting enclave key: %w", err)
		}
	}

	tx := ledger.NewTransaction(functions.NewRegisterEnclaveInstruction(e.Function, signer, quote))
	if err := tx.Sign(e.Key); err != nil {
		return err
	}
	if _, err := submitter.Submit(ctx, tx); err != nil {
		return fmt.Errorf("registering enclave key: %w", err)
	}

	e.Log.Info("enclave registered", "function", e.Function, "signer", signer, "attestation", e.Provider.AttestationType().StringID)
	return nil
}

// LedgerSource reads the request queue of an in-process ledger.
type LedgerSource struct {
	Ledger *ledger.Ledger
}

func (s LedgerSource) PendingRequests(ctx context.Context, function interfaces.Identity) ([]functions.PendingRequest, error) {
	return functions.NewQueueReader(s.Ledger).PendingRequests(ctx, function, s.Ledger.Slot())
}
