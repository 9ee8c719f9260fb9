package functions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
)

// Registry answers attestation questions from functions program accounts.
type Registry struct {
	accounts ledger.AccountReader
}

var _ interfaces.AttestationRegistry = (*Registry)(nil)

// NewRegistry reads through accounts: a Ledger for committed state, or an
// InvokeContext for the state visible inside a transaction.
func NewRegistry(accounts ledger.AccountReader) *Registry {
	return &Registry{accounts: accounts}
}

// IsRegisteredSigner reports whether signer is the enclave key currently
// registered for functionID. Unknown functions have no signers.
func (r *Registry) IsRegisteredSigner(_ context.Context, functionID, signer interfaces.Identity) (bool, error) {
	fn, err := loadFunction(r.accounts, functionID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !fn.EnclaveSigner.IsZero() && fn.EnclaveSigner == signer, nil
}

// RequestFunction returns the function a request was issued to, provided the
// request is runnable at slot.
func (r *Registry) RequestFunction(_ context.Context, requestID interfaces.Identity, slot uint64) (interfaces.Identity, error) {
	req, err := loadRequest(r.accounts, requestID)
	if err != nil {
		return interfaces.Identity{}, err
	}
	if !req.Runnable(slot) {
		return interfaces.Identity{}, fmt.Errorf("%w: %s at slot %d (valid after %d, expires %d)", ErrRequestNotRunnable, req.StatusAt(slot), slot, req.ValidAfterSlot, req.ExpirationSlot)
	}
	return req.Function, nil
}

// Function returns a decoded function account.
func (r *Registry) Function(key interfaces.Identity) (*Function, error) {
	return loadFunction(r.accounts, key)
}

// Request returns a decoded request account.
func (r *Registry) Request(key interfaces.Identity) (*Request, error) {
	return loadRequest(r.accounts, key)
}

// PendingRequest is a runnable request and its key.
type PendingRequest struct {
	Key     interfaces.Identity `json:"key"`
	Request *Request            `json:"request"`
}

// QueueReader lists work for an oracle.
type QueueReader struct {
	accounts ledger.AccountLister
}

func NewQueueReader(accounts ledger.AccountLister) *QueueReader {
	return &QueueReader{accounts: accounts}
}

// PendingRequests lists requests for function that are runnable at slot.
func (q *QueueReader) PendingRequests(_ context.Context, function interfaces.Identity, slot uint64) ([]PendingRequest, error) {
	keys, err := q.accounts.AccountsOwnedBy(ProgramID)
	if err != nil {
		return nil, err
	}

	var pending []PendingRequest
	for _, key := range keys {
		acct, err := q.accounts.Account(key)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !IsRequestAccount(acct.Data) {
			continue
		}
		req, err := DecodeRequest(acct.Data)
		if err != nil {
			return nil, err
		}
		if req.Function != function || !req.Runnable(slot) {
			continue
		}
		pending = append(pending, PendingRequest{Key: key, Request: req})
	}
	return pending, nil
}
