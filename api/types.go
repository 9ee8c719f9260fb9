package api

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/attested-randomness/functions"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/record"
)

// LedgerProvider is the ledger as seen by off-ledger participants: oracles
// polling for work and requesters driving their draws.
type LedgerProvider interface {
	Submit(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error)
	Account(ctx context.Context, key interfaces.Identity) (*AccountResponse, error)
	Record(ctx context.Context, key interfaces.Identity) (*record.Record, error)
	Function(ctx context.Context, key interfaces.Identity) (*functions.Function, error)
	PendingRequests(ctx context.Context, function interfaces.Identity) ([]functions.PendingRequest, error)
	Slot(ctx context.Context) (*SlotResponse, error)
}

// AccountResponse is the JSON form of a ledger account.
type AccountResponse struct {
	Key   interfaces.Identity `json:"key"`
	Owner interfaces.Identity `json:"owner"`
	Data  hexutil.Bytes       `json:"data"`
}

// RecordResponse is a decoded randomness record.
type RecordResponse struct {
	Key    interfaces.Identity `json:"key"`
	Record *record.Record      `json:"record"`
}

// FunctionResponse is a decoded attested function.
type FunctionResponse struct {
	Key      interfaces.Identity `json:"key"`
	Function *functions.Function `json:"function"`
}

// SlotResponse describes the ledger's current slot.
type SlotResponse struct {
	Slot uint64        `json:"slot"`
	Hash hexutil.Bytes `json:"hash"`
}

// ErrorResponse is the body of every non-2xx API response. Protocol errors
// carry their name in Error and their stable code in Code.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Code   uint32 `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ShareSubmission is the body of the admin share endpoint.
type ShareSubmission struct {
	Admin     interfaces.Identity `json:"admin"`
	Share     hexutil.Bytes       `json:"share"`
	Signature hexutil.Bytes       `json:"signature"`
}

// AdminStatusResponse reports whether an oracle's KMS is unlocked.
type AdminStatusResponse struct {
	State string `json:"state"`
}
