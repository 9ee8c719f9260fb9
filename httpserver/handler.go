package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/attested-randomness/api"
	"github.com/ruteri/attested-randomness/functions"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/program"
	"github.com/ruteri/attested-randomness/record"
)

// maxBodySize bounds transaction submissions.
const maxBodySize = 64 * 1024

// Ledger is the ledger surface exposed over HTTP. *ledger.Ledger implements it.
type Ledger interface {
	ledger.AccountLister
	Submit(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error)
	Slot() uint64
	SlotHashes() ledger.SlotHashes
}

// Handler serves the ledger RPC API.
type Handler struct {
	ledger Ledger
	log    *slog.Logger
}

func NewHandler(l Ledger, log *slog.Logger) *Handler {
	return &Handler{ledger: l, log: log}
}

func (h *Handler) identityParam(w http.ResponseWriter, r *http.Request) (interfaces.Identity, bool) {
	key, err := interfaces.NewIdentityFromString(chi.URLParam(r, "key"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: fmt.Sprintf("invalid key: %v", err), Kind: interfaces.KindValidation.String()})
		return interfaces.Identity{}, false
	}
	return key, true
}

// HandleSubmitTransaction executes a signed transaction.
//
// URL format: POST /api/v1/transactions
// Request body: JSON ledger.Transaction
// Response: JSON ledger.Receipt
func (h *Handler) HandleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var tx ledger.Transaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&tx); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: fmt.Sprintf("invalid transaction: %v", err), Kind: interfaces.KindValidation.String()})
		return
	}

	receipt, err := h.ledger.Submit(r.Context(), &tx)
	if err != nil {
		h.log.Debug("transaction rejected", "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// HandleAccount returns a raw account.
//
// URL format: GET /api/v1/accounts/{key}
func (h *Handler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	key, ok := h.identityParam(w, r)
	if !ok {
		return
	}

	acct, err := h.ledger.Account(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AccountResponse{Key: key, Owner: acct.Owner, Data: acct.Data})
}

// HandleRecord returns a decoded randomness record.
//
// URL format: GET /api/v1/records/{key}
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	key, ok := h.identityParam(w, r)
	if !ok {
		return
	}

	acct, err := h.ledger.Account(key)
	if err != nil {
		writeError(w, err)
		return
	}
	if acct.Owner != program.ProgramID {
		writeError(w, fmt.Errorf("%w: %s is not a record", ledger.ErrAccountNotFound, key))
		return
	}

	rec, err := record.Decode(acct.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RecordResponse{Key: key, Record: rec})
}

// HandleFunction returns a decoded attested function.
//
// URL format: GET /api/v1/functions/{key}
func (h *Handler) HandleFunction(w http.ResponseWriter, r *http.Request) {
	key, ok := h.identityParam(w, r)
	if !ok {
		return
	}

	fn, err := functions.NewRegistry(h.ledger).Function(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FunctionResponse{Key: key, Function: fn})
}

// HandlePendingRequests lists requests the function's oracle may answer now.
//
// URL format: GET /api/v1/functions/{key}/requests
func (h *Handler) HandlePendingRequests(w http.ResponseWriter, r *http.Request) {
	key, ok := h.identityParam(w, r)
	if !ok {
		return
	}

	pending, err := functions.NewQueueReader(h.ledger).PendingRequests(r.Context(), key, h.ledger.Slot())
	if err != nil {
		writeError(w, err)
		return
	}
	if pending == nil {
		pending = []functions.PendingRequest{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// HandleSlot returns the current slot and its hash.
//
// URL format: GET /api/v1/slot
func (h *Handler) HandleSlot(w http.ResponseWriter, r *http.Request) {
	hashes := h.ledger.SlotHashes()
	resp := api.SlotResponse{}
	if len(hashes) > 0 {
		resp.Slot = hashes[0].Slot
		resp.Hash = hashes[0].Hash[:]
	}
	writeJSON(w, http.StatusOK, resp)
}
