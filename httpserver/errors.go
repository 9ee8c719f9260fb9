package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ruteri/attested-randomness/api"
	"github.com/ruteri/attested-randomness/functions"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
)

// ledger and functions failures that are the caller's fault
var badRequestErrors = []error{
	ledger.ErrEmptyTransaction,
	ledger.ErrTransactionTooLarge,
	ledger.ErrMissingSignature,
	ledger.ErrInvalidSignature,
	ledger.ErrMalformedEd25519Instruction,
	ledger.ErrUnknownProgram,
	ledger.ErrAccountInUse,
	ledger.ErrReadonlyAccount,
	ledger.ErrNotOwner,
	ledger.ErrMissingAccount,
	ledger.ErrPrivilegeEscalation,
	ledger.ErrCallDepth,
	ledger.ErrInstructionIndex,
	functions.ErrMeasurementMismatch,
	functions.ErrExpirationTooShort,
	functions.ErrParamsTooLong,
	functions.ErrCloseNotAllowed,
	functions.ErrInvalidAccount,
}

// statusFor maps an error to its HTTP status and response body.
func statusFor(err error) (int, api.ErrorResponse) {
	if pe, ok := interfaces.ProtocolErrorOf(err); ok {
		resp := api.ErrorResponse{Error: pe.Name, Kind: pe.Kind.String(), Code: pe.Code, Detail: err.Error()}
		switch pe.Kind {
		case interfaces.KindValidation:
			return http.StatusBadRequest, resp
		case interfaces.KindState:
			return http.StatusConflict, resp
		case interfaces.KindAuthorization:
			return http.StatusForbidden, resp
		case interfaces.KindIntegrity:
			return http.StatusUnprocessableEntity, resp
		}
	}

	resp := api.ErrorResponse{Error: err.Error(), Kind: interfaces.KindUnknown.String()}
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return http.StatusNotFound, resp
	}
	if errorsIsAny(err, badRequestErrors...) {
		return http.StatusBadRequest, resp
	}
	return http.StatusInternalServerError, resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, resp := statusFor(err)
	writeJSON(w, status, resp)
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
