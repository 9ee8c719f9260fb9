package interfaces

import "errors"

// ErrorKind classifies protocol errors.
type ErrorKind uint8

const (
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown ErrorKind = iota
	// KindValidation covers malformed input and zero identities.
	KindValidation
	// KindState covers double-transition guards and out-of-order phases.
	KindState
	// KindAuthorization covers attestation, preimage and signature mismatches.
	KindAuthorization
	// KindIntegrity covers companion instruction absence or mismatch.
	KindIntegrity
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// ProtocolError is a named, coded protocol failure. Values are compared by
// identity, so errors.Is works against the exported sentinels.
type ProtocolError struct {
	Kind ErrorKind
	Code uint32
	Name string
}

// Error returns the error name.
func (e *ProtocolError) Error() string {
	return e.Name
}

var (
	// ErrInvalidParams is returned for malformed or incomplete routing parameters.
	ErrInvalidParams = &ProtocolError{Kind: KindValidation, Code: 6000, Name: "InvalidParams"}
	// ErrZeroIdentity is returned where a real identity is required.
	ErrZeroIdentity = &ProtocolError{Kind: KindValidation, Code: 6001, Name: "ZeroIdentity"}
	// ErrInvalidInstruction is returned for undecodable instruction data or accounts.
	ErrInvalidInstruction = &ProtocolError{Kind: KindValidation, Code: 6002, Name: "InvalidInstruction"}
	// ErrStrategyMismatch is returned when a record is revealed with the wrong strategy.
	ErrStrategyMismatch = &ProtocolError{Kind: KindValidation, Code: 6003, Name: "StrategyMismatch"}
	// ErrInvalidTimestamp is returned when a phase timestamp would go backwards or be zero.
	ErrInvalidTimestamp = &ProtocolError{Kind: KindValidation, Code: 6004, Name: "InvalidTimestamp"}

	// ErrAlreadySeeded guards the seed phase.
	ErrAlreadySeeded = &ProtocolError{Kind: KindState, Code: 6100, Name: "RequestAlreadySeeded"}
	// ErrAlreadyRevealed guards the reveal phase.
	ErrAlreadyRevealed = &ProtocolError{Kind: KindState, Code: 6101, Name: "RequestAlreadyRevealed"}
	// ErrNotRequested is returned when a record never completed its request phase.
	ErrNotRequested = &ProtocolError{Kind: KindState, Code: 6102, Name: "RequestNotRequested"}
	// ErrNotSeeded is returned when revealing a record that has no seed yet.
	ErrNotSeeded = &ProtocolError{Kind: KindState, Code: 6103, Name: "RequestNotSeeded"}

	// ErrUnauthorizedSigner is returned when the seed signer is not the
	// registered enclave identity of the function.
	ErrUnauthorizedSigner = &ProtocolError{Kind: KindAuthorization, Code: 6200, Name: "UnauthorizedSigner"}
	// ErrRequestMismatch is returned when the external request or function
	// accounts do not match the record.
	ErrRequestMismatch = &ProtocolError{Kind: KindAuthorization, Code: 6201, Name: "RequestMismatch"}
	// ErrKeyVerifyFailed is returned when a revealed preimage does not match the commitment.
	ErrKeyVerifyFailed = &ProtocolError{Kind: KindAuthorization, Code: 6202, Name: "KeyVerifyFailed"}
	// ErrSigVerifyFailed is returned when a reveal signature cannot be bound to the record.
	ErrSigVerifyFailed = &ProtocolError{Kind: KindAuthorization, Code: 6203, Name: "SigVerifyFailed"}

	// ErrCompanionMissing is returned when the signature-verification
	// instruction is absent from the transaction.
	ErrCompanionMissing = &ProtocolError{Kind: KindIntegrity, Code: 6300, Name: "CompanionMissing"}
	// ErrCompanionMismatch is returned when the signature-verification
	// instruction differs from the expected construction.
	ErrCompanionMismatch = &ProtocolError{Kind: KindIntegrity, Code: 6301, Name: "CompanionMismatch"}
)

// KindOf returns the kind of the first ProtocolError found in err's tree.
func KindOf(err error) ErrorKind {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// ProtocolErrorOf returns the first ProtocolError found in err's tree.
func ProtocolErrorOf(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

var protocolErrors = []*ProtocolError{
	ErrInvalidParams, ErrZeroIdentity, ErrInvalidInstruction, ErrStrategyMismatch, ErrInvalidTimestamp,
	ErrAlreadySeeded, ErrAlreadyRevealed, ErrNotRequested, ErrNotSeeded,
	ErrUnauthorizedSigner, ErrRequestMismatch, ErrKeyVerifyFailed, ErrSigVerifyFailed,
	ErrCompanionMissing, ErrCompanionMismatch,
}

// ProtocolErrorByCode returns the sentinel with the given code. Clients use
// it to restore errors received over the wire.
func ProtocolErrorByCode(code uint32) (*ProtocolError, bool) {
	for _, pe := range protocolErrors {
		if pe.Code == code {
			return pe, true
		}
	}
	return nil, false
}
