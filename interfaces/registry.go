package interfaces

import "context"

// AttestationRegistry is the trust-delegation collaborator consulted before
// a seed is written.
type AttestationRegistry interface {
	// IsRegisteredSigner reports whether signer is the enclave identity
	// currently registered for the attested function.
	IsRegisteredSigner(ctx context.Context, functionID Identity, signer Identity) (bool, error)

	// RequestFunction returns the attested function an external request was
	// queued against. It fails for requests that are not runnable at slot.
	RequestFunction(ctx context.Context, requestID Identity, slot uint64) (Identity, error)
}
