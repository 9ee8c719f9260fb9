// Package interfaces defines the contracts and shared types of the attested
// randomness system, separating interface definitions from implementations.
//
// # Identities
//
// Identity is a 32-byte ed25519 public key. It names accounts on the ledger
// (randomness records, attested-function requests, programs) and signers
// (payers, enclave signers, record keys). Its text form is base58.
//
// # Protocol errors
//
// ProtocolError values form the error taxonomy shared by the on-ledger
// programs and the off-ledger services:
//
//   - Validation: malformed or missing routing parameters, zero identities,
//     malformed instructions.
//   - State: double-transition guards (RequestAlreadySeeded,
//     RequestAlreadyRevealed) and out-of-order phases.
//   - Authorization: attestation registry mismatch on seed, preimage or
//     signature mismatch on reveal.
//   - Integrity: companion signature-verification instruction absent or not
//     matching the expected construction.
//
// KindOf classifies any error wrapping a ProtocolError.
//
// # Attestation registry
//
// AttestationRegistry answers whether a signer is the enclave identity
// currently registered for an attested function, and which function an
// external request belongs to. The randomness program depends on it without
// embedding any registry bookkeeping.
//
// # Storage
//
// StorageBackend provides content-addressed storage for record snapshots,
// requester secrets and event logs across file, S3, IPFS and Vault backends.
package interfaces
