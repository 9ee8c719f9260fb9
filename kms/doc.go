// Package kms manages the keys oracles sign seeds with.
//
// # SimpleKMS
//
// SimpleKMS derives ed25519 keys from a master key with HKDF-SHA256. The
// enclave signer of a function is derived from the function identity, so an
// oracle restarted with the same master key keeps the signer it registered.
// With an attestation provider configured, EnclaveSigner also returns a quote
// whose report data binds the signer to the function.
//
//	simpleKMS, err := kms.NewSimpleKMS(masterKey)
//	if err != nil {
//	    return err
//	}
//	key, quote, err := simpleKMS.
//	    WithAttestationProvider(provider).
//	    EnclaveSigner(function)
//
// # ShamirKMS
//
// ShamirKMS keeps the master key split between administrators with Shamir's
// Secret Sharing. SplitMasterKey produces one share per administrator; a
// recovering KMS accepts ed25519-signed shares and reconstructs the master
// key in memory once the threshold is reached.
package kms
