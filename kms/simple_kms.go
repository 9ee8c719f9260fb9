package kms

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/interfaces"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const derivationDomain = "attested-randomness:"

var (
	ErrMasterKeyTooShort = errors.New("master key must be at least 32 bytes")
	ErrNoAttestation     = errors.New("no attestation provider configured")
)

// SimpleKMS derives oracle signing keys deterministically from a master key.
// Restarting an oracle with the same master key yields the same enclave
// signer, so a registered signer survives restarts.
type SimpleKMS struct {
	masterKey           []byte
	attestationProvider cryptoutils.AttestationProvider
}

// NewSimpleKMS creates a SimpleKMS with the given master key.
func NewSimpleKMS(masterKey []byte) (*SimpleKMS, error) {
	if len(masterKey) < 32 {
		return nil, ErrMasterKeyTooShort
	}
	return &SimpleKMS{masterKey: append([]byte(nil), masterKey...)}, nil
}

// WithAttestationProvider returns a copy of the KMS that attests enclave signers.
func (k *SimpleKMS) WithAttestationProvider(provider cryptoutils.AttestationProvider) *SimpleKMS {
	return &SimpleKMS{
		masterKey:           k.masterKey,
		attestationProvider: provider,
	}
}

// DeriveKey derives an ed25519 key for the given purpose.
func (k *SimpleKMS) DeriveKey(purpose string) (ed25519.PrivateKey, error) {
	reader := hkdf.New(sha256.New, k.masterKey, nil, []byte(derivationDomain+purpose))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("deriving key for %s: %w", purpose, err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// DeriveAEAD derives an XChaCha20-Poly1305 cipher for the given purpose.
func (k *SimpleKMS) DeriveAEAD(purpose string) (cipher.AEAD, error) {
	reader := hkdf.New(sha256.New, k.masterKey, nil, []byte(derivationDomain+"aead:"+purpose))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving cipher for %s: %w", purpose, err)
	}
	return chacha20poly1305.NewX(key)
}

// EnclaveSigner derives the signing key of the function's oracle and attests
// it, binding the signer to the function through the quote's report data.
func (k *SimpleKMS) EnclaveSigner(function interfaces.Identity) (ed25519.PrivateKey, []byte, error) {
	if k.attestationProvider == nil {
		return nil, nil, ErrNoAttestation
	}

	key, err := k.DeriveKey("enclave-signer:" + function.String())
	if err != nil {
		return nil, nil, err
	}

	quote, err := k.attestationProvider.Attest(cryptoutils.EnclaveReportData(function, cryptoutils.IdentityOf(key)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", cryptoutils.ErrAttestationFailed, err)
	}
	return key, quote, nil
}
