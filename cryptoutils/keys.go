package cryptoutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/ruteri/attested-randomness/interfaces"
)

// GenerateKey creates a fresh ed25519 keypair.
func GenerateKey() (interfaces.Identity, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return interfaces.Identity{}, nil, err
	}
	return interfaces.IdentityFromPublicKey(pub), priv, nil
}

// IdentityOf returns the identity of a private key.
func IdentityOf(priv ed25519.PrivateKey) interfaces.Identity {
	return interfaces.IdentityFromPublicKey(priv.Public().(ed25519.PublicKey))
}

// EncodePrivateKeyPEM encodes an ed25519 key as PKCS8 PEM.
func EncodePrivateKeyPEM(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DecodePrivateKeyPEM parses a PKCS8 PEM ed25519 key.
func DecodePrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.New("invalid private key: not in PEM format or not a private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key structure: %w", err)
	}

	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type: %T", key)
	}
	return priv, nil
}

// ReadKeyFile loads a PEM key from disk.
func ReadKeyFile(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePrivateKeyPEM(data)
}

// WriteKeyFile stores a PEM key readable only by the owner.
func WriteKeyFile(path string, priv ed25519.PrivateKey) error {
	data, err := EncodePrivateKeyPEM(priv)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
