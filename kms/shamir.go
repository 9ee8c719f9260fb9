package kms

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/attested-randomness/interfaces"
)

var (
	ErrAlreadyUnlocked   = errors.New("KMS is already unlocked")
	ErrLocked            = errors.New("KMS is locked - need more shares to unlock")
	ErrUnknownAdmin      = errors.New("unregistered admin key")
	ErrInvalidShareSig   = errors.New("invalid share signature")
	ErrInvalidShamirConf = errors.New("invalid shamir configuration")
)

// ShamirKMS keeps the master key split between administrators. The key is
// reconstructed in memory once a threshold of signed shares arrives, after
// which the unlocked SimpleKMS becomes available.
type ShamirKMS struct {
	mu             sync.RWMutex
	unlocked       *SimpleKMS
	threshold      int
	receivedShares map[interfaces.Identity][]byte
	admins         map[interfaces.Identity]struct{}
}

// ShamirConfig lists the share holders and how many of them must cooperate.
type ShamirConfig struct {
	Threshold int
	Admins    []interfaces.Identity
}

func (c ShamirConfig) validate() error {
	if c.Threshold < 2 {
		return fmt.Errorf("%w: threshold must be at least 2", ErrInvalidShamirConf)
	}
	if len(c.Admins) < c.Threshold {
		return fmt.Errorf("%w: total shares must be at least equal to threshold", ErrInvalidShamirConf)
	}
	return nil
}

// SplitMasterKey splits the master key into one share per admin, in the
// order of config.Admins.
func SplitMasterKey(masterKey []byte, config ShamirConfig) ([][]byte, error) {
	if len(masterKey) < 32 {
		return nil, ErrMasterKeyTooShort
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	shares, err := shamir.Split(masterKey, len(config.Admins), config.Threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split master key: %w", err)
	}
	return shares, nil
}

// NewShamirKMSRecovery creates a locked ShamirKMS waiting for shares.
func NewShamirKMSRecovery(config ShamirConfig) (*ShamirKMS, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	k := &ShamirKMS{
		threshold:      config.Threshold,
		receivedShares: make(map[interfaces.Identity][]byte),
		admins:         make(map[interfaces.Identity]struct{}, len(config.Admins)),
	}
	for _, admin := range config.Admins {
		k.admins[admin] = struct{}{}
	}
	return k, nil
}

// SignShare signs a share with an administrator's key for submission.
func SignShare(share []byte, admin ed25519.PrivateKey) []byte {
	return ed25519.Sign(admin, share)
}

// SubmitShare accepts a share signed by a registered admin. A second share
// from the same admin replaces the first.
func (k *ShamirKMS) SubmitShare(admin interfaces.Identity, share, signature []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.unlocked != nil {
		return ErrAlreadyUnlocked
	}
	if _, found := k.admins[admin]; !found {
		return ErrUnknownAdmin
	}
	if !ed25519.Verify(admin.PublicKey(), share, signature) {
		return ErrInvalidShareSig
	}

	k.receivedShares[admin] = append([]byte(nil), share...)
	return k.tryReconstruct()
}

func (k *ShamirKMS) tryReconstruct() error {
	if len(k.receivedShares) < k.threshold {
		return nil
	}

	shares := make([][]byte, 0, len(k.receivedShares))
	for _, share := range k.receivedShares {
		shares = append(shares, share)
	}

	masterKey, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct master key: %w", err)
	}
	defer wipeBytes(masterKey)

	unlocked, err := NewSimpleKMS(masterKey)
	if err != nil {
		return err
	}
	k.unlocked = unlocked

	for admin, share := range k.receivedShares {
		wipeBytes(share)
		delete(k.receivedShares, admin)
	}
	return nil
}

// IsUnlocked reports whether the master key has been reconstructed.
func (k *ShamirKMS) IsUnlocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.unlocked != nil
}

// SimpleKMS returns the unlocked KMS.
func (k *ShamirKMS) SimpleKMS() (*SimpleKMS, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.unlocked == nil {
		return nil, ErrLocked
	}
	return k.unlocked, nil
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
