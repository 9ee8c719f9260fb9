package ledger

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/attested-randomness/interfaces"
)

var (
	// ErrEmptyTransaction is returned for transactions without instructions.
	ErrEmptyTransaction = errors.New("transaction has no instructions")
	// ErrTransactionTooLarge is returned when a transaction exceeds encoding limits.
	ErrTransactionTooLarge = errors.New("transaction too large")
	// ErrMissingSignature is returned when a required signer did not sign.
	ErrMissingSignature = errors.New("missing signature")
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
)

const (
	maxInstructions = math.MaxUint8
	maxAccounts     = math.MaxUint8
	maxDataLen      = math.MaxUint16

	flagSigner   = 1 << 0
	flagWritable = 1 << 1
)

// AccountMeta names an account an instruction touches.
type AccountMeta struct {
	Key        interfaces.Identity `json:"key"`
	IsSigner   bool                `json:"signer"`
	IsWritable bool                `json:"writable"`
}

// Instruction is a single program call.
type Instruction struct {
	ProgramID interfaces.Identity `json:"program_id"`
	Accounts  []AccountMeta       `json:"accounts"`
	Data      hexutil.Bytes       `json:"data"`
}

// Encode returns the canonical encoding of the instruction. Two instructions
// are equal exactly when their encodings are.
func (ix Instruction) Encode() []byte {
	buf := make([]byte, 0, 32+1+len(ix.Accounts)*33+2+len(ix.Data))
	buf = append(buf, ix.ProgramID[:]...)
	buf = append(buf, byte(len(ix.Accounts)))
	for _, meta := range ix.Accounts {
		buf = append(buf, meta.Key[:]...)
		var flags byte
		if meta.IsSigner {
			flags |= flagSigner
		}
		if meta.IsWritable {
			flags |= flagWritable
		}
		buf = append(buf, flags)
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ix.Data)))
	return append(buf, ix.Data...)
}

func (ix Instruction) validate() error {
	if len(ix.Accounts) > maxAccounts {
		return fmt.Errorf("%w: %d accounts", ErrTransactionTooLarge, len(ix.Accounts))
	}
	if len(ix.Data) > maxDataLen {
		return fmt.Errorf("%w: %d data bytes", ErrTransactionTooLarge, len(ix.Data))
	}
	return nil
}

// Signature is one signer's ed25519 signature over the transaction message.
type Signature struct {
	Signer    interfaces.Identity `json:"signer"`
	Signature hexutil.Bytes       `json:"signature"`
}

// Transaction is an atomic batch of instructions.
type Transaction struct {
	Instructions []Instruction `json:"instructions"`
	Signatures   []Signature   `json:"signatures"`
}

// NewTransaction creates an unsigned transaction.
func NewTransaction(ixs ...Instruction) *Transaction {
	return &Transaction{Instructions: ixs}
}

// Message returns the bytes every signer signs.
func (tx *Transaction) Message() ([]byte, error) {
	if len(tx.Instructions) == 0 {
		return nil, ErrEmptyTransaction
	}
	if len(tx.Instructions) > maxInstructions {
		return nil, fmt.Errorf("%w: %d instructions", ErrTransactionTooLarge, len(tx.Instructions))
	}

	msg := []byte{byte(len(tx.Instructions))}
	for _, ix := range tx.Instructions {
		if err := ix.validate(); err != nil {
			return nil, err
		}
		msg = append(msg, ix.Encode()...)
	}
	return msg, nil
}

// ID is the hash of the transaction message.
func (tx *Transaction) ID() ([32]byte, error) {
	msg, err := tx.Message()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(msg), nil
}

// Encode returns the serialized transaction: signatures followed by the message.
func (tx *Transaction) Encode() ([]byte, error) {
	msg, err := tx.Message()
	if err != nil {
		return nil, err
	}
	if len(tx.Signatures) > maxAccounts {
		return nil, fmt.Errorf("%w: %d signatures", ErrTransactionTooLarge, len(tx.Signatures))
	}

	buf := []byte{byte(len(tx.Signatures))}
	for _, sig := range tx.Signatures {
		buf = append(buf, sig.Signer[:]...)
		buf = append(buf, sig.Signature...)
	}
	return append(buf, msg...), nil
}

// Signers returns every key marked as signer, in first-seen order.
func (tx *Transaction) Signers() []interfaces.Identity {
	seen := make(map[interfaces.Identity]struct{})
	var signers []interfaces.Identity
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if !meta.IsSigner {
				continue
			}
			if _, ok := seen[meta.Key]; ok {
				continue
			}
			seen[meta.Key] = struct{}{}
			signers = append(signers, meta.Key)
		}
	}
	return signers
}

// WritableKeys returns every key marked writable, deduplicated.
func (tx *Transaction) WritableKeys() []interfaces.Identity {
	seen := make(map[interfaces.Identity]struct{})
	var keys []interfaces.Identity
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if !meta.IsWritable {
				continue
			}
			if _, ok := seen[meta.Key]; ok {
				continue
			}
			seen[meta.Key] = struct{}{}
			keys = append(keys, meta.Key)
		}
	}
	return keys
}

// Sign adds (or replaces) signatures for the given keys.
func (tx *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	msg, err := tx.Message()
	if err != nil {
		return err
	}

	for _, key := range keys {
		signer := interfaces.IdentityFromPublicKey(key.Public().(ed25519.PublicKey))
		sig := ed25519.Sign(key, msg)

		replaced := false
		for i := range tx.Signatures {
			if tx.Signatures[i].Signer == signer {
				tx.Signatures[i].Signature = sig
				replaced = true
			}
		}
		if !replaced {
			tx.Signatures = append(tx.Signatures, Signature{Signer: signer, Signature: sig})
		}
	}
	return nil
}

// VerifySignatures checks that every required signer produced a valid
// signature over the message.
func (tx *Transaction) VerifySignatures() error {
	msg, err := tx.Message()
	if err != nil {
		return err
	}

	sigs := make(map[interfaces.Identity][]byte, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		sigs[sig.Signer] = sig.Signature
	}

	for _, signer := range tx.Signers() {
		sig, ok := sigs[signer]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSignature, signer)
		}
		if len(sig) != ed25519.SignatureSize || !ed25519.Verify(signer.PublicKey(), msg, sig) {
			return fmt.Errorf("%w: %s", ErrInvalidSignature, signer)
		}
	}
	return nil
}
