package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/attested-randomness/interfaces"
)

var (
	// ErrInstructionIndex is returned for out-of-range instruction lookups.
	ErrInstructionIndex = errors.New("instruction index out of range")
	// ErrCallDepth is returned when cross-program invocation nests too deep.
	ErrCallDepth = errors.New("cross-program invocation depth exceeded")
	// ErrPrivilegeEscalation is returned when an invocation claims a signer or
	// writable account the transaction did not grant.
	ErrPrivilegeEscalation = errors.New("cross-program invocation privilege escalation")
	// ErrMissingAccount is returned when a program touches an account its
	// instruction did not list.
	ErrMissingAccount = errors.New("account not listed in instruction")
)

// MaxInvokeDepth bounds nested cross-program invocation.
const MaxInvokeDepth = 4

// InvokeContext is the capability set handed to a program while it executes
// one instruction. Every write goes to the transaction overlay and becomes
// visible to other transactions only if the whole transaction succeeds.
type InvokeContext struct {
	context.Context

	exec  *execution
	ix    Instruction
	depth int
}

// ProgramID returns the executing program.
func (c *InvokeContext) ProgramID() interfaces.Identity {
	return c.ix.ProgramID
}

// Instruction returns the instruction being executed.
func (c *InvokeContext) Instruction() Instruction {
	return c.ix
}

// Slot returns the slot the transaction executes in.
func (c *InvokeContext) Slot() uint64 {
	return c.exec.slot
}

// UnixTimestamp returns the transaction's timestamp. Timestamps never
// decrease across transactions.
func (c *InvokeContext) UnixTimestamp() int64 {
	return c.exec.timestamp
}

// SlotHashes returns the encoded recent slot hashes, newest first.
// See SlotHashesNewestOffset for the position of the newest hash.
func (c *InvokeContext) SlotHashes() []byte {
	return c.exec.slotHashes
}

// InstructionIndex returns the position of the current top-level instruction.
func (c *InvokeContext) InstructionIndex() int {
	return c.exec.index
}

// InstructionAt returns a copy of the top-level instruction at index i. An
// ed25519 verify instruction that failed verification is returned as its
// verification error.
func (c *InvokeContext) InstructionAt(i int) (Instruction, error) {
	if i < 0 || i >= len(c.exec.tx.Instructions) {
		return Instruction{}, fmt.Errorf("%w: %d", ErrInstructionIndex, i)
	}
	if err, ok := c.exec.verifyErrs[i]; ok {
		return Instruction{}, fmt.Errorf("instruction %d: %w", i, err)
	}
	ix := c.exec.tx.Instructions[i]
	return Instruction{
		ProgramID: ix.ProgramID,
		Accounts:  append([]AccountMeta(nil), ix.Accounts...),
		Data:      append([]byte(nil), ix.Data...),
	}, nil
}

func (c *InvokeContext) meta(key interfaces.Identity) (AccountMeta, bool) {
	var found AccountMeta
	ok := false
	for _, meta := range c.ix.Accounts {
		if meta.Key == key {
			found.Key = key
			found.IsSigner = found.IsSigner || meta.IsSigner
			found.IsWritable = found.IsWritable || meta.IsWritable
			ok = true
		}
	}
	return found, ok
}

// IsSigner reports whether key signed the transaction and is marked as a
// signer by the current instruction.
func (c *InvokeContext) IsSigner(key interfaces.Identity) bool {
	meta, ok := c.meta(key)
	return ok && meta.IsSigner && c.exec.signers[key]
}

// Account reads an account listed by the current instruction.
func (c *InvokeContext) Account(key interfaces.Identity) (Account, error) {
	if _, ok := c.meta(key); !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrMissingAccount, key)
	}
	acct, err := c.exec.overlay.get(key)
	if err != nil {
		return Account{}, fmt.Errorf("%s: %w", key, err)
	}
	return acct, nil
}

// AccountExists reports whether an account listed by the instruction exists.
func (c *InvokeContext) AccountExists(key interfaces.Identity) bool {
	_, err := c.Account(key)
	return err == nil
}

func (c *InvokeContext) writable(key interfaces.Identity) error {
	meta, ok := c.meta(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingAccount, key)
	}
	if !meta.IsWritable {
		return fmt.Errorf("%w: %s", ErrReadonlyAccount, key)
	}
	return nil
}

// CreateAccount allocates a zeroed account owned by the executing program.
// The new account's key must sign, proving nobody else controls it.
func (c *InvokeContext) CreateAccount(key interfaces.Identity, space int) error {
	if err := c.writable(key); err != nil {
		return err
	}
	if !c.IsSigner(key) {
		return fmt.Errorf("%w: new account %s", ErrMissingSignature, key)
	}
	if _, err := c.exec.overlay.get(key); err == nil {
		return fmt.Errorf("%w: %s", ErrAccountInUse, key)
	}
	c.exec.overlay.put(key, Account{Owner: c.ProgramID(), Data: make([]byte, space)})
	return nil
}

// SetData replaces the data of an account owned by the executing program.
func (c *InvokeContext) SetData(key interfaces.Identity, data []byte) error {
	if err := c.writable(key); err != nil {
		return err
	}
	acct, err := c.exec.overlay.get(key)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if acct.Owner != c.ProgramID() {
		return fmt.Errorf("%w: %s", ErrNotOwner, key)
	}
	c.exec.overlay.put(key, Account{Owner: acct.Owner, Data: data})
	return nil
}

// CloseAccount deletes an account owned by the executing program.
func (c *InvokeContext) CloseAccount(key interfaces.Identity) error {
	if err := c.writable(key); err != nil {
		return err
	}
	acct, err := c.exec.overlay.get(key)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if acct.Owner != c.ProgramID() {
		return fmt.Errorf("%w: %s", ErrNotOwner, key)
	}
	c.exec.overlay.remove(key)
	return nil
}

// Emit records a program event. Events are published only after commit.
func (c *InvokeContext) Emit(name string, data []byte) {
	c.exec.events = append(c.exec.events, Event{
		Program: c.ProgramID(),
		Name:    name,
		Data:    append([]byte(nil), data...),
	})
}

// Invoke calls another program within the same transaction. The callee may
// only receive signer and writable privileges the caller itself holds.
func (c *InvokeContext) Invoke(ix Instruction) error {
	if c.depth+1 > MaxInvokeDepth {
		return ErrCallDepth
	}
	for _, meta := range ix.Accounts {
		held, ok := c.meta(meta.Key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.Key)
		}
		if meta.IsSigner && !(held.IsSigner && c.exec.signers[meta.Key]) {
			return fmt.Errorf("%w: signer %s", ErrPrivilegeEscalation, meta.Key)
		}
		if meta.IsWritable && !held.IsWritable {
			return fmt.Errorf("%w: writable %s", ErrPrivilegeEscalation, meta.Key)
		}
	}
	return c.exec.invoke(c.Context, ix, c.depth+1)
}
