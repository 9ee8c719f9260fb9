package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errCounterFailed = errors.New("counter failed")

const (
	opCreate byte = iota
	opIncrement
	opFail
	opInvoke
	opReadCompanion
)

// counterProgram keeps a little-endian u64 counter in its accounts.
type counterProgram struct {
	id        interfaces.Identity
	companion []Instruction
}

func (p *counterProgram) ID() interfaces.Identity { return p.id }

func (p *counterProgram) Execute(ictx *InvokeContext, ix Instruction) error {
	if len(ix.Data) == 0 {
		return errors.New("empty instruction")
	}
	switch ix.Data[0] {
	case opCreate:
		return ictx.CreateAccount(ix.Accounts[0].Key, 8)
	case opIncrement:
		acct, err := ictx.Account(ix.Accounts[0].Key)
		if err != nil {
			return err
		}
		n := binary.LittleEndian.Uint64(acct.Data) + 1
		if err := ictx.SetData(ix.Accounts[0].Key, binary.LittleEndian.AppendUint64(nil, n)); err != nil {
			return err
		}
		ictx.Emit("Incremented", acct.Data)
		return nil
	case opFail:
		return errCounterFailed
	case opInvoke:
		inner := Instruction{ProgramID: p.id, Accounts: ix.Accounts, Data: ix.Data[1:]}
		return ictx.Invoke(inner)
	case opReadCompanion:
		prev, err := ictx.InstructionAt(ictx.InstructionIndex() - 1)
		if err != nil {
			return err
		}
		p.companion = append(p.companion, prev)
		return nil
	}
	return errors.New("unknown op")
}

func newTestLedger(t *testing.T) (*Ledger, *counterProgram) {
	t.Helper()
	l := New(NewMemoryStore(), NewManualClock(time.Unix(1_700_000_000, 0)), slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := &counterProgram{id: interfaces.IdentityFromSeed("test:counter")}
	require.NoError(t, l.Register(p))
	return l, p
}

func newKey(t *testing.T) (interfaces.Identity, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return interfaces.IdentityFromPublicKey(pub), priv
}

func counterIx(p *counterProgram, key interfaces.Identity, signer bool, data ...byte) Instruction {
	return Instruction{
		ProgramID: p.id,
		Accounts:  []AccountMeta{{Key: key, IsSigner: signer, IsWritable: true}},
		Data:      data,
	}
}

func submit(t *testing.T, l *Ledger, tx *Transaction, keys ...ed25519.PrivateKey) (*Receipt, error) {
	t.Helper()
	require.NoError(t, tx.Sign(keys...))
	return l.Submit(context.Background(), tx)
}

func counterValue(t *testing.T, l *Ledger, key interfaces.Identity) uint64 {
	t.Helper()
	acct, err := l.Account(key)
	require.NoError(t, err)
	return binary.LittleEndian.Uint64(acct.Data)
}

func TestSubmitCommitsWritesAndEvents(t *testing.T) {
	l, p := newTestLedger(t)
	key, priv := newKey(t)

	var events []Event
	l.Subscribe(func(ev Event) { events = append(events, ev) })

	receipt, err := submit(t, l, NewTransaction(
		counterIx(p, key, true, opCreate),
		counterIx(p, key, true, opIncrement),
	), priv)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), counterValue(t, l, key))
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, "Incremented", receipt.Events[0].Name)
	assert.Equal(t, p.id, receipt.Events[0].Program)
	assert.Equal(t, receipt.Events, events)

	owned, err := l.AccountsOwnedBy(p.id)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Identity{key}, owned)
}

func TestFailedTransactionCommitsNothing(t *testing.T) {
	l, p := newTestLedger(t)
	key, priv := newKey(t)

	published := 0
	l.Subscribe(func(Event) { published++ })

	_, err := submit(t, l, NewTransaction(
		counterIx(p, key, true, opCreate),
		counterIx(p, key, true, opIncrement),
		counterIx(p, key, true, opFail),
	), priv)
	require.ErrorIs(t, err, errCounterFailed)

	_, err = l.Account(key)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Zero(t, published)
}

func TestSignatures(t *testing.T) {
	l, p := newTestLedger(t)
	key, priv := newKey(t)
	_, other := newKey(t)

	_, err := l.Submit(context.Background(), NewTransaction(counterIx(p, key, true, opCreate)))
	assert.ErrorIs(t, err, ErrMissingSignature)

	tx := NewTransaction(counterIx(p, key, true, opCreate))
	require.NoError(t, tx.Sign(other))
	tx.Signatures[0].Signer = key
	_, err = l.Submit(context.Background(), tx)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = l.Submit(context.Background(), &Transaction{})
	assert.ErrorIs(t, err, ErrEmptyTransaction)

	// creating an account requires its key to sign
	_, err = submit(t, l, NewTransaction(counterIx(p, key, false, opCreate)))
	assert.ErrorIs(t, err, ErrMissingSignature)

	_, err = submit(t, l, NewTransaction(counterIx(p, key, true, opCreate)), priv)
	require.NoError(t, err)
	_, err = submit(t, l, NewTransaction(counterIx(p, key, true, opCreate)), priv)
	assert.ErrorIs(t, err, ErrAccountInUse)
}

func TestWritePermissions(t *testing.T) {
	l, p := newTestLedger(t)
	key, priv := newKey(t)
	_, err := submit(t, l, NewTransaction(counterIx(p, key, true, opCreate)), priv)
	require.NoError(t, err)

	readonly := counterIx(p, key, false, opIncrement)
	readonly.Accounts[0].IsWritable = false
	_, err = submit(t, l, NewTransaction(readonly))
	assert.ErrorIs(t, err, ErrReadonlyAccount)

	intruder := &counterProgram{id: interfaces.IdentityFromSeed("test:intruder")}
	require.NoError(t, l.Register(intruder))
	_, err = submit(t, l, NewTransaction(counterIx(intruder, key, false, opIncrement)))
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = submit(t, l, NewTransaction(Instruction{ProgramID: interfaces.IdentityFromSeed("nope"), Data: []byte{0}}))
	assert.ErrorIs(t, err, ErrUnknownProgram)

	assert.ErrorIs(t, l.Register(intruder), ErrProgramRegistered)
}

func TestInvoke(t *testing.T) {
	l, p := newTestLedger(t)
	key, priv := newKey(t)
	_, err := submit(t, l, NewTransaction(counterIx(p, key, true, opCreate)), priv)
	require.NoError(t, err)

	_, err = submit(t, l, NewTransaction(counterIx(p, key, false, opInvoke, opIncrement)))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counterValue(t, l, key))

	_, err = submit(t, l, NewTransaction(counterIx(p, key, false, opInvoke, opInvoke, opInvoke, opInvoke, opInvoke, opIncrement)))
	assert.ErrorIs(t, err, ErrCallDepth)
	assert.Equal(t, uint64(1), counterValue(t, l, key))
}

func TestEd25519InstructionAndInspection(t *testing.T) {
	l, p := newTestLedger(t)
	key, priv := newKey(t)
	signerID, signerKey := newKey(t)
	_, err := submit(t, l, NewTransaction(counterIx(p, key, true, opCreate)), priv)
	require.NoError(t, err)

	msg := []byte("hello")
	verify := NewEd25519Instruction(signerID, msg, ed25519.Sign(signerKey, msg))

	_, err = submit(t, l, NewTransaction(verify, counterIx(p, key, false, opReadCompanion)))
	require.NoError(t, err)
	require.Len(t, p.companion, 1)
	assert.Equal(t, verify.Encode(), p.companion[0].Encode())

	pub, gotMsg, sig, err := ParseEd25519Instruction(p.companion[0])
	require.NoError(t, err)
	assert.Equal(t, signerID, pub)
	assert.Equal(t, msg, gotMsg)
	assert.Len(t, sig, ed25519.SignatureSize)

	bad := NewEd25519Instruction(signerID, []byte("other"), ed25519.Sign(signerKey, msg))
	_, err = submit(t, l, NewTransaction(bad, counterIx(p, key, false, opIncrement)))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, uint64(0), counterValue(t, l, key))

	_, err = submit(t, l, NewTransaction(counterIx(p, key, false, opReadCompanion)))
	assert.ErrorIs(t, err, ErrInstructionIndex)
}

func TestFailedVerifyInstructionOrdering(t *testing.T) {
	l, p := newTestLedger(t)
	key, priv := newKey(t)
	signerID, signerKey := newKey(t)
	_, err := submit(t, l, NewTransaction(counterIx(p, key, true, opCreate)), priv)
	require.NoError(t, err)

	bad := NewEd25519Instruction(signerID, []byte("other"), ed25519.Sign(signerKey, []byte("hello")))

	_, err = submit(t, l, NewTransaction(bad, counterIx(p, key, false, opFail)))
	assert.ErrorIs(t, err, errCounterFailed)
	assert.NotErrorIs(t, err, ErrInvalidSignature)

	_, err = submit(t, l, NewTransaction(bad, counterIx(p, key, false, opReadCompanion)))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.ErrorIs(t, err, interfaces.ErrSigVerifyFailed)
	assert.Empty(t, p.companion)
	assert.Equal(t, uint64(0), counterValue(t, l, key))
}

func TestTimestampsAreMonotonic(t *testing.T) {
	clock := NewManualClock(time.Unix(2_000, 0))
	l := New(NewMemoryStore(), clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := &counterProgram{id: interfaces.IdentityFromSeed("test:counter")}
	require.NoError(t, l.Register(p))

	key, priv := newKey(t)
	first, err := submit(t, l, NewTransaction(counterIx(p, key, true, opCreate)), priv)
	require.NoError(t, err)

	clock.Set(time.Unix(1_000, 0))
	second, err := submit(t, l, NewTransaction(counterIx(p, key, false, opIncrement)))
	require.NoError(t, err)
	assert.Equal(t, first.Timestamp, second.Timestamp)

	clock.Advance(time.Hour * 24)
	third, err := submit(t, l, NewTransaction(counterIx(p, key, false, opIncrement)))
	require.NoError(t, err)
	assert.Greater(t, third.Timestamp, second.Timestamp)
}

func TestSlotHashes(t *testing.T) {
	l, _ := newTestLedger(t)
	require.Len(t, l.SlotHashes(), 1)

	var last [32]byte
	for i := 0; i < MaxSlotHashes+10; i++ {
		last = sha256.Sum256(binary.LittleEndian.AppendUint64(nil, uint64(i)))
		l.AdvanceSlot(last)
	}

	hashes := l.SlotHashes()
	assert.Len(t, hashes, MaxSlotHashes)
	assert.Equal(t, uint64(MaxSlotHashes+10), l.Slot())
	assert.Equal(t, l.Slot(), hashes[0].Slot)
	assert.Greater(t, hashes[0].Slot, hashes[1].Slot)

	encoded := hashes.Encode()
	assert.Equal(t, last[:], encoded[SlotHashesNewestOffset:SlotHashesNewestOffset+32])

	decoded, err := DecodeSlotHashes(encoded)
	require.NoError(t, err)
	assert.Equal(t, hashes, decoded)

	_, err = DecodeSlotHashes(encoded[:len(encoded)-1])
	assert.ErrorIs(t, err, ErrMalformedSlotHashes)
}

func TestConcurrentSubmitsSerializePerAccount(t *testing.T) {
	l, p := newTestLedger(t)
	key, priv := newKey(t)
	_, err := submit(t, l, NewTransaction(counterIx(p, key, true, opCreate)), priv)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Submit(context.Background(), NewTransaction(counterIx(p, key, false, opIncrement)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(n), counterValue(t, l, key))
}

func TestTransactionEncoding(t *testing.T) {
	key, priv := newKey(t)
	ix := Instruction{
		ProgramID: interfaces.IdentityFromSeed("p"),
		Accounts:  []AccountMeta{{Key: key, IsSigner: true, IsWritable: true}},
		Data:      []byte{1, 2, 3},
	}
	tx := NewTransaction(ix)
	require.NoError(t, tx.Sign(priv))
	require.NoError(t, tx.Sign(priv))
	assert.Len(t, tx.Signatures, 1)
	require.NoError(t, tx.VerifySignatures())

	encoded, err := tx.Encode()
	require.NoError(t, err)
	// count + (signer + signature) + count + program + count + meta + len + data
	assert.Len(t, encoded, 1+32+64+1+32+1+33+2+3)

	tx.Instructions[0].Data = []byte{9}
	assert.ErrorIs(t, tx.VerifySignatures(), ErrInvalidSignature)
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	owner := interfaces.IdentityFromSeed("owner")
	a, b := interfaces.IdentityFromSeed("a"), interfaces.IdentityFromSeed("b")

	_, err = store.Get(a)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	require.NoError(t, store.Commit(map[interfaces.Identity]*Account{
		a: {Owner: owner, Data: []byte{1}},
		b: {Owner: owner},
	}))
	acct, err := store.Get(a)
	require.NoError(t, err)
	assert.Equal(t, Account{Owner: owner, Data: []byte{1}}, acct)

	keys, err := store.List(owner)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, store.Commit(map[interfaces.Identity]*Account{
		a: {Owner: owner, Data: []byte{2}},
		b: nil,
	}))
	acct, err = store.Get(a)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, acct.Data)
	_, err = store.Get(b)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	l := New(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := &counterProgram{id: interfaces.IdentityFromSeed("test:counter")}
	require.NoError(t, l.Register(p))
	key, priv := newKey(t)
	_, err = submit(t, l, NewTransaction(counterIx(p, key, true, opCreate), counterIx(p, key, true, opIncrement)), priv)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counterValue(t, l, key))
}
