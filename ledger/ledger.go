package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/metrics"
)

var (
	// ErrUnknownProgram is returned when an instruction targets an unregistered program.
	ErrUnknownProgram = errors.New("unknown program")
	// ErrProgramRegistered is returned when registering a program id twice.
	ErrProgramRegistered = errors.New("program already registered")
)

// Program is on-ledger logic addressed by its id.
type Program interface {
	ID() interfaces.Identity
	Execute(ictx *InvokeContext, ix Instruction) error
}

// Event is a notification emitted by a program during a committed transaction.
type Event struct {
	Program   interfaces.Identity `json:"program"`
	Name      string              `json:"name"`
	Data      hexutil.Bytes       `json:"data"`
	Slot      uint64              `json:"slot"`
	Timestamp int64               `json:"timestamp"`
	TxID      hexutil.Bytes       `json:"tx_id"`
}

// Receipt describes a committed transaction.
type Receipt struct {
	TxID      hexutil.Bytes `json:"tx_id"`
	Slot      uint64        `json:"slot"`
	Timestamp int64         `json:"timestamp"`
	Events    []Event       `json:"events"`
}

// EventHandler receives committed events in commit order. Handlers run on the
// submitting goroutine and must not block.
type EventHandler func(Event)

// Ledger executes transactions atomically against an AccountStore.
type Ledger struct {
	store AccountStore
	clock Clock
	log   *slog.Logger
	locks *lockTable

	programsMu sync.RWMutex
	programs   map[interfaces.Identity]Program

	mu            sync.Mutex
	slot          uint64
	slotHashes    SlotHashes
	lastTimestamp int64

	// commitMu serializes commit and event publication so subscribers see
	// events in commit order.
	commitMu    sync.Mutex
	subscribers []EventHandler
}

// New creates a ledger at slot zero. The genesis slot hash is derived from
// the zero slot so the slot-hash buffer is never empty.
func New(store AccountStore, clock Clock, log *slog.Logger) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	genesis := sha256.Sum256([]byte("genesis"))
	return &Ledger{
		store:      store,
		clock:      clock,
		log:        log,
		locks:      newLockTable(),
		programs:   make(map[interfaces.Identity]Program),
		slotHashes: SlotHashes{}.push(0, genesis),
	}
}

// Register makes a program callable.
func (l *Ledger) Register(p Program) error {
	l.programsMu.Lock()
	defer l.programsMu.Unlock()

	if _, ok := l.programs[p.ID()]; ok || p.ID() == Ed25519ProgramID {
		return fmt.Errorf("%w: %s", ErrProgramRegistered, p.ID())
	}
	l.programs[p.ID()] = p
	return nil
}

func (l *Ledger) program(id interfaces.Identity) (Program, bool) {
	l.programsMu.RLock()
	defer l.programsMu.RUnlock()
	p, ok := l.programs[id]
	return p, ok
}

// Subscribe registers a handler for committed events.
func (l *Ledger) Subscribe(h EventHandler) {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	l.subscribers = append(l.subscribers, h)
}

// Slot returns the current slot.
func (l *Ledger) Slot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot
}

// SlotHashes returns a copy of the recent slot hashes, newest first.
func (l *Ledger) SlotHashes() SlotHashes {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append(SlotHashes(nil), l.slotHashes...)
}

// AdvanceSlot moves to the next slot, recording hash for it.
func (l *Ledger) AdvanceSlot(hash [32]byte) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.slot++
	l.slotHashes = l.slotHashes.push(l.slot, hash)
	metrics.CurrentSlot.Set(float64(l.slot))
	l.log.Debug("advanced slot", "slot", l.slot, "hash", hexutil.Encode(hash[:]))
	return l.slot
}

// Account returns a committed account.
func (l *Ledger) Account(key interfaces.Identity) (Account, error) {
	return l.store.Get(key)
}

// AccountsOwnedBy lists committed accounts owned by a program.
func (l *Ledger) AccountsOwnedBy(owner interfaces.Identity) ([]interfaces.Identity, error) {
	return l.store.List(owner)
}

// environment snapshots the slot state and assigns a monotonic timestamp.
func (l *Ledger) environment() (uint64, int64, []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.clock.Now().Unix()
	if ts < l.lastTimestamp {
		ts = l.lastTimestamp
	}
	l.lastTimestamp = ts
	return l.slot, ts, l.slotHashes.Encode()
}

// Submit verifies and executes tx. Either every instruction succeeds and all
// writes commit together, or nothing is written and no event is published.
func (l *Ledger) Submit(ctx context.Context, tx *Transaction) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	label := "unknown"
	if len(tx.Instructions) > 0 {
		label = programLabel(tx.Instructions[len(tx.Instructions)-1].ProgramID)
	}

	receipt, err := l.submit(ctx, tx)
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues(label, "failed").Inc()
		l.log.Debug("transaction failed", "program", label, "err", err)
		return nil, err
	}
	metrics.TransactionsTotal.WithLabelValues(label, "committed").Inc()
	return receipt, nil
}

func (l *Ledger) submit(ctx context.Context, tx *Transaction) (*Receipt, error) {
	id, err := tx.ID()
	if err != nil {
		return nil, err
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, err
	}
	verifyErrs := make(map[int]error)
	for i, ix := range tx.Instructions {
		if ix.ProgramID != Ed25519ProgramID {
			continue
		}
		if err := verifyEd25519Instruction(ix); err != nil {
			verifyErrs[i] = err
		}
	}

	release := l.locks.acquire(tx.WritableKeys())
	defer release()

	slot, ts, slotHashes := l.environment()
	exec := &execution{
		ledger:     l,
		tx:         tx,
		overlay:    newOverlay(l.store),
		slot:       slot,
		timestamp:  ts,
		slotHashes: slotHashes,
		signers:    make(map[interfaces.Identity]bool),
		verifyErrs: verifyErrs,
	}
	for _, signer := range tx.Signers() {
		exec.signers[signer] = true
	}

	for i, ix := range tx.Instructions {
		exec.index = i
		if err := exec.invoke(ctx, ix, 0); err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	// uninspected verify failures still reject the transaction
	for i := range tx.Instructions {
		if err, ok := verifyErrs[i]; ok {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
	}

	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	if err := l.store.Commit(exec.overlay.writes); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	receipt := &Receipt{TxID: id[:], Slot: slot, Timestamp: ts, Events: exec.events}
	for i := range receipt.Events {
		receipt.Events[i].Slot = slot
		receipt.Events[i].Timestamp = ts
		receipt.Events[i].TxID = id[:]
	}
	for _, ev := range receipt.Events {
		for _, h := range l.subscribers {
			h(ev)
		}
	}

	l.log.Debug("transaction committed", "tx", hexutil.Encode(id[:]), "slot", slot, "events", len(receipt.Events))
	return receipt, nil
}

// execution is the per-transaction state shared by all invocations.
type execution struct {
	ledger     *Ledger
	tx         *Transaction
	overlay    *overlay
	slot       uint64
	timestamp  int64
	slotHashes []byte
	signers    map[interfaces.Identity]bool
	verifyErrs map[int]error
	index      int
	events     []Event
}

func (e *execution) invoke(ctx context.Context, ix Instruction, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ix.ProgramID == Ed25519ProgramID {
		// verified up front, failures surface via InstructionAt or after execution
		return nil
	}
	p, ok := e.ledger.program(ix.ProgramID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, ix.ProgramID)
	}
	return p.Execute(&InvokeContext{Context: ctx, exec: e, ix: ix, depth: depth}, ix)
}

var programNames sync.Map

// NameProgram sets the metrics label used for a program id.
func NameProgram(id interfaces.Identity, name string) {
	programNames.Store(id, name)
}

func programLabel(id interfaces.Identity) string {
	if name, ok := programNames.Load(id); ok {
		return name.(string)
	}
	if id == Ed25519ProgramID {
		return "ed25519"
	}
	return "other"
}

// lockTable hands out per-account mutexes, acquired in key order.
type lockTable struct {
	mu    sync.Mutex
	locks map[interfaces.Identity]*accountLock
}

type accountLock struct {
	sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[interfaces.Identity]*accountLock)}
}

func (t *lockTable) acquire(keys []interfaces.Identity) func() {
	sorted := append([]interfaces.Identity(nil), keys...)
	sortIdentities(sorted)
	sorted = dedupSorted(sorted)

	t.mu.Lock()
	held := make([]*accountLock, len(sorted))
	for i, key := range sorted {
		lk, ok := t.locks[key]
		if !ok {
			lk = &accountLock{}
			t.locks[key] = lk
		}
		lk.refs++
		held[i] = lk
	}
	t.mu.Unlock()

	for _, lk := range held {
		lk.Lock()
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, key := range sorted {
			held[i].refs--
			if held[i].refs == 0 {
				delete(t.locks, key)
			}
		}
	}
}

func dedupSorted(keys []interfaces.Identity) []interfaces.Identity {
	out := keys[:0]
	for i, key := range keys {
		if i > 0 && bytes.Equal(key[:], keys[i-1][:]) {
			continue
		}
		out = append(out, key)
	}
	return out
}

// InstructionDiscriminator is the 8-byte tag prefixing instruction data.
func InstructionDiscriminator(name string) [8]byte {
	h := sha256.Sum256([]byte("global:" + name))
	return [8]byte(h[:8])
}

// AccountDiscriminator is the 8-byte tag prefixing account data.
func AccountDiscriminator(name string) [8]byte {
	h := sha256.Sum256([]byte("account:" + name))
	return [8]byte(h[:8])
}
