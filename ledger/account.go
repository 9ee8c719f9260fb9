package ledger

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/ruteri/attested-randomness/interfaces"
)

var (
	// ErrAccountNotFound is returned when an account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountInUse is returned when creating an account that already exists.
	ErrAccountInUse = errors.New("account already in use")
	// ErrReadonlyAccount is returned when writing an account not marked writable.
	ErrReadonlyAccount = errors.New("account is not writable")
	// ErrNotOwner is returned when a program writes an account it does not own.
	ErrNotOwner = errors.New("account not owned by program")
)

// Account is a piece of ledger state owned by a program.
type Account struct {
	Owner interfaces.Identity
	Data  []byte
}

func (a Account) clone() Account {
	return Account{Owner: a.Owner, Data: append([]byte(nil), a.Data...)}
}

// AccountReader reads accounts. Both Ledger (committed state) and
// InvokeContext (transaction overlay) implement it.
type AccountReader interface {
	Account(key interfaces.Identity) (Account, error)
}

// AccountLister also enumerates accounts by owner.
type AccountLister interface {
	AccountReader
	AccountsOwnedBy(owner interfaces.Identity) ([]interfaces.Identity, error)
}

// AccountStore persists committed accounts.
type AccountStore interface {
	// Get returns a committed account or ErrAccountNotFound.
	Get(key interfaces.Identity) (Account, error)

	// Commit applies all writes atomically. A nil entry deletes the account.
	Commit(writes map[interfaces.Identity]*Account) error

	// List returns the keys of every account owned by owner, sorted.
	List(owner interfaces.Identity) ([]interfaces.Identity, error)
}

// MemoryStore is an in-process AccountStore.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[interfaces.Identity]Account
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[interfaces.Identity]Account)}
}

func (s *MemoryStore) Get(key interfaces.Identity) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[key]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct.clone(), nil
}

func (s *MemoryStore) Commit(writes map[interfaces.Identity]*Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, acct := range writes {
		if acct == nil {
			delete(s.accounts, key)
			continue
		}
		s.accounts[key] = acct.clone()
	}
	return nil
}

func (s *MemoryStore) List(owner interfaces.Identity) ([]interfaces.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []interfaces.Identity
	for key, acct := range s.accounts {
		if acct.Owner == owner {
			keys = append(keys, key)
		}
	}
	sortIdentities(keys)
	return keys, nil
}

func sortIdentities(keys []interfaces.Identity) {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
}

// overlay is the copy-on-write view a transaction executes against.
type overlay struct {
	base   AccountStore
	writes map[interfaces.Identity]*Account
}

func newOverlay(base AccountStore) *overlay {
	return &overlay{base: base, writes: make(map[interfaces.Identity]*Account)}
}

func (o *overlay) get(key interfaces.Identity) (Account, error) {
	if acct, ok := o.writes[key]; ok {
		if acct == nil {
			return Account{}, ErrAccountNotFound
		}
		return acct.clone(), nil
	}
	return o.base.Get(key)
}

func (o *overlay) put(key interfaces.Identity, acct Account) {
	c := acct.clone()
	o.writes[key] = &c
}

func (o *overlay) remove(key interfaces.Identity) {
	o.writes[key] = nil
}
