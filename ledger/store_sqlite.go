package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/ruteri/attested-randomness/interfaces"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	key   BLOB PRIMARY KEY,
	owner BLOB NOT NULL,
	data  BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS accounts_owner ON accounts (owner);
`

// SQLiteStore persists accounts in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and migrates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(key interfaces.Identity) (Account, error) {
	var owner, data []byte
	err := s.db.QueryRow(`SELECT owner, data FROM accounts WHERE key = ?`, key[:]).Scan(&owner, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("reading account %s: %w", key, err)
	}

	ownerID, err := interfaces.NewIdentityFromBytes(owner)
	if err != nil {
		return Account{}, fmt.Errorf("corrupt owner for account %s: %w", key, err)
	}
	return Account{Owner: ownerID, Data: data}, nil
}

func (s *SQLiteStore) Commit(writes map[interfaces.Identity]*Account) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning commit: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for key, acct := range writes {
		if acct == nil {
			if _, err = tx.Exec(`DELETE FROM accounts WHERE key = ?`, key[:]); err != nil {
				return fmt.Errorf("deleting account %s: %w", key, err)
			}
			continue
		}
		data := acct.Data
		if data == nil {
			data = []byte{}
		}
		_, err = tx.Exec(`INSERT INTO accounts (key, owner, data) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET owner = excluded.owner, data = excluded.data`,
			key[:], acct.Owner[:], data)
		if err != nil {
			return fmt.Errorf("writing account %s: %w", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing accounts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(owner interfaces.Identity) ([]interfaces.Identity, error) {
	rows, err := s.db.Query(`SELECT key FROM accounts WHERE owner = ? ORDER BY key`, owner[:])
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var keys []interfaces.Identity
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		key, err := interfaces.NewIdentityFromBytes(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
