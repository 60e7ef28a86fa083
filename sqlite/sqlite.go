// Package sqlite implements keymap.StateStore on a SQLite key-value table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fwojciec/keymap"
	_ "modernc.org/sqlite"
)

// Interface compliance check.
var _ keymap.StateStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS client_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Persisted keys. They are written and cleared together.
const (
	keyAccessToken = "access_token"
	keyLoggedIn    = "is_logged_in"
	keyIssuedAt    = "issued_at"
	keyExpiry      = "token_expiry"
	keyAnonymousID = "anonymous_id"
)

// Store persists client state in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persisted state, or the zero value when none is stored.
func (s *Store) Load(ctx context.Context) (keymap.PersistedState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM client_state`)
	if err != nil {
		return keymap.PersistedState{}, fmt.Errorf("load state: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return keymap.PersistedState{}, fmt.Errorf("scan state: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return keymap.PersistedState{}, fmt.Errorf("load state: %w", err)
	}
	return decode(values)
}

// Save replaces the persisted state in one transaction.
func (s *Store) Save(ctx context.Context, state keymap.PersistedState) error {
	return s.replace(ctx, encode(state))
}

// Clear removes every persisted key in one transaction.
func (s *Store) Clear(ctx context.Context) error {
	return s.replace(ctx, nil)
}

func (s *Store) replace(ctx context.Context, values map[string]string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM client_state`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO client_state (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write state %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

func encode(state keymap.PersistedState) map[string]string {
	values := make(map[string]string)
	if state.Token != "" {
		values[keyAccessToken] = state.Token
	}
	if state.LoggedIn {
		values[keyLoggedIn] = "true"
	}
	if !state.IssuedAt.IsZero() {
		values[keyIssuedAt] = state.IssuedAt.UTC().Format(time.RFC3339Nano)
	}
	if !state.ExpiresAt.IsZero() {
		values[keyExpiry] = state.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	if state.AnonymousID != "" {
		values[keyAnonymousID] = state.AnonymousID
	}
	return values
}

func decode(values map[string]string) (keymap.PersistedState, error) {
	var state keymap.PersistedState
	state.Token = values[keyAccessToken]
	state.AnonymousID = values[keyAnonymousID]
	if v, ok := values[keyLoggedIn]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return keymap.PersistedState{}, fmt.Errorf("decode %s: %w", keyLoggedIn, err)
		}
		state.LoggedIn = b
	}
	for k, dst := range map[string]*time.Time{keyIssuedAt: &state.IssuedAt, keyExpiry: &state.ExpiresAt} {
		v, ok := values[k]
		if !ok {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return keymap.PersistedState{}, fmt.Errorf("decode %s: %w", k, err)
		}
		*dst = t
	}
	return state, nil
}
