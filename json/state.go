package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fwojciec/keymap"
)

// Interface compliance check.
var _ keymap.StateStore = (*StateFile)(nil)

// envelope is the v1 wire format for persisted client state.
type envelope struct {
	Version     int       `json:"version"`
	Token       string    `json:"access_token,omitempty"`
	LoggedIn    bool      `json:"is_logged_in"`
	IssuedAt    time.Time `json:"issued_at,omitzero"`
	ExpiresAt   time.Time `json:"token_expiry,omitzero"`
	AnonymousID string    `json:"anonymous_id,omitempty"`
}

// MarshalState serializes PersistedState in v1 envelope format.
func MarshalState(s keymap.PersistedState) ([]byte, error) {
	return json.MarshalIndent(envelope{
		Version:     1,
		Token:       s.Token,
		LoggedIn:    s.LoggedIn,
		IssuedAt:    s.IssuedAt,
		ExpiresAt:   s.ExpiresAt,
		AnonymousID: s.AnonymousID,
	}, "", "  ")
}

// UnmarshalState deserializes PersistedState from v1 envelope format.
func UnmarshalState(data []byte) (keymap.PersistedState, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return keymap.PersistedState{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != 1 {
		return keymap.PersistedState{}, fmt.Errorf("unsupported envelope version: %d", env.Version)
	}
	return keymap.PersistedState{
		Token:       env.Token,
		LoggedIn:    env.LoggedIn,
		IssuedAt:    env.IssuedAt,
		ExpiresAt:   env.ExpiresAt,
		AnonymousID: env.AnonymousID,
	}, nil
}

// StateFile stores PersistedState in a single JSON file. Clearing removes
// the file, so every persisted key disappears at once.
type StateFile struct {
	path string
	mu   sync.Mutex
}

// NewStateFile returns a StateFile backed by path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Path returns the backing file path.
func (f *StateFile) Path() string { return f.path }

// Load reads the persisted state. A missing file yields the zero value.
func (f *StateFile) Load(_ context.Context) (keymap.PersistedState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return keymap.PersistedState{}, nil
	}
	if err != nil {
		return keymap.PersistedState{}, fmt.Errorf("read file: %w", err)
	}
	return UnmarshalState(data)
}

// Save writes the state atomically, creating parent directories as needed.
func (f *StateFile) Save(_ context.Context, s keymap.PersistedState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := MarshalState(s)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Clear removes the state file. Clearing an absent file is not an error.
func (f *StateFile) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}
