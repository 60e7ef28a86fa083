package mock

import (
	"context"

	"github.com/fwojciec/keymap"
)

// Feed is a test double for keymap.Feed.
type Feed struct {
	SubscribeFn func(ctx context.Context, projectID string) (keymap.Subscription, error)
}

// Subscribe delegates to SubscribeFn.
func (f *Feed) Subscribe(ctx context.Context, projectID string) (keymap.Subscription, error) {
	return f.SubscribeFn(ctx, projectID)
}

// Subscription is a test double for keymap.Subscription.
// NextFn panics when nil to catch missing setup. CloseFn is nil-safe
// because callers commonly defer Close.
type Subscription struct {
	NextFn  func() ([]keymap.Schema, error)
	CloseFn func() error
}

// Next delegates to NextFn.
func (s *Subscription) Next() ([]keymap.Schema, error) {
	return s.NextFn()
}

// Close delegates to CloseFn. Returns nil when CloseFn is not set.
func (s *Subscription) Close() error {
	if s.CloseFn == nil {
		return nil
	}
	return s.CloseFn()
}

// StateStore is a test double for keymap.StateStore.
type StateStore struct {
	LoadFn  func(ctx context.Context) (keymap.PersistedState, error)
	SaveFn  func(ctx context.Context, state keymap.PersistedState) error
	ClearFn func(ctx context.Context) error
}

// Load delegates to LoadFn.
func (s *StateStore) Load(ctx context.Context) (keymap.PersistedState, error) {
	return s.LoadFn(ctx)
}

// Save delegates to SaveFn.
func (s *StateStore) Save(ctx context.Context, state keymap.PersistedState) error {
	return s.SaveFn(ctx, state)
}

// Clear delegates to ClearFn.
func (s *StateStore) Clear(ctx context.Context) error {
	return s.ClearFn(ctx)
}
