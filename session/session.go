// Package session owns the client's authentication credential: issuing it,
// persisting it, expiring it and tearing it down.
//
// Expiry is a pure function of (now, ExpiresAt) evaluated on every read,
// plus one scheduled callback that tears the session down at ExpiresAt even
// if nobody reads it.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fwojciec/keymap"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// DefaultTTL applies when neither the caller nor the token specify a lifetime.
const DefaultTTL = 30 * time.Minute

// Interface compliance checks.
var (
	_ keymap.Gate        = (*Store)(nil)
	_ keymap.TokenSource = (*Store)(nil)
	_ keymap.Establisher = (*Store)(nil)
)

// Store is the sole owner and mutator of the session.
type Store struct {
	state      keymap.StateStore
	now        func() time.Time
	log        *zap.Logger
	defaultTTL time.Duration

	// persist serializes writes to state. It is taken before mu.
	persist sync.Mutex

	mu        sync.Mutex
	session   keymap.Session
	anonymous bool
	timer     *time.Timer
	gen       uint64 // invalidates timers scheduled for an earlier session
	listeners []func()
}

// Option configures a [Store].
type Option func(*Store)

// WithNow sets the clock. Useful for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithDefaultTTL sets the lifetime used when a token carries no exp claim.
func WithDefaultTTL(d time.Duration) Option {
	return func(s *Store) { s.defaultTTL = d }
}

// New creates a [Store] persisting through state.
func New(state keymap.StateStore, opts ...Option) *Store {
	s := &Store{
		state:      state,
		now:        time.Now,
		log:        zap.NewNop(),
		defaultTTL: DefaultTTL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Restore loads persisted state after a restart. A session whose expiry
// passed while the process was not running is torn down immediately;
// otherwise expiry is rescheduled for the remaining time. Partially
// persisted state is cleared.
func (s *Store) Restore(ctx context.Context) error {
	st, err := s.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session state: %w", err)
	}

	s.mu.Lock()
	switch {
	case st.Empty():
		s.mu.Unlock()
		return nil
	case st.AnonymousID == keymap.AnonymousID && st.Token == "":
		s.anonymous = true
		s.mu.Unlock()
		return nil
	case st.LoggedIn && st.Token != "" && !st.ExpiresAt.IsZero():
		s.stopTimerLocked()
		s.session = keymap.Session{Token: st.Token, IssuedAt: st.IssuedAt, ExpiresAt: st.ExpiresAt}
		s.anonymous = false
		s.mu.Unlock()
		s.ScheduleExpiry()
		return nil
	}
	s.mu.Unlock()

	s.log.Warn("clearing inconsistent session state")
	return s.Teardown(ctx)
}

// Establish stores token and schedules its expiry. When ttl is not positive
// the token's exp claim is used, falling back to the default lifetime.
func (s *Store) Establish(ctx context.Context, token string, ttl time.Duration) (keymap.Session, error) {
	if token == "" {
		return keymap.Session{}, fmt.Errorf("empty token: %w", keymap.ErrValidation)
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	if ttl <= 0 {
		if exp, ok := TokenExpiry(token); ok {
			expiresAt = exp
		} else {
			s.log.Debug("token has no usable exp claim, using default lifetime",
				zap.Duration("ttl", s.defaultTTL))
			expiresAt = now.Add(s.defaultTTL)
		}
	}
	if !expiresAt.After(now) {
		return keymap.Session{}, fmt.Errorf("token already expired: %w", keymap.ErrUnauthenticated)
	}

	s.persist.Lock()
	// Retire the old session's timer before writing, so its teardown
	// cannot clear what is saved below.
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()

	sess := keymap.Session{Token: token, IssuedAt: now, ExpiresAt: expiresAt}
	err := s.state.Save(ctx, keymap.PersistedState{
		Token:     sess.Token,
		LoggedIn:  true,
		IssuedAt:  sess.IssuedAt,
		ExpiresAt: sess.ExpiresAt,
	})
	if err != nil {
		s.persist.Unlock()
		s.ScheduleExpiry()
		return keymap.Session{}, fmt.Errorf("persist session: %w", err)
	}

	s.mu.Lock()
	s.stopTimerLocked()
	s.session = sess
	s.anonymous = false
	s.mu.Unlock()
	s.persist.Unlock()

	s.ScheduleExpiry()
	return sess, nil
}

// EstablishAnonymous switches to anonymous mode, replacing any session.
func (s *Store) EstablishAnonymous(ctx context.Context) error {
	s.persist.Lock()
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	if err := s.state.Save(ctx, keymap.PersistedState{AnonymousID: keymap.AnonymousID}); err != nil {
		s.persist.Unlock()
		s.ScheduleExpiry()
		return fmt.Errorf("persist anonymous identity: %w", err)
	}
	s.mu.Lock()
	s.stopTimerLocked()
	s.session = keymap.Session{}
	s.anonymous = true
	s.mu.Unlock()
	s.persist.Unlock()
	return nil
}

// IsValid reports whether a live identity exists. Anonymous mode is always
// valid. Reading an expired session tears it down.
func (s *Store) IsValid() bool {
	s.mu.Lock()
	if s.anonymous {
		s.mu.Unlock()
		return true
	}
	if s.session.Token == "" {
		s.mu.Unlock()
		return false
	}
	if s.session.Valid(s.now()) {
		s.mu.Unlock()
		return true
	}
	gen := s.gen
	s.mu.Unlock()

	s.expire(context.Background(), gen)
	return false
}

// Identity returns the live identity, if any.
func (s *Store) Identity() (keymap.Identity, bool) {
	if !s.IsValid() {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anonymous {
		return keymap.Anonymous{}, true
	}
	return keymap.Authenticated{Session: s.session}, true
}

// Session returns the live authenticated session, if any.
func (s *Store) Session() (keymap.Session, bool) {
	id, ok := s.Identity()
	if !ok {
		return keymap.Session{}, false
	}
	a, ok := id.(keymap.Authenticated)
	if !ok {
		return keymap.Session{}, false
	}
	return a.Session, true
}

// Token returns the bearer token of the live authenticated session.
// Anonymous mode has no token.
func (s *Store) Token() (string, bool) {
	sess, ok := s.Session()
	if !ok {
		return "", false
	}
	return sess.Token, true
}

// OnTeardown registers fn to run after an identity is torn down, whether by
// expiry or explicitly. fn runs outside the store's lock.
func (s *Store) OnTeardown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Teardown clears every piece of session state, in memory and persisted.
// It is idempotent.
func (s *Store) Teardown(ctx context.Context) error {
	return s.teardown(ctx, nil)
}

// teardown clears state. When gen is set, it does nothing unless the
// session observed at gen is still current.
func (s *Store) teardown(ctx context.Context, gen *uint64) error {
	s.persist.Lock()
	s.mu.Lock()
	if gen != nil && *gen != s.gen {
		s.mu.Unlock()
		s.persist.Unlock()
		return nil
	}
	had := s.anonymous || s.session.Token != ""
	s.stopTimerLocked()
	s.session = keymap.Session{}
	s.anonymous = false
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	err := s.state.Clear(ctx)
	s.persist.Unlock()
	if had {
		for _, fn := range listeners {
			fn()
		}
	}
	if err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}

// ScheduleExpiry arranges for Teardown to run at ExpiresAt. If the session
// is already expired, Teardown runs now instead of scheduling a timer.
func (s *Store) ScheduleExpiry() {
	s.mu.Lock()
	s.stopTimerLocked()
	if s.anonymous || s.session.Token == "" {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	d := s.session.ExpiresAt.Sub(s.now())
	if d <= 0 {
		s.mu.Unlock()
		s.expire(context.Background(), gen)
		return
	}
	s.timer = time.AfterFunc(d, func() {
		s.expire(context.Background(), gen)
	})
	s.mu.Unlock()
}

// Close stops the expiry timer without touching the session.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

func (s *Store) expire(ctx context.Context, gen uint64) {
	s.log.Info("session expired")
	if err := s.teardown(ctx, &gen); err != nil {
		s.log.Error("session teardown failed", zap.Error(err))
	}
}

func (s *Store) stopTimerLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// TokenExpiry returns the exp claim of a JWT access token. The signature is
// not verified; the claim only sizes the local validity window.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
