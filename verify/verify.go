// Package verify detects out-of-band email verification after sign-up by
// repeatedly attempting to log in with the just-registered credentials.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fwojciec/keymap"
	"go.uber.org/zap"
)

// Defaults for a [Poller].
const (
	DefaultInterval    = 5 * time.Second
	DefaultMultiplier  = 1.5
	DefaultMaxInterval = 30 * time.Second
	DefaultTimeout     = 15 * time.Minute
	DefaultCallTimeout = 30 * time.Second
)

// State is a poller lifecycle state.
type State int

const (
	Idle State = iota
	Polling
	Verified
	Cancelled
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Verified:
		return "verified"
	case Cancelled:
		return "cancelled"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == Verified || s == Cancelled || s == Exhausted
}

// Poller runs one verification attempt loop. A Poller is single use.
type Poller struct {
	auth        keymap.AuthService
	sessions    keymap.Establisher
	log         *zap.Logger
	interval    time.Duration
	multiplier  float64
	maxInterval time.Duration
	timeout     time.Duration
	callTimeout time.Duration

	verified chan keymap.Session
	done     chan struct{}

	mu       sync.Mutex
	state    State
	attempts int
	err      error
	cancel   context.CancelFunc
}

// Option configures a [Poller].
type Option func(*Poller)

// WithInterval sets the delay before the first attempt and the starting
// delay between attempts.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithBackoff sets the factor the delay grows by after each failed attempt
// and the ceiling it grows to. A multiplier of 1 polls at a fixed interval.
func WithBackoff(multiplier float64, maxInterval time.Duration) Option {
	return func(p *Poller) {
		p.multiplier = multiplier
		p.maxInterval = maxInterval
	}
}

// WithTimeout bounds how long polling continues before giving up.
// Zero polls until success or cancellation.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) { p.timeout = d }
}

// WithCallTimeout bounds each login attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Poller) { p.callTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) { p.log = l }
}

// New creates a [Poller] that logs in through auth and hands the issued
// token to sessions.
func New(auth keymap.AuthService, sessions keymap.Establisher, opts ...Option) *Poller {
	p := &Poller{
		auth:        auth,
		sessions:    sessions,
		log:         zap.NewNop(),
		interval:    DefaultInterval,
		multiplier:  DefaultMultiplier,
		maxInterval: DefaultMaxInterval,
		timeout:     DefaultTimeout,
		callTimeout: DefaultCallTimeout,
		verified:    make(chan keymap.Session, 1),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.multiplier < 1 {
		p.multiplier = 1
	}
	return p
}

// SignUp validates reg, rejects an already registered email, creates the
// account and starts polling. Invalid input never reaches the collaborator.
func (p *Poller) SignUp(ctx context.Context, reg keymap.Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	exists, err := p.auth.CheckEmail(ctx, reg.Email)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if exists {
		return &keymap.RejectionError{Status: 409, Detail: "Email already registered"}
	}
	if err := p.auth.SignUp(ctx, reg); err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	return p.Start(ctx, reg.Credentials)
}

// Start enters Polling and attempts to log in with creds until an attempt
// succeeds, the poller is cancelled, ctx ends or the timeout passes.
func (p *Poller) Start(ctx context.Context, creds keymap.Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Idle {
		return fmt.Errorf("poller is %s", p.state)
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = Polling
	go p.run(ctx, creds)
	return nil
}

// Cancel stops polling without a completion signal. It returns once no
// further attempt can start. Cancelling a finished poller does nothing.
// A session already being established when Cancel lands is kept, and the
// poller ends Verified.
func (p *Poller) Cancel() {
	p.mu.Lock()
	switch {
	case p.state == Idle:
		p.state = Cancelled
		p.err = context.Canceled
		close(p.done)
		p.mu.Unlock()
		return
	case p.cancel != nil:
		p.cancel()
	}
	p.mu.Unlock()
	<-p.done
}

// Verified delivers the established session exactly once, on success.
func (p *Poller) Verified() <-chan keymap.Session { return p.verified }

// Done is closed when the poller reaches a terminal state.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Wait blocks until the poller finishes and returns why it stopped:
// nil when verified, context.Canceled when cancelled and
// keymap.ErrVerificationTimeout when exhausted.
func (p *Poller) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attempts returns how many login attempts have been made.
func (p *Poller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *Poller) run(ctx context.Context, creds keymap.Credentials) {
	defer close(p.done)

	var deadline <-chan time.Time
	if p.timeout > 0 {
		t := time.NewTimer(p.timeout)
		defer t.Stop()
		deadline = t.C
	}

	wait := p.interval
	tick := time.NewTimer(wait)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			p.finish(Cancelled, context.Canceled)
			return
		case <-deadline:
			p.log.Info("verification polling exhausted", zap.Int("attempts", p.Attempts()))
			p.finish(Exhausted, keymap.ErrVerificationTimeout)
			return
		case <-tick.C:
		}

		sess, ok := p.attempt(ctx, creds)
		if ok {
			p.finish(Verified, nil)
			p.verified <- sess
			close(p.verified)
			return
		}
		if ctx.Err() != nil {
			p.finish(Cancelled, context.Canceled)
			return
		}

		wait = p.next(wait)
		tick.Reset(wait)
	}
}

// attempt makes one login attempt. Failures are not terminal: they are
// logged and reported as not yet verified.
func (p *Poller) attempt(ctx context.Context, creds keymap.Credentials) (keymap.Session, bool) {
	p.mu.Lock()
	p.attempts++
	n := p.attempts
	p.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	tok, err := p.auth.Login(callCtx, creds)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", keymap.ErrTimeout, err)
		}
		p.log.Debug("not verified yet", zap.Int("attempt", n), zap.Error(err))
		return keymap.Session{}, false
	}
	if ctx.Err() != nil {
		return keymap.Session{}, false
	}
	sess, err := p.sessions.Establish(context.WithoutCancel(ctx), tok.AccessToken, 0)
	if err != nil {
		p.log.Warn("establish session after verification", zap.Int("attempt", n), zap.Error(err))
		return keymap.Session{}, false
	}
	return sess, true
}

func (p *Poller) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * p.multiplier)
	if p.maxInterval > 0 && n > p.maxInterval {
		n = p.maxInterval
	}
	return n
}

func (p *Poller) finish(s State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
	p.err = err
}
