package verify_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fwojciec/keymap"
	"github.com/fwojciec/keymap/mock"
	"github.com/fwojciec/keymap/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errNotVerified = &keymap.RejectionError{Status: 400, Detail: "Email not verified"}

func fastOpts(t *testing.T) []verify.Option {
	t.Helper()
	return []verify.Option{
		verify.WithInterval(5 * time.Millisecond),
		verify.WithBackoff(1, 0),
		verify.WithLogger(zaptest.NewLogger(t)),
	}
}

func validRegistration() keymap.Registration {
	return keymap.Registration{
		Credentials:          keymap.Credentials{Email: "alice@example.com", Password: "s3cret-pass"},
		FirstName:            "Alice",
		LastName:             "Liddell",
		PasswordConfirmation: "s3cret-pass",
	}
}

func TestPoller_VerifiesAfterFailures(t *testing.T) {
	t.Parallel()

	var logins atomic.Int32
	auth := &mock.AuthService{
		LoginFn: func(_ context.Context, creds keymap.Credentials) (keymap.Token, error) {
			assert.Equal(t, "alice@example.com", creds.Email)
			if logins.Add(1) < 3 {
				return keymap.Token{}, errNotVerified
			}
			return keymap.Token{AccessToken: "tok", TokenType: "bearer"}, nil
		},
	}
	var established atomic.Int32
	sessions := &mock.Establisher{
		EstablishFn: func(_ context.Context, token string, ttl time.Duration) (keymap.Session, error) {
			established.Add(1)
			assert.Equal(t, "tok", token)
			assert.Zero(t, ttl)
			return keymap.Session{Token: token}, nil
		},
	}

	p := verify.New(auth, sessions, fastOpts(t)...)
	require.NoError(t, p.Start(context.Background(), validRegistration().Credentials))
	assert.Equal(t, verify.Polling, p.State())

	var signals int
	for sess := range p.Verified() {
		signals++
		assert.Equal(t, "tok", sess.Token)
	}
	require.NoError(t, p.Wait())

	assert.Equal(t, 1, signals)
	assert.Equal(t, verify.Verified, p.State())
	assert.Equal(t, int32(1), established.Load())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, p.Attempts(), "no attempts after verification")
	assert.Equal(t, int32(3), logins.Load())
}

func TestPoller_CancelBeforeSuccess(t *testing.T) {
	t.Parallel()

	auth := &mock.AuthService{
		LoginFn: func(context.Context, keymap.Credentials) (keymap.Token, error) {
			return keymap.Token{}, errNotVerified
		},
	}
	sessions := &mock.Establisher{}

	p := verify.New(auth, sessions, fastOpts(t)...)
	require.NoError(t, p.Start(context.Background(), validRegistration().Credentials))

	require.Eventually(t, func() bool { return p.Attempts() >= 2 }, time.Second, time.Millisecond)
	p.Cancel()

	assert.Equal(t, verify.Cancelled, p.State())
	assert.ErrorIs(t, p.Wait(), context.Canceled)
	after := p.Attempts()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, p.Attempts(), "no attempts after cancellation")

	select {
	case <-p.Verified():
		t.Fatal("cancelled poller signalled verification")
	default:
	}

	p.Cancel()
}

func TestPoller_CancelDuringEstablishKeepsSession(t *testing.T) {
	t.Parallel()

	establishing := make(chan struct{})
	release := make(chan struct{})
	auth := &mock.AuthService{
		LoginFn: func(context.Context, keymap.Credentials) (keymap.Token, error) {
			return keymap.Token{AccessToken: "tok"}, nil
		},
	}
	sessions := &mock.Establisher{
		EstablishFn: func(ctx context.Context, token string, _ time.Duration) (keymap.Session, error) {
			close(establishing)
			<-release
			assert.NoError(t, ctx.Err())
			return keymap.Session{Token: token}, nil
		},
	}

	p := verify.New(auth, sessions, fastOpts(t)...)
	require.NoError(t, p.Start(context.Background(), validRegistration().Credentials))
	<-establishing

	cancelled := make(chan struct{})
	go func() {
		p.Cancel()
		close(cancelled)
	}()
	time.Sleep(10 * time.Millisecond)
	close(release)
	<-cancelled

	assert.Equal(t, verify.Verified, p.State())
	assert.NoError(t, p.Wait())
	sess, ok := <-p.Verified()
	require.True(t, ok)
	assert.Equal(t, "tok", sess.Token)
}

func TestPoller_ParentContextCancels(t *testing.T) {
	t.Parallel()

	auth := &mock.AuthService{
		LoginFn: func(ctx context.Context, _ keymap.Credentials) (keymap.Token, error) {
			<-ctx.Done()
			return keymap.Token{}, ctx.Err()
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := verify.New(auth, &mock.Establisher{}, fastOpts(t)...)
	require.NoError(t, p.Start(ctx, validRegistration().Credentials))

	require.Eventually(t, func() bool { return p.Attempts() == 1 }, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, p.Wait(), context.Canceled)
	assert.Equal(t, verify.Cancelled, p.State())
}

func TestPoller_Exhausted(t *testing.T) {
	t.Parallel()

	auth := &mock.AuthService{
		LoginFn: func(context.Context, keymap.Credentials) (keymap.Token, error) {
			return keymap.Token{}, errors.New("connection refused")
		},
	}
	opts := append(fastOpts(t), verify.WithTimeout(40*time.Millisecond))
	p := verify.New(auth, &mock.Establisher{}, opts...)
	require.NoError(t, p.Start(context.Background(), validRegistration().Credentials))

	assert.ErrorIs(t, p.Wait(), keymap.ErrVerificationTimeout)
	assert.Equal(t, verify.Exhausted, p.State())
	assert.True(t, p.State().Terminal())
	assert.Positive(t, p.Attempts())
}

func TestPoller_EstablishFailureKeepsPolling(t *testing.T) {
	t.Parallel()

	auth := &mock.AuthService{
		LoginFn: func(context.Context, keymap.Credentials) (keymap.Token, error) {
			return keymap.Token{AccessToken: "tok"}, nil
		},
	}
	var calls atomic.Int32
	sessions := &mock.Establisher{
		EstablishFn: func(_ context.Context, token string, _ time.Duration) (keymap.Session, error) {
			if calls.Add(1) == 1 {
				return keymap.Session{}, errors.New("disk full")
			}
			return keymap.Session{Token: token}, nil
		},
	}

	p := verify.New(auth, sessions, fastOpts(t)...)
	require.NoError(t, p.Start(context.Background(), validRegistration().Credentials))
	require.NoError(t, p.Wait())
	assert.Equal(t, 2, p.Attempts())
}

func TestPoller_BackoffGrowsToCeiling(t *testing.T) {
	t.Parallel()

	var stamps []time.Time
	auth := &mock.AuthService{
		LoginFn: func(context.Context, keymap.Credentials) (keymap.Token, error) {
			stamps = append(stamps, time.Now())
			if len(stamps) < 4 {
				return keymap.Token{}, errNotVerified
			}
			return keymap.Token{AccessToken: "tok"}, nil
		},
	}
	sessions := &mock.Establisher{
		EstablishFn: func(_ context.Context, token string, _ time.Duration) (keymap.Session, error) {
			return keymap.Session{Token: token}, nil
		},
	}

	p := verify.New(auth, sessions,
		verify.WithInterval(10*time.Millisecond),
		verify.WithBackoff(3, 40*time.Millisecond),
	)
	require.NoError(t, p.Start(context.Background(), validRegistration().Credentials))
	require.NoError(t, p.Wait())

	require.Len(t, stamps, 4)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 30*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[3].Sub(stamps[2]), 40*time.Millisecond)
}

func TestPoller_StartTwice(t *testing.T) {
	t.Parallel()

	auth := &mock.AuthService{
		LoginFn: func(context.Context, keymap.Credentials) (keymap.Token, error) {
			return keymap.Token{}, errNotVerified
		},
	}
	p := verify.New(auth, &mock.Establisher{}, fastOpts(t)...)
	require.NoError(t, p.Start(context.Background(), validRegistration().Credentials))
	defer p.Cancel()

	assert.Error(t, p.Start(context.Background(), validRegistration().Credentials))
}

func TestPoller_CancelIdle(t *testing.T) {
	t.Parallel()

	p := verify.New(&mock.AuthService{}, &mock.Establisher{})
	p.Cancel()
	assert.Equal(t, verify.Cancelled, p.State())
	assert.Error(t, p.Start(context.Background(), validRegistration().Credentials))
	assert.ErrorIs(t, p.Wait(), context.Canceled)
}

func TestPoller_SignUp(t *testing.T) {
	t.Parallel()

	t.Run("invalid input never reaches the collaborator", func(t *testing.T) {
		t.Parallel()
		reg := validRegistration()
		reg.PasswordConfirmation = "different"
		p := verify.New(&mock.AuthService{}, &mock.Establisher{})

		err := p.SignUp(context.Background(), reg)
		assert.ErrorIs(t, err, keymap.ErrValidation)
		assert.Equal(t, verify.Idle, p.State())
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		t.Parallel()
		auth := &mock.AuthService{
			CheckEmailFn: func(_ context.Context, email string) (bool, error) {
				assert.Equal(t, "alice@example.com", email)
				return true, nil
			},
		}
		p := verify.New(auth, &mock.Establisher{})

		err := p.SignUp(context.Background(), validRegistration())
		var rej *keymap.RejectionError
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, "Email already registered", rej.Detail)
		assert.ErrorIs(t, err, keymap.ErrRejected)
		assert.Equal(t, verify.Idle, p.State())
	})

	t.Run("sign-up failure does not start polling", func(t *testing.T) {
		t.Parallel()
		auth := &mock.AuthService{
			CheckEmailFn: func(context.Context, string) (bool, error) { return false, nil },
			SignUpFn: func(context.Context, keymap.Registration) error {
				return &keymap.RejectionError{Status: 400, Detail: "Invalid email"}
			},
		}
		p := verify.New(auth, &mock.Establisher{})

		assert.ErrorIs(t, p.SignUp(context.Background(), validRegistration()), keymap.ErrRejected)
		assert.Equal(t, verify.Idle, p.State())
	})

	t.Run("successful sign-up enters polling", func(t *testing.T) {
		t.Parallel()
		var signedUp keymap.Registration
		auth := &mock.AuthService{
			CheckEmailFn: func(context.Context, string) (bool, error) { return false, nil },
			SignUpFn: func(_ context.Context, reg keymap.Registration) error {
				signedUp = reg
				return nil
			},
			LoginFn: func(context.Context, keymap.Credentials) (keymap.Token, error) {
				return keymap.Token{AccessToken: "tok"}, nil
			},
		}
		sessions := &mock.Establisher{
			EstablishFn: func(_ context.Context, token string, _ time.Duration) (keymap.Session, error) {
				return keymap.Session{Token: token}, nil
			},
		}
		p := verify.New(auth, sessions, fastOpts(t)...)

		require.NoError(t, p.SignUp(context.Background(), validRegistration()))
		assert.Equal(t, "Alice", signedUp.FirstName)

		sess := <-p.Verified()
		assert.Equal(t, "tok", sess.Token)
		require.NoError(t, p.Wait())
	})
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", verify.Idle.String())
	assert.Equal(t, "polling", verify.Polling.String())
	assert.Equal(t, "verified", verify.Verified.String())
	assert.Equal(t, "cancelled", verify.Cancelled.String())
	assert.Equal(t, "exhausted", verify.Exhausted.String())
	assert.False(t, verify.Polling.Terminal())
}
