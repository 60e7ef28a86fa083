package keymap

import "time"

// Session is an authenticated credential and its validity window.
type Session struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the session holds a token and has not expired at now.
func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && now.Before(s.ExpiresAt)
}

// AnonymousID is the sentinel identity marker persisted for anonymous mode.
const AnonymousID = "anonymous"

// Identity is a sealed interface naming who the client is acting as.
// The unexported marker method prevents external implementations.
type Identity interface {
	isIdentity()
}

// Authenticated is an identity backed by a live Session.
type Authenticated struct {
	Session Session
}

func (Authenticated) isIdentity() {}

// Anonymous is the explicit anonymous-mode identity. It is always valid and
// never lists remote projects. It is distinct from having no identity at all.
type Anonymous struct{}

func (Anonymous) isIdentity() {}

// PersistedState is the client state that survives restarts. Every field is
// written and cleared together.
type PersistedState struct {
	Token       string
	LoggedIn    bool
	IssuedAt    time.Time
	ExpiresAt   time.Time
	AnonymousID string
}

// Empty reports whether nothing is persisted.
func (p PersistedState) Empty() bool {
	return p.Token == "" && !p.LoggedIn && p.ExpiresAt.IsZero() && p.AnonymousID == ""
}

// Interface compliance checks.
var (
	_ Identity = Authenticated{}
	_ Identity = Anonymous{}
)
