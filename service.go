package keymap

import (
	"context"
	"time"
)

// Token is the credential returned by a successful login.
type Token struct {
	AccessToken string
	TokenType   string
}

// AuthService is the account side of the collaborator. None of its
// operations require a session.
type AuthService interface {
	CheckEmail(ctx context.Context, email string) (bool, error)
	SignUp(ctx context.Context, reg Registration) error
	Login(ctx context.Context, creds Credentials) (Token, error)
}

// ProjectService reads and writes saved projects. Every operation requires
// a bearer token.
type ProjectService interface {
	ListProjects(ctx context.Context) ([]Project, error)
	GetProject(ctx context.Context, id string) (Project, error)
	UpdateSchemas(ctx context.Context, projectID string, schemas []Schema) error
}

// Generator is the schema-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// Feed delivers server-pushed schema snapshots for a project.
type Feed interface {
	Subscribe(ctx context.Context, projectID string) (Subscription, error)
}

// Subscription uses a pull-based iterator pattern. Next blocks until the
// next snapshot arrives and returns the full, flattened table list it
// carries. After Close, Next returns io.EOF.
type Subscription interface {
	Next() ([]Schema, error)
	Close() error
}

// StateStore persists PersistedState across restarts.
// Load returns the zero value when nothing is stored.
type StateStore interface {
	Load(ctx context.Context) (PersistedState, error)
	Save(ctx context.Context, state PersistedState) error
	Clear(ctx context.Context) error
}

// Gate reports the identity the client currently holds. ok is false when
// there is no live identity.
type Gate interface {
	Identity() (id Identity, ok bool)
}

// TokenSource yields the bearer token of the live session, if any.
type TokenSource interface {
	Token() (token string, ok bool)
}

// Establisher creates a session from a freshly issued token.
type Establisher interface {
	Establish(ctx context.Context, token string, ttl time.Duration) (Session, error)
}
