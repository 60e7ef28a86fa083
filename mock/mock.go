// Package mock provides test doubles for keymap interfaces using function fields.
package mock

import (
	"context"
	"time"

	"github.com/fwojciec/keymap"
)

// Interface compliance checks.
var (
	_ keymap.AuthService    = (*AuthService)(nil)
	_ keymap.ProjectService = (*ProjectService)(nil)
	_ keymap.Generator      = (*Generator)(nil)
	_ keymap.Feed           = (*Feed)(nil)
	_ keymap.Subscription   = (*Subscription)(nil)
	_ keymap.StateStore     = (*StateStore)(nil)
	_ keymap.Establisher    = (*Establisher)(nil)
	_ keymap.Gate           = (*Gate)(nil)
	_ keymap.TokenSource    = (*Gate)(nil)
)

// AuthService is a test double for keymap.AuthService.
// Set the function fields for the methods you need.
type AuthService struct {
	CheckEmailFn func(ctx context.Context, email string) (bool, error)
	SignUpFn     func(ctx context.Context, reg keymap.Registration) error
	LoginFn      func(ctx context.Context, creds keymap.Credentials) (keymap.Token, error)
}

// CheckEmail delegates to CheckEmailFn.
func (a *AuthService) CheckEmail(ctx context.Context, email string) (bool, error) {
	return a.CheckEmailFn(ctx, email)
}

// SignUp delegates to SignUpFn.
func (a *AuthService) SignUp(ctx context.Context, reg keymap.Registration) error {
	return a.SignUpFn(ctx, reg)
}

// Login delegates to LoginFn.
func (a *AuthService) Login(ctx context.Context, creds keymap.Credentials) (keymap.Token, error) {
	return a.LoginFn(ctx, creds)
}

// ProjectService is a test double for keymap.ProjectService.
type ProjectService struct {
	ListProjectsFn  func(ctx context.Context) ([]keymap.Project, error)
	GetProjectFn    func(ctx context.Context, id string) (keymap.Project, error)
	UpdateSchemasFn func(ctx context.Context, projectID string, schemas []keymap.Schema) error
}

// ListProjects delegates to ListProjectsFn.
func (p *ProjectService) ListProjects(ctx context.Context) ([]keymap.Project, error) {
	return p.ListProjectsFn(ctx)
}

// GetProject delegates to GetProjectFn.
func (p *ProjectService) GetProject(ctx context.Context, id string) (keymap.Project, error) {
	return p.GetProjectFn(ctx, id)
}

// UpdateSchemas delegates to UpdateSchemasFn.
func (p *ProjectService) UpdateSchemas(ctx context.Context, projectID string, schemas []keymap.Schema) error {
	return p.UpdateSchemasFn(ctx, projectID, schemas)
}

// Generator is a test double for keymap.Generator.
// Set GenerateFn before calling Generate.
type Generator struct {
	GenerateFn func(ctx context.Context, req keymap.GenerateRequest) (keymap.GenerateResponse, error)
}

// Generate delegates to GenerateFn.
func (g *Generator) Generate(ctx context.Context, req keymap.GenerateRequest) (keymap.GenerateResponse, error) {
	return g.GenerateFn(ctx, req)
}

// Establisher is a test double for keymap.Establisher.
type Establisher struct {
	EstablishFn func(ctx context.Context, token string, ttl time.Duration) (keymap.Session, error)
}

// Establish delegates to EstablishFn.
func (e *Establisher) Establish(ctx context.Context, token string, ttl time.Duration) (keymap.Session, error) {
	return e.EstablishFn(ctx, token, ttl)
}

// Gate is a test double for keymap.Gate and keymap.TokenSource.
// A nil IdentityFn reports no identity; a nil TokenFn reports no token.
type Gate struct {
	IdentityFn func() (keymap.Identity, bool)
	TokenFn    func() (string, bool)
}

// Identity delegates to IdentityFn.
func (g *Gate) Identity() (keymap.Identity, bool) {
	if g.IdentityFn == nil {
		return nil, false
	}
	return g.IdentityFn()
}

// Token delegates to TokenFn.
func (g *Gate) Token() (string, bool) {
	if g.TokenFn == nil {
		return "", false
	}
	return g.TokenFn()
}

// LiveGate returns a Gate holding an authenticated session with token.
func LiveGate(token string) *Gate {
	return &Gate{
		IdentityFn: func() (keymap.Identity, bool) {
			return keymap.Authenticated{Session: keymap.Session{Token: token}}, true
		},
		TokenFn: func() (string, bool) { return token, true },
	}
}
