// Package rest implements the account, project and generation
// collaborators over the backend's HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fwojciec/keymap"
	keymapjson "github.com/fwojciec/keymap/json"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "http://localhost:8000"
	defaultTimeout = 30 * time.Second

	checkEmailPath = "/auth/check-email"
	signUpPath     = "/auth/signup"
	loginPath      = "/auth/login"
	projectsPath   = "/api/user-projects"
	getProjectPath = "/api/user-projects/project/get/"
	updatePath     = "/api/user-projects/project/update/"
	generatePath   = "/api/generate-schema"
)

// Interface compliance checks.
var (
	_ keymap.AuthService    = (*Client)(nil)
	_ keymap.ProjectService = (*Client)(nil)
	_ keymap.Generator      = (*Client)(nil)
)

type checkEmailRequest struct {
	Email string `json:"email"`
}

type checkEmailResponse struct {
	Exists *bool `json:"exists"`
}

type signUpRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// errorResponse is the backend's error body. Detail is a string for
// handled errors and a list of problems for request validation failures.
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// Client talks to the backend. Gated operations read the bearer token from
// the configured TokenSource on every call and fail without a request when
// there is none.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     keymap.TokenSource
	timeout    time.Duration
	log        *zap.Logger
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL sets the API base URL. Useful for testing with httptest.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts keymap.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithTimeout bounds every call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a [Client].
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CheckEmail reports whether an account already uses email.
func (c *Client) CheckEmail(ctx context.Context, email string) (bool, error) {
	body, err := json.Marshal(checkEmailRequest{Email: email})
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, checkEmailPath, body, false)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	var resp checkEmailResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.Exists == nil {
		return false, fmt.Errorf("check email: %w", keymap.ErrMalformedResponse)
	}
	return *resp.Exists, nil
}

// SignUp creates an unverified account. The backend emails a verification
// link; login fails until it is followed.
func (c *Client) SignUp(ctx context.Context, reg keymap.Registration) error {
	body, err := json.Marshal(signUpRequest{
		Email:     reg.Email,
		FirstName: reg.FirstName,
		LastName:  reg.LastName,
		Password:  reg.Password,
	})
	if err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, signUpPath, body, false); err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	return nil
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, creds keymap.Credentials) (keymap.Token, error) {
	body, err := json.Marshal(loginRequest{Email: creds.Email, Password: creds.Password})
	if err != nil {
		return keymap.Token{}, fmt.Errorf("login: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, loginPath, body, false)
	if err != nil {
		return keymap.Token{}, fmt.Errorf("login: %w", err)
	}
	var resp tokenResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.AccessToken == "" {
		return keymap.Token{}, fmt.Errorf("login: %w", keymap.ErrMalformedResponse)
	}
	return keymap.Token{AccessToken: resp.AccessToken, TokenType: resp.TokenType}, nil
}

// ListProjects returns the user's projects without their schemas.
func (c *Client) ListProjects(ctx context.Context) ([]keymap.Project, error) {
	data, err := c.do(ctx, http.MethodGet, projectsPath, nil, true)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return keymapjson.UnmarshalProjects(data)
}

// GetProject returns a project with its schemas.
func (c *Client) GetProject(ctx context.Context, id string) (keymap.Project, error) {
	data, err := c.do(ctx, http.MethodGet, getProjectPath+url.PathEscape(id), nil, true)
	if err != nil {
		return keymap.Project{}, fmt.Errorf("get project %s: %w", id, err)
	}
	return keymapjson.UnmarshalProject(data)
}

// UpdateSchemas replaces every schema of the project with schemas.
func (c *Client) UpdateSchemas(ctx context.Context, projectID string, schemas []keymap.Schema) error {
	body, err := keymapjson.MarshalUpdate(schemas)
	if err != nil {
		return fmt.Errorf("update project %s: %w", projectID, err)
	}
	if _, err := c.do(ctx, http.MethodPut, updatePath+url.PathEscape(projectID), body, true); err != nil {
		return fmt.Errorf("update project %s: %w", projectID, err)
	}
	return nil
}

// Generate sends one conversation turn to the backend's generator.
func (c *Client) Generate(ctx context.Context, req keymap.GenerateRequest) (keymap.GenerateResponse, error) {
	body, err := keymapjson.MarshalGenerateRequest(req)
	if err != nil {
		return keymap.GenerateResponse{}, fmt.Errorf("generate schema: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, generatePath, body, true)
	if err != nil {
		return keymap.GenerateResponse{}, err
	}
	return keymapjson.UnmarshalGenerateResponse(data)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, gated bool) ([]byte, error) {
	var token string
	if gated {
		var ok bool
		if c.tokens != nil {
			token, ok = c.tokens.Token()
		}
		if !ok {
			return nil, keymap.ErrUnauthenticated
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s: %w", method, path, keymap.ErrTimeout)
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s: %w", method, path, keymap.ErrTimeout)
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Debug("request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, parseHTTPError(resp.StatusCode, data)
	}
	return data, nil
}

func parseHTTPError(status int, body []byte) error {
	detail := errorDetail(body)
	switch status {
	case http.StatusUnauthorized:
		if detail == "" {
			return keymap.ErrUnauthenticated
		}
		return fmt.Errorf("%s: %w", detail, keymap.ErrUnauthenticated)
	case http.StatusNotFound:
		if detail == "" {
			return keymap.ErrNotFound
		}
		return fmt.Errorf("%s: %w", detail, keymap.ErrNotFound)
	}
	return &keymap.RejectionError{Status: status, Detail: detail}
}

func errorDetail(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil || len(e.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	var problems []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(e.Detail, &problems); err == nil && len(problems) > 0 {
		return problems[0].Msg
	}
	return string(e.Detail)
}
