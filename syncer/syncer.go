// Package syncer keeps a working copy of one project's schemas in step with
// the server's push feed while preserving the user's unsaved edits.
//
// The engine holds the last snapshot the server delivered (the base) and an
// edit buffer. The working copy is always the base with every pending edit
// written over it, so a push that replaces the whole table list never
// discards an edit that has not been committed or discarded.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fwojciec/keymap"
	"github.com/fwojciec/keymap/edit"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Reconnect backoff defaults.
const (
	DefaultReconnectMin = 500 * time.Millisecond
	DefaultReconnectMax = 30 * time.Second

	minReconnect = time.Millisecond
)

// Engine reconciles one project's schemas. It is safe for concurrent use.
type Engine struct {
	projects     keymap.ProjectService
	feed         keymap.Feed
	projectID    string
	log          *zap.Logger
	reconnectMin time.Duration
	reconnectMax time.Duration

	commits singleflight.Group

	mu         sync.Mutex
	base       []keymap.Schema
	buf        *edit.Buffer
	ingests    uint64
	committing bool
	listeners  []func([]keymap.Schema)
}

// Option configures an [Engine].
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithReconnectBackoff sets the first and the longest delay between feed
// reconnection attempts.
func WithReconnectBackoff(minDelay, maxDelay time.Duration) Option {
	return func(e *Engine) {
		e.reconnectMin = minDelay
		e.reconnectMax = maxDelay
	}
}

// New creates an [Engine] for projectID.
func New(projects keymap.ProjectService, feed keymap.Feed, projectID string, opts ...Option) *Engine {
	e := &Engine{
		projects:     projects,
		feed:         feed,
		projectID:    projectID,
		log:          zap.NewNop(),
		reconnectMin: DefaultReconnectMin,
		reconnectMax: DefaultReconnectMax,
		buf:          edit.New(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.reconnectMin <= 0 {
		e.reconnectMin = minReconnect
	}
	if e.reconnectMax < e.reconnectMin {
		e.reconnectMax = e.reconnectMin
	}
	return e
}

// ProjectID returns the project the engine reconciles.
func (e *Engine) ProjectID() string { return e.projectID }

// OnChange registers fn to receive the working copy after every change.
// fn runs outside the engine's lock and must not block.
func (e *Engine) OnChange(fn func([]keymap.Schema)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Load fetches the project and ingests its schemas as the base.
func (e *Engine) Load(ctx context.Context) (keymap.Project, error) {
	e.mu.Lock()
	busy := e.committing
	e.mu.Unlock()
	if busy {
		return keymap.Project{}, fmt.Errorf("load project %s: %w", e.projectID, keymap.ErrCommitInProgress)
	}

	p, err := e.projects.GetProject(ctx, e.projectID)
	if err != nil {
		return keymap.Project{}, fmt.Errorf("load project %s: %w", e.projectID, err)
	}
	e.Ingest(p.Schemas)
	return p, nil
}

// Run subscribes to the push feed and ingests every payload until ctx is
// done. A failed or dropped subscription is re-established with capped
// exponential backoff. Run returns ctx's error, or the subscription error
// when retrying cannot help.
func (e *Engine) Run(ctx context.Context) error {
	delay := e.reconnectMin
	for {
		received, err := e.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !keymap.Retryable(err) {
			return fmt.Errorf("project feed %s: %w", e.projectID, err)
		}
		if received {
			delay = e.reconnectMin
		}
		e.log.Warn("project feed lost, reconnecting",
			zap.String("project_id", e.projectID),
			zap.Duration("delay", delay),
			zap.Error(err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, e.reconnectMax)
	}
}

// consume runs one subscription until it fails. It reports whether any
// payload was received.
func (e *Engine) consume(ctx context.Context) (bool, error) {
	sub, err := e.feed.Subscribe(ctx, e.projectID)
	if err != nil {
		return false, err
	}
	stop := context.AfterFunc(ctx, func() { sub.Close() })
	defer func() {
		if stop() {
			sub.Close()
		}
	}()

	var received bool
	for {
		schemas, err := sub.Next()
		if errors.Is(err, keymap.ErrMalformedResponse) {
			e.log.Warn("skipping malformed feed payload", zap.String("project_id", e.projectID), zap.Error(err))
			continue
		}
		if err != nil {
			return received, err
		}
		received = true
		e.Ingest(schemas)
	}
}

// Ingest replaces the base with schemas and moves pending edits onto it.
// Edits whose schema or field vanished are dropped; edits the server now
// agrees with are retired.
func (e *Engine) Ingest(schemas []keymap.Schema) {
	e.mu.Lock()
	e.ingests++
	e.base = keymap.CloneSchemas(schemas)
	converged, orphaned := e.buf.Rebase(e.base)
	working, listeners := e.snapshotLocked()
	e.mu.Unlock()

	for _, r := range orphaned {
		e.log.Warn("dropping edit to a schema or field the server removed",
			zap.String("schema_id", r.SchemaID),
			zap.String("target", r.Target.Key()),
			zap.String("pending", r.Pending))
	}
	for _, r := range converged {
		e.log.Debug("server converged on pending edit",
			zap.String("schema_id", r.SchemaID),
			zap.String("target", r.Target.Key()))
	}
	notify(listeners, working)
}

// Edit stages value for target in schemaID and applies it to the working
// copy at once. Setting a target back to the server's value removes the
// edit.
func (e *Engine) Edit(schemaID string, target keymap.EditTarget, value string) error {
	e.mu.Lock()
	i := slices.IndexFunc(e.base, func(s keymap.Schema) bool { return s.ID == schemaID })
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("edit schema %s: %w", schemaID, keymap.ErrNotFound)
	}
	prev, ok := target.Get(e.base[i])
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("edit schema %s %s: %w", schemaID, target.Key(), keymap.ErrNotFound)
	}
	if _, err := e.buf.Stage(keymap.EditRecord{
		SchemaID: schemaID,
		Target:   target,
		Previous: prev,
		Pending:  value,
	}); err != nil {
		e.mu.Unlock()
		return err
	}
	working, listeners := e.snapshotLocked()
	e.mu.Unlock()

	notify(listeners, working)
	return nil
}

// Discard drops the pending edit for target in schemaID.
func (e *Engine) Discard(schemaID string, target keymap.EditTarget) bool {
	e.mu.Lock()
	ok := e.buf.Discard(schemaID, target)
	working, listeners := e.snapshotLocked()
	e.mu.Unlock()

	if ok {
		notify(listeners, working)
	}
	return ok
}

// DiscardAll drops every pending edit.
func (e *Engine) DiscardAll() {
	e.mu.Lock()
	e.buf.Clear()
	working, listeners := e.snapshotLocked()
	e.mu.Unlock()

	notify(listeners, working)
}

// Commit sends the entire working copy to the server in one request. On
// success the committed edits leave the buffer; on failure every edit is
// kept so the same commit can be retried. Concurrent calls share one
// request.
func (e *Engine) Commit(ctx context.Context) error {
	_, err, _ := e.commits.Do(e.projectID, func() (any, error) {
		return nil, e.commit(ctx)
	})
	return err
}

func (e *Engine) commit(ctx context.Context) error {
	e.mu.Lock()
	if e.buf.Len() == 0 {
		e.mu.Unlock()
		return nil
	}
	snapshot := e.buf.Apply(e.base)
	committed := e.buf.Pending()
	gen := e.ingests
	e.committing = true
	e.mu.Unlock()

	err := e.projects.UpdateSchemas(ctx, e.projectID, snapshot)

	e.mu.Lock()
	e.committing = false
	if err != nil {
		e.mu.Unlock()
		e.log.Warn("commit failed; edits kept",
			zap.String("project_id", e.projectID),
			zap.Int("edits", len(committed)),
			zap.Error(err))
		return fmt.Errorf("commit project %s: %w", e.projectID, err)
	}
	e.buf.Settle(committed)
	if e.ingests == gen {
		e.base = snapshot
	} else {
		// A push that landed mid-commit may predate it.
		e.base = edit.Overlay(e.base, committed)
	}
	working, listeners := e.snapshotLocked()
	e.mu.Unlock()

	notify(listeners, working)
	return nil
}

// Working returns the base with pending edits applied.
func (e *Engine) Working() []keymap.Schema {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Apply(e.base)
}

// Base returns the last snapshot delivered by the server.
func (e *Engine) Base() []keymap.Schema {
	e.mu.Lock()
	defer e.mu.Unlock()
	return keymap.CloneSchemas(e.base)
}

// Pending returns the uncommitted edits in first-edit order.
func (e *Engine) Pending() []keymap.EditRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Pending()
}

// Dirty returns the ids of schemas with uncommitted edits.
func (e *Engine) Dirty() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Dirty()
}

// IsDirty reports whether schemaID has uncommitted edits.
func (e *Engine) IsDirty(schemaID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.IsDirty(schemaID)
}

// Committing reports whether a commit is outstanding.
func (e *Engine) Committing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committing
}

func (e *Engine) snapshotLocked() ([]keymap.Schema, []func([]keymap.Schema)) {
	if len(e.listeners) == 0 {
		return nil, nil
	}
	return e.buf.Apply(e.base), slices.Clone(e.listeners)
}

func notify(listeners []func([]keymap.Schema), working []keymap.Schema) {
	for _, fn := range listeners {
		fn(keymap.CloneSchemas(working))
	}
}

// Projects lists the projects available to the identity gate holds.
// Anonymous mode has no remote projects and makes no call.
func Projects(ctx context.Context, gate keymap.Gate, svc keymap.ProjectService) ([]keymap.Project, error) {
	id, ok := gate.Identity()
	if !ok {
		return nil, fmt.Errorf("list projects: %w", keymap.ErrUnauthenticated)
	}
	if _, anon := id.(keymap.Anonymous); anon {
		return nil, nil
	}
	projects, err := svc.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}
