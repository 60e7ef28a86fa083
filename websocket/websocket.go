// Package websocket implements the project push feed over a WebSocket.
//
// Each message carries the full table list of the project, possibly split
// across several schema entries; Next flattens it into one list.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fwojciec/keymap"
	keymapjson "github.com/fwojciec/keymap/json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReadTimeout = 60 * time.Second
	writeTimeout       = 10 * time.Second
	maxMessageSize     = 4 << 20
	projectsPath       = "/ws/projects/"
)

// Interface compliance checks.
var (
	_ keymap.Feed         = (*Feed)(nil)
	_ keymap.Subscription = (*Subscription)(nil)
)

// Feed dials one WebSocket per subscription.
type Feed struct {
	baseURL     string
	dialer      *websocket.Dialer
	tokens      keymap.TokenSource
	readTimeout time.Duration
	log         *zap.Logger
}

// Option configures a [Feed].
type Option func(*Feed)

// WithDialer sets a custom dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(f *Feed) { f.dialer = d }
}

// WithTokenSource sets where bearer tokens come from. Without one the feed
// subscribes anonymously.
func WithTokenSource(ts keymap.TokenSource) Option {
	return func(f *Feed) { f.tokens = ts }
}

// WithReadTimeout sets how long the connection may stay silent before it
// is considered dead. Pings are sent at half this interval.
func WithReadTimeout(d time.Duration) Option {
	return func(f *Feed) { f.readTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Feed) { f.log = l }
}

// New creates a [Feed] rooted at baseURL. http and https URLs are mapped to
// ws and wss.
func New(baseURL string, opts ...Option) *Feed {
	f := &Feed{
		baseURL:     wsURL(baseURL),
		dialer:      websocket.DefaultDialer,
		readTimeout: defaultReadTimeout,
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func wsURL(u string) string {
	switch {
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	return strings.TrimRight(u, "/")
}

// Subscribe opens the feed for projectID.
func (f *Feed) Subscribe(ctx context.Context, projectID string) (keymap.Subscription, error) {
	header := http.Header{}
	if f.tokens != nil {
		if tok, ok := f.tokens.Token(); ok {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, resp, err := f.dialer.DialContext(ctx, f.baseURL+projectsPath+url.PathEscape(projectID), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, fmt.Errorf("subscribe %s: %w", projectID, keymap.ErrUnauthenticated)
			case http.StatusNotFound:
				return nil, fmt.Errorf("subscribe %s: %w", projectID, keymap.ErrNotFound)
			}
		}
		return nil, fmt.Errorf("subscribe %s: %w", projectID, err)
	}
	return newSubscription(conn, f.readTimeout, f.log.With(zap.String("project_id", projectID))), nil
}

// Subscription reads snapshots from one connection. Next must not be
// called concurrently; Close may be called from any goroutine and unblocks
// a pending Next.
type Subscription struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	log         *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func newSubscription(conn *websocket.Conn, readTimeout time.Duration, log *zap.Logger) *Subscription {
	s := &Subscription{
		conn:        conn,
		readTimeout: readTimeout,
		log:         log,
		done:        make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	s.extendDeadline()
	conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		s.extendDeadline()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	if readTimeout > 0 {
		s.wg.Add(1)
		go s.keepalive()
	}
	return s
}

func (s *Subscription) extendDeadline() {
	if s.readTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
}

func (s *Subscription) keepalive() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.readTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.log.Debug("feed ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Next blocks until the next snapshot arrives. It returns io.EOF once the
// subscription is closed or the server ends the stream normally. A payload
// that cannot be decoded returns an error wrapping
// keymap.ErrMalformedResponse; the subscription stays usable.
func (s *Subscription) Next() ([]keymap.Schema, error) {
	for {
		select {
		case <-s.done:
			return nil, io.EOF
		default:
		}

		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return nil, io.EOF
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read feed: %w", err)
		}
		s.extendDeadline()
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		return keymapjson.UnmarshalFeedPayload(data)
	}
}

// Close releases the connection. It is idempotent.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		s.closeErr = s.conn.Close()
		s.wg.Wait()
	})
	return s.closeErr
}
