package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fwojciec/keymap"
	"github.com/fwojciec/keymap/config"
	keymapjson "github.com/fwojciec/keymap/json"
	"github.com/fwojciec/keymap/rest"
	"github.com/fwojciec/keymap/session"
	"github.com/fwojciec/keymap/sqlite"
	"github.com/fwojciec/keymap/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app holds what every command needs. It is populated in the root
// command's PersistentPreRunE.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath string
	verbose    bool
	noTUI      bool

	cfg        config.Config
	log        *zap.Logger
	sessions   *session.Store
	client     *rest.Client
	closeState func() error
	lines      *bufio.Reader
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "keymap",
		Short: "Design database schemas by conversation",
		Long: `keymap talks to a schema-generation service to design relational
database schemas, and keeps saved projects in sync with the server.

Quick Start:
  keymap login --email you@example.com   # or: keymap anonymous
  keymap generate "a blog with authors and posts"
  keymap projects`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file (default ~/.keymap/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.noTUI, "no-tui", false, "Use plain line-based output instead of the terminal UI")

	root.AddCommand(
		newSignUpCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newAnonymousCmd(a),
		newGenerateCmd(a),
		newProjectsCmd(a),
		newShowCmd(a),
		newEditCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) init(ctx context.Context) error {
	path := a.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := newLogger(cfg.LogLevel, a.verbose)
	if err != nil {
		return err
	}
	a.log = log

	state, closeState, err := openState(cfg.State)
	if err != nil {
		return err
	}
	a.closeState = closeState

	a.sessions = session.New(state,
		session.WithDefaultTTL(cfg.SessionTTL),
		session.WithLogger(log.Named("session")))
	if err := a.sessions.Restore(ctx); err != nil {
		return err
	}

	a.client = rest.New(
		rest.WithBaseURL(cfg.BaseURL),
		rest.WithTokenSource(a.sessions),
		rest.WithTimeout(cfg.CallTimeout),
		rest.WithLogger(log.Named("rest")))
	return nil
}

func (a *app) close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.closeState != nil {
		if err := a.closeState(); err != nil && a.log != nil {
			a.log.Warn("close state store", zap.Error(err))
		}
		a.closeState = nil
	}
}

func (a *app) feed() *websocket.Feed {
	return websocket.New(a.cfg.FeedURL,
		websocket.WithTokenSource(a.sessions),
		websocket.WithReadTimeout(a.cfg.FeedReadTimeout),
		websocket.WithLogger(a.log.Named("feed")))
}

// readLine prompts on errOut and reads one line from in.
func (a *app) readLine(prompt string) (string, error) {
	if a.lines == nil {
		a.lines = bufio.NewReader(a.in)
	}
	if prompt != "" {
		fmt.Fprint(a.errOut, prompt)
	}
	line, err := a.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// newLogger builds the command-line logger. verbose forces debug level.
func newLogger(level string, verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, keymap.ErrValidation)
	}
	if verbose {
		lvl = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.Level = lvl

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return log, nil
}

// openState opens the configured state backend. The returned close
// function may be nil.
func openState(s config.State) (keymap.StateStore, func() error, error) {
	switch s.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create state directory: %w", err)
		}
		store, err := sqlite.Open(s.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return keymapjson.NewStateFile(s.Path), nil, nil
	}
}
