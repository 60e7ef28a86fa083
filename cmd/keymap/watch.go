package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fwojciec/keymap"
	bt "github.com/fwojciec/keymap/bubbletea"
	"github.com/fwojciec/keymap/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "watch <project-id>",
		Short: "Follow and edit a project live",
		Long: `Follows live changes to a project and lets you edit it.

With --no-tui, commands are read from stdin one per line:

  edit <schema-id> <target> <value>   stage an edit
  discard [<schema-id> <target>]      drop one edit, or all of them
  pending                             list unsaved edits
  save                                save the whole project
  quit                                stop watching

A failed save keeps every edit so it can be retried.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, p, err := a.syncer(ctx, args[0])
			if err != nil {
				return err
			}
			if !a.noTUI {
				if _, err := bt.Run(ctx, bt.NewSchemaView(e, p.Name, keymap.DefaultTheme())); err != nil {
					return fmt.Errorf("TUI: %w", err)
				}
				return nil
			}
			return a.watchLines(ctx, e, p.Name, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format with --no-tui: table, yaml, json")
	return cmd
}

// lockedWriter serializes writes from the feed and the command loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// watchLines follows the feed in the background and applies commands read
// from stdin until quit or end of input.
func (a *app) watchLines(ctx context.Context, e *syncer.Engine, title, format string) error {
	out := &lockedWriter{w: a.out}
	e.OnChange(func(schemas []keymap.Schema) {
		if err := writeSchemas(out, format, title, schemas, e.Dirty()); err != nil {
			a.log.Warn("write schemas", zap.Error(err))
		}
	})
	if err := writeSchemas(out, format, title, e.Working(), e.Dirty()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(out, "Live updates stopped: %v\n", err)
		}
	}()
	defer wg.Wait()
	defer cancel()

	for {
		line, err := a.readLine("")
		if errors.Is(err, io.EOF) {
			if n := len(e.Pending()); n > 0 {
				fmt.Fprintf(out, "%d unsaved edits discarded.\n", n)
			}
			return nil
		}
		if err != nil {
			return err
		}
		if quit := a.watchCommand(ctx, out, e, line); quit {
			return nil
		}
	}
}

// watchCommand applies one command line and reports whether to stop.
func (a *app) watchCommand(ctx context.Context, out io.Writer, e *syncer.Engine, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "quit", "exit":
		return true
	case "edit":
		if len(fields) < 4 {
			fmt.Fprintln(out, "usage: edit <schema-id> <target> <value>")
			return false
		}
		target, err := keymap.ParseTarget(fields[2])
		if err == nil {
			err = e.Edit(fields[1], target, strings.Join(fields[3:], " "))
		}
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	case "discard":
		switch len(fields) {
		case 1:
			e.DiscardAll()
			fmt.Fprintln(out, "Edits discarded.")
		case 3:
			target, err := keymap.ParseTarget(fields[2])
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				return false
			}
			if !e.Discard(fields[1], target) {
				fmt.Fprintln(out, "No such pending edit.")
			}
		default:
			fmt.Fprintln(out, "usage: discard [<schema-id> <target>]")
		}
	case "pending":
		pending := e.Pending()
		if len(pending) == 0 {
			fmt.Fprintln(out, "No unsaved edits.")
		}
		for _, r := range pending {
			fmt.Fprintf(out, "%s %s: %q -> %q\n", r.SchemaID, r.Target.Key(), r.Previous, r.Pending)
		}
	case "save":
		if e.Committing() {
			fmt.Fprintln(out, "Save already in progress.")
			return false
		}
		if len(e.Dirty()) == 0 {
			fmt.Fprintln(out, "Nothing to save.")
			return false
		}
		if err := e.Commit(ctx); err != nil {
			a.log.Debug("save failed", zap.Error(err))
			fmt.Fprintf(out, "Save failed: %v. Edits kept, type save to retry.\n", err)
			return false
		}
		fmt.Fprintln(out, "Saved.")
	default:
		fmt.Fprintf(out, "Unknown command %q.\n", fields[0])
	}
	return false
}
