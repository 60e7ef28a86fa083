package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fwojciec/keymap"
	bt "github.com/fwojciec/keymap/bubbletea"
	"github.com/fwojciec/keymap/conversation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newGenerateCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "generate [description]",
		Short: "Design a schema by conversation",
		Long: `Describe a project and refine the proposed tables with feedback until
you reply with an affirmative such as "yes" or "looks good". The accepted
tables are printed on exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.generate(cmd.Context(), strings.Join(args, " "), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format for the accepted tables: table, yaml, json")
	return cmd
}

func (a *app) generate(ctx context.Context, description, format string) error {
	id, ok := a.sessions.Identity()
	if !ok {
		return fmt.Errorf("log in or run keymap anonymous first: %w", keymap.ErrUnauthenticated)
	}
	gen, err := a.generator(ctx, id)
	if err != nil {
		return err
	}
	eng := conversation.New(gen, a.sessions,
		conversation.WithAPIKey(a.cfg.APIKey),
		conversation.WithCallTimeout(a.cfg.CallTimeout),
		conversation.WithLogger(a.log.Named("conversation")))

	if a.noTUI {
		return a.converse(ctx, eng, description, format)
	}

	if description != "" {
		fmt.Fprintln(a.errOut, "Generating...")
		if _, err := eng.Send(ctx, description); err != nil {
			return err
		}
	}
	final, err := bt.Run(ctx, bt.New(eng, keymap.DefaultTheme()))
	if err != nil {
		return fmt.Errorf("TUI: %w", err)
	}
	if m, ok := final.(bt.Model); ok && m.Accepted() {
		st := eng.State()
		return writeSchemas(a.out, format, st.ProjectTitle, st.Tables, nil)
	}
	return nil
}

// converse runs the conversation over plain lines: each proposal is
// printed, then a line of feedback is read. An affirmative reply accepts
// the proposal; end of input leaves without accepting.
func (a *app) converse(ctx context.Context, eng *conversation.Engine, description, format string) error {
	text := description
	for {
		if text == "" {
			line, err := a.readLine("> ")
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			text = strings.TrimSpace(line)
			if text == "" {
				continue
			}
		}

		if eng.State().Started && conversation.IsAffirmative(text) {
			st := eng.State()
			return writeSchemas(a.out, format, st.ProjectTitle, st.Tables, nil)
		}

		st, err := eng.Send(ctx, text)
		text = ""
		if err != nil {
			if !keymap.Retryable(err) && !errors.Is(err, keymap.ErrMalformedResponse) {
				return err
			}
			a.log.Debug("turn failed", zap.Error(err))
			fmt.Fprintf(a.errOut, "Turn failed: %v. Send again to retry.\n", err)
			continue
		}
		if err := writeSchemas(a.errOut, "table", st.ProjectTitle, st.Tables, nil); err != nil {
			return err
		}
		if st.FollowUpQuestion != "" {
			fmt.Fprintf(a.errOut, "? %s\n", st.FollowUpQuestion)
		}
	}
}
