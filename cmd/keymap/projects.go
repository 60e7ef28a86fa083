package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fwojciec/keymap"
	bt "github.com/fwojciec/keymap/bubbletea"
	"github.com/fwojciec/keymap/syncer"
	"github.com/spf13/cobra"
)

func newProjectsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List saved projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projects, err := syncer.Projects(cmd.Context(), a.sessions, a.client)
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				if id, _ := a.sessions.Identity(); isAnonymous(id) {
					fmt.Fprintln(a.out, "Anonymous sessions have no saved projects.")
					return nil
				}
				fmt.Fprintln(a.out, "No projects.")
				return nil
			}
			rows := [][]string{{"ID", "NAME", "CREATED"}}
			for _, p := range projects {
				created := ""
				if !p.CreatedAt.IsZero() {
					created = p.CreatedAt.Local().Format(time.DateOnly)
				}
				rows = append(rows, []string{p.ID, p.Name, created})
			}
			for _, line := range bt.AlignColumns(rows, 0) {
				fmt.Fprintln(a.out, line)
			}
			return nil
		},
	}
}

func isAnonymous(id keymap.Identity) bool {
	_, ok := id.(keymap.Anonymous)
	return ok
}

// syncer creates a sync engine for projectID and loads it.
func (a *app) syncer(ctx context.Context, projectID string) (*syncer.Engine, keymap.Project, error) {
	if _, ok := a.sessions.Identity(); !ok {
		return nil, keymap.Project{}, fmt.Errorf("log in first: %w", keymap.ErrUnauthenticated)
	}
	e := syncer.New(a.client, a.feed(), projectID, syncer.WithLogger(a.log.Named("syncer")))
	p, err := e.Load(ctx)
	if err != nil {
		return nil, keymap.Project{}, err
	}
	return e, p, nil
}

func newShowCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show the schemas of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, p, err := a.syncer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeSchemas(a.out, format, p.Name, e.Working(), e.Dirty())
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, yaml, json")
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	var (
		dryRun bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "edit <project-id> <schema-id> <target> <value>",
		Short: "Change one attribute of a schema and save the project",
		Long: `Changes one attribute of a schema. target is name, description or type
for the schema itself, or name-<field>, type-<field> or description-<field>
for one of its fields. The whole project is saved unless --dry-run is set.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := keymap.ParseTarget(args[2])
			if err != nil {
				return err
			}
			e, p, err := a.syncer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := e.Edit(args[1], target, args[3]); err != nil {
				return err
			}
			if dryRun {
				return writeSchemas(a.out, format, p.Name, e.Working(), e.Dirty())
			}
			if !e.IsDirty(args[1]) {
				fmt.Fprintln(a.out, "Nothing to save.")
				return nil
			}
			if err := e.Commit(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Saved.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the edited schemas without saving")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format for --dry-run: table, yaml, json")
	return cmd
}
