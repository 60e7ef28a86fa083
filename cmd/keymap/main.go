// Command keymap designs database schemas by conversation and keeps saved
// projects in sync with the server.
//
// Usage:
//
//	keymap signup --email ada@example.com --first-name Ada --last-name Lovelace
//	keymap login --email ada@example.com
//	keymap generate "a blog with authors and posts"
//	keymap projects
//	keymap show <project-id> --format yaml
//	keymap edit <project-id> <schema-id> type-email citext
//	keymap watch <project-id>
//
// Configuration is read from ~/.keymap/config.yaml and KEYMAP_* environment
// variables.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "keymap: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	a := &app{in: in, out: out, errOut: errOut}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
