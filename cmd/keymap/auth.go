package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fwojciec/keymap"
	bt "github.com/fwojciec/keymap/bubbletea"
	"github.com/fwojciec/keymap/verify"
	"github.com/spf13/cobra"
)

func newSignUpCmd(a *app) *cobra.Command {
	var reg keymap.Registration
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and wait for email verification",
		Long: `Creates an account and waits until the link in the verification email
has been followed, then logs in. The password is read from standard input
when --password is not given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if reg.Password == "" {
				var err error
				if reg.Password, err = a.readLine("Password: "); err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				if reg.PasswordConfirmation, err = a.readLine("Confirm password: "); err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			} else if reg.PasswordConfirmation == "" {
				reg.PasswordConfirmation = reg.Password
			}
			return a.signUp(cmd.Context(), reg)
		},
	}
	cmd.Flags().StringVar(&reg.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&reg.Password, "password", "", "Password (read from stdin when omitted)")
	return cmd
}

func (a *app) poller() *verify.Poller {
	return verify.New(a.client, a.sessions,
		verify.WithInterval(a.cfg.Poll.Interval),
		verify.WithBackoff(a.cfg.Poll.Multiplier, a.cfg.Poll.MaxInterval),
		verify.WithTimeout(a.cfg.Poll.Timeout),
		verify.WithCallTimeout(a.cfg.CallTimeout),
		verify.WithLogger(a.log.Named("verify")))
}

func (a *app) signUp(ctx context.Context, reg keymap.Registration) error {
	p := a.poller()
	defer p.Cancel()

	if err := p.SignUp(ctx, reg); err != nil {
		return err
	}
	fmt.Fprintf(a.errOut, "Verification email sent to %s\n", reg.Email)

	var err error
	if a.noTUI {
		stop := context.AfterFunc(ctx, p.Cancel)
		err = p.Wait()
		stop()
	} else {
		if _, runErr := bt.Run(ctx, bt.NewVerify(p, reg.Email, keymap.DefaultTheme())); runErr != nil {
			return fmt.Errorf("TUI: %w", runErr)
		}
		p.Cancel()
		err = p.Wait()
	}

	switch {
	case err == nil:
		fmt.Fprintln(a.out, "Email verified, you are logged in.")
		return nil
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(a.out, "Stopped waiting. Run keymap login once you have followed the link.")
		return nil
	}
	return err
}

func newLoginCmd(a *app) *cobra.Command {
	var creds keymap.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if creds.Password == "" {
				var err error
				if creds.Password, err = a.readLine("Password: "); err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}
			if err := creds.Validate(); err != nil {
				return err
			}
			tok, err := a.client.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			s, err := a.sessions.Establish(cmd.Context(), tok.AccessToken, 0)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Logged in until %s\n", s.ExpiresAt.Local().Format(time.DateTime))
			return nil
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&creds.Password, "password", "", "Password (read from stdin when omitted)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.sessions.Teardown(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out.")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			id, ok := a.sessions.Identity()
			if !ok {
				fmt.Fprintln(a.out, "Not logged in.")
				return nil
			}
			switch id := id.(type) {
			case keymap.Anonymous:
				fmt.Fprintln(a.out, "Anonymous session.")
			case keymap.Authenticated:
				left := time.Until(id.Session.ExpiresAt).Round(time.Second)
				fmt.Fprintf(a.out, "Logged in, session expires at %s (in %s).\n",
					id.Session.ExpiresAt.Local().Format(time.DateTime), left)
			}
			return nil
		},
	}
}

func newAnonymousCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "anonymous",
		Short: "Continue without an account",
		Long: `Starts an anonymous session. Schemas are generated locally through
Gemini and projects cannot be saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.sessions.EstablishAnonymous(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Anonymous session started.")
			return nil
		},
	}
}
