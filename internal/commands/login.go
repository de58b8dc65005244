package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/output"
	"tasksync/internal/screen"
	"tasksync/internal/session"
)

func init() {
	Register(&LoginCmd{})
}

// LoginCmd implements the login command.
type LoginCmd struct {
	email    string
	password string
	google   bool
}

// SetCredentials sets the email and password (for testing).
func (c *LoginCmd) SetCredentials(email, password string) {
	c.email, c.password = email, password
}

// SetGoogle selects the browser sign-in (for testing).
func (c *LoginCmd) SetGoogle(google bool) {
	c.google = google
}

func (c *LoginCmd) Name() string      { return "login" }
func (c *LoginCmd) Aliases() []string { return nil }
func (c *LoginCmd) Synopsis() string  { return "Sign in" }
func (c *LoginCmd) Usage() string {
	return "tasksync login [common flags] (--google | --email <email> [--password <password>])"
}
func (c *LoginCmd) NeedsScreen() bool { return true }

func (c *LoginCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.email, "email", "", "")
	fs.StringVar(&c.password, "password", "", "")
	fs.BoolVar(&c.google, "google", false, "")
}

func (c *LoginCmd) Run(ctx context.Context, cfg *config.Config, scr *screen.Screen, args []string, out, errOut io.Writer) int {
	if scr.View().Session.Kind == session.Authenticated {
		if !cfg.Quiet {
			fmt.Fprintln(out, "already logged in")
		}
		return exitcode.Success
	}

	var err error
	if c.google {
		err = scr.SubmitGoogleSignIn(ctx)
	} else {
		err = scr.SubmitSignIn(ctx, draftFrom(c.email, c.password))
	}
	if err != nil {
		return exitFor(errOut, err)
	}

	// The provider confirms the sign-in through its auth stream.
	v, err := await(ctx, cfg, scr, func(v screen.View) bool {
		return v.Session.Kind == session.Authenticated
	})
	if err != nil {
		fmt.Fprintf(errOut, "error: auth error: sign-in not confirmed by provider: %v\n", err)
		return exitcode.AuthError
	}

	if !cfg.Quiet {
		fmt.Fprintln(out, output.Welcome(v.Session))
	}
	return exitcode.Success
}
