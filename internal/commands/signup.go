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
	Register(&SignupCmd{})
}

// SignupCmd implements the signup command.
type SignupCmd struct {
	email    string
	password string
}

// SetCredentials sets the email and password (for testing).
func (c *SignupCmd) SetCredentials(email, password string) {
	c.email, c.password = email, password
}

func (c *SignupCmd) Name() string      { return "signup" }
func (c *SignupCmd) Aliases() []string { return []string{"register"} }
func (c *SignupCmd) Synopsis() string  { return "Create an account and sign in" }
func (c *SignupCmd) Usage() string {
	return "tasksync signup [common flags] --email <email> [--password <password>]"
}
func (c *SignupCmd) NeedsScreen() bool { return true }

func (c *SignupCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.email, "email", "", "")
	fs.StringVar(&c.password, "password", "", "")
}

func (c *SignupCmd) Run(ctx context.Context, cfg *config.Config, scr *screen.Screen, args []string, out, errOut io.Writer) int {
	if scr.View().Session.Kind == session.Authenticated {
		if !cfg.Quiet {
			fmt.Fprintln(out, "already logged in")
		}
		return exitcode.Success
	}

	if err := scr.BeginCreateAccount(); err != nil {
		return exitFor(errOut, err)
	}
	if err := scr.SubmitSignUp(ctx, draftFrom(c.email, c.password)); err != nil {
		return exitFor(errOut, err)
	}

	if !cfg.Quiet {
		fmt.Fprintln(out, output.Welcome(scr.View().Session))
	}
	return exitcode.Success
}
