package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/screen"
)

func init() {
	Register(&HelpCmd{})
}

// HelpCmd implements the help command.
type HelpCmd struct{}

func (c *HelpCmd) Name() string      { return "help" }
func (c *HelpCmd) Aliases() []string { return nil }
func (c *HelpCmd) Synopsis() string  { return "Print usage" }
func (c *HelpCmd) Usage() string     { return "tasksync help" }
func (c *HelpCmd) NeedsScreen() bool { return false }

func (c *HelpCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *HelpCmd) Run(ctx context.Context, cfg *config.Config, scr *screen.Screen, args []string, out, errOut io.Writer) int {
	fmt.Fprint(out, helpText)
	return exitcode.Success
}

const helpText = `Usage:
  tasksync                                    List tasks of the configured collection
  tasksync list [common flags]
  tasksync toggle [common flags] <n>          Flip task n between open and done
  tasksync done [common flags] <n>
  tasksync watch [common flags] [--changes <n>] [--for <duration>]
  tasksync login [common flags] --email <email> [--password <password>]
  tasksync login [common flags] --google      Sign in with Google in the browser
  tasksync signup [common flags] --email <email> [--password <password>]
  tasksync logout [common flags]
  tasksync replay [common flags] <scenario.yaml>
  tasksync help
  tasksync version

Common flags:
  --config <dir>      Override config directory
  --backend <name>    google or memory
  --quiet             Suppress informational output
  --debug             Print debug logs to stderr

The password may also be given in TASKSYNC_PASSWORD. The google backend
needs --google: Google does not accept passwords from command-line apps.
`
