package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/scenario"
	"tasksync/internal/screen"
)

func init() {
	Register(&ReplayCmd{})
}

// ReplayCmd implements the replay command: it runs a scenario file against
// the in-memory backend and prints the trace.
type ReplayCmd struct{}

func (c *ReplayCmd) Name() string      { return "replay" }
func (c *ReplayCmd) Aliases() []string { return nil }
func (c *ReplayCmd) Synopsis() string  { return "Replay a scenario file" }
func (c *ReplayCmd) Usage() string     { return "tasksync replay [common flags] <scenario.yaml>" }
func (c *ReplayCmd) NeedsScreen() bool { return false }

func (c *ReplayCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *ReplayCmd) Run(ctx context.Context, cfg *config.Config, scr *screen.Screen, args []string, out, errOut io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "error: scenario file required")
		return exitcode.UserError
	}

	sc, err := scenario.LoadFile(args[0])
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}

	err = scenario.Run(ctx, sc, out, scenario.Options{})
	switch {
	case err == nil:
		return exitcode.Success
	case errors.Is(err, scenario.ErrExpectation):
		fmt.Fprintf(errOut, "error: scenario %s: %v\n", sc.Name, err)
		return exitcode.UserError
	default:
		fmt.Fprintf(errOut, "error: scenario %s: %v\n", sc.Name, err)
		return exitcode.BackendError
	}
}
