package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/output"
	"tasksync/internal/screen"
)

func init() {
	Register(&ToggleCmd{})
}

// ToggleCmd implements the toggle command: it flips the done flag of the
// n-th item of the list output.
type ToggleCmd struct{}

func (c *ToggleCmd) Name() string      { return "toggle" }
func (c *ToggleCmd) Aliases() []string { return []string{"done"} }
func (c *ToggleCmd) Synopsis() string  { return "Flip a task between open and done" }
func (c *ToggleCmd) Usage() string     { return "tasksync toggle [common flags] <n>" }
func (c *ToggleCmd) NeedsScreen() bool { return true }

func (c *ToggleCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *ToggleCmd) Run(ctx context.Context, cfg *config.Config, scr *screen.Screen, args []string, out, errOut io.Writer) int {
	num, err := ParseItemRef(args)
	if err != nil {
		if errors.Is(err, ErrItemRefRequired) {
			fmt.Fprintln(errOut, "error: task reference required")
		} else {
			fmt.Fprintf(errOut, "error: %v\n", err)
		}
		return exitcode.UserError
	}

	v, code := awaitSynced(ctx, cfg, scr, errOut)
	if code != exitcode.Success {
		return code
	}

	if num < 1 || num > len(v.Items) {
		fmt.Fprintf(errOut, "error: task number out of range: %d\n", num)
		return exitcode.UserError
	}
	item := v.Items[num-1]

	if err := scr.Toggle(ctx, item.ID); err != nil {
		return exitFor(errOut, err)
	}

	if cfg.Quiet {
		return exitcode.Success
	}
	after := scr.View()
	for i, it := range after.Items {
		if it.ID == item.ID {
			output.FormatItem(out, i+1, it, slices.Contains(after.Pending, it.ID))
			return exitcode.Success
		}
	}
	fmt.Fprintln(out, "ok")
	return exitcode.Success
}
