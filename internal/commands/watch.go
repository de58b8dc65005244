package commands

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/output"
	"tasksync/internal/screen"
)

func init() {
	Register(&WatchCmd{})
}

// WatchCmd implements the watch command: it re-renders the screen on every
// session or collection change until interrupted.
type WatchCmd struct {
	changes int
	limit   time.Duration
}

// SetLimits sets the render count and duration limits (for testing).
func (c *WatchCmd) SetLimits(changes int, limit time.Duration) {
	c.changes, c.limit = changes, limit
}

func (c *WatchCmd) Name() string      { return "watch" }
func (c *WatchCmd) Aliases() []string { return nil }
func (c *WatchCmd) Synopsis() string  { return "Follow session and task changes" }
func (c *WatchCmd) Usage() string {
	return "tasksync watch [common flags] [--changes <n>] [--for <duration>]"
}
func (c *WatchCmd) NeedsScreen() bool { return true }

func (c *WatchCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.changes, "changes", 0, "")
	fs.DurationVar(&c.limit, "for", 0, "")
}

func (c *WatchCmd) Run(ctx context.Context, cfg *config.Config, scr *screen.Screen, args []string, out, errOut io.Writer) int {
	if c.changes < 0 {
		fmt.Fprintf(errOut, "error: invalid change count: %d\n", c.changes)
		return exitcode.UserError
	}
	if c.limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.limit)
		defer cancel()
	}

	// Views are rendered from the latest state, so a full buffer can drop
	// a wakeup without losing the final render.
	wake := make(chan struct{}, 1)
	stop := scr.Observe(func(screen.View) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer stop()

	var last []byte
	rendered, noticed := 0, 0
	render := func() bool {
		notices := scr.Notices()
		if len(notices) < noticed {
			noticed = 0
		}
		for _, err := range notices[noticed:] {
			output.FormatNotice(errOut, err)
		}
		noticed = len(notices)

		var buf bytes.Buffer
		output.FormatView(&buf, scr.View())
		if bytes.Equal(buf.Bytes(), last) {
			return false
		}
		last = buf.Bytes()
		if rendered > 0 {
			fmt.Fprintln(out)
		}
		_, _ = out.Write(last)
		rendered++
		return c.changes > 0 && rendered >= c.changes
	}

	if render() {
		return exitcode.Success
	}
	for {
		select {
		case <-ctx.Done():
			return exitcode.Success
		case <-wake:
			if render() {
				return exitcode.Success
			}
		}
	}
}
