// Package cli parses command lines and dispatches them to commands.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"tasksync/internal/commands"
	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/mirror"
	"tasksync/internal/output"
	"tasksync/internal/screen"
	"tasksync/internal/service"
	"tasksync/internal/session"
)

// BackendFactory creates the collaborators from config.
// Used to inject the backend during dispatch.
type BackendFactory func(ctx context.Context, cfg *config.Config) (service.Backend, error)

// Dispatcher handles command-line parsing and dispatch.
type Dispatcher struct {
	registry *commands.Registry
	factory  BackendFactory
	logger   *slog.Logger
}

// NewDispatcher creates a new dispatcher with the given registry and backend factory.
func NewDispatcher(registry *commands.Registry, factory BackendFactory) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		factory:  factory,
	}
}

// WithLogger sets the logger handed to the screen. Without one, a logger on
// errOut is built per run from --debug.
func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	d.logger = logger
	return d
}

// Run parses arguments and dispatches to the appropriate command.
// Returns the exit code.
func (d *Dispatcher) Run(ctx context.Context, args []string, out, errOut io.Writer) int {
	// No args -> dispatch to "list" command with no args
	if len(args) == 0 {
		return d.dispatch(ctx, "list", nil, out, errOut)
	}

	cmdName := args[0]

	// If first token starts with -, it's an error (flags require a command)
	if strings.HasPrefix(cmdName, "-") {
		fmt.Fprintf(errOut, "error: unknown command: %s\n", cmdName)
		return exitcode.UserError
	}

	return d.dispatch(ctx, cmdName, args[1:], out, errOut)
}

func (d *Dispatcher) dispatch(ctx context.Context, cmdName string, args []string, out, errOut io.Writer) int {
	cmd, ok := d.registry.Find(cmdName)
	if !ok {
		fmt.Fprintf(errOut, "error: unknown command: %s\n", cmdName)
		return exitcode.UserError
	}
	return d.dispatchCommand(ctx, cmd, args, out, errOut)
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, cmd commands.Command, args []string, out, errOut io.Writer) int {
	// Create flag set with custom error handling
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard) // We handle errors ourselves

	// Common flags
	var configDir, backend string
	var quiet, debug bool

	fs.StringVar(&configDir, "config", "", "")
	fs.StringVar(&backend, "backend", "", "")
	fs.BoolVar(&quiet, "quiet", false, "")
	fs.BoolVar(&debug, "debug", false, "")

	// Register command-specific flags
	cmd.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(errOut, "error: %s\n", flagError(err))
		return exitcode.UserError
	}

	// Check if first positional arg starts with - (should have been parsed as flag)
	positionalArgs := fs.Args()
	if len(positionalArgs) > 0 && strings.HasPrefix(positionalArgs[0], "-") {
		fmt.Fprintf(errOut, "error: unknown flag: %s\n", positionalArgs[0])
		return exitcode.UserError
	}

	cfg, err := config.New(configDir)
	if err != nil {
		fmt.Fprintf(errOut, "error: %s\n", err)
		return exitcode.UserError
	}
	if quiet {
		cfg.Quiet = true
	}
	if debug {
		cfg.Debug = true
	}
	if backend != "" {
		cfg.Backend = backend
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(errOut, "error: %s\n", err)
			return exitcode.UserError
		}
	}

	logger := d.logger
	if logger == nil {
		logger = NewLogger(errOut, cfg.Debug)
	}

	if !cmd.NeedsScreen() {
		return cmd.Run(ctx, cfg, nil, positionalArgs, out, errOut)
	}

	scr, code := d.openScreen(ctx, cfg, logger, errOut)
	if scr == nil {
		return code
	}
	defer scr.Close()

	return cmd.Run(ctx, cfg, scr, positionalArgs, out, errOut)
}

// openScreen builds the backend, opens the screen and waits for the first
// auth state. On failure it reports the error and returns a nil screen.
func (d *Dispatcher) openScreen(ctx context.Context, cfg *config.Config, logger *slog.Logger, errOut io.Writer) (*screen.Screen, int) {
	if d.factory == nil {
		fmt.Fprintln(errOut, "error: no backend configured")
		return nil, exitcode.BackendError
	}
	backend, err := d.factory(ctx, cfg)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) || strings.Contains(err.Error(), "auth") {
			fmt.Fprintf(errOut, "error: auth error: %s\n", err)
			return nil, exitcode.AuthError
		}
		fmt.Fprintf(errOut, "error: backend error: %s\n", err)
		return nil, exitcode.BackendError
	}

	policy, err := mirror.ParsePolicy(cfg.Policy)
	if err != nil {
		fmt.Fprintf(errOut, "error: %s\n", err)
		return nil, exitcode.UserError
	}

	scr, err := screen.New(backend, screen.Options{
		Collection: cfg.Collection,
		Policy:     policy,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(errOut, "error: %s\n", err)
		return nil, exitcode.UserError
	}
	if err := scr.Open(); err != nil {
		fmt.Fprintf(errOut, "error: backend error: %s\n", err)
		return nil, exitcode.BackendError
	}

	timeout := cfg.WaitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := scr.Await(waitCtx, func(v screen.View) bool {
		return v.Session.Kind != session.Initializing
	}); err != nil {
		for _, notice := range scr.Notices() {
			output.FormatNotice(errOut, notice)
		}
		fmt.Fprintln(errOut, "error: backend error: identity provider did not respond")
		scr.Close()
		return nil, exitcode.BackendError
	}
	return scr, exitcode.Success
}

// flagError rewrites flag package errors into the CLI's wording.
func flagError(err error) string {
	errStr := err.Error()

	// Check for missing flag value
	if strings.HasPrefix(errStr, "flag needs an argument:") {
		flagPart := strings.TrimSpace(strings.TrimPrefix(errStr, "flag needs an argument:"))
		return "flag needs an argument: " + flagPart
	}

	// Check for unknown flag
	if strings.HasPrefix(errStr, "flag provided but not defined:") {
		return "unknown flag: " + strings.TrimPrefix(errStr, "flag provided but not defined: ")
	}

	return errStr
}

// NewLogger returns a text logger on w at Warn, or Debug when debug is set.
func NewLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
