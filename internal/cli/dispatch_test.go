package cli_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"tasksync/internal/cli"
	"tasksync/internal/commands"
	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
	"tasksync/internal/testutil"
)

// testFactory creates a backend factory that returns the fixture.
func testFactory(fx *testutil.Fixture) cli.BackendFactory {
	return func(ctx context.Context, cfg *config.Config) (service.Backend, error) {
		return fx.Backend(), nil
	}
}

// run dispatches args with an isolated config directory.
func run(t *testing.T, factory cli.BackendFactory, cmd string, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	t.Setenv("TASKSYNC_COLLECTION", testutil.Collection)
	t.Setenv("TASKSYNC_BACKEND", "")

	dispatcher := cli.NewDispatcher(commands.DefaultRegistry, factory)

	var outBuf, errBuf bytes.Buffer
	full := append([]string{cmd, "--config", t.TempDir()}, args...)
	code = dispatcher.Run(context.Background(), full, &outBuf, &errBuf)
	return outBuf.String(), errBuf.String(), code
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	fx := testutil.NewFixture()
	dispatcher := cli.NewDispatcher(commands.DefaultRegistry, testFactory(fx))

	var stdout, stderr bytes.Buffer
	code := dispatcher.Run(context.Background(), []string{"unknowncmd"}, &stdout, &stderr)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: unknown command: unknowncmd\n"
	if stderr.String() != expected {
		t.Errorf("expected %q, got %q", expected, stderr.String())
	}
}

func TestDispatcher_FlagBeforeCommand(t *testing.T) {
	fx := testutil.NewFixture()
	dispatcher := cli.NewDispatcher(commands.DefaultRegistry, testFactory(fx))

	var stdout, stderr bytes.Buffer
	code := dispatcher.Run(context.Background(), []string{"--quiet"}, &stdout, &stderr)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: unknown command: --quiet\n"
	if stderr.String() != expected {
		t.Errorf("expected %q, got %q", expected, stderr.String())
	}
}

func TestDispatcher_HelpCommand(t *testing.T) {
	stdout, stderr, code := run(t, nil, "help")

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Error("expected help output to contain 'Usage:'")
	}
}

func TestDispatcher_VersionCommand(t *testing.T) {
	stdout, stderr, code := run(t, nil, "version")

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	if stdout != "tasksync 0.1.0\n" {
		t.Errorf("expected 'tasksync 0.1.0\\n', got %q", stdout)
	}
}

func TestDispatcher_UnknownFlag(t *testing.T) {
	fx := testutil.NewFixture()
	dispatcher := cli.NewDispatcher(commands.DefaultRegistry, testFactory(fx))

	var stdout, stderr bytes.Buffer
	code := dispatcher.Run(context.Background(), []string{"help", "--unknown"}, &stdout, &stderr)

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	expected := "error: unknown flag: -unknown\n"
	if stderr.String() != expected {
		t.Errorf("expected %q, got %q", expected, stderr.String())
	}
}

func TestDispatcher_NoArgsLists(t *testing.T) {
	fx := testutil.NewFixture().SignedIn().WithItems("Buy milk")
	dispatcher := cli.NewDispatcher(commands.DefaultRegistry, testFactory(fx))
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TASKSYNC_COLLECTION", testutil.Collection)

	var stdout, stderr bytes.Buffer
	code := dispatcher.Run(context.Background(), nil, &stdout, &stderr)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d (stderr %q)", exitcode.Success, code, stderr.String())
	}
	if stdout.String() != "   1  [ ] Buy milk\n" {
		t.Errorf("unexpected stdout %q", stdout.String())
	}
}

func TestDispatcher_AliasAndQuiet(t *testing.T) {
	fx := testutil.NewFixture().SignedIn().WithItems("Buy milk")

	stdout, stderr, code := run(t, testFactory(fx), "done", "--quiet", "1")

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d (stderr %q)", exitcode.Success, code, stderr)
	}
	if stdout != "" {
		t.Errorf("expected no stdout in quiet mode, got %q", stdout)
	}
	if done := fx.Store.Snapshot(testutil.Collection)[0][service.FieldIsDone]; done != true {
		t.Errorf("expected toggle to reach the store, got %v", done)
	}
}

func TestDispatcher_InvalidBackendFlag(t *testing.T) {
	stdout, stderr, code := run(t, nil, "list", "--backend", "carrier-pigeon")

	if code != exitcode.UserError {
		t.Errorf("expected exit code %d, got %d", exitcode.UserError, code)
	}
	if stdout != "" {
		t.Errorf("expected no stdout, got %q", stdout)
	}
	if !strings.HasPrefix(stderr, `error: invalid backend "carrier-pigeon"`) {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestDispatcher_BackendFlagReachesFactory(t *testing.T) {
	fx := testutil.NewFixture().SignedIn()
	var got string
	factory := func(ctx context.Context, cfg *config.Config) (service.Backend, error) {
		got = cfg.Backend
		return fx.Backend(), nil
	}

	_, _, code := run(t, factory, "list", "--backend", config.BackendMemory)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if got != config.BackendMemory {
		t.Errorf("expected factory to see backend %q, got %q", config.BackendMemory, got)
	}
}

func TestDispatcher_FactoryError(t *testing.T) {
	factory := func(ctx context.Context, cfg *config.Config) (service.Backend, error) {
		return service.Backend{}, errors.New("dial tcp: connection refused")
	}

	_, stderr, code := run(t, factory, "list")

	if code != exitcode.BackendError {
		t.Errorf("expected exit code %d, got %d", exitcode.BackendError, code)
	}
	if stderr != "error: backend error: dial tcp: connection refused\n" {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestDispatcher_FactoryAuthError(t *testing.T) {
	factory := func(ctx context.Context, cfg *config.Config) (service.Backend, error) {
		return service.Backend{}, errors.New("auth error: no token endpoint configured")
	}

	_, _, code := run(t, factory, "list")

	if code != exitcode.AuthError {
		t.Errorf("expected exit code %d, got %d", exitcode.AuthError, code)
	}
}

func TestDispatcher_ScreenClosedAfterRun(t *testing.T) {
	fx := testutil.NewFixture().SignedIn().WithItems("Buy milk")

	_, _, code := run(t, testFactory(fx), "list")

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if n := fx.Identity.Listeners(); n != 0 {
		t.Errorf("expected auth subscription released, got %d", n)
	}
	if n := fx.Store.Listeners(testutil.Collection); n != 0 {
		t.Errorf("expected collection subscription released, got %d", n)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := cli.NewLogger(&buf, false)
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected only warn output, got %q", buf.String())
	}

	buf.Reset()
	cli.NewLogger(&buf, true).Debug("debugging")
	if !strings.Contains(buf.String(), "debugging") {
		t.Errorf("expected debug output, got %q", buf.String())
	}
}
