package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/mirror"
	"tasksync/internal/screen"
	"tasksync/internal/service"
	"tasksync/internal/session"
)

// PasswordEnv is read when --password is not given.
const PasswordEnv = "TASKSYNC_PASSWORD"

// defaultWait bounds waits when the config leaves wait_timeout unset.
const defaultWait = 30 * time.Second

// await waits for pred with the configured timeout.
func await(ctx context.Context, cfg *config.Config, scr *screen.Screen, pred func(screen.View) bool) (screen.View, error) {
	timeout := cfg.WaitTimeout
	if timeout <= 0 {
		timeout = defaultWait
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return scr.Await(ctx, pred)
}

// awaitSynced waits until the signed-in collection has its first snapshot.
// It reports the error and returns a non-zero exit code on failure.
func awaitSynced(ctx context.Context, cfg *config.Config, scr *screen.Screen, errOut io.Writer) (screen.View, int) {
	v := scr.View()
	if v.Session.Kind != session.Authenticated {
		fmt.Fprintln(errOut, "error: not logged in (run: tasksync login)")
		return v, exitcode.AuthError
	}
	v, err := await(ctx, cfg, scr, func(v screen.View) bool {
		return v.Synced || v.Session.Kind != session.Authenticated
	})
	if err != nil {
		fmt.Fprintf(errOut, "error: backend error: collection did not sync: %v\n", err)
		return v, exitcode.BackendError
	}
	if v.Session.Kind != session.Authenticated {
		fmt.Fprintln(errOut, "error: not logged in (run: tasksync login)")
		return v, exitcode.AuthError
	}
	return v, exitcode.Success
}

// draftFrom builds credentials from flags, falling back to the environment
// for the password.
func draftFrom(email, password string) session.Draft {
	if password == "" {
		password = os.Getenv(PasswordEnv)
	}
	return session.Draft{Email: email, Password: password}
}

// exitFor prints err and maps it to an exit code.
func exitFor(errOut io.Writer, err error) int {
	var validation *session.ValidationError
	var auth *session.ProviderAuthError
	switch {
	case errors.As(err, &validation):
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	case errors.Is(err, mirror.ErrUnknownItem):
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	case errors.Is(err, screen.ErrNotAuthenticated):
		fmt.Fprintln(errOut, "error: not logged in (run: tasksync login)")
		return exitcode.AuthError
	case errors.As(err, &auth), errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrAccountExists):
		fmt.Fprintf(errOut, "error: auth error: %v\n", err)
		return exitcode.AuthError
	case errors.Is(err, session.ErrInvalidTransition):
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	case errors.Is(err, session.ErrUnsupported):
		fmt.Fprintf(errOut, "error: browser sign-in %v\n", err)
		return exitcode.UserError
	default:
		fmt.Fprintf(errOut, "error: backend error: %v\n", err)
		return exitcode.BackendError
	}
}
