// Package exitcode defines exit codes for the CLI.
package exitcode

const (
	// Success indicates successful completion.
	Success = 0

	// UserError indicates a user error (bad args, missing fields, out of range).
	UserError = 1

	// AuthError indicates an auth error (not logged in, rejected credentials).
	AuthError = 2

	// BackendError indicates a backend/API/network error or a timeout
	// waiting for the provider or store.
	BackendError = 3
)
