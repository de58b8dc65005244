// Package main is the entry point for the tasksync CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tasksync/internal/backend/googletasks"
	"tasksync/internal/backend/memory"
	"tasksync/internal/backend/oauthidp"
	"tasksync/internal/cli"
	"tasksync/internal/commands"
	"tasksync/internal/config"
	"tasksync/internal/service"
)

// Demo account of the memory backend.
const (
	demoEmail    = "demo@example.com"
	demoPassword = "demo"
)

func main() {
	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	// Create dispatcher
	dispatcher := cli.NewDispatcher(commands.DefaultRegistry, newBackend)

	// Run and exit with code
	code := dispatcher.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}

// newBackend builds the collaborators selected by cfg.Backend.
func newBackend(ctx context.Context, cfg *config.Config) (service.Backend, error) {
	if cfg.Backend == config.BackendMemory {
		return demoBackend(cfg), nil
	}

	provider, err := oauthidp.New(cfg)
	if err != nil {
		return service.Backend{}, err
	}
	store, err := googletasks.New(ctx, cfg, provider.TokenSource)
	if err != nil {
		return service.Backend{}, err
	}
	return service.Backend{Identity: provider, Store: store}, nil
}

// demoBackend is a signed-in in-memory backend with a few tasks. State does
// not outlive the process.
func demoBackend(cfg *config.Config) service.Backend {
	identity := memory.NewIdentity()
	profile := service.Profile{DisplayName: "Demo", Email: demoEmail}
	identity.AddAccount(demoEmail, demoPassword, profile)
	identity.LinkGoogle(demoEmail)
	identity.Push(&profile)

	store := memory.NewStore()
	for _, title := range []string{"Buy milk", "Write report", "Call the plumber"} {
		store.Add(cfg.Collection, title)
	}
	return service.Backend{Identity: identity, Store: store}
}
