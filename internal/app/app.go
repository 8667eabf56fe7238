package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motionlightd/internal/config"
)

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Run starts every service and blocks until ctx is cancelled or a
// service fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	log.Info().Msg("motionlightd started")
	err := a.services.Run(ctx)
	log.Info().Msg("motionlightd stopped")
	return err
}

// ResetState clears the persisted snapshot and the in-memory entity map.
// Used on startup with --reset-state.
func (a *App) ResetState() error {
	return a.services.ResetState()
}

// Close releases resources of an App that was never run.
func (a *App) Close() {
	a.services.Close()
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
