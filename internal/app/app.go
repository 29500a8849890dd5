// Package app bootstraps the coordinator: load configuration, construct
// every subsystem, and run them until the process is asked to stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"coordinator/internal/config"
	"coordinator/pkg/logging"
)

// Application bootstraps configuration and services, then runs them.
type Application struct {
	services *Services
}

// NewApplication loads configuration from the environment, initializes
// logging, and constructs every subsystem. It returns an error on any
// step that cannot be recovered from (bad config, a store that can't be
// opened, a malformed static tokens file).
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stdout)
	logging.Info("Bootstrap", "Starting coordinator, listen_addr=%s store_path=%s", cfg.ListenAddr, cfg.StorePath)

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("initializing services: %w", err)
	}

	return &Application{services: services}, nil
}

// Run starts every background loop and the HTTP server, and blocks until
// ctx is canceled or the server fails. On return it persists the
// registry snapshot and the interaction log index, and closes every
// owned resource, so a subsequent cold start can warm-start cleanly.
func (a *Application) Run(ctx context.Context) error {
	s := a.services

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.Health.Run(runCtx)
	go s.SnapshotWriter.Run(runCtx)
	go s.Processor.Run(runCtx)
	go s.RetentionSweeper.Run(runCtx)

	httpSrv := &http.Server{
		Addr:         s.Config.ListenAddr,
		Handler:      s.Server,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Bootstrap", "HTTP server listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("Bootstrap", "Shutdown requested, draining HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			runErr = fmt.Errorf("shutting down http server: %w", err)
		}
		<-errCh
	case err := <-errCh:
		runErr = err
	}

	cancel()
	a.shutdownServices()
	return runErr
}

// shutdownServices flushes and closes every subsystem that owns durable or
// network state. Each step is best-effort and logged rather than
// aggregated into runErr, matching the registry snapshot's own
// log-and-continue failure semantics.
func (a *Application) shutdownServices() {
	s := a.services

	s.SnapshotWriter.Write()

	if err := s.Store.PersistIndex(); err != nil {
		logging.Error("Bootstrap", err, "Failed to persist interaction log index on shutdown")
	}
	if err := s.Store.Close(); err != nil {
		logging.Error("Bootstrap", err, "Failed to close interaction log store")
	}
	if s.RedisCache != nil {
		if err := s.RedisCache.Close(); err != nil {
			logging.Error("Bootstrap", err, "Failed to close redis cache client")
		}
	}
	s.Transport.Close()

	logging.Info("Bootstrap", "Coordinator stopped")
}
