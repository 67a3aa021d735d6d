package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tom-sapletta-com/coval/internal/shell/api"
	"github.com/tom-sapletta-com/coval/internal/shell/deployer"
	"github.com/tom-sapletta-com/coval/internal/shell/docker"
	"github.com/tom-sapletta-com/coval/internal/shell/monitor"
	"github.com/tom-sapletta-com/coval/internal/shell/overlay"
	"github.com/tom-sapletta-com/coval/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server wires the deployment engine together and runs its HTTP surface.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	docker     *docker.DockerClient
	monitor    *monitor.Monitor
	deployer   *deployer.Deployer
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Open the deployment store
	s, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	// Connect to the container engine
	d, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDockerError,
		}
	}

	// Verify the engine answers
	if err := d.Ping(context.Background()); err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDockerError,
		}
	}

	// Source composition strategy
	composer, err := overlay.NewComposer(cfg.Deploy.Strategy, logger)
	if err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	mon := monitor.NewMonitor(monitor.Config{
		Interval:    cfg.Monitor.Interval,
		HistorySize: cfg.Monitor.HistorySize,
	}, logger)

	manager := docker.NewManager(d, logger)

	dep := deployer.New(deployer.Config{
		Root:         cfg.Paths.Root,
		BasePort:     cfg.Deploy.BasePort,
		MaxPort:      cfg.Deploy.MaxPort,
		Network:      cfg.Docker.Network,
		HealthWait:   cfg.Deploy.HealthWait,
		BuildTimeout: cfg.Deploy.BuildTimeout,
		StopTimeout:  cfg.Deploy.StopTimeout,
		KeepCount:    cfg.Deploy.KeepCount,
	}, deployer.Deps{
		Store:      s,
		Containers: manager,
		Images:     d,
		Composer:   composer,
		Monitor:    mon,
	}, logger)

	handler := api.NewHandler(dep, mon, s, d, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		docker:     d,
		monitor:    mon,
		deployer:   dep,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Reconcile persisted deployments with the engine before serving
	resumed, err := s.deployer.Reload(ctx)
	if err != nil {
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}
	if resumed > 0 {
		s.logger.Info("resumed monitoring for surviving deployments", "count", resumed)
	}

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server. Monitoring loops stop after the
// HTTP drain so in-flight report requests still see their applications.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.monitor.StopAll()

	if err := s.docker.Close(); err != nil {
		s.logger.Error("docker client close error", "error", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
