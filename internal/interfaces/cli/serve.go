package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erp/woosync/internal/infrastructure/config"
	"github.com/erp/woosync/internal/interfaces/http/handler"
	"github.com/erp/woosync/internal/interfaces/http/middleware"
	"github.com/erp/woosync/internal/interfaces/http/router"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port       string
	MaxRecords int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the record ingest API",
		Long: `Start an HTTP server that accepts record batches.

Each POST /api/v1/sync/records request is processed as one run against the
stored state; requests are serialized. GET /api/v1/sync/state and
GET /api/v1/sync/summary expose the state and the last summary. When
http.auth.jwt_secret is set the /api routes need a bearer token (see
"woosync token"). /healthz answers liveness probes and /metrics serves
Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Port, "port", "p", "", "listen port (overrides http.port)")
	cmd.Flags().IntVar(&opts.MaxRecords, "max-records", handler.DefaultMaxRecords, "maximum records per ingest request")

	return cmd
}

func serve(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Port != "" {
		cfg.HTTP.Port = opts.Port
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, opts.Version)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer a.close(context.Background())

	if opts.Preflight {
		if err := a.client.Ping(ctx); err != nil {
			return WrapExitError(ExitCommandError, "store preflight failed", err)
		}
	}

	srv := newHTTPServer(a, opts)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return WrapExitError(ExitFailure, "server failed", err)
		}
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "server forced to shutdown", err)
	}

	a.logger.Info("Server exited gracefully")
	return nil
}

// newHTTPServer assembles the ingest API for a
func newHTTPServer(a *app, opts *ServeOptions) *http.Server {
	if a.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	service := a.syncService()
	engine := router.NewEngine(router.EngineConfig{
		Logger:  a.logger,
		Metrics: a.metrics,
		Tracing: middleware.TracingConfig{
			ServiceName: a.cfg.Telemetry.ServiceName,
			Enabled:     a.cfg.Telemetry.Enabled,
		},
		MaxBodySize:    a.cfg.HTTP.MaxBodySize,
		TrustedProxies: a.cfg.HTTP.TrustedProxies,
		Version:        opts.Version,
		Auth:           a.tokenValidator(),
		Profiling:      a.profiler.IsEnabled(),
	}, handler.NewSyncHandler(service, opts.MaxRecords))

	return &http.Server{
		Addr:         ":" + a.cfg.HTTP.Port,
		Handler:      engine,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
}
