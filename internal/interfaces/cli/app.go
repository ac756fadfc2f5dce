package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	appintegration "github.com/erp/woosync/internal/application/integration"
	"github.com/erp/woosync/internal/domain/integration"
	"github.com/erp/woosync/internal/infrastructure/auth"
	"github.com/erp/woosync/internal/infrastructure/config"
	"github.com/erp/woosync/internal/infrastructure/ecommerce"
	"github.com/erp/woosync/internal/infrastructure/logger"
	"github.com/erp/woosync/internal/infrastructure/statestore"
	"github.com/erp/woosync/internal/infrastructure/telemetry"
	"github.com/erp/woosync/internal/interfaces/http/middleware"
)

// app holds the components shared by run and serve
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *telemetry.SyncMetrics
	tracer   *telemetry.TracerProvider
	logs     *telemetry.LoggerProvider
	profiler *telemetry.Profiler
	auth     *auth.JWTService
	client   *ecommerce.WooCommerceClient
	store    integration.StateStore
	engine   *appintegration.Engine
}

// newApp wires logging, telemetry, the WooCommerce client, the state store
// and the engine from cfg. Every failure here is a configuration error.
func newApp(ctx context.Context, cfg *config.Config, version string) (*app, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: log, metrics: telemetry.NewSyncMetrics()}

	a.logs, err = telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize log export: %w", err)
	}
	a.logger = a.logs.Bridge(log, logger.ParseLevel(cfg.Log.Level))
	log = a.logger

	a.tracer, err = telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.profiler, err = telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Profiling.Enabled,
		ServerAddress:     cfg.Profiling.ServerAddress,
		ApplicationName:   cfg.Profiling.ApplicationName,
		BasicAuthUser:     cfg.Profiling.BasicAuthUser,
		BasicAuthPassword: cfg.Profiling.BasicAuthPassword,
	}, log)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}
	if cfg.Profiling.Enabled && cfg.Profiling.SpanProfiles {
		a.tracer.EnableSpanProfiles()
	}

	if cfg.HTTP.Auth.JWTSecret != "" {
		a.auth, err = auth.NewJWTService(auth.Config{
			Secret:   cfg.HTTP.Auth.JWTSecret,
			Issuer:   cfg.HTTP.Auth.Issuer,
			Audience: cfg.HTTP.Auth.Audience,
		})
		if err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	a.client, err = ecommerce.NewWooCommerceClient(wooCommerceConfig(cfg.WooCommerce),
		ecommerce.WithClientLogger(log),
		ecommerce.WithClientMetrics(a.metrics),
	)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("invalid woocommerce configuration: %w", err)
	}

	policy, err := syncPolicy(cfg.Sync)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.store, err = statestore.New(ctx, statestore.Config{
		Backend: cfg.State.Backend,
		Path:    cfg.State.Path,
		Redis: statestore.RedisConfig{
			Addr:     cfg.State.Redis.Addr,
			Password: cfg.State.Redis.Password,
			DB:       cfg.State.Redis.DB,
			Key:      cfg.State.Redis.Key,
		},
		S3: statestore.S3Config{
			Bucket:       cfg.State.S3.Bucket,
			Key:          cfg.State.S3.Key,
			Region:       cfg.State.S3.Region,
			Endpoint:     cfg.State.S3.Endpoint,
			AccessKey:    cfg.State.S3.AccessKey,
			SecretKey:    cfg.State.S3.SecretKey,
			UseSSL:       cfg.State.S3.UseSSL,
			UsePathStyle: cfg.State.S3.UsePathStyle,
		},
		SQL: statestore.SQLConfig{
			Driver:       cfg.State.SQL.Driver,
			DSN:          cfg.State.SQL.DSN,
			Name:         cfg.State.SQL.Name,
			Migrate:      cfg.State.SQL.Migrate,
			MaxOpenConns: cfg.State.SQL.MaxOpenConns,
			Tracing: telemetry.DBTracingConfig{
				Enabled:  cfg.Telemetry.Enabled && cfg.Telemetry.DBTracing,
				DBSystem: cfg.State.SQL.Driver,
			},
		},
	}, log)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	client := a.client
	a.engine = appintegration.NewEngine(client,
		func() integration.ReferenceData {
			return ecommerce.NewReferenceCache(client, log, a.metrics)
		},
		policy,
		appintegration.WithLogger(log),
		appintegration.WithMetrics(a.metrics),
	)

	log.Info("woosync configured",
		zap.String("site", a.client.BaseURL()),
		zap.String("state_backend", cfg.State.Backend),
		zap.String("category_policy", string(policy.CategoryPolicy)),
		zap.Bool("clamp_negative_stock", policy.ClampNegativeStock),
		zap.Int("max_parallel_streams", policy.MaxParallelStreams),
	)
	return a, nil
}

// tokenValidator returns the ingest API authenticator, or nil when the API is open
func (a *app) tokenValidator() middleware.TokenValidator {
	if a.auth == nil {
		return nil
	}
	return a.auth
}

// syncService builds a service draining into the state store and drains
func (a *app) syncService(drains ...appintegration.StateDrain) *appintegration.SyncService {
	return appintegration.NewSyncService(a.engine, a.store, a.cfg.Sync.BatchSize, a.logger, drains...)
}

// close releases the state store, then flushes telemetry and the logger
func (a *app) close(ctx context.Context) {
	if closer, ok := a.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("Failed to close state store", zap.Error(err))
		}
	}
	if a.profiler != nil {
		if err := a.profiler.Stop(); err != nil {
			a.logger.Warn("Failed to stop profiler", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("Failed to shut down tracer provider", zap.Error(err))
		}
	}
	if a.logs != nil {
		if err := a.logs.Shutdown(ctx); err != nil {
			a.logger.Warn("Failed to shut down logger provider", zap.Error(err))
		}
	}
	// Sync fails on terminals and pipes; nothing useful can be done about it
	_ = a.logger.Sync()
}

func wooCommerceConfig(c config.WooCommerceConfig) *ecommerce.WooCommerceConfig {
	cfg := ecommerce.NewWooCommerceConfig(c.SiteURL, c.ConsumerKey, c.ConsumerSecret)
	cfg.UserAgent = c.UserAgent
	cfg.RateLimitQPS = c.RateLimitQPS
	cfg.RateLimitBurst = c.RateLimitBurst
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.RetryWaitMin > 0 {
		cfg.RetryWaitMin = c.RetryWaitMin
	}
	if c.RetryWaitMax > 0 {
		cfg.RetryWaitMax = c.RetryWaitMax
	}
	if c.MaxResponseBytes > 0 {
		cfg.MaxResponseBytes = c.MaxResponseBytes
	}
	return cfg
}

func syncPolicy(c config.SyncConfig) (appintegration.SyncPolicy, error) {
	categories, err := appintegration.ParseCategoryPolicy(c.CategoryPolicy)
	if err != nil {
		return appintegration.SyncPolicy{}, err
	}
	return appintegration.SyncPolicy{
		CategoryPolicy:     categories,
		ClampNegativeStock: c.ClampNegativeStock,
		MaxParallelStreams: c.MaxParallelStreams,
		ErrorSampleSize:    c.ErrorSampleSize,
	}, nil
}

// isCanceled reports whether err comes from an interrupted context
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
