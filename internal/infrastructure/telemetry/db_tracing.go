package telemetry

import (
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for state database tracing.
type DBTracingConfig struct {
	Enabled    bool
	DBSystem   string // postgresql, sqlite
	LogFullSQL bool   // include query variables in spans (dev only)
	// Provider overrides the global tracer provider
	Provider trace.TracerProvider
}

// RegisterDBTracing installs the otelgorm plugin on db so every state
// query becomes a child span of the run or request that issued it.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Debug("Database tracing disabled")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithoutMetrics()}
	if cfg.DBSystem != "" {
		opts = append(opts, otelgorm.WithDBName(cfg.DBSystem))
	}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if cfg.Provider != nil {
		opts = append(opts, otelgorm.WithTracerProvider(cfg.Provider))
	}

	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}
	logger.Info("Database tracing enabled",
		zap.String("db_system", cfg.DBSystem),
		zap.Bool("log_full_sql", cfg.LogFullSQL),
	)
	return nil
}
