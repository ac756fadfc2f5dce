package statestore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/erp/woosync/internal/domain/integration"
	"github.com/erp/woosync/internal/infrastructure/telemetry"
)

// SQL drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DefaultStateName is the row the state blob is stored under
const DefaultStateName = "default"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLConfig holds SQL state backend settings
type SQLConfig struct {
	Driver string // postgres, sqlite
	// DSN is a postgres:// URL or a SQLite file path
	DSN          string
	Name         string
	Migrate      bool
	MaxOpenConns int
	Tracing      telemetry.DBTracingConfig
}

// stateRow is one named state blob
type stateRow struct {
	Name      string    `gorm:"primaryKey;size:255"`
	Data      string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (stateRow) TableName() string {
	return "woosync_state"
}

// Ensure SQLStore implements StateStore
var _ integration.StateStore = (*SQLStore)(nil)

// SQLStore keeps the state blob in one row of a SQL table. Several
// runners can share a database by using different names.
type SQLStore struct {
	db   *gorm.DB
	name string
}

// OpenSQLStore connects, optionally migrates, and returns the store
func OpenSQLStore(ctx context.Context, cfg SQLConfig, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		return nil, errors.New("sql state dsn is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "", DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown sql driver %q (expected postgres or sqlite)", cfg.Driver)
	}

	if cfg.Migrate {
		if err := MigrateSQL(cfg.Driver, cfg.DSN, logger); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to state database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	if err := telemetry.RegisterDBTracing(db, cfg.Tracing, logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to register database tracing: %w", err)
	}

	return NewSQLStoreWithDB(db, cfg.Name), nil
}

// NewSQLStoreWithDB creates a store on an existing connection. The table
// must already exist.
func NewSQLStoreWithDB(db *gorm.DB, name string) *SQLStore {
	if name == "" {
		name = DefaultStateName
	}
	return &SQLStore{db: db, name: name}
}

// Load reads the named state row
func (s *SQLStore) Load(ctx context.Context) (*integration.SyncState, error) {
	var row stateRow
	err := s.db.WithContext(ctx).Where("name = ?", s.name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, integration.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state from database: %w", err)
	}
	return integration.ParseSyncState([]byte(row.Data))
}

// Save upserts the named state row
func (s *SQLStore) Save(ctx context.Context, state *integration.SyncState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	row := stateRow{Name: s.name, Data: string(data), UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to write state to database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// MigrateSQL applies the embedded schema migrations
func MigrateSQL(driver, dsn string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	url, err := migrationURL(driver, dsn)
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("Failed to close migrator", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Debug("State schema up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("state migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	logger.Info("State schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func migrationURL(driver, dsn string) (string, error) {
	switch strings.ToLower(driver) {
	case "", DriverPostgres:
		if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
			return "", errors.New("postgres state dsn must be a postgres:// URL to run migrations")
		}
		return dsn, nil
	case DriverSQLite:
		return "sqlite3://" + dsn, nil
	default:
		return "", fmt.Errorf("unknown sql driver %q (expected postgres or sqlite)", driver)
	}
}
