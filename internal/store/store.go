// Package store is the gorm-backed persistence layer: the chat and message
// store consumed by the live-delivery core, plus the user directory and
// friend graph it consults.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/hexatalk/internal/config"
	"github.com/Tyrowin/hexatalk/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate record")
)

// Store wraps a *gorm.DB. All methods are safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// New wraps an already opened database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database described by cfg. SQL logging goes through
// log at the configured gorm level.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN is required")
	}

	dialector, err := dialectorFor(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(cfg, log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return New(db), nil
}

func dialectorFor(dbType, dsn string) (gorm.Dialector, error) {
	switch dbType {
	case config.DBSQLite:
		return sqlite.Open(dsn), nil
	case config.DBPostgres:
		return postgres.Open(dsn), nil
	case config.DBMySQL:
		return mysql.Open(dsn), nil
	case config.DBSQLServer:
		return sqlserver.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

func newGormLogger(cfg config.DatabaseConfig, log *zap.Logger) logger.Interface {
	if log == nil {
		return logger.Discard
	}
	level := logger.LogLevel(cfg.LogLevel)
	if level < logger.Silent || level > logger.Info {
		level = logger.Error
	}
	return logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             cfg.SlowThreshold,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// DB exposes the underlying handle for callers that share the connection,
// such as the database-backed token revocation list.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates every table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps gorm's sentinel errors onto the store's.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

func now() time.Time {
	return time.Now().UTC()
}
