// Package database wraps GORM with URL-based driver selection, slog query
// tracing, and transaction helpers.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Database is an open database handle. It is safe for concurrent use.
type Database struct {
	db       *gorm.DB
	postgres bool
	sqlite   bool
}

// NewDatabase opens a database from a URL. Supported schemes are
// sqlite:/// (file path or :memory:) and postgres:// / postgresql://.
func NewDatabase(_ context.Context, url string) (Database, error) {
	dialector, err := parseDialector(url)
	if err != nil {
		return Database{}, fmt.Errorf("parse database url: %w", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: slogGormLogger{},
	})
	if err != nil {
		return Database{}, fmt.Errorf("open database: %w", err)
	}

	return Database{
		db:       db,
		postgres: strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://"),
		sqlite:   strings.HasPrefix(url, "sqlite://"),
	}, nil
}

// parseDialector maps a database URL to a GORM dialector.
func parseDialector(url string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(url, "sqlite:///"):
		path := strings.TrimPrefix(url, "sqlite:///")
		if path == ":memory:" {
			// Shared cache keeps the schema visible across pooled connections.
			path = "file::memory:?cache=shared"
		}
		return sqlite.Open(path), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return postgres.Open(url), nil
	default:
		return nil, errors.New("unsupported database driver")
	}
}

// Session returns a GORM session bound to ctx.
func (d Database) Session(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx)
}

// IsPostgres reports whether the underlying driver is PostgreSQL.
func (d Database) IsPostgres() bool { return d.postgres }

// IsSQLite reports whether the underlying driver is SQLite.
func (d Database) IsSQLite() bool { return d.sqlite }

// ConfigurePool sets connection pool limits on the underlying sql.DB.
func (d Database) ConfigurePool(maxOpen, maxIdle int, maxLifetime time.Duration) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLifetime)
	return nil
}

// Close closes the underlying connection pool.
func (d Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
