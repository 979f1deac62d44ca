// Package database opens the PostgreSQL connection pool and applies
// versioned migrations.
package database

import (
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

// Config controls the connection pool.
type Config struct {
	URL             string
	MaxConnections  int
	MinConnections  int
	ConnTimeout     time.Duration
	IdleTimeout     time.Duration
	MaxConnLifetime time.Duration
}

// Open creates the pool and verifies connectivity.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, errors.MissingParameter("database.url")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errors.DatabaseError("open", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		db.SetMaxIdleConns(cfg.MinConnections)
	}
	if cfg.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(cfg.IdleTimeout)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.DatabaseError("ping", err)
	}
	return db, nil
}

// Migrate applies every pending migration from sourceURL (e.g.
// "file://db/migrations") in order.
func Migrate(db *sql.DB, sourceURL string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return errors.DatabaseError("migrate driver", err)
	}
	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return errors.DatabaseError("migrate init", err)
	}
	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.DatabaseError("migrate up", err)
	}
	return nil
}
