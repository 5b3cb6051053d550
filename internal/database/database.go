package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/slhuckstead/accountmap/internal/config"
)

// DriverName maps a configured driver to its database/sql name.
func DriverName(driver string) (string, error) {
	switch driver {
	case "postgres", "":
		return "postgres", nil
	case "sqlite":
		return "sqlite3", nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// New opens a bounded connection pool, verifies it and applies the schema.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	driverName, err := DriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	if err := Migrate(ctx, db, driverName); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[database] Connected (%s, max %d connections)", driverName, cfg.MaxOpenConns)
	return db, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS account_mappings (
	id VARCHAR(36) PRIMARY KEY,
	source VARCHAR(32) NOT NULL,
	source_identifier VARCHAR(255) NOT NULL,
	source_description TEXT NOT NULL DEFAULT '',
	financial_edge_account VARCHAR(64) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE(source, source_identifier)
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS account_mappings (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_identifier TEXT NOT NULL,
	source_description TEXT NOT NULL DEFAULT '',
	financial_edge_account TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(source, source_identifier)
);
`

// Migrate applies the schema for the given database/sql driver name.
func Migrate(ctx context.Context, db *sql.DB, driverName string) error {
	schema := postgresSchema
	if driverName == "sqlite3" {
		schema = sqliteSchema
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	log.Println("[database] Migrations applied")
	return nil
}
