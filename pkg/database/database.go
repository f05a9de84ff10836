package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/noah-isme/card-audit-agent/pkg/config"
)

// Open returns the store configured by cfg.Driver.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.Driver == config.DriverPostgres {
		return NewPostgres(cfg)
	}
	return NewSQLite(cfg.Path)
}

// NewPostgres returns a configured PostgreSQL client.
func NewPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// NewSQLite opens the on-device store. A single connection serialises writers.
func NewSQLite(path string) (*sqlx.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate creates the store schema when missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	schema := sqliteSchema
	if db.DriverName() == "postgres" {
		schema = postgresSchema
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate %s schema: %w", db.DriverName(), err)
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS batch_cards (
  card_id     TEXT PRIMARY KEY,
  batch_name  TEXT NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  card_owner  TEXT,
  description TEXT
);
CREATE INDEX IF NOT EXISTS idx_batch_cards_batch ON batch_cards(batch_name);
CREATE TABLE IF NOT EXISTS verified_cards (
  id              BIGSERIAL PRIMARY KEY,
  card_id         TEXT NOT NULL,
  batch_name      TEXT NOT NULL,
  holder_name     TEXT,
  verified_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  additional_data TEXT
);
CREATE INDEX IF NOT EXISTS idx_verified_cards_card ON verified_cards(card_id);
CREATE INDEX IF NOT EXISTS idx_verified_cards_batch ON verified_cards(batch_name);
CREATE TABLE IF NOT EXISTS operators (
  id            TEXT PRIMARY KEY,
  code          TEXT NOT NULL UNIQUE,
  full_name     TEXT NOT NULL,
  pin_hash      TEXT NOT NULL,
  active        BOOLEAN NOT NULL DEFAULT TRUE,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_login_at TIMESTAMPTZ
);`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS batch_cards (
  card_id     TEXT PRIMARY KEY,
  batch_name  TEXT NOT NULL,
  created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  card_owner  TEXT,
  description TEXT
);
CREATE INDEX IF NOT EXISTS idx_batch_cards_batch ON batch_cards(batch_name);
CREATE TABLE IF NOT EXISTS verified_cards (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  card_id         TEXT NOT NULL,
  batch_name      TEXT NOT NULL,
  holder_name     TEXT,
  verified_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  additional_data TEXT
);
CREATE INDEX IF NOT EXISTS idx_verified_cards_card ON verified_cards(card_id);
CREATE INDEX IF NOT EXISTS idx_verified_cards_batch ON verified_cards(batch_name);
CREATE TABLE IF NOT EXISTS operators (
  id            TEXT PRIMARY KEY,
  code          TEXT NOT NULL UNIQUE,
  full_name     TEXT NOT NULL,
  pin_hash      TEXT NOT NULL,
  active        INTEGER NOT NULL DEFAULT 1 CHECK (active IN (0,1)),
  created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  last_login_at DATETIME
);`
