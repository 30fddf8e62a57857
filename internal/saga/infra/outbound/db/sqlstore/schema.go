package sqlstore

import (
	"context"
	"fmt"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		status TEXT NOT NULL,
		total TEXT NOT NULL,
		lines TEXT NOT NULL,
		tracking_ref TEXT NOT NULL DEFAULT '',
		cancel_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS saga_instances (
		correlation_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		steps TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deadline_ms INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_saga_deadline ON saga_instances (state, deadline_ms)`,
	`CREATE TABLE IF NOT EXISTS outbox_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		published_at DATETIME NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_ms INTEGER NOT NULL DEFAULT 0,
		superseded INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_messages (published_at, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages (aggregate_id, seq)`,
	`CREATE TABLE IF NOT EXISTS inbox_records (
		message_id TEXT PRIMARY KEY,
		processed_at DATETIME NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		status TEXT NOT NULL,
		total NUMERIC(18,4) NOT NULL,
		lines JSONB NOT NULL,
		tracking_ref TEXT NOT NULL DEFAULT '',
		cancel_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS saga_instances (
		correlation_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		steps JSONB NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deadline_ms BIGINT NOT NULL,
		version BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_saga_deadline ON saga_instances (state, deadline_ms)`,
	`CREATE TABLE IF NOT EXISTS outbox_messages (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_ms BIGINT NOT NULL DEFAULT 0,
		superseded BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_messages (seq) WHERE published_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages (aggregate_id, seq) WHERE published_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS inbox_records (
		message_id TEXT PRIMARY KEY,
		processed_at TIMESTAMPTZ NOT NULL
	)`,
}

// InitSchema crea las tablas si no existen.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := sqliteSchema
	if s.dialect == DialectPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
