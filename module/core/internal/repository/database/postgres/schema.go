package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS toll_records (
		id          BIGSERIAL PRIMARY KEY,
		device_id   TEXT NOT NULL,
		gantry_id   TEXT NOT NULL,
		crossed_at  TIMESTAMPTZ NOT NULL,
		price       NUMERIC(18,2) NOT NULL CHECK (price >= 0),
		status      TEXT NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 0,
		reference   TEXT,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		UNIQUE (device_id, gantry_id, crossed_at)
	)`,
	`CREATE INDEX IF NOT EXISTS toll_records_status_idx ON toll_records (status, id)`,
	`CREATE TABLE IF NOT EXISTS vehicle_balances (
		vehicle_id TEXT PRIMARY KEY,
		balance    NUMERIC(18,2) NOT NULL CHECK (balance >= 0),
		version    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_events (
		seq             BIGSERIAL PRIMARY KEY,
		vehicle_id      TEXT NOT NULL,
		kind            TEXT NOT NULL,
		amount          NUMERIC(18,2) NOT NULL CHECK (amount >= 0),
		reference       TEXT NOT NULL UNIQUE,
		idempotency_key TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		UNIQUE (vehicle_id, idempotency_key)
	)`,
}

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
