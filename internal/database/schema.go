package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements creates the harvester tables. Idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		channel_id           TEXT PRIMARY KEY,
		title                TEXT NOT NULL DEFAULT '',
		url                  TEXT NOT NULL DEFAULT '',
		category             TEXT NOT NULL DEFAULT 'active',
		status               TEXT NOT NULL DEFAULT 'new',
		status_reason        TEXT,
		last_status_change   TIMESTAMPTZ,
		archived_at          TIMESTAMPTZ,
		subscribers          BIGINT,
		language             TEXT,
		language_confidence  DOUBLE PRECISION,
		emails               TEXT,
		email_gate_present   BOOLEAN,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_updated         TIMESTAMPTZ,
		last_attempted       TIMESTAMPTZ,
		last_enriched_at     TIMESTAMPTZ,
		last_enriched_result TEXT,
		last_error           TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_category_status ON channels (category, status)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_last_attempted ON channels (last_attempted NULLS FIRST)`,
	`CREATE TABLE IF NOT EXISTS channel_emails (
		email      TEXT NOT NULL,
		channel_id TEXT NOT NULL REFERENCES channels(channel_id) ON DELETE CASCADE,
		first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (email, channel_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channel_emails_email ON channel_emails (email)`,
}

// EnsureSchema creates the harvester tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
