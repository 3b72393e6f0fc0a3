package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Timestamps are Unix nanoseconds so round trips are exact; 0 means unset.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	totp_ciphertext TEXT NOT NULL,
	totp_iv         TEXT NOT NULL,
	totp_tag        TEXT NOT NULL,
	created_at      BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS panel_configs (
	id                TEXT PRIMARY KEY,
	account_id        TEXT NOT NULL,
	type              TEXT NOT NULL,
	url               TEXT NOT NULL,
	key_ciphertext    TEXT NOT NULL,
	key_iv            TEXT NOT NULL,
	key_tag           TEXT NOT NULL,
	tls_verify        BOOLEAN NOT NULL DEFAULT TRUE,
	is_healthy        BOOLEAN NOT NULL DEFAULT FALSE,
	health_status     TEXT NOT NULL DEFAULT 'unknown',
	last_health_check BIGINT NOT NULL DEFAULT 0,
	created_at        BIGINT NOT NULL,
	updated_at        BIGINT NOT NULL,
	UNIQUE (account_id, type)
);

CREATE INDEX IF NOT EXISTS idx_panel_configs_account ON panel_configs (account_id);
`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
