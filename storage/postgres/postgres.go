// Package postgres implements storage.Repository backed by PostgreSQL.
//
// UpsertPanelConfig is a single INSERT ... ON CONFLICT (account_id, type)
// statement, so concurrent binds of the same pair from several processes
// converge on one row that keeps its original ID and creation time.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/panelgate/panel"
	"github.com/jmcleod/panelgate/storage"
)

// queryTimeout bounds every statement; the Repository methods take no context.
const queryTimeout = 10 * time.Second

const configColumns = `id, account_id, type, url, key_ciphertext, key_iv, key_tag,
	tls_verify, is_healthy, health_status, last_health_check, created_at, updated_at`

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), queryTimeout)
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func scanConfig(row pgx.Row) (*storage.PanelConfig, error) {
	var (
		cfg                             storage.PanelConfig
		typ                             string
		lastCheck, createdAt, updatedAt int64
	)
	err := row.Scan(&cfg.ID, &cfg.AccountID, &typ, &cfg.URL,
		&cfg.Key.Ciphertext, &cfg.Key.IV, &cfg.Key.Tag,
		&cfg.TLSVerify, &cfg.IsHealthy, &cfg.HealthStatus, &lastCheck, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning panel config: %w", err)
	}
	cfg.Type = panel.Type(typ)
	cfg.LastHealthCheck = fromUnix(lastCheck)
	cfg.CreatedAt = fromUnix(createdAt)
	cfg.UpdatedAt = fromUnix(updatedAt)
	return &cfg, nil
}

func (s *Store) PutAccount(a *storage.Account) error {
	if err := storage.ValidateAccount(a); err != nil {
		return err
	}
	c, cancel := opCtx()
	defer cancel()
	_, err := s.pool.Exec(c,
		`INSERT INTO accounts (id, totp_ciphertext, totp_iv, totp_tag, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			totp_ciphertext = EXCLUDED.totp_ciphertext,
			totp_iv = EXCLUDED.totp_iv,
			totp_tag = EXCLUDED.totp_tag`,
		a.ID, a.TOTPSecret.Ciphertext, a.TOTPSecret.IV, a.TOTPSecret.Tag, toUnix(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: saving account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(id string) (*storage.Account, error) {
	c, cancel := opCtx()
	defer cancel()
	var (
		a         storage.Account
		createdAt int64
	)
	err := s.pool.QueryRow(c,
		`SELECT id, totp_ciphertext, totp_iv, totp_tag, created_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.TOTPSecret.Ciphertext, &a.TOTPSecret.IV, &a.TOTPSecret.Tag, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: loading account: %w", err)
	}
	a.CreatedAt = fromUnix(createdAt)
	return &a, nil
}

func (s *Store) UpsertPanelConfig(cfg *storage.PanelConfig) (*storage.PanelConfig, error) {
	out, err := storage.PrepareUpsert(nil, cfg, time.Now())
	if err != nil {
		return nil, err
	}
	c, cancel := opCtx()
	defer cancel()

	var createdAt int64
	err = s.pool.QueryRow(c,
		`INSERT INTO panel_configs (`+configColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (account_id, type) DO UPDATE SET
			url = EXCLUDED.url,
			key_ciphertext = EXCLUDED.key_ciphertext,
			key_iv = EXCLUDED.key_iv,
			key_tag = EXCLUDED.key_tag,
			tls_verify = EXCLUDED.tls_verify,
			is_healthy = EXCLUDED.is_healthy,
			health_status = EXCLUDED.health_status,
			last_health_check = EXCLUDED.last_health_check,
			updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		out.ID, out.AccountID, string(out.Type), out.URL,
		out.Key.Ciphertext, out.Key.IV, out.Key.Tag,
		out.TLSVerify, out.IsHealthy, out.HealthStatus,
		toUnix(out.LastHealthCheck), toUnix(out.CreatedAt), toUnix(out.UpdatedAt)).
		Scan(&out.ID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: saving panel config: %w", err)
	}
	out.CreatedAt = fromUnix(createdAt)
	return out, nil
}

func (s *Store) GetPanelConfig(accountID string, t panel.Type) (*storage.PanelConfig, error) {
	c, cancel := opCtx()
	defer cancel()
	return scanConfig(s.pool.QueryRow(c,
		`SELECT `+configColumns+` FROM panel_configs WHERE account_id = $1 AND type = $2`,
		accountID, string(t)))
}

func (s *Store) GetPanelConfigByID(id string) (*storage.PanelConfig, error) {
	c, cancel := opCtx()
	defer cancel()
	return scanConfig(s.pool.QueryRow(c, `SELECT `+configColumns+` FROM panel_configs WHERE id = $1`, id))
}

func (s *Store) ListPanelConfigs(accountID string) ([]*storage.PanelConfig, error) {
	c, cancel := opCtx()
	defer cancel()
	query := `SELECT ` + configColumns + ` FROM panel_configs`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id = $1`
		args = append(args, accountID)
	}
	rows, err := s.pool.Query(c, query+` ORDER BY type, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing panel configs: %w", err)
	}
	defer rows.Close()

	var out []*storage.PanelConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *Store) DeletePanelConfig(id string) error {
	c, cancel := opCtx()
	defer cancel()
	tag, err := s.pool.Exec(c, `DELETE FROM panel_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deleting panel config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateHealth(id string, u storage.HealthUpdate) error {
	c, cancel := opCtx()
	defer cancel()
	tag, err := s.pool.Exec(c,
		`UPDATE panel_configs
		 SET is_healthy = $1, health_status = $2, last_health_check = $3, updated_at = $3
		 WHERE id = $4`,
		u.IsHealthy, u.Status, toUnix(u.CheckedAt), id)
	if err != nil {
		return fmt.Errorf("postgres: updating health: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
