// Package sqlite provides a SQLite-backed storage repository using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jmcleod/panelgate/panel"
	"github.com/jmcleod/panelgate/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	totp_ciphertext TEXT NOT NULL,
	totp_iv TEXT NOT NULL,
	totp_tag TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS panel_configs (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	type TEXT NOT NULL,
	url TEXT NOT NULL,
	key_ciphertext TEXT NOT NULL,
	key_iv TEXT NOT NULL,
	key_tag TEXT NOT NULL,
	tls_verify INTEGER NOT NULL DEFAULT 1,
	is_healthy INTEGER NOT NULL DEFAULT 0,
	health_status TEXT NOT NULL DEFAULT 'unknown',
	last_health_check INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (account_id, type)
);

CREATE INDEX IF NOT EXISTS idx_panel_configs_account ON panel_configs(account_id);
`

const configColumns = `id, account_id, type, url, key_ciphertext, key_iv, key_tag,
	tls_verify, is_healthy, health_status, last_health_check, created_at, updated_at`

// Config configures the SQLite backend.
type Config struct {
	// Path is the database file. ":memory:" is accepted for tests.
	Path string
	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// Store implements storage.Repository backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Repository = (*Store)(nil)

// Open opens (and if needed creates) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	// SQLite only supports a single writer; one connection also serializes
	// the read-modify-write in UpsertPanelConfig.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConfig(row scanner) (*storage.PanelConfig, error) {
	var (
		cfg                             storage.PanelConfig
		typ                             string
		tlsVerify, healthy              int
		lastCheck, createdAt, updatedAt int64
	)
	err := row.Scan(&cfg.ID, &cfg.AccountID, &typ, &cfg.URL,
		&cfg.Key.Ciphertext, &cfg.Key.IV, &cfg.Key.Tag,
		&tlsVerify, &healthy, &cfg.HealthStatus, &lastCheck, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scanning panel config: %w", err)
	}
	cfg.Type = panel.Type(typ)
	cfg.TLSVerify = tlsVerify != 0
	cfg.IsHealthy = healthy != 0
	cfg.LastHealthCheck = fromUnix(lastCheck)
	cfg.CreatedAt = fromUnix(createdAt)
	cfg.UpdatedAt = fromUnix(updatedAt)
	return &cfg, nil
}

func (s *Store) PutAccount(a *storage.Account) error {
	if err := storage.ValidateAccount(a); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO accounts (id, totp_ciphertext, totp_iv, totp_tag, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			totp_ciphertext = excluded.totp_ciphertext,
			totp_iv = excluded.totp_iv,
			totp_tag = excluded.totp_tag`,
		a.ID, a.TOTPSecret.Ciphertext, a.TOTPSecret.IV, a.TOTPSecret.Tag, toUnix(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: saving account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(id string) (*storage.Account, error) {
	var (
		a         storage.Account
		createdAt int64
	)
	err := s.db.QueryRow(`SELECT id, totp_ciphertext, totp_iv, totp_tag, created_at FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.TOTPSecret.Ciphertext, &a.TOTPSecret.IV, &a.TOTPSecret.Tag, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading account: %w", err)
	}
	a.CreatedAt = fromUnix(createdAt)
	return &a, nil
}

func (s *Store) UpsertPanelConfig(cfg *storage.PanelConfig) (out *storage.PanelConfig, err error) {
	if err := storage.ValidatePanelConfig(cfg); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	existing, err := scanConfig(tx.QueryRow(
		`SELECT `+configColumns+` FROM panel_configs WHERE account_id = ? AND type = ?`,
		cfg.AccountID, string(cfg.Type)))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	out, err = storage.PrepareUpsert(existing, cfg, time.Now())
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(`
		INSERT INTO panel_configs (`+configColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			url = excluded.url,
			key_ciphertext = excluded.key_ciphertext,
			key_iv = excluded.key_iv,
			key_tag = excluded.key_tag,
			tls_verify = excluded.tls_verify,
			is_healthy = excluded.is_healthy,
			health_status = excluded.health_status,
			last_health_check = excluded.last_health_check,
			updated_at = excluded.updated_at`,
		out.ID, out.AccountID, string(out.Type), out.URL,
		out.Key.Ciphertext, out.Key.IV, out.Key.Tag,
		boolInt(out.TLSVerify), boolInt(out.IsHealthy), out.HealthStatus,
		toUnix(out.LastHealthCheck), toUnix(out.CreatedAt), toUnix(out.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("sqlite: saving panel config: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return out, nil
}

func (s *Store) GetPanelConfig(accountID string, t panel.Type) (*storage.PanelConfig, error) {
	return scanConfig(s.db.QueryRow(
		`SELECT `+configColumns+` FROM panel_configs WHERE account_id = ? AND type = ?`,
		accountID, string(t)))
}

func (s *Store) GetPanelConfigByID(id string) (*storage.PanelConfig, error) {
	return scanConfig(s.db.QueryRow(`SELECT `+configColumns+` FROM panel_configs WHERE id = ?`, id))
}

func (s *Store) ListPanelConfigs(accountID string) ([]*storage.PanelConfig, error) {
	query := `SELECT ` + configColumns + ` FROM panel_configs`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	rows, err := s.db.Query(query+` ORDER BY type, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing panel configs: %w", err)
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
	res, err := s.db.Exec(`DELETE FROM panel_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting panel config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateHealth(id string, u storage.HealthUpdate) error {
	res, err := s.db.Exec(`
		UPDATE panel_configs
		SET is_healthy = ?, health_status = ?, last_health_check = ?, updated_at = ?
		WHERE id = ?`,
		boolInt(u.IsHealthy), u.Status, toUnix(u.CheckedAt), toUnix(u.CheckedAt), id)
	if err != nil {
		return fmt.Errorf("sqlite: updating health: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
