// Package config loads panelgate configuration from YAML with PANELGATE_*
// environment overrides, validates it, and watches the file so panel path
// tables can be reloaded without a restart.
package config

import (
	"time"

	"github.com/jmcleod/panelgate/internal/util"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Security SecurityConfig         `yaml:"security"`
	Session  SessionConfig          `yaml:"session"`
	Storage  StorageConfig          `yaml:"storage"`
	Proxy    ProxyConfig            `yaml:"proxy"`
	Logging  LoggingConfig          `yaml:"logging"`
	Audit    AuditConfig            `yaml:"audit"`
	Panels   map[string]PanelConfig `yaml:"panels"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	// TrustedProxies are CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies"`
	// SecureCookies forces the Secure cookie attribute even when the
	// listener itself speaks plain HTTP behind a TLS terminator.
	SecureCookies   bool          `yaml:"secure_cookies"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SecurityConfig configures the master key and key derivation.
type SecurityConfig struct {
	// MasterKey is never read from YAML; use PANELGATE_MASTER_KEY, a flag,
	// or MasterKeyFile.
	MasterKey     string `yaml:"-"`
	MasterKeyFile string `yaml:"master_key_file"`
	// KDF is "pbkdf2" or "argon2id".
	KDF              string               `yaml:"kdf"`
	Salt             string               `yaml:"salt"`
	PBKDF2Iterations int                  `yaml:"pbkdf2_iterations"`
	Argon2id         *util.Argon2idParams `yaml:"argon2id"`
}

// SessionConfig configures session lifetimes and verify throttling.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	BindTTL       time.Duration `yaml:"bind_ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	Issuer        string        `yaml:"issuer"`
	// VerifyMaxAttempts failures per client IP within VerifyWindow trigger
	// a VerifyLockout.
	VerifyMaxAttempts int           `yaml:"verify_max_attempts"`
	VerifyWindow      time.Duration `yaml:"verify_window"`
	VerifyLockout     time.Duration `yaml:"verify_lockout"`
}

// StorageConfig selects the durable backend.
type StorageConfig struct {
	// Backend is one of "bbolt", "sqlite", "leveldb", "postgres" or "memory".
	Backend string `yaml:"backend"`
	// Path is the database file (bbolt, sqlite) or directory (leveldb).
	Path string `yaml:"path"`
	// DSN is the connection string for the postgres backend. Prefer
	// PANELGATE_STORAGE_DSN over writing credentials into the file.
	DSN string `yaml:"dsn"`
}

// ProxyConfig configures forwarding defaults.
type ProxyConfig struct {
	Timeout             time.Duration `yaml:"timeout"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	MaxResponseBytes    int64         `yaml:"max_response_bytes"`
	CAFile              string        `yaml:"ca_file"`
	HealthCheckSchedule string        `yaml:"health_check_schedule"`
}

// LoggingConfig configures slog output and optional file rotation.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, receives logs in addition to stderr, rotated by size.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AuditConfig configures forwarding of audit events.
type AuditConfig struct {
	// WebhookURL receives every audit event as a JSON POST when set.
	WebhookURL string `yaml:"webhook_url"`
	// WebhookHeader is sent with each POST, in the form "Name: value".
	WebhookHeader string `yaml:"webhook_header"`
}

// PanelConfig overrides the path table of one panel type.
type PanelConfig struct {
	Root  string            `yaml:"root"`
	Paths map[string]string `yaml:"paths"`
}
