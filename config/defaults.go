package config

import (
	"time"

	"github.com/jmcleod/panelgate/crypto"
	"github.com/jmcleod/panelgate/internal/util"
	"github.com/jmcleod/panelgate/proxy"
	"github.com/jmcleod/panelgate/session"
)

const (
	DefaultListen              = ":8443"
	DefaultStorageBackend      = "bbolt"
	DefaultStoragePath         = "data/panelgate.db"
	DefaultSweepSchedule       = "@every 1m"
	DefaultHealthCheckSchedule = "@every 5m"
	DefaultIssuer              = "panelgate"
)

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Long enough for a proxied call with all retries.
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Security.KDF == "" {
		cfg.Security.KDF = crypto.KDFPBKDF2
	}
	if cfg.Security.Salt == "" {
		cfg.Security.Salt = crypto.DefaultSalt
	}
	if cfg.Security.PBKDF2Iterations == 0 {
		cfg.Security.PBKDF2Iterations = util.DefaultPBKDF2Iterations
	}
	if cfg.Security.KDF == crypto.KDFArgon2id {
		def := util.DefaultArgon2idParams()
		if cfg.Security.Argon2id == nil {
			cfg.Security.Argon2id = &def
		} else if cfg.Security.Argon2id.KeyLen == 0 {
			cfg.Security.Argon2id.KeyLen = def.KeyLen
		}
	}

	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = session.DefaultTTL
	}
	if cfg.Session.BindTTL == 0 {
		cfg.Session.BindTTL = session.DefaultPendingTTL
	}
	if cfg.Session.SweepSchedule == "" {
		cfg.Session.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.Session.Issuer == "" {
		cfg.Session.Issuer = DefaultIssuer
	}
	if cfg.Session.VerifyMaxAttempts == 0 {
		cfg.Session.VerifyMaxAttempts = 5
	}
	if cfg.Session.VerifyWindow == 0 {
		cfg.Session.VerifyWindow = 5 * time.Minute
	}
	if cfg.Session.VerifyLockout == 0 {
		cfg.Session.VerifyLockout = 15 * time.Minute
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.Path == "" && cfg.Storage.Backend != "memory" && cfg.Storage.Backend != "postgres" {
		cfg.Storage.Path = DefaultStoragePath
	}

	if cfg.Proxy.Timeout == 0 {
		cfg.Proxy.Timeout = proxy.DefaultTimeout
	}
	if cfg.Proxy.RetryAttempts == 0 {
		cfg.Proxy.RetryAttempts = proxy.DefaultRetryAttempts
	}
	if cfg.Proxy.RetryDelay == 0 {
		cfg.Proxy.RetryDelay = proxy.DefaultRetryDelay
	}
	if cfg.Proxy.MaxResponseBytes == 0 {
		cfg.Proxy.MaxResponseBytes = proxy.DefaultMaxResponseBytes
	}
	if cfg.Proxy.HealthCheckSchedule == "" {
		cfg.Proxy.HealthCheckSchedule = DefaultHealthCheckSchedule
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
}

// ProxyOptions returns the forwarding defaults. TLS verification is set per
// panel binding.
func (c *Config) ProxyOptions() proxy.Options {
	return proxy.Options{
		Timeout:       c.Proxy.Timeout,
		RetryAttempts: c.Proxy.RetryAttempts,
		RetryDelay:    c.Proxy.RetryDelay,
		TLSVerify:     true,
	}
}

// CryptoOptions returns the key derivation options for crypto.New.
func (c *Config) CryptoOptions() []crypto.Option {
	opts := []crypto.Option{crypto.WithSalt([]byte(c.Security.Salt))}
	if c.Security.KDF == crypto.KDFArgon2id && c.Security.Argon2id != nil {
		return append(opts, crypto.WithArgon2id(*c.Security.Argon2id))
	}
	return append(opts, crypto.WithIterations(c.Security.PBKDF2Iterations))
}
