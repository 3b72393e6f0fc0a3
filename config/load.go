package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PANELGATE_"

// ErrNoMasterKey is returned when no master key source is configured.
var ErrNoMasterKey = errors.New("no master key configured: set PANELGATE_MASTER_KEY or security.master_key_file")

// MinMasterKeyLength is the shortest accepted master secret.
const MinMasterKeyLength = 16

// Parse decodes YAML and applies defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes as the zero config.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadFile reads and parses the YAML file at path. Defaults are applied;
// environment overrides are not.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Load builds the effective configuration: the YAML file at path (or only
// defaults when path is empty), then PANELGATE_* environment overrides,
// then validation.
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path == "" {
		cfg = Default()
	} else if cfg, err = LoadFile(path); err != nil {
		return nil, err
	}

	if err := ApplyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies PANELGATE_* variables read through lookup.
// Malformed values are reported rather than ignored.
func ApplyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []FieldError
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: "invalid duration " + strconv.Quote(v)})
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: "invalid integer " + strconv.Quote(v)})
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, FieldError{Field: EnvPrefix + name, Message: "invalid boolean " + strconv.Quote(v)})
				return
			}
			*dst = b
		}
	}

	str("LISTEN", &cfg.Server.Listen)
	str("TLS_CERT", &cfg.Server.TLSCert)
	str("TLS_KEY", &cfg.Server.TLSKey)
	boolean("SECURE_COOKIES", &cfg.Server.SecureCookies)
	if v, ok := lookup(EnvPrefix + "TRUSTED_PROXIES"); ok && v != "" {
		cfg.Server.TrustedProxies = splitList(v)
	}

	str("MASTER_KEY", &cfg.Security.MasterKey)
	str("MASTER_KEY_FILE", &cfg.Security.MasterKeyFile)
	str("KDF", &cfg.Security.KDF)
	str("KDF_SALT", &cfg.Security.Salt)
	num("PBKDF2_ITERATIONS", &cfg.Security.PBKDF2Iterations)

	dur("SESSION_TTL", &cfg.Session.TTL)
	dur("BIND_TTL", &cfg.Session.BindTTL)

	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("STORAGE_DSN", &cfg.Storage.DSN)

	dur("PROXY_TIMEOUT", &cfg.Proxy.Timeout)
	num("PROXY_RETRY_ATTEMPTS", &cfg.Proxy.RetryAttempts)
	dur("PROXY_RETRY_DELAY", &cfg.Proxy.RetryDelay)
	str("PROXY_CA_FILE", &cfg.Proxy.CAFile)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("LOG_FILE", &cfg.Logging.File)

	str("AUDIT_WEBHOOK_URL", &cfg.Audit.WebhookURL)
	str("AUDIT_WEBHOOK_HEADER", &cfg.Audit.WebhookHeader)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ResolveMasterKey returns the master secret from MasterKey or the
// contents of MasterKeyFile, in that order.
func (c *Config) ResolveMasterKey() (string, error) {
	key := c.Security.MasterKey
	if key == "" && c.Security.MasterKeyFile != "" {
		data, err := os.ReadFile(c.Security.MasterKeyFile)
		if err != nil {
			return "", fmt.Errorf("reading master key file: %w", err)
		}
		key = strings.TrimSpace(string(data))
	}
	if key == "" {
		return "", ErrNoMasterKey
	}
	if len(key) < MinMasterKeyLength {
		return "", fmt.Errorf("master key must be at least %d characters", MinMasterKeyLength)
	}
	return key, nil
}
