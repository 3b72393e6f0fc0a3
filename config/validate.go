package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/jmcleod/panelgate/crypto"
	"github.com/jmcleod/panelgate/internal/util"
	"github.com/jmcleod/panelgate/panel"
	"github.com/jmcleod/panelgate/session"
)

// MaxRetryAttempts bounds proxy.retry_attempts.
const MaxRetryAttempts = 10

// FieldError is a validation error for one configuration field.
type FieldError struct {
	// Field is the dotted path to the field, e.g. "proxy.timeout".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks cfg and returns a ValidationError listing every problem.
func Validate(cfg *Config) error {
	var errs []FieldError
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)
	errs = append(errs, validateSession(&cfg.Session)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validatePanels(cfg.Panels)...)
	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if cfg.Listen == "" {
		errs = append(errs, FieldError{Field: "server.listen", Message: "listen address is required"})
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		errs = append(errs, FieldError{Field: "server.tls_cert", Message: "tls_cert and tls_key must be set together"})
	}
	for i, p := range cfg.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("server.trusted_proxies[%d]", i),
				Message: fmt.Sprintf("%q is not an IP or CIDR", p),
			})
		}
	}
	return errs
}

func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError
	switch cfg.KDF {
	case crypto.KDFPBKDF2:
		if cfg.PBKDF2Iterations < util.MinPBKDF2Iterations {
			errs = append(errs, FieldError{
				Field:   "security.pbkdf2_iterations",
				Message: fmt.Sprintf("must be at least %d", util.MinPBKDF2Iterations),
			})
		}
	case crypto.KDFArgon2id:
		if p := cfg.Argon2id; p == nil || p.Time == 0 || p.MemoryKiB == 0 || p.Parallelism == 0 {
			errs = append(errs, FieldError{Field: "security.argon2id", Message: "time, memory_kib and parallelism must be positive"})
		}
	default:
		errs = append(errs, FieldError{Field: "security.kdf", Message: fmt.Sprintf("unsupported kdf %q", cfg.KDF)})
	}
	if cfg.Salt == "" {
		errs = append(errs, FieldError{Field: "security.salt", Message: "salt must not be empty"})
	}
	return errs
}

func validateSession(cfg *SessionConfig) []FieldError {
	var errs []FieldError
	if cfg.TTL <= 0 {
		errs = append(errs, FieldError{Field: "session.ttl", Message: "must be positive"})
	}
	if cfg.BindTTL <= 0 || cfg.BindTTL > session.DefaultPendingTTL {
		errs = append(errs, FieldError{
			Field:   "session.bind_ttl",
			Message: fmt.Sprintf("must be positive and at most %s", session.DefaultPendingTTL),
		})
	}
	if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
		errs = append(errs, FieldError{Field: "session.sweep_schedule", Message: err.Error()})
	}
	if cfg.VerifyMaxAttempts <= 0 {
		errs = append(errs, FieldError{Field: "session.verify_max_attempts", Message: "must be positive"})
	}
	if cfg.VerifyWindow <= 0 || cfg.VerifyLockout <= 0 {
		errs = append(errs, FieldError{Field: "session.verify_window", Message: "verify_window and verify_lockout must be positive"})
	}
	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	switch cfg.Backend {
	case "memory":
		return nil
	case "postgres":
		if cfg.DSN == "" {
			return []FieldError{{Field: "storage.dsn", Message: "dsn is required for backend postgres"}}
		}
		return nil
	case "bbolt", "sqlite", "leveldb":
		if cfg.Path == "" {
			return []FieldError{{Field: "storage.path", Message: "path is required for backend " + cfg.Backend}}
		}
		return nil
	default:
		return []FieldError{{
			Field:   "storage.backend",
			Message: fmt.Sprintf("unsupported backend %q (want bbolt, sqlite, leveldb, postgres or memory)", cfg.Backend),
		}}
	}
}

func validateProxy(cfg *ProxyConfig) []FieldError {
	var errs []FieldError
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "proxy.timeout", Message: "must be positive"})
	}
	if cfg.RetryAttempts < 0 || cfg.RetryAttempts > MaxRetryAttempts {
		errs = append(errs, FieldError{
			Field:   "proxy.retry_attempts",
			Message: fmt.Sprintf("must be between 0 and %d", MaxRetryAttempts),
		})
	}
	if cfg.RetryDelay < 0 {
		errs = append(errs, FieldError{Field: "proxy.retry_delay", Message: "must not be negative"})
	}
	if cfg.MaxResponseBytes <= 0 {
		errs = append(errs, FieldError{Field: "proxy.max_response_bytes", Message: "must be positive"})
	}
	if _, err := cron.ParseStandard(cfg.HealthCheckSchedule); err != nil {
		errs = append(errs, FieldError{Field: "proxy.health_check_schedule", Message: err.Error()})
	}
	return errs
}

func validateLogging(cfg *LoggingConfig) []FieldError {
	var errs []FieldError
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", cfg.Level)})
	}
	switch cfg.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", cfg.Format)})
	}
	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError
	if cfg.WebhookURL != "" {
		u, err := url.Parse(cfg.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{Field: "audit.webhook_url", Message: "must be an absolute http(s) URL"})
		}
	}
	if cfg.WebhookHeader != "" && !strings.Contains(cfg.WebhookHeader, ":") {
		errs = append(errs, FieldError{Field: "audit.webhook_header", Message: `must have the form "Name: value"`})
	}
	return errs
}

func validatePanels(panels map[string]PanelConfig) []FieldError {
	var errs []FieldError
	for name, p := range panels {
		if _, err := panel.ParseType(name); err != nil {
			errs = append(errs, FieldError{Field: "panels." + name, Message: "unknown panel type"})
			continue
		}
		if p.Root != "" && !strings.HasPrefix(p.Root, "/") {
			errs = append(errs, FieldError{Field: "panels." + name + ".root", Message: "must start with /"})
		}
		for logical, concrete := range p.Paths {
			if !strings.HasPrefix(logical, "/") || !strings.HasPrefix(concrete, "/") {
				errs = append(errs, FieldError{
					Field:   "panels." + name + ".paths." + logical,
					Message: "logical and concrete paths must start with /",
				})
			}
		}
	}
	return errs
}
