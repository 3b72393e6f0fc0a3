// Package storage provides the durable store for accounts and their
// encrypted panel configurations.
package storage

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jmcleod/panelgate/crypto"
	"github.com/jmcleod/panelgate/panel"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecord is returned when a record is missing required fields.
	ErrInvalidRecord = errors.New("invalid record")
)

// HealthUnknown is the health status of a config that was never checked.
const HealthUnknown = "unknown"

// Account is a TOTP-bound identity. The TOTP secret is only persisted after
// the first code has been verified.
type Account struct {
	ID         string                 `json:"id"`
	TOTPSecret crypto.EncryptedSecret `json:"totpSecret"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// PanelConfig is a panel endpoint bound by an account. Key holds the
// encrypted API key.
type PanelConfig struct {
	ID              string                 `json:"id"`
	AccountID       string                 `json:"accountId"`
	Type            panel.Type             `json:"type"`
	URL             string                 `json:"url"`
	Key             crypto.EncryptedSecret `json:"key"`
	TLSVerify       bool                   `json:"tlsVerify"`
	IsHealthy       bool                   `json:"isHealthy"`
	HealthStatus    string                 `json:"healthStatus"`
	LastHealthCheck time.Time              `json:"lastHealthCheck"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// HealthUpdate is the outcome of a panel health check.
type HealthUpdate struct {
	IsHealthy bool
	Status    string
	CheckedAt time.Time
}

// Repository defines durable storage for accounts and panel configs.
//
// UpsertPanelConfig enforces at most one config per (account, type). When a
// config already exists for the pair it is replaced in place and keeps its
// ID and CreatedAt.
type Repository interface {
	PutAccount(a *Account) error
	GetAccount(id string) (*Account, error)

	UpsertPanelConfig(cfg *PanelConfig) (*PanelConfig, error)
	GetPanelConfig(accountID string, t panel.Type) (*PanelConfig, error)
	GetPanelConfigByID(id string) (*PanelConfig, error)
	// ListPanelConfigs returns the account's configs ordered by type. An
	// empty accountID lists every config.
	ListPanelConfigs(accountID string) ([]*PanelConfig, error)
	DeletePanelConfig(id string) error
	UpdateHealth(id string, u HealthUpdate) error

	Close() error
}

// ValidateAccount checks the fields every backend requires.
func ValidateAccount(a *Account) error {
	if a == nil || a.ID == "" || a.TOTPSecret.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}

// ValidatePanelConfig checks the fields every backend requires.
func ValidatePanelConfig(cfg *PanelConfig) error {
	if cfg == nil || cfg.AccountID == "" || cfg.Type == "" || cfg.URL == "" || cfg.Key.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}

// PrepareUpsert returns the record to store for cfg given the existing
// record for the same (account, type) pair, or nil when there is none.
func PrepareUpsert(existing *PanelConfig, cfg *PanelConfig, now time.Time) (*PanelConfig, error) {
	if err := ValidatePanelConfig(cfg); err != nil {
		return nil, err
	}
	out := *cfg
	out.UpdatedAt = now
	if existing != nil {
		out.ID = existing.ID
		out.CreatedAt = existing.CreatedAt
	} else {
		if out.ID == "" {
			out.ID = uuid.New().String()
		}
		if out.CreatedAt.IsZero() {
			out.CreatedAt = now
		}
	}
	if out.HealthStatus == "" {
		out.HealthStatus = HealthUnknown
	}
	return &out, nil
}

// ApplyHealth copies u onto cfg.
func ApplyHealth(cfg *PanelConfig, u HealthUpdate) {
	cfg.IsHealthy = u.IsHealthy
	cfg.HealthStatus = u.Status
	cfg.LastHealthCheck = u.CheckedAt
	cfg.UpdatedAt = u.CheckedAt
}

// SortConfigs orders configs by type, then ID.
func SortConfigs(cfgs []*PanelConfig) {
	sort.Slice(cfgs, func(i, j int) bool {
		if cfgs[i].Type != cfgs[j].Type {
			return cfgs[i].Type < cfgs[j].Type
		}
		return cfgs[i].ID < cfgs[j].ID
	})
}

// CloneConfig returns a copy of cfg.
func CloneConfig(cfg *PanelConfig) *PanelConfig {
	if cfg == nil {
		return nil
	}
	c := *cfg
	return &c
}
