// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"sync"
	"time"

	"github.com/jmcleod/panelgate/panel"
	"github.com/jmcleod/panelgate/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu       sync.RWMutex
	accounts map[string]storage.Account
	configs  map[string]*storage.PanelConfig
	// index maps accountID:type to a config ID.
	index map[string]string
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		accounts: make(map[string]storage.Account),
		configs:  make(map[string]*storage.PanelConfig),
		index:    make(map[string]string),
	}
}

func indexKey(accountID string, t panel.Type) string {
	return accountID + ":" + string(t)
}

func (r *Repository) PutAccount(a *storage.Account) error {
	if err := storage.ValidateAccount(a); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = *a
	return nil
}

func (r *Repository) GetAccount(id string) (*storage.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &a, nil
}

func (r *Repository) UpsertPanelConfig(cfg *storage.PanelConfig) (*storage.PanelConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing *storage.PanelConfig
	if cfg != nil {
		if id, ok := r.index[indexKey(cfg.AccountID, cfg.Type)]; ok {
			existing = r.configs[id]
		}
	}
	out, err := storage.PrepareUpsert(existing, cfg, time.Now())
	if err != nil {
		return nil, err
	}
	r.configs[out.ID] = out
	r.index[indexKey(out.AccountID, out.Type)] = out.ID
	return storage.CloneConfig(out), nil
}

func (r *Repository) GetPanelConfig(accountID string, t panel.Type) (*storage.PanelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.index[indexKey(accountID, t)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.CloneConfig(r.configs[id]), nil
}

func (r *Repository) GetPanelConfigByID(id string) (*storage.PanelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.CloneConfig(cfg), nil
}

func (r *Repository) ListPanelConfigs(accountID string) ([]*storage.PanelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*storage.PanelConfig
	for _, cfg := range r.configs {
		if accountID == "" || cfg.AccountID == accountID {
			out = append(out, storage.CloneConfig(cfg))
		}
	}
	storage.SortConfigs(out)
	return out, nil
}

func (r *Repository) DeletePanelConfig(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(r.configs, id)
	delete(r.index, indexKey(cfg.AccountID, cfg.Type))
	return nil
}

func (r *Repository) UpdateHealth(id string, u storage.HealthUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok {
		return storage.ErrNotFound
	}
	storage.ApplyHealth(cfg, u)
	return nil
}

func (r *Repository) Close() error { return nil }
