// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/panelgate/panel"
	"github.com/jmcleod/panelgate/storage"
)

var (
	accountsBucket = []byte("accounts")
	configsBucket  = []byte("panel_configs")
	// indexBucket maps accountID:type to a panel config ID.
	indexBucket = []byte("panel_config_index")
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{accountsBucket, configsBucket, indexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	if options == nil {
		options = &bbolt.Options{Timeout: time.Second}
	}
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRepository(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func indexKey(accountID string, t panel.Type) []byte {
	return []byte(accountID + ":" + string(t))
}

func getConfig(tx *bbolt.Tx, id string) (*storage.PanelConfig, error) {
	data := tx.Bucket(configsBucket).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("panel config %s: %w", id, storage.ErrNotFound)
	}
	var cfg storage.PanelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding panel config %s: %w", id, err)
	}
	return &cfg, nil
}

func putConfig(tx *bbolt.Tx, cfg *storage.PanelConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := tx.Bucket(configsBucket).Put([]byte(cfg.ID), data); err != nil {
		return err
	}
	return tx.Bucket(indexBucket).Put(indexKey(cfg.AccountID, cfg.Type), []byte(cfg.ID))
}

func (s *Store) PutAccount(a *storage.Account) error {
	if err := storage.ValidateAccount(a); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(accountsBucket).Put([]byte(a.ID), data)
	})
}

func (s *Store) GetAccount(id string) (*storage.Account, error) {
	var a storage.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(accountsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) UpsertPanelConfig(cfg *storage.PanelConfig) (*storage.PanelConfig, error) {
	var out *storage.PanelConfig
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var existing *storage.PanelConfig
		if cfg != nil {
			if id := tx.Bucket(indexBucket).Get(indexKey(cfg.AccountID, cfg.Type)); id != nil {
				var err error
				if existing, err = getConfig(tx, string(id)); err != nil {
					return err
				}
			}
		}
		var err error
		if out, err = storage.PrepareUpsert(existing, cfg, time.Now()); err != nil {
			return err
		}
		return putConfig(tx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetPanelConfig(accountID string, t panel.Type) (*storage.PanelConfig, error) {
	var cfg *storage.PanelConfig
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(indexBucket).Get(indexKey(accountID, t))
		if id == nil {
			return fmt.Errorf("%s/%s: %w", accountID, t, storage.ErrNotFound)
		}
		var err error
		cfg, err = getConfig(tx, string(id))
		return err
	})
	return cfg, err
}

func (s *Store) GetPanelConfigByID(id string) (*storage.PanelConfig, error) {
	var cfg *storage.PanelConfig
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		cfg, err = getConfig(tx, id)
		return err
	})
	return cfg, err
}

func (s *Store) ListPanelConfigs(accountID string) ([]*storage.PanelConfig, error) {
	var out []*storage.PanelConfig
	err := s.db.View(func(tx *bbolt.Tx) error {
		if accountID == "" {
			return tx.Bucket(configsBucket).ForEach(func(_, v []byte) error {
				var cfg storage.PanelConfig
				if err := json.Unmarshal(v, &cfg); err != nil {
					return err
				}
				out = append(out, &cfg)
				return nil
			})
		}
		prefix := []byte(accountID + ":")
		c := tx.Bucket(indexBucket).Cursor()
		for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
			cfg, err := getConfig(tx, string(id))
			if err != nil {
				return err
			}
			out = append(out, cfg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	storage.SortConfigs(out)
	return out, nil
}

func (s *Store) DeletePanelConfig(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		cfg, err := getConfig(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(indexBucket).Delete(indexKey(cfg.AccountID, cfg.Type)); err != nil {
			return err
		}
		return tx.Bucket(configsBucket).Delete([]byte(id))
	})
}

func (s *Store) UpdateHealth(id string, u storage.HealthUpdate) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		cfg, err := getConfig(tx, id)
		if err != nil {
			return err
		}
		storage.ApplyHealth(cfg, u)
		return putConfig(tx, cfg)
	})
}
