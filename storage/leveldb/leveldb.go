// Package leveldb provides a LevelDB-backed storage repository.
package leveldb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/jmcleod/panelgate/panel"
	"github.com/jmcleod/panelgate/storage"
)

const (
	accountPrefix = "account/"
	configPrefix  = "config/"
	indexPrefix   = "config-index/"
)

// Store implements storage.Repository on a LevelDB directory.
//
// LevelDB has no multi-key transactions. Writes go through a leveldb.Batch
// and every read-modify-write holds mu, so the store is only safe for a
// single process.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

var _ storage.Repository = (*Store)(nil)

// Open opens the database directory at path, creating it if needed.
// A corrupted database is recovered once before giving up.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("leveldb: path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("leveldb: creating directory: %w", err)
	}
	opts := &opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.SnappyCompression,
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		var corrupted *lerrors.ErrCorrupted
		if errors.As(err, &corrupted) {
			db, err = leveldb.RecoverFile(path, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("leveldb: opening database at %s: %w", path, err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func indexKey(accountID string, t panel.Type) []byte {
	return []byte(indexPrefix + accountID + ":" + string(t))
}

func (s *Store) getJSON(key string, v any) error {
	data, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("leveldb: get %s: %w", key, err)
	}
	return json.Unmarshal(data, v)
}

func (s *Store) getConfig(id string) (*storage.PanelConfig, error) {
	var cfg storage.PanelConfig
	if err := s.getJSON(configPrefix+id, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) writeConfig(cfg *storage.PanelConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(configPrefix+cfg.ID), data)
	batch.Put(indexKey(cfg.AccountID, cfg.Type), []byte(cfg.ID))
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (s *Store) PutAccount(a *storage.Account) error {
	if err := storage.ValidateAccount(a); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(accountPrefix+a.ID), data, &opt.WriteOptions{Sync: true})
}

func (s *Store) GetAccount(id string) (*storage.Account, error) {
	var a storage.Account
	if err := s.getJSON(accountPrefix+id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) UpsertPanelConfig(cfg *storage.PanelConfig) (*storage.PanelConfig, error) {
	if err := storage.ValidatePanelConfig(cfg); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *storage.PanelConfig
	id, err := s.db.Get(indexKey(cfg.AccountID, cfg.Type), nil)
	switch {
	case err == nil:
		if existing, err = s.getConfig(string(id)); err != nil {
			return nil, err
		}
	case !errors.Is(err, leveldb.ErrNotFound):
		return nil, fmt.Errorf("leveldb: reading index: %w", err)
	}
	out, err := storage.PrepareUpsert(existing, cfg, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.writeConfig(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetPanelConfig(accountID string, t panel.Type) (*storage.PanelConfig, error) {
	id, err := s.db.Get(indexKey(accountID, t), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb: reading index: %w", err)
	}
	return s.getConfig(string(id))
}

func (s *Store) GetPanelConfigByID(id string) (*storage.PanelConfig, error) {
	return s.getConfig(id)
}

func (s *Store) ListPanelConfigs(accountID string) ([]*storage.PanelConfig, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(configPrefix)), nil)
	defer iter.Release()

	var out []*storage.PanelConfig
	for iter.Next() {
		var cfg storage.PanelConfig
		if err := json.Unmarshal(iter.Value(), &cfg); err != nil {
			return nil, fmt.Errorf("leveldb: decoding %s: %w", iter.Key(), err)
		}
		if accountID == "" || cfg.AccountID == accountID {
			out = append(out, &cfg)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldb: iterating configs: %w", err)
	}
	storage.SortConfigs(out)
	return out, nil
}

func (s *Store) DeletePanelConfig(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.getConfig(id)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete([]byte(configPrefix + id))
	batch.Delete(indexKey(cfg.AccountID, cfg.Type))
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (s *Store) UpdateHealth(id string, u storage.HealthUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.getConfig(id)
	if err != nil {
		return err
	}
	storage.ApplyHealth(cfg, u)
	return s.writeConfig(cfg)
}
