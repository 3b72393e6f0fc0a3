// Package storagetest holds the behavioural contract every
// storage.Repository backend must satisfy.
package storagetest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/panelgate/crypto"
	"github.com/jmcleod/panelgate/panel"
	"github.com/jmcleod/panelgate/storage"
)

// Factory returns a fresh, empty repository. Cleanup is the caller's job.
type Factory func(t *testing.T) storage.Repository

func secret(s string) crypto.EncryptedSecret {
	return crypto.EncryptedSecret{Ciphertext: s + "00", IV: "0102030405060708090a0b0c", Tag: "ff" + s}
}

func config(accountID string, t panel.Type, url string) *storage.PanelConfig {
	return &storage.PanelConfig{
		AccountID: accountID,
		Type:      t,
		URL:       url,
		Key:       secret("aa"),
		TLSVerify: true,
	}
}

// Run exercises the full Repository contract against repositories built by
// newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newRepo(t)) })
	t.Run("UpsertInsert", func(t *testing.T) { testUpsertInsert(t, newRepo(t)) })
	t.Run("UpsertReplaceKeepsID", func(t *testing.T) { testUpsertReplace(t, newRepo(t)) })
	t.Run("UpsertInvalid", func(t *testing.T) { testUpsertInvalid(t, newRepo(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newRepo(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newRepo(t)) })
	t.Run("UpdateHealth", func(t *testing.T) { testUpdateHealth(t, newRepo(t)) })
	t.Run("ConcurrentUpsert", func(t *testing.T) { testConcurrentUpsert(t, newRepo(t)) })
}

func testAccounts(t *testing.T, repo storage.Repository) {
	_, err := repo.GetAccount("missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	created := time.Now().UTC().Truncate(time.Second)
	a := &storage.Account{ID: "acct-1", TOTPSecret: secret("01"), CreatedAt: created}
	require.NoError(t, repo.PutAccount(a))

	got, err := repo.GetAccount("acct-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.TOTPSecret, got.TOTPSecret)
	assert.True(t, created.Equal(got.CreatedAt))

	err = repo.PutAccount(&storage.Account{ID: "acct-2"})
	assert.True(t, errors.Is(err, storage.ErrInvalidRecord))
}

func testUpsertInsert(t *testing.T, repo storage.Repository) {
	got, err := repo.UpsertPanelConfig(config("acct", panel.TypeBT, "https://bt.example.com"))
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, storage.HealthUnknown, got.HealthStatus)
	assert.False(t, got.CreatedAt.IsZero())

	byType, err := repo.GetPanelConfig("acct", panel.TypeBT)
	require.NoError(t, err)
	assert.Equal(t, got.ID, byType.ID)
	assert.Equal(t, "https://bt.example.com", byType.URL)
	assert.Equal(t, secret("aa"), byType.Key)
	assert.True(t, byType.TLSVerify)

	byID, err := repo.GetPanelConfigByID(got.ID)
	require.NoError(t, err)
	assert.Equal(t, panel.TypeBT, byID.Type)
	assert.Equal(t, "acct", byID.AccountID)

	_, err = repo.GetPanelConfig("acct", panel.TypeOnePanel)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = repo.GetPanelConfig("other", panel.TypeBT)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = repo.GetPanelConfigByID("missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testUpsertReplace(t *testing.T, repo storage.Repository) {
	first, err := repo.UpsertPanelConfig(config("acct", panel.TypeBT, "https://one.example.com"))
	require.NoError(t, err)

	replacement := config("acct", panel.TypeBT, "https://two.example.com")
	replacement.Key = secret("bb")
	replacement.TLSVerify = false
	second, err := repo.UpsertPanelConfig(replacement)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	got, err := repo.GetPanelConfig("acct", panel.TypeBT)
	require.NoError(t, err)
	assert.Equal(t, "https://two.example.com", got.URL)
	assert.Equal(t, secret("bb"), got.Key)
	assert.False(t, got.TLSVerify)

	all, err := repo.ListPanelConfigs("acct")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testUpsertInvalid(t *testing.T, repo storage.Repository) {
	missingKey := config("acct", panel.TypeBT, "https://bt.example.com")
	missingKey.Key = crypto.EncryptedSecret{}
	_, err := repo.UpsertPanelConfig(missingKey)
	assert.True(t, errors.Is(err, storage.ErrInvalidRecord))

	_, err = repo.UpsertPanelConfig(config("", panel.TypeBT, "https://bt.example.com"))
	assert.True(t, errors.Is(err, storage.ErrInvalidRecord))

	all, err := repo.ListPanelConfigs("")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testList(t *testing.T, repo storage.Repository) {
	for _, c := range []*storage.PanelConfig{
		config("a", panel.TypeOnePanel, "https://1p.example.com"),
		config("a", panel.TypeBT, "https://bt.example.com"),
		config("b", panel.TypeBearer, "https://api.example.com"),
	} {
		_, err := repo.UpsertPanelConfig(c)
		require.NoError(t, err)
	}

	a, err := repo.ListPanelConfigs("a")
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Equal(t, panel.TypeOnePanel, a[0].Type)
	assert.Equal(t, panel.TypeBT, a[1].Type)

	all, err := repo.ListPanelConfigs("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := repo.ListPanelConfigs("nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDelete(t *testing.T, repo storage.Repository) {
	cfg, err := repo.UpsertPanelConfig(config("acct", panel.TypeBT, "https://bt.example.com"))
	require.NoError(t, err)

	require.NoError(t, repo.DeletePanelConfig(cfg.ID))
	_, err = repo.GetPanelConfigByID(cfg.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = repo.GetPanelConfig("acct", panel.TypeBT)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	err = repo.DeletePanelConfig(cfg.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	again, err := repo.UpsertPanelConfig(config("acct", panel.TypeBT, "https://bt.example.com"))
	require.NoError(t, err)
	assert.NotEqual(t, cfg.ID, again.ID)
}

func testUpdateHealth(t *testing.T, repo storage.Repository) {
	cfg, err := repo.UpsertPanelConfig(config("acct", panel.TypeBT, "https://bt.example.com"))
	require.NoError(t, err)

	checked := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateHealth(cfg.ID, storage.HealthUpdate{IsHealthy: true, Status: "ok", CheckedAt: checked}))

	got, err := repo.GetPanelConfigByID(cfg.ID)
	require.NoError(t, err)
	assert.True(t, got.IsHealthy)
	assert.Equal(t, "ok", got.HealthStatus)
	assert.True(t, checked.Equal(got.LastHealthCheck))

	err = repo.UpdateHealth("missing", storage.HealthUpdate{Status: "x", CheckedAt: checked})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testConcurrentUpsert(t *testing.T, repo storage.Repository) {
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, err := repo.UpsertPanelConfig(config("acct", panel.TypeBT, "https://bt.example.com"))
			if assert.NoError(t, err) {
				ids[i] = cfg.ID
			}
		}(i)
	}
	wg.Wait()

	all, err := repo.ListPanelConfigs("acct")
	require.NoError(t, err)
	require.Len(t, all, 1)
	for _, id := range ids {
		assert.Equal(t, all[0].ID, id)
	}
}
