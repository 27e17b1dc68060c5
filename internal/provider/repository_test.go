package provider

import (
	"testing"
	"time"

	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB 创建测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&models.Provider{}, &models.ProviderModel{}, &models.CatalogModel{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func newProvider(name string, position int, modelNames ...string) *models.Provider {
	p := &models.Provider{
		Name:     name,
		BaseURL:  "https://" + name + ".test",
		APIKey:   "sk-" + name,
		Position: position,
		Enabled:  true,
	}
	for _, m := range modelNames {
		p.Models = append(p.Models, models.ProviderModel{Name: m})
	}
	return p
}

func TestRepository_CreateWithModels(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	p := newProvider("alpha", 0, "gpt-4", "gpt-4o", "gpt-4")
	require.NoError(t, repo.Create(p))
	assert.NotZero(t, p.ID)

	found, err := repo.FindByName("alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4", "gpt-4o"}, found.ModelNames(), "duplicates dropped, order kept")
	assert.Equal(t, models.HealthStatusUnknown, found.HealthStatus)
	assert.True(t, found.Enabled)
}

func TestRepository_CreateDisabledKeepsZeroValue(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	p := newProvider("alpha", 0)
	p.Enabled = false
	require.NoError(t, repo.Create(p))

	found, err := repo.FindByName("alpha")
	require.NoError(t, err)
	assert.False(t, found.Enabled)
}

func TestRepository_FindByName_NotFound(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	_, err := repo.FindByName("missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestRepository_UpsertReplacesModels(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	require.NoError(t, repo.Create(newProvider("alpha", 0, "gpt-4")))
	require.NoError(t, repo.UpdateHealthStatus("alpha", models.HealthStatusHealthy, time.Now()))

	updated := newProvider("alpha", 3, "llama-3", "gpt-4o")
	updated.BaseURL = "https://alpha-v2.test"
	updated.Enabled = false
	require.NoError(t, repo.Upsert(updated))

	found, err := repo.FindByName("alpha")
	require.NoError(t, err)
	assert.Equal(t, "https://alpha-v2.test", found.BaseURL)
	assert.Equal(t, 3, found.Position)
	assert.False(t, found.Enabled)
	assert.Equal(t, []string{"llama-3", "gpt-4o"}, found.ModelNames())
	assert.Equal(t, models.HealthStatusHealthy, found.HealthStatus, "health status survives re-seeding")

	var count int64
	repo.db.Model(&models.ProviderModel{}).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestRepository_FindAllAndEnabledOrderedByPosition(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	require.NoError(t, repo.Create(newProvider("gamma", 2)))
	require.NoError(t, repo.Create(newProvider("alpha", 0)))
	disabled := newProvider("beta", 1)
	disabled.Enabled = false
	require.NoError(t, repo.Create(disabled))

	all, err := repo.FindAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "beta", all[1].Name)
	assert.Equal(t, "gamma", all[2].Name)

	enabled, err := repo.FindEnabled()
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, "alpha", enabled[0].Name)
	assert.Equal(t, "gamma", enabled[1].Name)
}

func TestRepository_UpdateHealthStatus(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	require.NoError(t, repo.Create(newProvider("alpha", 0)))

	checkedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateHealthStatus("alpha", models.HealthStatusUnhealthy, checkedAt))

	found, err := repo.FindByName("alpha")
	require.NoError(t, err)
	assert.Equal(t, models.HealthStatusUnhealthy, found.HealthStatus)
	require.NotNil(t, found.LastCheckedAt)
	assert.True(t, checkedAt.Equal(*found.LastCheckedAt))

	err = repo.UpdateHealthStatus("missing", models.HealthStatusHealthy, checkedAt)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestRepository_CountByHealthStatus(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	for i, name := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, repo.Create(newProvider(name, i)))
	}
	require.NoError(t, repo.UpdateHealthStatus("alpha", models.HealthStatusHealthy, time.Now()))
	require.NoError(t, repo.UpdateHealthStatus("beta", models.HealthStatusHealthy, time.Now()))

	disabled := newProvider("delta", 3)
	disabled.Enabled = false
	require.NoError(t, repo.Create(disabled))

	counts, err := repo.CountByHealthStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.HealthStatusHealthy])
	assert.Equal(t, int64(1), counts[models.HealthStatusUnknown], "disabled providers are not counted")
}

func TestRepository_SyncCatalog(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	require.NoError(t, repo.Create(newProvider("alpha", 0, "gpt-4")))
	require.NoError(t, repo.Create(newProvider("beta", 1, "gpt-4o")))
	require.NoError(t, repo.UpsertCatalogModel(&models.CatalogModel{Name: "gpt-4o", DefaultProvider: "beta"}))

	disabled, err := repo.SyncCatalog(
		[]*models.Provider{newProvider("alpha", 0, "gpt-4", "gpt-4o")},
		[]*models.CatalogModel{{Name: "gpt-4", DefaultProvider: "alpha"}},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), disabled)

	beta, err := repo.FindByName("beta")
	require.NoError(t, err)
	assert.False(t, beta.Enabled)

	enabled, err := repo.FindEnabled()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, []string{"gpt-4", "gpt-4o"}, enabled[0].ModelNames())

	entries, err := repo.FindCatalogModels()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gpt-4", entries[0].Name)

	// 空模型目录清空全部条目
	_, err = repo.SyncCatalog([]*models.Provider{newProvider("alpha", 0, "gpt-4")}, nil)
	require.NoError(t, err)
	entries, err = repo.FindCatalogModels()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRepository_UpsertCatalogModel(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.UpsertCatalogModel(&models.CatalogModel{Name: "gpt-4", DefaultProvider: "alpha"}))
	require.NoError(t, repo.UpsertCatalogModel(&models.CatalogModel{Name: "gpt-4", DefaultProvider: "beta"}))
	require.NoError(t, repo.UpsertCatalogModel(&models.CatalogModel{Name: "llama-3"}))

	entries, err := repo.FindCatalogModels()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "gpt-4", entries[0].Name)
	assert.Equal(t, "beta", entries[0].DefaultProvider)
}
