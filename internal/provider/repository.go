package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrProviderNotFound 供应商不存在
var ErrProviderNotFound = errors.New("provider not found")

// Repository 供应商目录数据访问层
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建 Repository 实例
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// orderedModels 按声明顺序预加载模型
func orderedModels(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// Create 创建供应商及其模型列表
func (r *Repository) Create(provider *models.Provider) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return create(tx, provider)
	})
}

func create(tx *gorm.DB, provider *models.Provider) error {
	if provider.HealthStatus == "" {
		provider.HealthStatus = models.HealthStatusUnknown
	}
	names := provider.ModelNames()

	// 使用 Select 明确指定要保存的字段，包括零值字段
	err := tx.Select("Name", "BaseURL", "APIKey", "DefaultModel", "Position", "Enabled", "HealthStatus", "CreatedAt", "UpdatedAt").
		Create(provider).Error
	if err != nil {
		return err
	}
	return replaceModels(tx, provider, names)
}

// Upsert 按名称创建或更新供应商，模型列表整体替换
func (r *Repository) Upsert(provider *models.Provider) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return upsert(tx, provider)
	})
}

func upsert(tx *gorm.DB, provider *models.Provider) error {
	existing, err := findByName(tx, provider.Name)
	if errors.Is(err, ErrProviderNotFound) {
		return create(tx, provider)
	}
	if err != nil {
		return err
	}

	names := provider.ModelNames()
	provider.ID = existing.ID
	provider.HealthStatus = existing.HealthStatus
	provider.LastCheckedAt = existing.LastCheckedAt

	err = tx.Model(&models.Provider{}).Where("id = ?", existing.ID).Updates(map[string]any{
		"base_url":      provider.BaseURL,
		"api_key":       provider.APIKey,
		"default_model": provider.DefaultModel,
		"position":      provider.Position,
		"enabled":       provider.Enabled,
	}).Error
	if err != nil {
		return err
	}
	return replaceModels(tx, provider, names)
}

// SyncCatalog 在一个事务中写入整个目录
// 不在目录中的供应商被禁用，不在目录中的模型条目被删除；返回被禁用的供应商数量
func (r *Repository) SyncCatalog(providers []*models.Provider, catalogModels []*models.CatalogModel) (int64, error) {
	var disabled int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		names := make([]string, 0, len(providers))
		for _, p := range providers {
			if err := upsert(tx, p); err != nil {
				return fmt.Errorf("provider %s: %w", p.Name, err)
			}
			names = append(names, p.Name)
		}

		stale := tx.Model(&models.Provider{}).Where("enabled = ?", true)
		if len(names) > 0 {
			stale = stale.Where("name NOT IN ?", names)
		}
		result := stale.Update("enabled", false)
		if result.Error != nil {
			return result.Error
		}
		disabled = result.RowsAffected

		modelNames := make([]string, 0, len(catalogModels))
		for _, m := range catalogModels {
			if err := upsertCatalogModel(tx, m); err != nil {
				return fmt.Errorf("model %s: %w", m.Name, err)
			}
			modelNames = append(modelNames, m.Name)
		}

		orphans := tx.Where("1 = 1")
		if len(modelNames) > 0 {
			orphans = tx.Where("name NOT IN ?", modelNames)
		}
		return orphans.Delete(&models.CatalogModel{}).Error
	})
	return disabled, err
}

// ReplaceModels 替换供应商的模型列表
func (r *Repository) ReplaceModels(provider *models.Provider, names []string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return replaceModels(tx, provider, names)
	})
}

func replaceModels(tx *gorm.DB, provider *models.Provider, names []string) error {
	if err := tx.Where("provider_id = ?", provider.ID).Delete(&models.ProviderModel{}).Error; err != nil {
		return err
	}

	rows := make([]models.ProviderModel, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup || name == "" {
			continue
		}
		seen[name] = struct{}{}
		rows = append(rows, models.ProviderModel{
			ProviderID: provider.ID,
			Name:       name,
			Position:   len(rows),
		})
	}
	if len(rows) > 0 {
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
	}
	provider.Models = rows
	return nil
}

// FindByName 根据名称查找供应商
func (r *Repository) FindByName(name string) (*models.Provider, error) {
	return findByName(r.db, name)
}

func findByName(db *gorm.DB, name string) (*models.Provider, error) {
	var provider models.Provider
	err := db.Preload("Models", orderedModels).Where("name = ?", name).First(&provider).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &provider, nil
}

// FindAll 按目录顺序查找所有供应商
func (r *Repository) FindAll() ([]*models.Provider, error) {
	var providers []*models.Provider
	err := r.db.Preload("Models", orderedModels).Order("position ASC, id ASC").Find(&providers).Error
	return providers, err
}

// FindEnabled 按目录顺序查找已启用的供应商
func (r *Repository) FindEnabled() ([]*models.Provider, error) {
	var providers []*models.Provider
	err := r.db.Preload("Models", orderedModels).
		Where("enabled = ?", true).
		Order("position ASC, id ASC").
		Find(&providers).Error
	return providers, err
}

// UpdateHealthStatus 仅更新健康状态
func (r *Repository) UpdateHealthStatus(name, healthStatus string, checkedAt time.Time) error {
	result := r.db.Model(&models.Provider{}).Where("name = ?", name).Updates(map[string]any{
		"health_status":   healthStatus,
		"last_checked_at": checkedAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProviderNotFound
	}
	return nil
}

// CountByHealthStatus 已启用供应商在各健康状态的数量
func (r *Repository) CountByHealthStatus() (map[string]int64, error) {
	var rows []struct {
		HealthStatus string
		Count        int64
	}
	err := r.db.Model(&models.Provider{}).
		Where("enabled = ?", true).
		Select("health_status, count(*) as count").
		Group("health_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.HealthStatus] = row.Count
	}
	return counts, nil
}

// ==================== 模型目录 ====================

// UpsertCatalogModel 按名称创建或更新模型目录条目
func (r *Repository) UpsertCatalogModel(model *models.CatalogModel) error {
	return upsertCatalogModel(r.db, model)
}

func upsertCatalogModel(db *gorm.DB, model *models.CatalogModel) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"default_provider", "updated_at"}),
	}).Create(model).Error
}

// FindCatalogModels 查找所有模型目录条目
func (r *Repository) FindCatalogModels() ([]models.CatalogModel, error) {
	var entries []models.CatalogModel
	err := r.db.Order("name ASC").Find(&entries).Error
	return entries, err
}
