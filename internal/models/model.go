package models

import "time"

// ProviderModel 供应商声明支持的模型
type ProviderModel struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ProviderID uint      `gorm:"not null;uniqueIndex:idx_provider_model" json:"provider_id"`
	Name       string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_provider_model" json:"name"`
	Position   int       `gorm:"not null;default:0" json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName 指定表名
func (ProviderModel) TableName() string {
	return "provider_models"
}

// CatalogModel 模型目录条目
// DefaultProvider 为空时由注册表按目录顺序推断
type CatalogModel struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	DefaultProvider string    `gorm:"type:varchar(100)" json:"default_provider,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName 指定表名
func (CatalogModel) TableName() string {
	return "catalog_models"
}
