package models

import "time"

// 健康状态常量
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
	HealthStatusUnknown   = "unknown"
)

// Provider 供应商目录条目
// 目录本身不可变，是否处于"可用集合"由探测周期单独决定
type Provider struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Name          string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	BaseURL       string          `gorm:"type:varchar(255);not null" json:"base_url"`
	APIKey        string          `gorm:"type:text" json:"-"`
	DefaultModel  string          `gorm:"type:varchar(100)" json:"default_model,omitempty"` // 可选，探测模型的第二候选
	Position      int             `gorm:"not null;default:0;index" json:"position"`         // 目录顺序
	Enabled       bool            `gorm:"not null;default:true" json:"enabled"`
	HealthStatus  string          `gorm:"type:varchar(20);default:'unknown'" json:"health_status"` // healthy/unhealthy/unknown
	LastCheckedAt *time.Time      `json:"last_checked_at,omitempty"`
	Models        []ProviderModel `gorm:"foreignKey:ProviderID;constraint:OnDelete:CASCADE" json:"models,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName 指定表名
func (Provider) TableName() string {
	return "providers"
}

// ModelNames 按声明顺序返回支持的模型名
func (p *Provider) ModelNames() []string {
	names := make([]string, 0, len(p.Models))
	for _, m := range p.Models {
		names = append(names, m.Name)
	}
	return names
}
