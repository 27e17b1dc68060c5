package models

import "time"

// SystemEvent 系统事件日志
// 记录故障转移、探测周期、目录导入等事件，供 /api/stats 展示
type SystemEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"type:varchar(50);not null;index" json:"type"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Level     string    `gorm:"type:varchar(20);not null;default:'info'" json:"level"` // info, warning, error
	Metadata  string    `gorm:"type:json" json:"metadata,omitempty"`                   // JSON 格式元数据
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (SystemEvent) TableName() string {
	return "system_events"
}

// EventType 事件类型常量
const (
	EventTypeFailover      = "failover"       // 故障转移
	EventTypeHealthCheck   = "health_check"   // 探测周期
	EventTypeProviderError = "provider_error" // 显式模式调用失败
	EventTypeCatalogSeed   = "catalog_seed"   // 目录导入
	EventTypeLastResort    = "last_resort"    // 返回了带本机 IP 的兜底响应
)

// EventLevel 事件级别常量
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)
