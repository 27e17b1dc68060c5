package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service 系统事件服务
// 故障转移、探测周期、目录导入等事件写入 system_events 表
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 创建事件服务
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     db,
		logger: logger.Named("events"),
		now:    time.Now,
	}
}

// LogEvent 记录事件，metadata 序列化为 JSON
func (s *Service) LogEvent(eventType, message, level string, metadata map[string]interface{}) error {
	if level == "" {
		level = models.EventLevelInfo
	}

	var raw string
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("序列化元数据失败: %w", err)
		}
		raw = string(data)
	}

	event := &models.SystemEvent{
		Type:      eventType,
		Message:   message,
		Level:     level,
		Metadata:  raw,
		CreatedAt: s.now(),
	}
	if err := s.db.Create(event).Error; err != nil {
		s.logger.Warn("persist event failed", zap.String("type", eventType), zap.Error(err))
		return fmt.Errorf("保存事件失败: %w", err)
	}
	return nil
}

// RecentEvents 最近的事件，eventType 为空时不过滤
func (s *Service) RecentEvents(eventType string, limit int) ([]models.SystemEvent, error) {
	if limit <= 0 {
		limit = 10
	}

	query := s.db.Order("created_at DESC").Order("id DESC").Limit(limit)
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}

	var events []models.SystemEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}
	return events, nil
}

// CountSince 统计 since 之后各类型事件数量
func (s *Service) CountSince(since time.Time) (map[string]int64, error) {
	var rows []struct {
		Type  string
		Count int64
	}
	err := s.db.Model(&models.SystemEvent{}).
		Select("type, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计事件失败: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Type] = r.Count
	}
	return counts, nil
}

// Prune 删除早于 retention 的事件，返回删除条数
func (s *Service) Prune(retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)

	result := s.db.Where("created_at < ?", cutoff).Delete(&models.SystemEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理旧事件失败: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("events pruned", zap.Int64("deleted", result.RowsAffected), zap.Time("cutoff", cutoff))
	}
	return result.RowsAffected, nil
}
