package repository

import (
	"fmt"
	"time"

	"FeiLiu/db"
	"FeiLiu/model"

	"gorm.io/gorm"
)

// StreamSessionRepository 流会话审计仓库
// 会话的权威状态在 StreamOrchestrator 内存中，这里只负责落库镜像。
type StreamSessionRepository interface {
	CreateSession(session *model.StreamSession) error
	UpdateSessionStatus(sessionID, status string, stoppedAt *time.Time) error
	GetSessionBySessionID(sessionID string) (*model.StreamSession, error)
	FindUnfinishedSessions() ([]*model.StreamSession, error)
	MarkUnfinishedStopped(stoppedAt time.Time) (int64, error)
}

// gormStreamSessionRepository implements StreamSessionRepository with GORM.
type gormStreamSessionRepository struct {
	db *gorm.DB
}

// NewGormStreamSessionRepository creates a new instance backed by the global GORM handle.
func NewGormStreamSessionRepository() StreamSessionRepository {
	return &gormStreamSessionRepository{db: db.GormDB}
}

// CreateSession 创建会话审计行
func (r *gormStreamSessionRepository) CreateSession(session *model.StreamSession) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("创建流会话记录失败: %w", err)
	}
	return nil
}

// UpdateSessionStatus 更新会话状态
func (r *gormStreamSessionRepository) UpdateSessionStatus(sessionID, status string, stoppedAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if stoppedAt != nil {
		updates["stopped_at"] = stoppedAt
	}
	err := r.db.Model(&model.StreamSession{}).
		Where("session_id = ?", sessionID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("更新流会话状态失败: %w", err)
	}
	return nil
}

// GetSessionBySessionID 按会话ID查询，未找到返回 (nil, nil)
func (r *gormStreamSessionRepository) GetSessionBySessionID(sessionID string) (*model.StreamSession, error) {
	var session model.StreamSession
	err := r.db.Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("查询流会话失败: %w", err)
	}
	return &session, nil
}

// FindUnfinishedSessions 查询遗留在 starting/active 状态的会话
func (r *gormStreamSessionRepository) FindUnfinishedSessions() ([]*model.StreamSession, error) {
	var sessions []*model.StreamSession
	err := r.db.Where("status IN ?", []string{model.SessionStarting, model.SessionActive}).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("查询遗留会话失败: %w", err)
	}
	return sessions, nil
}

// MarkUnfinishedStopped 崩溃恢复：强制所有遗留会话为 stopped
func (r *gormStreamSessionRepository) MarkUnfinishedStopped(stoppedAt time.Time) (int64, error) {
	res := r.db.Model(&model.StreamSession{}).
		Where("status IN ?", []string{model.SessionStarting, model.SessionActive}).
		Updates(map[string]interface{}{
			"status":     model.SessionStopped,
			"stopped_at": stoppedAt,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("恢复遗留会话失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}
