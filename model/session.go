package model

import "time"

// 流会话状态
const (
	SessionStarting = "starting"
	SessionActive   = "active"
	SessionStopped  = "stopped"
	SessionError    = "error"
)

// StreamSession 流会话的持久化镜像
// 内存中的会话状态由 StreamOrchestrator 独占，这里只做审计和崩溃恢复。
// 使用 GORM 管理（新模块统一用 GORM，旧表仍走原生 SQL）。
type StreamSession struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string     `gorm:"size:64;uniqueIndex" json:"streamId"` // 对外的不透明会话ID
	MediaID   int64      `gorm:"index" json:"mediaId"`
	UserID    int64      `gorm:"index" json:"userId"`
	Status    string     `gorm:"size:16" json:"status"` // starting, active, stopped, error
	Profile   string     `gorm:"type:text" json:"profile"` // 解析后的编码配置（JSON）
	StartedAt time.Time  `json:"startedAt"`
	StoppedAt *time.Time `json:"stoppedAt,omitempty"`
}

// TableName 指定表名
func (StreamSession) TableName() string {
	return "stream_sessions"
}
