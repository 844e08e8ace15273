package bus

import (
	"encoding/json"
	"time"
)

// EventType 事件通道名称
type EventType string

const (
	// 扫描事件
	EvtScanProgress EventType = "scan_progress" // 扫描进度（按批次）

	// 媒体目录事件
	EvtMediaAdded   EventType = "media_added"   // 新文件入库
	EvtMediaUpdated EventType = "media_updated" // 已有条目更新
	EvtMediaRemoved EventType = "media_removed" // 文件被移除

	// 流会话事件
	EvtStreamStarted     EventType = "stream_started"     // 会话启动
	EvtStreamStopped     EventType = "stream_stopped"     // 会话停止
	EvtTranscodeProgress EventType = "transcode_progress" // 转码进度
	EvtViewerCount       EventType = "viewer_count"       // 观看人数变化

	// 系统事件
	EvtServerAnnouncement EventType = "server_announcement" // 系统公告
	EvtServerStats        EventType = "server_stats"        // 资源统计快照
)

// Event 事件总线上的一条消息
type Event struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// Marshal 序列化事件，时间戳在此统一填充
func (e Event) Marshal() ([]byte, error) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	return json.Marshal(e)
}

// ScanProgressPayload 扫描进度
type ScanProgressPayload struct {
	LibraryID      int64   `json:"libraryId"`
	Progress       float64 `json:"progress"` // 0-100
	TotalFiles     int     `json:"totalFiles"`
	ProcessedFiles int     `json:"processedFiles"`
}

// MediaPayload 目录变更
type MediaPayload struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	LibraryID int64  `json:"libraryId"`
}

// StreamStartedPayload 会话启动
type StreamStartedPayload struct {
	StreamID string `json:"streamId"`
	MediaID  int64  `json:"mediaId"`
	UserID   int64  `json:"userId"`
}

// StreamStoppedPayload 会话停止
type StreamStoppedPayload struct {
	StreamID string `json:"streamId"`
}

// ViewerCountPayload 观看人数
type ViewerCountPayload struct {
	StreamID string `json:"streamId"`
	Count    int    `json:"count"`
}

// TranscodeProgressPayload 转码进度
type TranscodeProgressPayload struct {
	StreamID    string  `json:"streamId"`
	Progress    float64 `json:"progress"` // 0-100
	CurrentTime float64 `json:"currentTime"`
	TotalTime   float64 `json:"totalTime"`
}

// 公告级别
const (
	AnnouncementInfo    = "info"
	AnnouncementWarning = "warning"
	AnnouncementError   = "error"
)

// AnnouncementPayload 系统公告
type AnnouncementPayload struct {
	Message          string `json:"message"`
	Type             string `json:"type"` // info, warning, error
	PersistUntilRead bool   `json:"persistUntilRead"`
}

// ServerStatsPayload 资源统计快照
type ServerStatsPayload struct {
	CPU           float64 `json:"cpu"`    // percent
	Memory        float64 `json:"memory"` // percent
	Disk          float64 `json:"disk"`   // percent
	ActiveStreams int     `json:"activeStreams"`
	ActiveUsers   int     `json:"activeUsers"`
	Uptime        float64 `json:"uptime"` // seconds
}
