package stream

import (
	"time"

	"FeiLiu/core/ffmpeg"
	"FeiLiu/model"

	"github.com/jonboulle/clockwork"
)

// session 一个活跃流会话的内存状态
// 由 Orchestrator 独占持有，所有字段在 Orchestrator 的锁下访问。
type session struct {
	id        string
	media     *model.MediaItem
	userID    int64
	status    string
	profile   model.EncodeProfile
	outputDir string
	startedAt time.Time

	process ffmpeg.Process
	viewers int

	// 无人观看倒计时，nil 表示未调度
	autoStop clockwork.Timer

	// 进度状态，由监控协程更新
	totalDuration float64
	position      float64
	lastEmitted   float64 // 上次发出进度事件时的百分比
}

// StreamInfo 对外暴露的会话信息
type StreamInfo struct {
	StreamID  string              `json:"streamId"`
	MediaID   int64               `json:"mediaId"`
	UserID    int64               `json:"userId"`
	Status    string              `json:"status"`
	Viewers   int                 `json:"viewers"`
	Profile   model.EncodeProfile `json:"profile"`
	StartedAt time.Time           `json:"startedAt"`
}

func (s *session) info() StreamInfo {
	return StreamInfo{
		StreamID:  s.id,
		MediaID:   s.media.ID,
		UserID:    s.userID,
		Status:    s.status,
		Viewers:   s.viewers,
		Profile:   s.profile,
		StartedAt: s.startedAt,
	}
}
