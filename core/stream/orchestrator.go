package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"FeiLiu/cache"
	"FeiLiu/config"
	"FeiLiu/core/bus"
	"FeiLiu/core/ffmpeg"
	"FeiLiu/logger"
	"FeiLiu/model"
	"FeiLiu/repository"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrNotFound 媒体或用户不存在
var ErrNotFound = errors.New("not found")

// 进度事件节流：变化不足5个百分点时不发
const progressStep = 5.0

// Orchestrator 流会话编排器
// 把播放请求变成受监管的编码器子进程，按观看人数管理其生命周期。
// 所有会话状态都在本实例内存中，进程内只应构造一次。
type Orchestrator struct {
	media    repository.MediaItemRepository
	users    repository.UserRepository
	sessions repository.StreamSessionRepository
	encoder  ffmpeg.Encoder
	pub      bus.Publisher
	clock    clockwork.Clock

	streamDir   string
	segmentTime int
	windowSize  int

	stopGrace     time.Duration // SIGTERM 升级为 SIGKILL 的等待上限
	cleanupDelay  time.Duration // 停止后删除输出目录的宽限期
	autoStopDelay time.Duration // 无人观看自动停止的倒计时

	mu     sync.Mutex
	active map[string]*session
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	cfg *config.Config,
	media repository.MediaItemRepository,
	users repository.UserRepository,
	sessions repository.StreamSessionRepository,
	encoder ffmpeg.Encoder,
	pub bus.Publisher,
	clock clockwork.Clock,
) *Orchestrator {
	return &Orchestrator{
		media:         media,
		users:         users,
		sessions:      sessions,
		encoder:       encoder,
		pub:           pub,
		clock:         clock,
		streamDir:     cfg.StreamDir,
		segmentTime:   cfg.HLSSegmentTime,
		windowSize:    cfg.HLSWindowSize,
		stopGrace:     time.Duration(cfg.StopGraceSec) * time.Second,
		cleanupDelay:  time.Duration(cfg.CleanupDelaySec) * time.Second,
		autoStopDelay: time.Duration(cfg.AutoStopSec) * time.Second,
		active:        make(map[string]*session),
	}
}

// StartResult StartStream 的返回值
type StartResult struct {
	StreamID    string `json:"streamId"`
	PlaylistURL string `json:"playlistUrl"`
}

// StartStream 启动一个新的流会话
func (o *Orchestrator) StartStream(ctx context.Context, mediaID, userID int64, caps model.ClientCapabilities) (*StartResult, error) {
	media, err := o.media.GetMediaItemByID(mediaID)
	if err != nil {
		return nil, fmt.Errorf("查询媒体失败: %w", err)
	}
	if media == nil {
		return nil, fmt.Errorf("media %d: %w", mediaID, ErrNotFound)
	}

	user, err := o.users.GetUserByID(userID)
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	sessionID := uuid.New().String()
	outputDir := filepath.Join(o.streamDir, sessionID)
	profile := ResolveProfile(media, caps, o.segmentTime, o.windowSize)

	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("序列化编码配置失败: %w", err)
	}

	row := &model.StreamSession{
		SessionID: sessionID,
		MediaID:   mediaID,
		UserID:    userID,
		Status:    model.SessionStarting,
		Profile:   string(profileJSON),
		StartedAt: o.clock.Now(),
	}
	if err := o.sessions.CreateSession(row); err != nil {
		return nil, err
	}

	process, err := o.encoder.Start(ctx, media.Path, outputDir, profile)
	if err != nil {
		logger.Error("编码器启动失败",
			logger.String("streamId", sessionID),
			logger.Int64("mediaId", mediaID),
			logger.ErrorField(err))
		if updErr := o.sessions.UpdateSessionStatus(sessionID, model.SessionError, nil); updErr != nil {
			logger.Error("更新会话状态失败", logger.ErrorField(updErr))
		}
		return nil, fmt.Errorf("编码器启动失败: %w", err)
	}

	sess := &session{
		id:        sessionID,
		media:     media,
		userID:    userID,
		status:    model.SessionActive,
		profile:   profile,
		outputDir: outputDir,
		startedAt: o.clock.Now(),
		process:   process,
		viewers:   1,
	}

	o.mu.Lock()
	o.active[sessionID] = sess
	o.mu.Unlock()

	if err := o.sessions.UpdateSessionStatus(sessionID, model.SessionActive, nil); err != nil {
		logger.Error("更新会话状态失败", logger.ErrorField(err))
	}

	go o.monitor(sess)

	o.pub.PublishAuthenticated(bus.Event{
		Type: bus.EvtStreamStarted,
		Payload: bus.StreamStartedPayload{
			StreamID: sessionID,
			MediaID:  mediaID,
			UserID:   userID,
		},
	})

	logger.Info("流会话已启动",
		logger.String("streamId", sessionID),
		logger.Int64("mediaId", mediaID),
		logger.Int64("userId", userID),
		logger.Int("height", profile.Height),
		logger.Int("videoBitrate", profile.VideoBitrate))

	return &StartResult{
		StreamID:    sessionID,
		PlaylistURL: fmt.Sprintf("/streams/%s/playlist.m3u8", sessionID),
	}, nil
}

// monitor 消费编码器的诊断输出并处理退出
// 会话状态机：starting → active → {stopped, error}，
// 由诊断行和退出码这两类离散事件驱动。
func (o *Orchestrator) monitor(sess *session) {
	for line := range sess.process.Lines() {
		o.handleProgressLine(sess, line)
	}

	<-sess.process.Done()
	exitErr := sess.process.ExitErr()

	o.mu.Lock()
	tracked := o.active[sess.id] == sess
	total := sess.totalDuration
	last := sess.lastEmitted
	o.mu.Unlock()

	if !tracked {
		// StopStream 已经接管了收尾
		return
	}

	if exitErr != nil {
		logger.Error("编码器异常退出",
			logger.String("streamId", sess.id),
			logger.ErrorField(exitErr))
		o.mu.Lock()
		sess.status = model.SessionError
		o.mu.Unlock()
		if err := o.sessions.UpdateSessionStatus(sess.id, model.SessionError, nil); err != nil {
			logger.Error("更新会话状态失败", logger.ErrorField(err))
		}
		return
	}

	// 正常退出且时长已知：发出终态进度（已发过 100% 则不重复）
	if total > 0 && last < 100 {
		o.pub.PublishRoom(sess.id, bus.Event{
			Type: bus.EvtTranscodeProgress,
			Payload: bus.TranscodeProgressPayload{
				StreamID:    sess.id,
				Progress:    100,
				CurrentTime: total,
				TotalTime:   total,
			},
		})
	}
	logger.Info("转码完成", logger.String("streamId", sess.id))
}

// handleProgressLine 解析一行诊断输出并按需发出进度事件
func (o *Orchestrator) handleProgressLine(sess *session, line string) {
	if d, ok := ffmpeg.ParseDuration(line); ok {
		o.mu.Lock()
		if sess.totalDuration == 0 {
			sess.totalDuration = d
		}
		o.mu.Unlock()
		return
	}

	pos, ok := ffmpeg.ParsePosition(line)
	if !ok {
		return
	}

	o.mu.Lock()
	sess.position = pos
	total := sess.totalDuration
	var percent float64
	if total > 0 {
		percent = pos / total * 100
		if percent > 100 {
			percent = 100
		}
	}
	// 完成事件只发一次，后续的 time= 行不再重复 100%
	emit := total > 0 && (percent-sess.lastEmitted >= progressStep || (percent >= 100 && sess.lastEmitted < 100))
	if emit {
		sess.lastEmitted = percent
	}
	o.mu.Unlock()

	if !emit {
		return
	}

	o.pub.PublishRoom(sess.id, bus.Event{
		Type: bus.EvtTranscodeProgress,
		Payload: bus.TranscodeProgressPayload{
			StreamID:    sess.id,
			Progress:    percent,
			CurrentTime: pos,
			TotalTime:   total,
		},
	})
}

// StopStream 停止一个流会话
// 未跟踪的ID返回 false，不产生任何事件、信号或行更新。
func (o *Orchestrator) StopStream(streamID string) bool {
	o.mu.Lock()
	sess, ok := o.active[streamID]
	if !ok {
		o.mu.Unlock()
		return false
	}
	delete(o.active, streamID)
	if sess.autoStop != nil {
		sess.autoStop.Stop()
		sess.autoStop = nil
	}
	status := sess.status
	o.mu.Unlock()

	if status == model.SessionActive || status == model.SessionStarting {
		o.terminate(sess)
	}

	now := o.clock.Now()
	if err := o.sessions.UpdateSessionStatus(streamID, model.SessionStopped, &now); err != nil {
		logger.Error("更新会话状态失败",
			logger.String("streamId", streamID),
			logger.ErrorField(err))
	}

	o.pub.PublishAuthenticated(bus.Event{
		Type:    bus.EvtStreamStopped,
		Payload: bus.StreamStoppedPayload{StreamID: streamID},
	})

	if err := cache.DeleteStreamCache(streamID); err != nil {
		logger.Warn("清理分片缓存失败", logger.String("streamId", streamID))
	}

	// 宽限期后删除输出目录，避免截断还在下载分片的客户端
	outputDir := sess.outputDir
	o.clock.AfterFunc(o.cleanupDelay, func() {
		if err := os.RemoveAll(outputDir); err != nil {
			logger.Warn("删除会话输出目录失败",
				logger.String("dir", outputDir),
				logger.ErrorField(err))
		}
	})

	logger.Info("流会话已停止", logger.String("streamId", streamID))
	return true
}

// terminate 先礼后兵：SIGTERM 等待，超时后 SIGKILL
// 超时升级不算失败，不向调用方报告。
func (o *Orchestrator) terminate(sess *session) {
	if err := sess.process.Terminate(); err != nil {
		logger.Warn("发送终止信号失败",
			logger.String("streamId", sess.id),
			logger.ErrorField(err))
	}

	select {
	case <-sess.process.Done():
	case <-o.clock.After(o.stopGrace):
		logger.Warn("编码器未在宽限期内退出，强制终止",
			logger.String("streamId", sess.id),
			logger.Duration("grace", o.stopGrace))
		if err := sess.process.Kill(); err != nil {
			logger.Error("强制终止失败",
				logger.String("streamId", sess.id),
				logger.ErrorField(err))
		}
		<-sess.process.Done()
	}
}

// AddViewer 观看人数加一，取消未生效的自动停止
func (o *Orchestrator) AddViewer(streamID string) (int, bool) {
	o.mu.Lock()
	sess, ok := o.active[streamID]
	if !ok {
		o.mu.Unlock()
		return 0, false
	}

	sess.viewers++
	if sess.autoStop != nil {
		// 窗口期内有人回来，取消倒计时
		sess.autoStop.Stop()
		sess.autoStop = nil
	}
	count := sess.viewers
	o.mu.Unlock()

	// 广播在锁外进行，事件总线阻塞不应拖住编排器
	o.publishViewerCount(streamID, count)
	return count, true
}

// RemoveViewer 观看人数减一，归零时调度自动停止
func (o *Orchestrator) RemoveViewer(streamID string) (int, bool) {
	o.mu.Lock()
	sess, ok := o.active[streamID]
	if !ok {
		o.mu.Unlock()
		return 0, false
	}

	if sess.viewers > 0 {
		sess.viewers--
	}
	count := sess.viewers

	if count == 0 && sess.autoStop == nil {
		id := sess.id
		sess.autoStop = o.clock.AfterFunc(o.autoStopDelay, func() {
			o.autoStopFire(id)
		})
		o.mu.Unlock()

		o.publishViewerCount(id, 0)
		// 公告在倒计时开始时发出，而不是只在真正停止时
		o.pub.Publish(bus.Event{
			Type: bus.EvtServerAnnouncement,
			Payload: bus.AnnouncementPayload{
				Message: fmt.Sprintf("流 %s 已无人观看，将在 %s 后自动停止", id, o.autoStopDelay),
				Type:    bus.AnnouncementInfo,
			},
		})
		return 0, true
	}
	o.mu.Unlock()

	o.publishViewerCount(streamID, count)
	return count, true
}

// autoStopFire 倒计时触发：重新校验后才真正停止
// 定时器可能在会话已被停止或重建后才触发，因此按ID重查。
func (o *Orchestrator) autoStopFire(streamID string) {
	o.mu.Lock()
	sess, ok := o.active[streamID]
	if !ok || sess.viewers > 0 {
		o.mu.Unlock()
		return
	}
	sess.autoStop = nil
	o.mu.Unlock()

	logger.Info("无人观看，自动停止流会话", logger.String("streamId", streamID))
	o.StopStream(streamID)
}

func (o *Orchestrator) publishViewerCount(streamID string, count int) {
	o.pub.PublishRoom(streamID, bus.Event{
		Type:    bus.EvtViewerCount,
		Payload: bus.ViewerCountPayload{StreamID: streamID, Count: count},
	})
}

// ActiveStreams 当前跟踪的全部会话
func (o *Orchestrator) ActiveStreams() map[string]StreamInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := make(map[string]StreamInfo, len(o.active))
	for id, sess := range o.active {
		result[id] = sess.info()
	}
	return result
}

// ActiveStreamCount 活跃会话数，供资源统计使用
func (o *Orchestrator) ActiveStreamCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	count := 0
	for _, sess := range o.active {
		if sess.status == model.SessionActive {
			count++
		}
	}
	return count
}

// RecoverOrphans 崩溃恢复
// 重启后不可能有存活的进程句柄：把遗留在 starting/active 的行
// 全部置为 stopped，并清空磁盘上的会话输出目录。
func (o *Orchestrator) RecoverOrphans() error {
	n, err := o.sessions.MarkUnfinishedStopped(o.clock.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info("已恢复遗留会话", logger.Int64("count", n))
	}

	entries, err := os.ReadDir(o.streamDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取会话目录失败: %w", err)
	}

	for _, entry := range entries {
		path := filepath.Join(o.streamDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("清理会话输出目录失败",
				logger.String("dir", path),
				logger.ErrorField(err))
		}
	}
	return nil
}
