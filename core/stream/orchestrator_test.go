package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"FeiLiu/config"
	"FeiLiu/core/bus"
	"FeiLiu/core/ffmpeg"
	"FeiLiu/model"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- 测试替身 ----------

type fakeMediaRepo struct {
	items map[int64]*model.MediaItem
}

func (r *fakeMediaRepo) GetMediaItemByID(id int64) (*model.MediaItem, error) {
	return r.items[id], nil
}
func (r *fakeMediaRepo) GetByLibraryAndRelPath(libraryID int64, relPath string) (*model.MediaItem, error) {
	return nil, nil
}
func (r *fakeMediaRepo) GetByLibraryAndPath(libraryID int64, path string) (*model.MediaItem, error) {
	return nil, nil
}
func (r *fakeMediaRepo) GetAllByLibraryID(libraryID int64) ([]*model.MediaItem, error) {
	return nil, nil
}
func (r *fakeMediaRepo) UpsertMediaItem(item *model.MediaItem) (int64, bool, error) {
	return 0, false, nil
}
func (r *fakeMediaRepo) DeleteMediaItem(id int64) error { return nil }

type fakeUserRepo struct {
	users map[int64]*model.User
}

func (r *fakeUserRepo) CreateUser(user *model.User) (int64, error) { return 0, nil }
func (r *fakeUserRepo) GetUserByID(id int64) (*model.User, error)  { return r.users[id], nil }
func (r *fakeUserRepo) GetUserByUsername(username string) (*model.User, error) {
	return nil, nil
}

type statusUpdate struct {
	sessionID string
	status    string
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	rows     map[string]*model.StreamSession
	updates  []statusUpdate
	orphaned int64
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{rows: make(map[string]*model.StreamSession)}
}

func (r *fakeSessionRepo) CreateSession(session *model.StreamSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[session.SessionID] = session
	return nil
}

func (r *fakeSessionRepo) UpdateSessionStatus(sessionID, status string, stoppedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, statusUpdate{sessionID: sessionID, status: status})
	if row, ok := r.rows[sessionID]; ok {
		row.Status = status
	}
	return nil
}

func (r *fakeSessionRepo) GetSessionBySessionID(sessionID string) (*model.StreamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[sessionID], nil
}

func (r *fakeSessionRepo) FindUnfinishedSessions() ([]*model.StreamSession, error) {
	return nil, nil
}

func (r *fakeSessionRepo) MarkUnfinishedStopped(stoppedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orphaned, nil
}

func (r *fakeSessionRepo) statusHistory(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var history []string
	for _, u := range r.updates {
		if u.sessionID == sessionID {
			history = append(history, u.status)
		}
	}
	return history
}

// fakeProcess 可控的编码器进程替身
type fakeProcess struct {
	lines chan string
	done  chan struct{}

	mu         sync.Mutex
	exitErr    error
	finished   bool
	terminated bool
	killed     bool

	// Terminate 时是否立即结束进程，默认是
	hangOnTerminate bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
}

func (p *fakeProcess) Lines() <-chan string { return p.lines }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	hang := p.hangOnTerminate
	p.mu.Unlock()
	if !hang {
		p.finish(nil)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.finish(nil)
	return nil
}

func (p *fakeProcess) emit(line string) { p.lines <- line }

func (p *fakeProcess) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true
	p.exitErr = err
	close(p.lines)
	close(p.done)
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// fakeEncoder 记录启动参数并交出可控进程
type fakeEncoder struct {
	mu       sync.Mutex
	proc     *fakeProcess
	startErr error
	inputs   []string
}

func (e *fakeEncoder) Start(ctx context.Context, inputFile, outputDir string, profile model.EncodeProfile) (ffmpeg.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return nil, e.startErr
	}
	// 真实编码器会创建输出目录
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	e.inputs = append(e.inputs, inputFile)
	return e.proc, nil
}

// recordedEvent 记录到的事件及其投递范围
type recordedEvent struct {
	scope string
	room  string
	event bus.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent

	// 每次记录后的回调，用于模拟事件总线回调编排器
	onRecord func()
}

func (p *recordingPublisher) record(scope, room string, evt bus.Event) {
	p.mu.Lock()
	p.events = append(p.events, recordedEvent{scope: scope, room: room, event: evt})
	cb := p.onRecord
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (p *recordingPublisher) Publish(evt bus.Event)              { p.record("all", "", evt) }
func (p *recordingPublisher) PublishAuthenticated(evt bus.Event) { p.record("authenticated", "", evt) }
func (p *recordingPublisher) PublishAdmin(evt bus.Event)         { p.record("admin", "", evt) }
func (p *recordingPublisher) PublishRoom(streamID string, evt bus.Event) {
	p.record("room", streamID, evt)
}

func (p *recordingPublisher) byType(t bus.EventType) []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedEvent
	for _, e := range p.events {
		if e.event.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// ---------- 测试环境 ----------

type orchestratorEnv struct {
	orch     *Orchestrator
	encoder  *fakeEncoder
	proc     *fakeProcess
	pub      *recordingPublisher
	sessions *fakeSessionRepo
	clock    clockwork.FakeClock
	cfg      *config.Config
}

func newOrchestratorEnv(t *testing.T) *orchestratorEnv {
	t.Helper()

	cfg := &config.Config{
		StreamDir:       filepath.Join(t.TempDir(), "streams"),
		HLSSegmentTime:  4,
		HLSWindowSize:   10,
		StopGraceSec:    5,
		CleanupDelaySec: 30,
		AutoStopSec:     60,
	}

	media := &fakeMediaRepo{items: map[int64]*model.MediaItem{
		1: {
			ID:       1,
			Title:    "Big Buck Bunny",
			Path:     "/media/bbb.mkv",
			Duration: 100,
			Width:    1920,
			Height:   1080,
		},
	}}
	users := &fakeUserRepo{users: map[int64]*model.User{
		1: {ID: 1, Username: "alice"},
	}}

	sessions := newFakeSessionRepo()
	proc := newFakeProcess()
	encoder := &fakeEncoder{proc: proc}
	pub := &recordingPublisher{}
	clock := clockwork.NewFakeClock()

	orch := NewOrchestrator(cfg, media, users, sessions, encoder, pub, clock)

	return &orchestratorEnv{
		orch:     orch,
		encoder:  encoder,
		proc:     proc,
		pub:      pub,
		sessions: sessions,
		clock:    clock,
		cfg:      cfg,
	}
}

func (env *orchestratorEnv) start(t *testing.T) *StartResult {
	t.Helper()
	result, err := env.orch.StartStream(context.Background(), 1, 1, model.ClientCapabilities{})
	require.NoError(t, err)
	return result
}

// ---------- 测试 ----------

func TestStartStream_MediaNotFound(t *testing.T) {
	env := newOrchestratorEnv(t)

	_, err := env.orch.StartStream(context.Background(), 999, 1, model.ClientCapabilities{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartStream_UserNotFound(t *testing.T) {
	env := newOrchestratorEnv(t)

	_, err := env.orch.StartStream(context.Background(), 1, 999, model.ClientCapabilities{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartStream_Success(t *testing.T) {
	env := newOrchestratorEnv(t)

	result := env.start(t)
	require.NotEmpty(t, result.StreamID)
	assert.Equal(t, fmt.Sprintf("/streams/%s/playlist.m3u8", result.StreamID), result.PlaylistURL)

	streams := env.orch.ActiveStreams()
	require.Len(t, streams, 1)
	info := streams[result.StreamID]
	assert.Equal(t, int64(1), info.MediaID)
	assert.Equal(t, 1, info.Viewers)
	assert.Equal(t, model.SessionActive, info.Status)

	// 1080p源落到1080p配置
	assert.Equal(t, 1080, info.Profile.Height)

	started := env.pub.byType(bus.EvtStreamStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "authenticated", started[0].scope)

	history := env.sessions.statusHistory(result.StreamID)
	assert.Equal(t, []string{model.SessionActive}, history)
}

func TestStartStream_EncoderFailureMarksError(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.encoder.startErr = errors.New("ffmpeg: no such file")

	_, err := env.orch.StartStream(context.Background(), 1, 1, model.ClientCapabilities{})
	require.Error(t, err)

	assert.Empty(t, env.orch.ActiveStreams())
	assert.Empty(t, env.pub.byType(bus.EvtStreamStarted))
}

func TestStopStream_UnknownIDHasNoSideEffects(t *testing.T) {
	env := newOrchestratorEnv(t)

	assert.False(t, env.orch.StopStream("no-such-stream"))

	assert.Empty(t, env.pub.byType(bus.EvtStreamStopped))
	assert.Empty(t, env.sessions.updates)
}

func TestStopStream_GracefulStop(t *testing.T) {
	env := newOrchestratorEnv(t)
	result := env.start(t)

	require.True(t, env.orch.StopStream(result.StreamID))

	assert.Empty(t, env.orch.ActiveStreams())
	assert.False(t, env.proc.wasKilled())

	stopped := env.pub.byType(bus.EvtStreamStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, "authenticated", stopped[0].scope)

	history := env.sessions.statusHistory(result.StreamID)
	assert.Equal(t, model.SessionStopped, history[len(history)-1])

	// 重复停止是无操作
	assert.False(t, env.orch.StopStream(result.StreamID))
	assert.Len(t, env.pub.byType(bus.EvtStreamStopped), 1)
}

func TestStopStream_OutputDirRemovedAfterGracePeriod(t *testing.T) {
	env := newOrchestratorEnv(t)
	result := env.start(t)

	outputDir := filepath.Join(env.cfg.StreamDir, result.StreamID)
	_, err := os.Stat(outputDir)
	require.NoError(t, err)

	require.True(t, env.orch.StopStream(result.StreamID))

	// 宽限期内目录仍在，避免截断还在下载分片的客户端
	_, err = os.Stat(outputDir)
	assert.NoError(t, err)

	env.clock.Advance(time.Duration(env.cfg.CleanupDelaySec) * time.Second)
	require.Eventually(t, func() bool {
		_, err := os.Stat(outputDir)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopStream_EscalatesToKill(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.proc.hangOnTerminate = true
	result := env.start(t)

	done := make(chan bool, 1)
	go func() {
		done <- env.orch.StopStream(result.StreamID)
	}()

	// 等 StopStream 挂在宽限期定时器上，再推进时钟
	env.clock.BlockUntil(1)
	env.clock.Advance(time.Duration(env.cfg.StopGraceSec) * time.Second)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("StopStream did not return after grace period")
	}
	assert.True(t, env.proc.wasKilled())
}

func TestAutoStop_FiresAfterCountdown(t *testing.T) {
	env := newOrchestratorEnv(t)
	result := env.start(t)

	count, ok := env.orch.RemoveViewer(result.StreamID)
	require.True(t, ok)
	assert.Equal(t, 0, count)

	// 倒计时开始即广播公告
	announcements := env.pub.byType(bus.EvtServerAnnouncement)
	require.Len(t, announcements, 1)
	assert.Equal(t, "all", announcements[0].scope)

	env.clock.Advance(time.Duration(env.cfg.AutoStopSec) * time.Second)

	require.Eventually(t, func() bool {
		return len(env.orch.ActiveStreams()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, env.pub.byType(bus.EvtStreamStopped), 1)
}

func TestAutoStop_CancelledByRejoin(t *testing.T) {
	env := newOrchestratorEnv(t)
	result := env.start(t)

	_, ok := env.orch.RemoveViewer(result.StreamID)
	require.True(t, ok)

	// 窗口期内有人回来
	count, ok := env.orch.AddViewer(result.StreamID)
	require.True(t, ok)
	assert.Equal(t, 1, count)

	env.clock.Advance(time.Duration(env.cfg.AutoStopSec) * time.Second)

	// 给潜在的误触发留出时间
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, env.orch.ActiveStreams(), 1)
	assert.Empty(t, env.pub.byType(bus.EvtStreamStopped))
}

func TestAutoStop_RepeatedZeroCrossingsScheduleOnce(t *testing.T) {
	env := newOrchestratorEnv(t)
	result := env.start(t)

	_, _ = env.orch.RemoveViewer(result.StreamID)
	_, _ = env.orch.AddViewer(result.StreamID)
	_, _ = env.orch.RemoveViewer(result.StreamID)

	env.clock.Advance(time.Duration(env.cfg.AutoStopSec) * time.Second)

	require.Eventually(t, func() bool {
		return len(env.orch.ActiveStreams()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// 两次归零只允许停止一次
	assert.Len(t, env.pub.byType(bus.EvtStreamStopped), 1)
}

func TestViewerCounting(t *testing.T) {
	env := newOrchestratorEnv(t)
	result := env.start(t)

	count, ok := env.orch.AddViewer(result.StreamID)
	require.True(t, ok)
	assert.Equal(t, 2, count)

	count, ok = env.orch.RemoveViewer(result.StreamID)
	require.True(t, ok)
	assert.Equal(t, 1, count)

	// 未知流
	_, ok = env.orch.AddViewer("no-such-stream")
	assert.False(t, ok)
	_, ok = env.orch.RemoveViewer("no-such-stream")
	assert.False(t, ok)

	events := env.pub.byType(bus.EvtViewerCount)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "room", e.scope)
		assert.Equal(t, result.StreamID, e.room)
	}
}

func TestViewerCount_PublishDoesNotHoldLock(t *testing.T) {
	env := newOrchestratorEnv(t)
	result := env.start(t)

	// 订阅方处理事件时可能反过来查询编排器，
	// 广播若持锁进行，这里会死锁
	env.pub.onRecord = func() {
		env.orch.ActiveStreamCount()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := env.orch.AddViewer(result.StreamID)
		assert.True(t, ok)
		_, ok = env.orch.RemoveViewer(result.StreamID)
		assert.True(t, ok)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("观看人数广播期间编排器锁未释放")
	}
}

func TestMonitor_ProgressThrottle(t *testing.T) {
	env := newOrchestratorEnv(t)
	result := env.start(t)

	env.proc.emit("  Duration: 00:01:40.00, start: 0.000000, bitrate: 1205 kb/s")
	env.proc.emit("frame= 60 time=00:00:02.00 bitrate=1048.6kbits/s")  // 2%: 不发
	env.proc.emit("frame=150 time=00:00:05.00 bitrate=1048.6kbits/s")  // 5%: 发
	env.proc.emit("frame=240 time=00:00:08.00 bitrate=1048.6kbits/s")  // 8%: 距上次3pp，不发
	env.proc.emit("frame=360 time=00:00:12.00 bitrate=1048.6kbits/s")  // 12%: 发
	env.proc.finish(nil)

	// 正常退出后补发终态100%
	require.Eventually(t, func() bool {
		return len(env.pub.byType(bus.EvtTranscodeProgress)) == 3
	}, 2*time.Second, 10*time.Millisecond)

	events := env.pub.byType(bus.EvtTranscodeProgress)
	var percents []float64
	for _, e := range events {
		assert.Equal(t, "room", e.scope)
		assert.Equal(t, result.StreamID, e.room)
		payload := e.event.Payload.(bus.TranscodeProgressPayload)
		percents = append(percents, payload.Progress)
	}
	assert.InDelta(t, 5, percents[0], 0.01)
	assert.InDelta(t, 12, percents[1], 0.01)
	assert.InDelta(t, 100, percents[2], 0.01)
}

func TestMonitor_CompletionEmitsOnce(t *testing.T) {
	env := newOrchestratorEnv(t)
	result := env.start(t)

	env.proc.emit("  Duration: 00:01:40.00, start: 0.000000, bitrate: 1205 kb/s")
	env.proc.emit("frame=1500 time=00:00:50.00 bitrate=1048.6kbits/s") // 50%: 发
	env.proc.emit("frame=3000 time=00:01:40.00 bitrate=1048.6kbits/s") // 100%: 发
	env.proc.emit("frame=3000 time=00:01:40.00 bitrate=1048.6kbits/s") // 仍是100%: 不重发
	env.proc.finish(nil)

	require.Eventually(t, func() bool {
		return len(env.pub.byType(bus.EvtTranscodeProgress)) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	// 退出路径也不再补发
	time.Sleep(100 * time.Millisecond)

	events := env.pub.byType(bus.EvtTranscodeProgress)
	require.Len(t, events, 2)
	assert.InDelta(t, 50, events[0].event.Payload.(bus.TranscodeProgressPayload).Progress, 0.01)
	assert.InDelta(t, 100, events[1].event.Payload.(bus.TranscodeProgressPayload).Progress, 0.01)
	assert.Equal(t, result.StreamID, events[1].room)
}

func TestMonitor_EncoderCrashMarksError(t *testing.T) {
	env := newOrchestratorEnv(t)
	result := env.start(t)

	env.proc.finish(errors.New("exit status 1"))

	require.Eventually(t, func() bool {
		history := env.sessions.statusHistory(result.StreamID)
		return len(history) > 0 && history[len(history)-1] == model.SessionError
	}, 2*time.Second, 10*time.Millisecond)

	// 出错的会话不再计入活跃数
	assert.Equal(t, 0, env.orch.ActiveStreamCount())
	assert.Empty(t, env.pub.byType(bus.EvtTranscodeProgress))
}

func TestRecoverOrphans(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.sessions.orphaned = 2

	leftover := filepath.Join(env.cfg.StreamDir, "stale-session")
	require.NoError(t, os.MkdirAll(leftover, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(leftover, "segment_000.ts"), []byte("x"), 0644))

	require.NoError(t, env.orch.RecoverOrphans())

	_, err := os.Stat(leftover)
	assert.True(t, os.IsNotExist(err))
}

func TestRecoverOrphans_MissingStreamDir(t *testing.T) {
	env := newOrchestratorEnv(t)
	require.NoError(t, os.RemoveAll(env.cfg.StreamDir))

	assert.NoError(t, env.orch.RecoverOrphans())
}
