package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"FeiLiu/core/bus"
	"FeiLiu/core/ffmpeg"
	"FeiLiu/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- 测试替身 ----------

// memMediaRepo 内存目录，(libraryID, relPath) 唯一
type memMediaRepo struct {
	mu     sync.Mutex
	nextID int64
	items  map[string]*model.MediaItem // key: libraryID/relPath
}

func newMemMediaRepo() *memMediaRepo {
	return &memMediaRepo{items: make(map[string]*model.MediaItem)}
}

func repoKey(libraryID int64, relPath string) string {
	return fmt.Sprintf("%d/%s", libraryID, relPath)
}

func (r *memMediaRepo) GetMediaItemByID(id int64) (*model.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, nil
}

func (r *memMediaRepo) GetByLibraryAndRelPath(libraryID int64, relPath string) (*model.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[repoKey(libraryID, relPath)], nil
}

func (r *memMediaRepo) GetByLibraryAndPath(libraryID int64, path string) (*model.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.LibraryID == libraryID && item.Path == path {
			return item, nil
		}
	}
	return nil, nil
}

func (r *memMediaRepo) GetAllByLibraryID(libraryID int64) ([]*model.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.MediaItem
	for _, item := range r.items {
		if item.LibraryID == libraryID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *memMediaRepo) UpsertMediaItem(item *model.MediaItem) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repoKey(item.LibraryID, item.RelPath)
	if existing, ok := r.items[key]; ok {
		item.ID = existing.ID
		r.items[key] = item
		return item.ID, false, nil
	}
	r.nextID++
	item.ID = r.nextID
	r.items[key] = item
	return item.ID, true, nil
}

func (r *memMediaRepo) DeleteMediaItem(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, item := range r.items {
		if item.ID == id {
			delete(r.items, key)
			return nil
		}
	}
	return nil
}

func (r *memMediaRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type fakeLibraryRepo struct {
	mu        sync.Mutex
	scannedAt map[int64]time.Time
}

func newFakeLibraryRepo() *fakeLibraryRepo {
	return &fakeLibraryRepo{scannedAt: make(map[int64]time.Time)}
}

func (r *fakeLibraryRepo) CreateLibrary(library *model.Library) (int64, error) { return 0, nil }
func (r *fakeLibraryRepo) GetLibraryByID(id int64) (*model.Library, error)     { return nil, nil }
func (r *fakeLibraryRepo) GetEnabledLibraries() ([]*model.Library, error)      { return nil, nil }
func (r *fakeLibraryRepo) DeleteLibrary(id int64) error                        { return nil }

func (r *fakeLibraryRepo) UpdateLastScanAt(id int64, scannedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scannedAt[id] = scannedAt
	return nil
}

// fakeProber 固定元数据，计数探测次数
type fakeProber struct {
	probes int64
	result ffmpeg.ProbeResult
}

func (p *fakeProber) Probe(ctx context.Context, inputFile string) (*ffmpeg.ProbeResult, error) {
	atomic.AddInt64(&p.probes, 1)
	result := p.result
	return &result, nil
}

func (p *fakeProber) probeCount() int64 {
	return atomic.LoadInt64(&p.probes)
}

type fakeThumbnailer struct {
	calls int64
}

func (t *fakeThumbnailer) GenerateThumbnail(ctx context.Context, inputFile, outputFile string, offset float64) error {
	atomic.AddInt64(&t.calls, 1)
	return nil
}

func (t *fakeThumbnailer) callCount() int64 {
	return atomic.LoadInt64(&t.calls)
}

type recordedEvent struct {
	scope string
	event bus.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) record(scope string, evt bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{scope: scope, event: evt})
}

func (p *recordingPublisher) Publish(evt bus.Event)              { p.record("all", evt) }
func (p *recordingPublisher) PublishAuthenticated(evt bus.Event) { p.record("authenticated", evt) }
func (p *recordingPublisher) PublishAdmin(evt bus.Event)         { p.record("admin", evt) }
func (p *recordingPublisher) PublishRoom(streamID string, evt bus.Event) {
	p.record("room", evt)
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

type scanEnv struct {
	library   *model.Library
	media     *memMediaRepo
	libraries *fakeLibraryRepo
	prober    *fakeProber
	thumbs    *fakeThumbnailer
	pub       *recordingPublisher
	ingest    *Ingestor
	scanner   *Scanner
}

func newScanEnv(t *testing.T, batchSize int) *scanEnv {
	t.Helper()

	root := t.TempDir()
	library := &model.Library{
		ID:        1,
		Name:      "电影",
		Path:      root,
		MediaType: model.MediaTypeVideo,
		Enabled:   true,
	}

	media := newMemMediaRepo()
	libraries := newFakeLibraryRepo()
	prober := &fakeProber{result: ffmpeg.ProbeResult{
		Duration:   120,
		VideoCodec: "h264",
		AudioCodec: "aac",
		Width:      1920,
		Height:     1080,
	}}
	thumbs := &fakeThumbnailer{}
	pub := &recordingPublisher{}

	ingest := NewIngestor(media, prober, thumbs, filepath.Join(t.TempDir(), "thumbnails"))
	sc := NewScanner(libraries, ingest, nil, pub, batchSize)

	return &scanEnv{
		library:   library,
		media:     media,
		libraries: libraries,
		prober:    prober,
		thumbs:    thumbs,
		pub:       pub,
		ingest:    ingest,
		scanner:   sc,
	}
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("media content"), 0644))
	return path
}

// ---------- Ingestor ----------

func TestIngestFile_CreateThenSkip(t *testing.T) {
	env := newScanEnv(t, 20)
	path := writeFile(t, env.library.Path, "movies/Big Buck Bunny.mkv")

	result, err := env.ingest.IngestFile(context.Background(), env.library, path)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.False(t, result.Skipped)
	assert.Equal(t, "Big Buck Bunny", result.Item.Title)
	assert.Equal(t, filepath.Join("movies", "Big Buck Bunny.mkv"), result.Item.RelPath)
	assert.Equal(t, "h264", result.Item.VideoCodec)
	assert.NotEmpty(t, result.Item.ThumbnailPath)
	assert.EqualValues(t, 1, env.thumbs.callCount())

	// 修改时间没变，重复入库是幂等空操作
	result, err = env.ingest.IngestFile(context.Background(), env.library, path)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.EqualValues(t, 1, env.prober.probeCount())
	assert.Equal(t, 1, env.media.count())
}

func TestIngestFile_ModifiedFileUpdated(t *testing.T) {
	env := newScanEnv(t, 20)
	path := writeFile(t, env.library.Path, "clip.mp4")

	result, err := env.ingest.IngestFile(context.Background(), env.library, path)
	require.NoError(t, err)
	require.True(t, result.Created)

	// 把修改时间往前推，模拟文件被替换
	future := time.Now().Add(10 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	result, err = env.ingest.IngestFile(context.Background(), env.library, path)
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, env.media.count())
	assert.EqualValues(t, 2, env.prober.probeCount())
}

func TestIngestFile_AudioSkipsThumbnail(t *testing.T) {
	env := newScanEnv(t, 20)
	env.prober.result = ffmpeg.ProbeResult{Duration: 240, AudioCodec: "mp3"}
	path := writeFile(t, env.library.Path, "song.mp3")

	result, err := env.ingest.IngestFile(context.Background(), env.library, path)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Empty(t, result.Item.ThumbnailPath)
	assert.EqualValues(t, 0, env.thumbs.callCount())
}

func TestIngestFile_UnsupportedExtension(t *testing.T) {
	env := newScanEnv(t, 20)
	path := writeFile(t, env.library.Path, "notes.txt")

	_, err := env.ingest.IngestFile(context.Background(), env.library, path)
	assert.Error(t, err)
	assert.Equal(t, 0, env.media.count())
}

func TestSupportedExt(t *testing.T) {
	mediaType, ok := SupportedExt("/x/Movie.MKV")
	assert.True(t, ok)
	assert.Equal(t, "video", mediaType)

	mediaType, ok = SupportedExt("/x/track.flac")
	assert.True(t, ok)
	assert.Equal(t, "audio", mediaType)

	_, ok = SupportedExt("/x/readme.md")
	assert.False(t, ok)
}

// ---------- Scanner ----------

func TestScan_BatchedProgressEvents(t *testing.T) {
	env := newScanEnv(t, 20)
	for i := 0; i < 25; i++ {
		writeFile(t, env.library.Path, fmt.Sprintf("movie_%02d.mp4", i))
	}

	require.True(t, env.scanner.Scan(context.Background(), env.library))

	assert.Equal(t, 25, env.media.count())

	// 两个批次边界事件加一个终态事件
	progress := env.pub.byType(bus.EvtScanProgress)
	require.Len(t, progress, 3)
	for _, e := range progress {
		assert.Equal(t, "authenticated", e.scope)
	}

	first := progress[0].event.Payload.(bus.ScanProgressPayload)
	assert.Equal(t, 20, first.ProcessedFiles)
	assert.Equal(t, 25, first.TotalFiles)
	assert.InDelta(t, 80, first.Progress, 0.01)

	last := progress[2].event.Payload.(bus.ScanProgressPayload)
	assert.Equal(t, 25, last.ProcessedFiles)
	assert.InDelta(t, 100, last.Progress, 0.01)

	// 扫描完成公告发给所有人
	announcements := env.pub.byType(bus.EvtServerAnnouncement)
	require.Len(t, announcements, 1)
	assert.Equal(t, "all", announcements[0].scope)

	// 扫描时间已记录
	env.libraries.mu.Lock()
	_, ok := env.libraries.scannedAt[env.library.ID]
	env.libraries.mu.Unlock()
	assert.True(t, ok)
}

func TestScan_SecondPassIsIdempotent(t *testing.T) {
	env := newScanEnv(t, 20)
	for i := 0; i < 5; i++ {
		writeFile(t, env.library.Path, fmt.Sprintf("ep%d.mkv", i))
	}

	require.True(t, env.scanner.Scan(context.Background(), env.library))
	require.True(t, env.scanner.Scan(context.Background(), env.library))

	// 第二遍全部跳过，探测次数不再增长
	assert.Equal(t, 5, env.media.count())
	assert.EqualValues(t, 5, env.prober.probeCount())
}

func TestScan_NestedDirectories(t *testing.T) {
	env := newScanEnv(t, 20)
	writeFile(t, env.library.Path, "a/b/c/deep.mp4")
	writeFile(t, env.library.Path, "top.mkv")
	writeFile(t, env.library.Path, "a/skip.txt")

	require.True(t, env.scanner.Scan(context.Background(), env.library))
	assert.Equal(t, 2, env.media.count())
}

func TestScan_MissingRootFails(t *testing.T) {
	env := newScanEnv(t, 20)
	env.library.Path = filepath.Join(env.library.Path, "does-not-exist")

	assert.False(t, env.scanner.Scan(context.Background(), env.library))
	assert.Empty(t, env.pub.byType(bus.EvtScanProgress))
}

func TestScan_ConcurrentScanRejected(t *testing.T) {
	env := newScanEnv(t, 20)
	writeFile(t, env.library.Path, "movie.mp4")

	// 模拟一次正在进行的扫描
	require.True(t, env.scanner.tryMarkScanning(env.library.ID))
	assert.True(t, env.scanner.IsScanning(env.library.ID))

	assert.False(t, env.scanner.Scan(context.Background(), env.library))
	assert.Empty(t, env.pub.byType(bus.EvtScanProgress))

	// 释放后可以再扫
	env.scanner.clearScanning(env.library.ID)
	assert.True(t, env.scanner.Scan(context.Background(), env.library))
}

func TestScan_EmptyLibrary(t *testing.T) {
	env := newScanEnv(t, 20)

	require.True(t, env.scanner.Scan(context.Background(), env.library))

	progress := env.pub.byType(bus.EvtScanProgress)
	require.Len(t, progress, 1)
	payload := progress[0].event.Payload.(bus.ScanProgressPayload)
	assert.Equal(t, 0, payload.TotalFiles)
	assert.InDelta(t, 100, payload.Progress, 0.01)
}
