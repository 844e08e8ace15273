package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"FeiLiu/core/bus"
	"FeiLiu/logger"
	"FeiLiu/model"
	"FeiLiu/repository"

	"github.com/fsnotify/fsnotify"
)

// WatchManager 目录监听管理器
// 每个库一个监听，初次扫描完成后才安装，因此只有安装之后的变更会触发。
// 文件新增/修改走与扫描完全相同的入库路径，目录不变量只实现一次。
type WatchManager struct {
	media  repository.MediaItemRepository
	ingest *Ingestor
	pub    bus.Publisher

	mu      sync.Mutex
	watches map[int64]*libraryWatch
}

// libraryWatch 单个库的监听状态
type libraryWatch struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatchManager 创建监听管理器
func NewWatchManager(media repository.MediaItemRepository, ingest *Ingestor, pub bus.Publisher) *WatchManager {
	return &WatchManager{
		media:   media,
		ingest:  ingest,
		pub:     pub,
		watches: make(map[int64]*libraryWatch),
	}
}

// Install 为一个库安装监听，替换时总是先关闭旧句柄
func (m *WatchManager) Install(library *model.Library) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// fsnotify 的监听不递归，根目录和所有子目录逐个加入
	if err := addRecursive(watcher, library.Path); err != nil {
		watcher.Close()
		return err
	}

	lw := &libraryWatch{
		watcher: watcher,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if prev, ok := m.watches[library.ID]; ok {
		close(prev.done)
		prev.watcher.Close()
	}
	m.watches[library.ID] = lw
	m.mu.Unlock()

	go m.run(library, lw)

	logger.Info("目录监听已安装",
		logger.Int64("libraryId", library.ID),
		logger.String("path", library.Path))
	return nil
}

// Remove 移除一个库的监听
func (m *WatchManager) Remove(libraryID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lw, ok := m.watches[libraryID]; ok {
		close(lw.done)
		lw.watcher.Close()
		delete(m.watches, libraryID)
	}
}

// Close 关闭全部监听
func (m *WatchManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, lw := range m.watches {
		close(lw.done)
		lw.watcher.Close()
		delete(m.watches, id)
	}
}

// run 单个库的事件循环
func (m *WatchManager) run(library *model.Library, lw *libraryWatch) {
	for {
		select {
		case <-lw.done:
			return

		case event, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(library, lw, event)

		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("目录监听错误",
				logger.Int64("libraryId", library.ID),
				logger.ErrorField(err))
		}
	}
}

// handleEvent 分发一条文件系统事件
func (m *WatchManager) handleEvent(library *model.Library, lw *libraryWatch, event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Create != 0:
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// 新建的子目录也纳入监听
			if err := lw.watcher.Add(event.Name); err != nil {
				logger.Warn("监听新目录失败",
					logger.String("path", event.Name),
					logger.ErrorField(err))
			}
			return
		}
		m.handleFileChange(library, event.Name)

	case event.Op&fsnotify.Write != 0:
		m.handleFileChange(library, event.Name)

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		m.handleRemove(library, event.Name)
	}
}

// handleFileChange 新增或修改：走共享入库路径后发事件
func (m *WatchManager) handleFileChange(library *model.Library, absPath string) {
	mediaType, ok := SupportedExt(absPath)
	if !ok {
		return
	}

	result, err := m.ingest.IngestFile(context.Background(), library, absPath)
	if err != nil {
		logger.Warn("监听入库失败",
			logger.Int64("libraryId", library.ID),
			logger.String("path", absPath),
			logger.ErrorField(err))
		return
	}
	if result.Skipped {
		return
	}

	evtType := bus.EvtMediaUpdated
	if result.Created {
		evtType = bus.EvtMediaAdded
	}
	m.pub.PublishAuthenticated(bus.Event{
		Type: evtType,
		Payload: bus.MediaPayload{
			ID:        result.Item.ID,
			Title:     result.Item.Title,
			Type:      mediaType,
			LibraryID: library.ID,
		},
	})

	logger.Info("目录变更已入库",
		logger.Int64("libraryId", library.ID),
		logger.String("path", absPath),
		logger.Bool("created", result.Created))
}

// handleRemove 删除：按绝对路径找到行，先留快照再删行
// 行删掉之后就读不到了，事件载荷只能来自快照。
func (m *WatchManager) handleRemove(library *model.Library, absPath string) {
	item, err := m.media.GetByLibraryAndPath(library.ID, absPath)
	if err != nil {
		logger.Warn("查询被删文件失败",
			logger.String("path", absPath),
			logger.ErrorField(err))
		return
	}
	if item == nil {
		return
	}

	snapshot := *item
	if err := m.media.DeleteMediaItem(item.ID); err != nil {
		logger.Error("删除目录行失败",
			logger.Int64("id", item.ID),
			logger.ErrorField(err))
		return
	}

	mediaType, _ := SupportedExt(snapshot.Path)
	m.pub.PublishAuthenticated(bus.Event{
		Type: bus.EvtMediaRemoved,
		Payload: bus.MediaPayload{
			ID:        snapshot.ID,
			Title:     snapshot.Title,
			Type:      mediaType,
			LibraryID: snapshot.LibraryID,
		},
	})

	logger.Info("文件已从目录移除",
		logger.Int64("libraryId", library.ID),
		logger.String("path", absPath))
}

// addRecursive 把根目录及其全部子目录加入监听
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
