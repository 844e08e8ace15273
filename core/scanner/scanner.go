package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"FeiLiu/core/bus"
	"FeiLiu/logger"
	"FeiLiu/model"
	"FeiLiu/repository"
)

// Scanner 媒体库扫描器
// 每个库同一时刻只允许一次扫描；文件按固定批次并发探测，
// 批内并发、批间串行，限制探测工具的峰值负载。
type Scanner struct {
	libraries repository.LibraryRepository
	ingest    *Ingestor
	watches   *WatchManager
	pub       bus.Publisher
	batchSize int

	mu       sync.Mutex
	scanning map[int64]bool
}

// NewScanner 创建扫描器
func NewScanner(libraries repository.LibraryRepository, ingest *Ingestor, watches *WatchManager, pub bus.Publisher, batchSize int) *Scanner {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Scanner{
		libraries: libraries,
		ingest:    ingest,
		watches:   watches,
		pub:       pub,
		batchSize: batchSize,
		scanning:  make(map[int64]bool),
	}
}

// Watches 返回扫描器维护的目录监听管理器
func (s *Scanner) Watches() *WatchManager {
	return s.watches
}

// IsScanning 报告某个库是否正在扫描
func (s *Scanner) IsScanning(libraryID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning[libraryID]
}

// tryMarkScanning 原子地标记扫描中，已在扫描返回 false
func (s *Scanner) tryMarkScanning(libraryID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning[libraryID] {
		return false
	}
	s.scanning[libraryID] = true
	return true
}

func (s *Scanner) clearScanning(libraryID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scanning, libraryID)
}

// Scan 全量扫描一个媒体库
// 同一个库已有扫描在跑时立即返回 false，不产生任何副作用。
func (s *Scanner) Scan(ctx context.Context, library *model.Library) bool {
	if !s.tryMarkScanning(library.ID) {
		logger.Warn("扫描已在进行中，忽略重复请求",
			logger.Int64("libraryId", library.ID))
		return false
	}
	defer s.clearScanning(library.ID)

	if _, err := os.Stat(library.Path); err != nil {
		logger.Error("媒体库根目录不可达",
			logger.Int64("libraryId", library.ID),
			logger.String("path", library.Path),
			logger.ErrorField(err))
		return false
	}

	files, err := collectMediaFiles(library.Path)
	if err != nil {
		logger.Error("遍历媒体库失败",
			logger.Int64("libraryId", library.ID),
			logger.ErrorField(err))
		return false
	}

	total := len(files)
	processed := 0
	logger.Info("开始扫描媒体库",
		logger.Int64("libraryId", library.ID),
		logger.String("path", library.Path),
		logger.Int("totalFiles", total))

	for start := 0; start < total; start += s.batchSize {
		end := start + s.batchSize
		if end > total {
			end = total
		}
		batch := files[start:end]

		// 批内并发，批间屏障
		var wg sync.WaitGroup
		for _, file := range batch {
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				if _, err := s.ingest.IngestFile(ctx, library, path); err != nil {
					// 单个文件失败只跳过，不中断批次
					logger.Warn("文件入库失败，已跳过",
						logger.Int64("libraryId", library.ID),
						logger.String("path", path),
						logger.ErrorField(err))
				}
			}(file)
		}
		wg.Wait()

		processed += len(batch)
		s.publishProgress(library.ID, processed, total)
	}

	if err := s.libraries.UpdateLastScanAt(library.ID, time.Now()); err != nil {
		logger.Error("更新扫描时间失败",
			logger.Int64("libraryId", library.ID),
			logger.ErrorField(err))
	}

	// 初次扫描完成后（重新）安装目录监听，旧句柄先关闭
	if s.watches != nil {
		if err := s.watches.Install(library); err != nil {
			logger.Error("安装目录监听失败",
				logger.Int64("libraryId", library.ID),
				logger.ErrorField(err))
		}
	}

	// 终态进度 + 公告
	s.pub.PublishAuthenticated(bus.Event{
		Type: bus.EvtScanProgress,
		Payload: bus.ScanProgressPayload{
			LibraryID:      library.ID,
			Progress:       100,
			TotalFiles:     total,
			ProcessedFiles: total,
		},
	})
	s.pub.Publish(bus.Event{
		Type: bus.EvtServerAnnouncement,
		Payload: bus.AnnouncementPayload{
			Message: fmt.Sprintf("媒体库 %s 扫描完成，共 %d 个文件", library.Name, total),
			Type:    bus.AnnouncementInfo,
		},
	})

	logger.Info("媒体库扫描完成",
		logger.Int64("libraryId", library.ID),
		logger.Int("totalFiles", total))
	return true
}

// publishProgress 按批次边界发出进度事件
func (s *Scanner) publishProgress(libraryID int64, processed, total int) {
	var percent float64
	if total > 0 {
		percent = float64(processed) / float64(total) * 100
	}
	s.pub.PublishAuthenticated(bus.Event{
		Type: bus.EvtScanProgress,
		Payload: bus.ScanProgressPayload{
			LibraryID:      libraryID,
			Progress:       percent,
			TotalFiles:     total,
			ProcessedFiles: processed,
		},
	})
}

// collectMediaFiles 递归收集受支持的媒体文件，目录本身不会出现在结果里
func collectMediaFiles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", root, err)
	}

	var files []string
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			sub, err := collectMediaFiles(path)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
			continue
		}
		if _, ok := SupportedExt(path); ok {
			files = append(files, path)
		}
	}
	return files, nil
}
