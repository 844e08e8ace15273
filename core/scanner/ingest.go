package scanner

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"FeiLiu/core/ffmpeg"
	"FeiLiu/logger"
	"FeiLiu/model"
	"FeiLiu/repository"
	"FeiLiu/storage"
)

// 支持的媒体文件扩展名
var (
	videoExts = map[string]bool{
		".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
		".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
		".mpg": true, ".mpeg": true,
	}
	audioExts = map[string]bool{
		".mp3": true, ".flac": true, ".wav": true, ".aac": true,
		".ogg": true, ".m4a": true, ".wma": true,
	}
)

// SupportedExt 判断文件扩展名是否受支持，并返回媒体类型
func SupportedExt(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if videoExts[ext] {
		return "video", true
	}
	if audioExts[ext] {
		return "audio", true
	}
	return "", false
}

// Prober 技术元数据探测接口，由 ffmpeg.Processor 实现
type Prober interface {
	Probe(ctx context.Context, inputFile string) (*ffmpeg.ProbeResult, error)
}

// Thumbnailer 缩略图生成接口，由 ffmpeg.Processor 实现
type Thumbnailer interface {
	GenerateThumbnail(ctx context.Context, inputFile, outputFile string, offset float64) error
}

// IngestResult 单个文件入库的结果
type IngestResult struct {
	Item    *model.MediaItem
	Created bool // 新建行（而非更新）
	Skipped bool // 修改时间未前进，幂等空操作
}

// Ingestor 共享的文件入库路径
// 扫描和目录监听都走这里，目录的不变量只在这一处强制：
// (library, relPath) 唯一、修改时间比较实现 last-writer-wins。
type Ingestor struct {
	media        repository.MediaItemRepository
	prober       Prober
	thumbs       Thumbnailer
	thumbnailDir string
}

// NewIngestor 创建入库器
func NewIngestor(media repository.MediaItemRepository, prober Prober, thumbs Thumbnailer, thumbnailDir string) *Ingestor {
	return &Ingestor{
		media:        media,
		prober:       prober,
		thumbs:       thumbs,
		thumbnailDir: thumbnailDir,
	}
}

// IngestFile 把一个文件探测、生成缩略图并写入目录
// 已有行的修改时间 ≥ 文件当前修改时间则直接跳过。
func (i *Ingestor) IngestFile(ctx context.Context, library *model.Library, absPath string) (*IngestResult, error) {
	mediaType, ok := SupportedExt(absPath)
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s", absPath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", absPath, err)
	}

	relPath, err := filepath.Rel(library.Path, absPath)
	if err != nil {
		return nil, fmt.Errorf("relative path for %s: %w", absPath, err)
	}

	// TIMESTAMP 列精度是秒，按秒截断再比较
	modTime := info.ModTime().Truncate(time.Second)

	existing, err := i.media.GetByLibraryAndRelPath(library.ID, relPath)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.FileModifiedAt.Before(modTime) {
		return &IngestResult{Item: existing, Skipped: true}, nil
	}

	probe, err := i.prober.Probe(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", absPath, err)
	}

	item := &model.MediaItem{
		LibraryID:      library.ID,
		Title:          strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath)),
		Path:           absPath,
		RelPath:        relPath,
		Size:           info.Size(),
		Duration:       probe.Duration,
		VideoCodec:     probe.VideoCodec,
		AudioCodec:     probe.AudioCodec,
		Width:          probe.Width,
		Height:         probe.Height,
		FileModifiedAt: modTime,
	}
	if existing != nil {
		item.ThumbnailPath = existing.ThumbnailPath
	}

	// 视频文件且存在可解码视频流时生成缩略图
	// 修改时间前进就重新生成，即使只是元数据级别的改动，维持既有行为。
	if mediaType == "video" && probe.HasVideo() {
		thumbPath, err := i.generateThumbnail(ctx, library, relPath, absPath, probe.Duration)
		if err != nil {
			return nil, fmt.Errorf("thumbnail %s: %w", absPath, err)
		}
		item.ThumbnailPath = thumbPath
	}

	_, created, err := i.media.UpsertMediaItem(item)
	if err != nil {
		return nil, err
	}

	return &IngestResult{Item: item, Created: created}, nil
}

// generateThumbnail 生成缩略图并返回相对路径
func (i *Ingestor) generateThumbnail(ctx context.Context, library *model.Library, relPath, absPath string, duration float64) (string, error) {
	name := fmt.Sprintf("%x.jpg", md5.Sum([]byte(relPath)))
	outFile := filepath.Join(i.thumbnailDir, fmt.Sprintf("%d", library.ID), name)

	offset := ffmpeg.ThumbnailOffset(duration)
	if err := i.thumbs.GenerateThumbnail(ctx, absPath, outFile, offset); err != nil {
		return "", err
	}

	relThumb := filepath.ToSlash(filepath.Join("thumbnails", fmt.Sprintf("%d", library.ID), name))

	// 可选的 MinIO 镜像，失败只记日志
	if storage.Enabled() {
		if err := storage.UploadThumbnail(ctx, outFile, relThumb); err != nil {
			logger.Warn("缩略图镜像上传失败",
				logger.String("object", relThumb),
				logger.ErrorField(err))
		}
	}

	return relThumb, nil
}
