package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"FeiLiu/cache"
	"FeiLiu/config"
	"FeiLiu/logger"

	"github.com/gorilla/mux"
)

// StreamFileHandler 提供HLS流文件服务
// 片段和播放列表优先走Redis缓存，未命中时读磁盘并回填。
// 播放列表是滚动窗口，缓存寿命必须远短于片段。
type StreamFileHandler struct {
	cfg *config.Config
}

// NewStreamFileHandler 创建流文件处理器
func NewStreamFileHandler(cfg *config.Config) *StreamFileHandler {
	return &StreamFileHandler{cfg: cfg}
}

// ServeHTTP 实现 http.Handler 接口
func (h *StreamFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	streamID := vars["stream_id"]
	fileName := vars["file"]

	// 防止路径穿越
	if strings.Contains(streamID, "..") || strings.Contains(fileName, "..") ||
		strings.ContainsAny(fileName, "/\\") {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	contentType, ttl, ok := streamContentType(fileName)
	if !ok {
		http.Error(w, "Unsupported file type", http.StatusBadRequest)
		return
	}

	key := cache.SegmentKey(streamID, fileName)
	data, err := cache.GetSegmentCache(key)
	if err != nil {
		logger.Warn("读取片段缓存失败", logger.ErrorField(err))
	}

	if data == nil {
		path := filepath.Join(h.cfg.StreamDir, streamID, fileName)
		data, err = os.ReadFile(path)
		if err != nil {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		if err := cache.SetSegmentCache(key, data, ttl); err != nil {
			logger.Warn("写入片段缓存失败", logger.ErrorField(err))
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if strings.HasSuffix(fileName, ".m3u8") {
		// 播放列表在直播期间持续变化
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=600")
	}
	w.Write(data)
}

// streamContentType 返回流文件的内容类型和缓存寿命
func streamContentType(fileName string) (string, time.Duration, bool) {
	switch {
	case strings.HasSuffix(fileName, ".m3u8"):
		return "application/vnd.apple.mpegurl", cache.PlaylistTTL, true
	case strings.HasSuffix(fileName, ".ts"):
		return "video/MP2T", cache.SegmentTTL, true
	default:
		return "", 0, false
	}
}

// ThumbnailHandler 提供缩略图静态服务
func ThumbnailHandler(cfg *config.Config) http.Handler {
	fs := http.FileServer(http.Dir(cfg.ThumbnailDir))
	return http.StripPrefix("/thumbnails/", fs)
}
