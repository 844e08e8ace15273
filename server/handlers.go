package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"

	"FeiLiu/config"
	"FeiLiu/core/bus"
	"FeiLiu/core/scanner"
	"FeiLiu/core/stream"
	"FeiLiu/logger"
	"FeiLiu/model"
	"FeiLiu/repository"

	"github.com/gorilla/mux"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	libraryRepo  repository.LibraryRepository
	mediaRepo    repository.MediaItemRepository
	userRepo     repository.UserRepository
	scanner      *scanner.Scanner
	orchestrator *stream.Orchestrator
	hub          *bus.Hub
	cfg          *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	libraryRepo repository.LibraryRepository,
	mediaRepo repository.MediaItemRepository,
	userRepo repository.UserRepository,
	sc *scanner.Scanner,
	orchestrator *stream.Orchestrator,
	hub *bus.Hub,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		libraryRepo:  libraryRepo,
		mediaRepo:    mediaRepo,
		userRepo:     userRepo,
		scanner:      sc,
		orchestrator: orchestrator,
		hub:          hub,
		cfg:          cfg,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// CreateLibraryHandler 创建媒体库
func (h *APIHandler) CreateLibraryHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		Path      string `json:"path"`
		MediaType string `json:"mediaType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Path == "" {
		http.Error(w, "Name and path are required", http.StatusBadRequest)
		return
	}

	mediaType := model.MediaType(req.MediaType)
	if mediaType != model.MediaTypeVideo && mediaType != model.MediaTypeMusic {
		http.Error(w, "mediaType must be video or music", http.StatusBadRequest)
		return
	}

	// 根目录必须已经存在
	info, err := os.Stat(req.Path)
	if err != nil || !info.IsDir() {
		http.Error(w, "Library path does not exist or is not a directory", http.StatusBadRequest)
		return
	}

	library := &model.Library{
		Name:      req.Name,
		Path:      req.Path,
		MediaType: mediaType,
		Enabled:   true,
	}

	id, err := h.libraryRepo.CreateLibrary(library)
	if err != nil {
		logger.Error("[Library] 创建媒体库失败", logger.ErrorField(err))
		http.Error(w, "Failed to create library", http.StatusInternalServerError)
		return
	}
	library.ID = id

	logger.Info("[Library] 媒体库已创建",
		logger.Int64("id", id),
		logger.String("path", req.Path))
	respondJSON(w, http.StatusCreated, library)
}

// GetLibrariesHandler 列出启用的媒体库
func (h *APIHandler) GetLibrariesHandler(w http.ResponseWriter, r *http.Request) {
	libraries, err := h.libraryRepo.GetEnabledLibraries()
	if err != nil {
		logger.Error("[Library] 查询媒体库失败", logger.ErrorField(err))
		http.Error(w, "Failed to list libraries", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, libraries)
}

// DeleteLibraryHandler 删除媒体库并停掉目录监听
func (h *APIHandler) DeleteLibraryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "Invalid library ID", http.StatusBadRequest)
		return
	}

	if err := h.libraryRepo.DeleteLibrary(id); err != nil {
		logger.Error("[Library] 删除媒体库失败", logger.ErrorField(err))
		http.Error(w, "Failed to delete library", http.StatusInternalServerError)
		return
	}
	h.scanner.Watches().Remove(id)

	logger.Info("[Library] 媒体库已删除", logger.Int64("id", id))
	w.WriteHeader(http.StatusNoContent)
}

// ScanLibraryHandler 触发一次库扫描
// 同一个库同一时刻只允许一次扫描，重复触发返回 409。
func (h *APIHandler) ScanLibraryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "Invalid library ID", http.StatusBadRequest)
		return
	}

	library, err := h.libraryRepo.GetLibraryByID(id)
	if err != nil {
		logger.Error("[Scan] 查询媒体库失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if library == nil {
		http.Error(w, "Library not found", http.StatusNotFound)
		return
	}

	if h.scanner.IsScanning(id) {
		http.Error(w, "Scan already in progress", http.StatusConflict)
		return
	}

	// 请求上下文在响应后即取消，后台扫描不能挂在它上面
	go h.scanner.Scan(context.Background(), library)

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"libraryId": id,
		"status":    "scanning",
	})
}

// GetLibraryMediaHandler 列出库内媒体
func (h *APIHandler) GetLibraryMediaHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "Invalid library ID", http.StatusBadRequest)
		return
	}

	items, err := h.mediaRepo.GetAllByLibraryID(id)
	if err != nil {
		logger.Error("[Media] 查询媒体失败", logger.ErrorField(err))
		http.Error(w, "Failed to list media", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// GetMediaItemHandler 查询单个媒体
func (h *APIHandler) GetMediaItemHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "Invalid media ID", http.StatusBadRequest)
		return
	}

	item, err := h.mediaRepo.GetMediaItemByID(id)
	if err != nil {
		logger.Error("[Media] 查询媒体失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if item == nil {
		http.Error(w, "Media not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func parseID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[key], 10, 64)
}
