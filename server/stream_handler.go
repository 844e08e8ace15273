package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"FeiLiu/core/stream"
	"FeiLiu/logger"
	"FeiLiu/model"

	"github.com/gorilla/mux"
)

// StartStreamRequest 启动流的请求体
type StartStreamRequest struct {
	MediaID      int64                    `json:"mediaId"`
	Capabilities model.ClientCapabilities `json:"capabilities"`
}

// StartStreamHandler 启动一个转码流会话
func (h *APIHandler) StartStreamHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req StartStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.MediaID == 0 {
		http.Error(w, "mediaId is required", http.StatusBadRequest)
		return
	}

	result, err := h.orchestrator.StartStream(r.Context(), req.MediaID, userID, req.Capabilities)
	if err != nil {
		if errors.Is(err, stream.ErrNotFound) {
			http.Error(w, "Media or user not found", http.StatusNotFound)
			return
		}
		logger.Error("[Stream] 启动流失败",
			logger.Int64("mediaId", req.MediaID),
			logger.ErrorField(err))
		http.Error(w, "Failed to start stream", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// StopStreamHandler 停止一个流会话
// 未知的流ID返回404，不产生任何副作用。
func (h *APIHandler) StopStreamHandler(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["stream_id"]
	if streamID == "" {
		http.Error(w, "Stream ID is required", http.StatusBadRequest)
		return
	}

	if !h.orchestrator.StopStream(streamID) {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"streamId": streamID,
		"status":   "stopped",
	})
}

// GetActiveStreamsHandler 列出当前活跃的流会话
func (h *APIHandler) GetActiveStreamsHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.orchestrator.ActiveStreams())
}

// JoinStreamHandler 上报有观看者加入
// 有人加入会取消正在进行的无人观看倒计时。
func (h *APIHandler) JoinStreamHandler(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["stream_id"]

	count, ok := h.orchestrator.AddViewer(streamID)
	if !ok {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"streamId": streamID,
		"viewers":  count,
	})
}

// LeaveStreamHandler 上报有观看者离开
func (h *APIHandler) LeaveStreamHandler(w http.ResponseWriter, r *http.Request) {
	streamID := mux.Vars(r)["stream_id"]

	count, ok := h.orchestrator.RemoveViewer(streamID)
	if !ok {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"streamId": streamID,
		"viewers":  count,
	})
}
