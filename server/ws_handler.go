package server

import (
	"encoding/json"
	"net/http"
	"time"

	"FeiLiu/core/auth"
	"FeiLiu/core/bus"
	"FeiLiu/logger"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// 客户端入站消息类型
const (
	wsMsgJoinStream  = "join_stream"
	wsMsgLeaveStream = "leave_stream"
	wsMsgPing        = "ping"
	wsMsgPong        = "pong"
)

// wsInbound 客户端发来的控制消息
type wsInbound struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId,omitempty"`
}

// WebSocketHandler 建立事件总线连接
// 认证可选：带有效 token 的连接按用户身份接收事件，
// 匿名连接只能收到面向所有人的公告。
func (h *APIHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	// WebSocket 无法通过 header 传 token，走查询参数
	var userID int64
	var username string
	var isAdmin bool

	if token := r.URL.Query().Get("token"); token != "" {
		claims, err := auth.ParseToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		userID = claims.UserID
		username = claims.Username
		isAdmin = claims.IsAdmin
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket 升级失败", logger.ErrorField(err))
		return
	}

	client := bus.NewClient(h.hub, conn, userID, username, isAdmin)
	h.hub.Register(client)

	go h.writePump(client)
	go h.readPump(client)

	logger.Info("WebSocket 连接建立",
		logger.Int64("userId", userID),
		logger.String("username", username),
		logger.Bool("admin", isAdmin))
}

// readPump 读取消息循环
// 客户端断开时退订所有流房间并回收对应的观看计数。
func (h *APIHandler) readPump(client *bus.Client) {
	joined := make(map[string]bool)

	defer func() {
		for streamID := range joined {
			h.orchestrator.RemoveViewer(streamID)
		}
		h.hub.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(4096)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket 读取错误",
					logger.ErrorField(err),
					logger.Int64("userId", client.UserID))
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("无效的消息格式", logger.ErrorField(err))
			continue
		}

		switch msg.Type {
		case wsMsgPing:
			pong, _ := json.Marshal(map[string]string{"type": wsMsgPong})
			select {
			case client.Send <- pong:
			default:
			}

		case wsMsgJoinStream:
			if msg.StreamID == "" || joined[msg.StreamID] {
				continue
			}
			if _, ok := h.orchestrator.AddViewer(msg.StreamID); !ok {
				continue
			}
			client.JoinRoom(msg.StreamID)
			joined[msg.StreamID] = true

		case wsMsgLeaveStream:
			if !joined[msg.StreamID] {
				continue
			}
			client.LeaveRoom(msg.StreamID)
			delete(joined, msg.StreamID)
			h.orchestrator.RemoveViewer(msg.StreamID)
		}
	}
}

// writePump 写入消息循环
func (h *APIHandler) writePump(client *bus.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub 关闭了通道
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := client.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 合并发送队列中的消息
			n := len(client.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-client.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
