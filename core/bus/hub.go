package bus

import (
	"sync"
	"time"

	"FeiLiu/logger"

	"github.com/gorilla/websocket"
)

// Publisher 事件发布接口，由各组件依赖
// Hub 是唯一实现；测试中用记录桩替换。
type Publisher interface {
	Publish(evt Event)                       // 所有客户端
	PublishAuthenticated(evt Event)          // 已登录客户端
	PublishAdmin(evt Event)                  // 管理员客户端
	PublishRoom(streamID string, evt Event)  // 订阅了该流的客户端
}

// 投递范围
type scope int

const (
	scopeAll scope = iota
	scopeAuthenticated
	scopeAdmin
	scopeRoom
)

// Client 一个已连接的实时客户端
type Client struct {
	Hub         *Hub
	Conn        *websocket.Conn
	Send        chan []byte
	UserID      int64 // 0 表示未认证
	Username    string
	IsAdmin     bool
	ConnectedAt time.Time

	mu    sync.RWMutex
	rooms map[string]bool // 订阅的流会话ID
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn, userID int64, username string, isAdmin bool) *Client {
	return &Client{
		Hub:         hub,
		Conn:        conn,
		Send:        make(chan []byte, 64),
		UserID:      userID,
		Username:    username,
		IsAdmin:     isAdmin,
		ConnectedAt: time.Now(),
		rooms:       make(map[string]bool),
	}
}

// Authenticated 报告客户端是否已登录
func (c *Client) Authenticated() bool {
	return c.UserID > 0
}

// JoinRoom 订阅一个流会话
func (c *Client) JoinRoom(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[streamID] = true
}

// LeaveRoom 退订一个流会话
func (c *Client) LeaveRoom(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, streamID)
}

// inRoom 报告客户端是否订阅了该流
func (c *Client) inRoom(streamID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[streamID]
}

// broadcastMessage 待投递的消息
type broadcastMessage struct {
	scope   scope
	roomID  string
	message []byte
}

// Hub 事件总线管理中心
// 跟踪所有已连接客户端并按范围（全部/已认证/管理员/流房间）扇出事件。
type Hub struct {
	clients map[*Client]bool

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// 广播通道
	broadcast chan *broadcastMessage

	// 互斥锁
	mu sync.RWMutex

	// 关闭信号
	done chan struct{}
}

// NewHub 创建事件总线
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	close(h.done)
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	logger.Info("client registered",
		logger.Int64("user", client.UserID),
		logger.String("username", client.Username),
		logger.Int("clients", len(h.clients)))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}

	logger.Info("client unregistered",
		logger.Int64("user", client.UserID),
		logger.Int("clients", len(h.clients)))
}

// deliver 按范围投递消息
func (h *Hub) deliver(msg *broadcastMessage) {
	h.mu.RLock()
	// 复制客户端列表以避免长时间持有锁
	clientList := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clientList = append(clientList, client)
	}
	h.mu.RUnlock()

	for _, client := range clientList {
		switch msg.scope {
		case scopeAuthenticated:
			if !client.Authenticated() {
				continue
			}
		case scopeAdmin:
			if !client.IsAdmin {
				continue
			}
		case scopeRoom:
			if !client.inRoom(msg.roomID) {
				continue
			}
		}

		select {
		case client.Send <- msg.message:
		default:
			// 发送缓冲区满，移除客户端
			// 这里已在 Run 协程内，直接注销，不能回投 unregister 通道
			h.unregisterClient(client)
		}
	}
}

// cleanup 清理所有连接
func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]bool)
}

// publish 序列化并入队
func (h *Hub) publish(s scope, roomID string, evt Event) {
	data, err := evt.Marshal()
	if err != nil {
		logger.Error("事件序列化失败",
			logger.String("type", string(evt.Type)),
			logger.ErrorField(err))
		return
	}

	select {
	case h.broadcast <- &broadcastMessage{scope: s, roomID: roomID, message: data}:
	case <-h.done:
	}
}

// Publish 广播给所有客户端
func (h *Hub) Publish(evt Event) {
	h.publish(scopeAll, "", evt)
}

// PublishAuthenticated 广播给已登录客户端
func (h *Hub) PublishAuthenticated(evt Event) {
	h.publish(scopeAuthenticated, "", evt)
}

// PublishAdmin 广播给管理员客户端
func (h *Hub) PublishAdmin(evt Event) {
	h.publish(scopeAdmin, "", evt)
}

// PublishRoom 广播给订阅了该流的客户端
func (h *Hub) PublishRoom(streamID string, evt Event) {
	h.publish(scopeRoom, streamID, evt)
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ActiveUserCount 已认证的去重用户数
func (h *Hub) ActiveUserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make(map[int64]bool)
	for client := range h.clients {
		if client.Authenticated() {
			users[client.UserID] = true
		}
	}
	return len(users)
}
