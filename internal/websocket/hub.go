package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fademail/backend/internal/domain"
	"fademail/backend/internal/monitoring"
)

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeRegister   MessageType = "register"
	MessageTypeRegistered MessageType = "registered"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
	MessageTypeNewEmail   MessageType = "new_email"
	MessageTypeError      MessageType = "error"
)

// ClientMessage 客户端发来的消息结构
type ClientMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
}

// ControlEvent 服务端确认/错误事件
type ControlEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// MessagePreview 新邮件通知中的消息摘要
type MessagePreview struct {
	ID         string `json:"id"`
	Sender     string `json:"sender"`
	Subject    string `json:"subject"`
	Preview    string `json:"preview"`
	ReceivedAt string `json:"receivedAt"`
}

// NewEmailEvent 新邮件通知事件
type NewEmailEvent struct {
	Type    MessageType    `json:"type"`
	Email   string         `json:"email"`
	Message MessagePreview `json:"message"`
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 没有 Origin 视为同源请求
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}

			return false
		},
	}
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	log  *zap.Logger

	mu        sync.Mutex
	sessionID string // 注册后绑定的会话ID
	closed    bool
}

// Hub 维护会话到客户端的映射，每个会话只保留最后一次注册的连接。
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Client
	log      *zap.Logger
	metrics  *monitoring.Metrics

	allowedOrigins []string
}

// NewHub 创建通知中心
func NewHub(allowedOrigins []string, log *zap.Logger, metrics *monitoring.Metrics) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		sessions:       make(map[string]*Client),
		log:            log,
		metrics:        metrics,
		allowedOrigins: allowedOrigins,
	}
}

// Register 绑定会话与客户端，同一会话的旧连接会被替换并关闭。
func (h *Hub) Register(sessionID string, c *Client) {
	h.mu.Lock()
	prev := h.sessions[sessionID]
	if prev == c {
		h.mu.Unlock()
		return
	}
	h.sessions[sessionID] = c
	h.mu.Unlock()

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	if prev != nil {
		prev.closeSend()
		h.log.Info("websocket client replaced", zap.String("sessionID", sessionID))
	} else if h.metrics != nil {
		h.metrics.SessionsConnected.Inc()
	}

	h.log.Info("websocket client registered", zap.String("sessionID", sessionID))
}

// Unregister 解除客户端绑定；仅当该客户端仍是会话的当前连接时移除映射。
func (h *Hub) Unregister(c *Client) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID != "" {
		h.mu.Lock()
		if h.sessions[sessionID] == c {
			delete(h.sessions, sessionID)
			if h.metrics != nil {
				h.metrics.SessionsConnected.Dec()
			}
		}
		h.mu.Unlock()
	}

	c.closeSend()
}

// NotifyNewEmail 向邮箱所属会话推送新邮件事件。
func (h *Hub) NotifyNewEmail(sessionID, address string, message *domain.Message) {
	event := &NewEmailEvent{
		Type:  MessageTypeNewEmail,
		Email: address,
		Message: MessagePreview{
			ID:         message.ID,
			Sender:     message.Sender,
			Subject:    message.Subject,
			Preview:    message.Preview(),
			ReceivedAt: message.ReceivedAt.Format(time.RFC3339),
		},
	}
	h.Push(sessionID, event)
}

// Push 尽力投递：会话无连接或通道阻塞时丢弃事件，失败的连接会被移除。
func (h *Hub) Push(sessionID string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	client := h.sessions[sessionID]
	h.mu.RUnlock()

	if client == nil {
		if h.metrics != nil {
			h.metrics.NotificationsDropped.Inc()
		}
		return
	}

	if !client.trySend(data) {
		h.log.Warn("client channel blocked, dropping event", zap.String("sessionID", sessionID))
		if h.metrics != nil {
			h.metrics.NotificationsDropped.Inc()
		}
		h.Unregister(client)
		return
	}

	if h.metrics != nil {
		h.metrics.NotificationsSent.Inc()
	}
}

// Broadcast 向所有已注册会话投递事件。
func (h *Hub) Broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.trySend(data) && h.metrics != nil {
			h.metrics.NotificationsSent.Inc()
		}
	}
}

// SessionCount 返回当前绑定的会话数
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown 关闭所有客户端连接
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		clients = append(clients, c)
	}
	h.sessions = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
}

// HandleWebSocket 处理WebSocket连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan []byte, 256),
			hub:  hub,
			log:  hub.log,
		}

		go client.writePump()
		go client.readPump()
	}
}

// trySend 非阻塞发送，通道已关闭或阻塞时返回 false。
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend 关闭发送通道，由写协程负责关闭底层连接。
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg ClientMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}

		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeRegister:
		if msg.SessionID == "" {
			c.sendControl(&ControlEvent{Type: MessageTypeError, Message: "sessionId is required"})
			return
		}
		c.hub.Register(msg.SessionID, c)
		c.sendControl(&ControlEvent{Type: MessageTypeRegistered, SessionID: msg.SessionID})

	case MessageTypePing:
		c.sendControl(&ControlEvent{Type: MessageTypePong})

	default:
		c.log.Warn("unknown message type", zap.String("type", string(msg.Type)))
		c.sendControl(&ControlEvent{Type: MessageTypeError, Message: "unknown message type"})
	}
}

// sendControl 发送控制事件给客户端
func (c *Client) sendControl(event *ControlEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		c.log.Error("failed to marshal event", zap.Error(err))
		return
	}
	if !c.trySend(data) {
		c.log.Warn("client channel blocked, dropping control event")
	}
}
