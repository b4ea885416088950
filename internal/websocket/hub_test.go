package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fademail/backend/internal/domain"
)

func newTestClient(h *Hub, buffer int) *Client {
	return &Client{
		send: make(chan []byte, buffer),
		hub:  h,
		log:  zap.NewNop(),
	}
}

func recvEvent(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.send:
		var event map[string]any
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestHubPush(t *testing.T) {
	t.Run("推送到已注册会话", func(t *testing.T) {
		hub := NewHub(nil, zap.NewNop(), nil)
		client := newTestClient(hub, 4)
		hub.Register("session-1", client)

		hub.Push("session-1", &ControlEvent{Type: MessageTypePong})

		event := recvEvent(t, client)
		assert.Equal(t, "pong", event["type"])
	})

	t.Run("未注册会话的推送被丢弃", func(t *testing.T) {
		hub := NewHub(nil, zap.NewNop(), nil)

		// 不应 panic，也不应影响其他会话
		hub.Push("nobody", &ControlEvent{Type: MessageTypePong})
		assert.Equal(t, 0, hub.SessionCount())
	})

	t.Run("通道阻塞时连接被移除", func(t *testing.T) {
		hub := NewHub(nil, zap.NewNop(), nil)
		client := newTestClient(hub, 0)
		hub.Register("session-1", client)

		hub.Push("session-1", &ControlEvent{Type: MessageTypePong})

		assert.Equal(t, 0, hub.SessionCount())
	})
}

func TestHubRegister(t *testing.T) {
	t.Run("同一会话后注册者生效", func(t *testing.T) {
		hub := NewHub(nil, zap.NewNop(), nil)
		first := newTestClient(hub, 4)
		second := newTestClient(hub, 4)

		hub.Register("session-1", first)
		hub.Register("session-1", second)

		hub.Push("session-1", &ControlEvent{Type: MessageTypePong})

		event := recvEvent(t, second)
		assert.Equal(t, "pong", event["type"])

		// 旧连接的发送通道已关闭
		_, open := <-first.send
		assert.False(t, open)
		assert.Equal(t, 1, hub.SessionCount())
	})

	t.Run("被替换的旧连接注销不影响新连接", func(t *testing.T) {
		hub := NewHub(nil, zap.NewNop(), nil)
		first := newTestClient(hub, 4)
		second := newTestClient(hub, 4)

		hub.Register("session-1", first)
		hub.Register("session-1", second)
		hub.Unregister(first)

		assert.Equal(t, 1, hub.SessionCount())

		hub.Push("session-1", &ControlEvent{Type: MessageTypePong})
		event := recvEvent(t, second)
		assert.Equal(t, "pong", event["type"])
	})

	t.Run("注销后会话不再可达", func(t *testing.T) {
		hub := NewHub(nil, zap.NewNop(), nil)
		client := newTestClient(hub, 4)

		hub.Register("session-1", client)
		hub.Unregister(client)

		assert.Equal(t, 0, hub.SessionCount())
	})
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil, zap.NewNop(), nil)
	a := newTestClient(hub, 4)
	b := newTestClient(hub, 4)
	hub.Register("session-a", a)
	hub.Register("session-b", b)

	hub.Broadcast(&ControlEvent{Type: MessageTypePong})

	assert.Equal(t, "pong", recvEvent(t, a)["type"])
	assert.Equal(t, "pong", recvEvent(t, b)["type"])
}

func TestNotifyNewEmail(t *testing.T) {
	hub := NewHub(nil, zap.NewNop(), nil)
	client := newTestClient(hub, 4)
	hub.Register("session-1", client)

	receivedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := &domain.Message{
		ID:         "msg-1",
		Sender:     "alice@example.com",
		Subject:    "hello",
		BodyText:   strings.Repeat("x", 150),
		ReceivedAt: receivedAt,
	}

	hub.NotifyNewEmail("session-1", "lucky-fox-42@fade.mail", msg)

	event := recvEvent(t, client)
	assert.Equal(t, "new_email", event["type"])
	assert.Equal(t, "lucky-fox-42@fade.mail", event["email"])

	payload, ok := event["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "msg-1", payload["id"])
	assert.Equal(t, "alice@example.com", payload["sender"])
	assert.Equal(t, "hello", payload["subject"])
	assert.Len(t, payload["preview"], 100)
	assert.Equal(t, receivedAt.Format(time.RFC3339), payload["receivedAt"])
}

func TestHandleWebSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := NewHub(nil, zap.NewNop(), nil)
	router := gin.New()
	router.GET("/ws", HandleWebSocket(hub))

	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() map[string]any {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var event map[string]any
		require.NoError(t, conn.ReadJSON(&event))
		return event
	}

	t.Run("注册后收到确认", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeRegister, SessionID: "session-1"}))

		event := readEvent()
		assert.Equal(t, "registered", event["type"])
		assert.Equal(t, "session-1", event["sessionId"])
		assert.Equal(t, 1, hub.SessionCount())
	})

	t.Run("ping 得到 pong", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePing}))

		event := readEvent()
		assert.Equal(t, "pong", event["type"])
	})

	t.Run("缺少会话ID返回错误", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeRegister}))

		event := readEvent()
		assert.Equal(t, "error", event["type"])
	})

	t.Run("未知类型返回错误", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe"}))

		event := readEvent()
		assert.Equal(t, "error", event["type"])
	})

	t.Run("注册会话可收到新邮件推送", func(t *testing.T) {
		msg := &domain.Message{
			ID:         "msg-1",
			Sender:     "a@b.c",
			Subject:    "hi",
			BodyText:   "body",
			ReceivedAt: time.Now().UTC(),
		}
		hub.NotifyNewEmail("session-1", "lucky-fox-42@fade.mail", msg)

		event := readEvent()
		assert.Equal(t, "new_email", event["type"])
	})
}
