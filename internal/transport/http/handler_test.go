package httptransport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fademail/backend/internal/config"
	"fademail/backend/internal/domain"
	"fademail/backend/internal/service"
	"fademail/backend/internal/storage/memory"
	"fademail/backend/internal/websocket"
)

func newTestRouter(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	mailboxCfg := &config.MailboxConfig{
		Domain:        "fade.mail",
		TTL:           15 * time.Minute,
		AllocAttempts: 10,
	}
	cfg := &config.Config{
		Mailbox: *mailboxCfg,
		CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
	}

	router := NewRouter(RouterDependencies{
		Config:    cfg,
		Allocator: service.NewAllocator(store, mailboxCfg, zap.NewNop()),
		Messages:  service.NewMessageService(store, zap.NewNop()),
		Hub:       websocket.NewHub(nil, zap.NewNop(), nil),
		Logger:    zap.NewNop(),
	})
	return router, store
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateMailbox(t *testing.T) {
	t.Run("成功分配邮箱", func(t *testing.T) {
		router, _ := newTestRouter(t)

		w := doJSON(router, http.MethodPost, "/api/mailbox", gin.H{"sessionId": "session-1"})
		require.Equal(t, http.StatusCreated, w.Code)

		var resp mailboxResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ID)
		assert.True(t, strings.HasSuffix(resp.Address, "@fade.mail"))
		assert.Equal(t, "session-1", resp.SessionID)
		assert.True(t, resp.ExpiresAt.After(time.Now()))
	})

	t.Run("缺少会话ID返回400", func(t *testing.T) {
		router, _ := newTestRouter(t)

		w := doJSON(router, http.MethodPost, "/api/mailbox", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListMessages(t *testing.T) {
	t.Run("新邮箱返回空列表", func(t *testing.T) {
		router, _ := newTestRouter(t)

		w := doJSON(router, http.MethodPost, "/api/mailbox", gin.H{"sessionId": "session-1"})
		require.Equal(t, http.StatusCreated, w.Code)
		var created mailboxResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

		w = doJSON(router, http.MethodGet,
			fmt.Sprintf("/api/mailbox/%s/messages?sessionId=session-1", created.Address), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("返回邮件列表并按时间倒序", func(t *testing.T) {
		router, store := newTestRouter(t)

		w := doJSON(router, http.MethodPost, "/api/mailbox", gin.H{"sessionId": "session-1"})
		require.Equal(t, http.StatusCreated, w.Code)
		var created mailboxResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

		base := time.Now().UTC()
		for i := 0; i < 3; i++ {
			require.NoError(t, store.SaveMessage(&domain.Message{
				ID:         uuid.NewString(),
				MailboxID:  created.ID,
				Sender:     "a@b.com",
				Subject:    fmt.Sprintf("mail %d", i),
				BodyText:   strings.Repeat("x", 150),
				ReceivedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}

		w = doJSON(router, http.MethodGet,
			fmt.Sprintf("/api/mailbox/%s/messages?sessionId=session-1", created.Address), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var views []messageView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
		require.Len(t, views, 3)
		assert.Equal(t, "mail 2", views[0].Subject)
		assert.Equal(t, "mail 0", views[2].Subject)
		assert.Len(t, views[0].Preview, 100)
		assert.False(t, views[0].IsRead)
	})

	t.Run("会话不匹配返回404", func(t *testing.T) {
		router, _ := newTestRouter(t)

		w := doJSON(router, http.MethodPost, "/api/mailbox", gin.H{"sessionId": "session-1"})
		require.Equal(t, http.StatusCreated, w.Code)
		var created mailboxResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

		w = doJSON(router, http.MethodGet,
			fmt.Sprintf("/api/mailbox/%s/messages?sessionId=other-session", created.Address), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("未知地址返回404", func(t *testing.T) {
		router, _ := newTestRouter(t)

		w := doJSON(router, http.MethodGet, "/api/mailbox/nobody@fade.mail/messages?sessionId=s1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("缺少会话ID返回400", func(t *testing.T) {
		router, _ := newTestRouter(t)

		w := doJSON(router, http.MethodGet, "/api/mailbox/foo@fade.mail/messages", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMarkMessageRead(t *testing.T) {
	setup := func(t *testing.T) (*gin.Engine, *memory.Store, mailboxResponse, string) {
		router, store := newTestRouter(t)

		w := doJSON(router, http.MethodPost, "/api/mailbox", gin.H{"sessionId": "session-1"})
		require.Equal(t, http.StatusCreated, w.Code)
		var created mailboxResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

		messageID := uuid.NewString()
		require.NoError(t, store.SaveMessage(&domain.Message{
			ID:         messageID,
			MailboxID:  created.ID,
			Sender:     "a@b.com",
			Subject:    "unread",
			ReceivedAt: time.Now().UTC(),
		}))
		return router, store, created, messageID
	}

	t.Run("拥有者标记已读", func(t *testing.T) {
		router, store, created, messageID := setup(t)

		w := doJSON(router, http.MethodPatch,
			"/api/message/"+messageID+"/read", gin.H{"sessionId": "session-1"})
		require.Equal(t, http.StatusOK, w.Code)

		messages, err := store.ListMessages(created.ID)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.True(t, messages[0].IsRead)
	})

	t.Run("非拥有者请求静默跳过", func(t *testing.T) {
		router, store, created, messageID := setup(t)

		w := doJSON(router, http.MethodPatch,
			"/api/message/"+messageID+"/read", gin.H{"sessionId": "intruder"})
		// 响应与成功一致，不暴露邮件归属
		require.Equal(t, http.StatusOK, w.Code)

		messages, err := store.ListMessages(created.ID)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.False(t, messages[0].IsRead)
	})

	t.Run("缺少会话ID返回400", func(t *testing.T) {
		router, _, _, messageID := setup(t)

		w := doJSON(router, http.MethodPatch, "/api/message/"+messageID+"/read", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
