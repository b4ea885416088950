package httptransport

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fademail/backend/internal/domain"
	"fademail/backend/internal/monitoring"
	"fademail/backend/internal/service"
)

// errorResponse 错误响应
type errorResponse struct {
	Error string `json:"error"`
}

// Handler 聚合邮箱与邮件的 HTTP 处理逻辑。
type Handler struct {
	allocator *service.Allocator
	messages  *service.MessageService
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewHandler 创建 HTTP 处理器
func NewHandler(allocator *service.Allocator, messages *service.MessageService, metrics *monitoring.Metrics, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		allocator: allocator,
		messages:  messages,
		metrics:   metrics,
		log:       log,
	}
}

// ========== 请求/响应结构体 ==========

type createMailboxRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

type mailboxResponse struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expiresAt"`
	SessionID string    `json:"sessionId"`
}

type messageView struct {
	ID          string           `json:"id"`
	Sender      string           `json:"sender"`
	Subject     string           `json:"subject"`
	Preview     string           `json:"preview"`
	Body        string           `json:"body"`
	BodyHTML    string           `json:"bodyHtml"`
	ReceivedAt  time.Time        `json:"receivedAt"`
	Attachments []attachmentView `json:"attachments"`
	IsRead      bool             `json:"isRead"`
}

type attachmentView struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type markReadRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// CreateMailbox 分配一个新的临时邮箱
//
// POST /api/mailbox
func (h *Handler) CreateMailbox(c *gin.Context) {
	var req createMailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "sessionId is required"})
		return
	}

	mailbox, err := h.allocator.Allocate(c.Request.Context(), req.SessionID, c.ClientIP())
	if err != nil {
		if errors.Is(err, domain.ErrAllocationExhausted) {
			if h.metrics != nil {
				h.metrics.AllocationExhausted.Inc()
			}
			c.JSON(http.StatusConflict, errorResponse{Error: "could not allocate a unique address, try again later"})
			return
		}
		h.log.Error("mailbox allocation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	if h.metrics != nil {
		h.metrics.MailboxesAllocated.Inc()
	}

	c.JSON(http.StatusCreated, mailboxResponse{
		ID:        mailbox.ID,
		Address:   mailbox.Address,
		ExpiresAt: mailbox.ExpiresAt,
		SessionID: mailbox.SessionID,
	})
}

// ListMessages 返回邮箱内全部邮件，按接收时间倒序
//
// GET /api/mailbox/:address/messages?sessionId=...
func (h *Handler) ListMessages(c *gin.Context) {
	address := c.Param("address")
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "sessionId is required"})
		return
	}

	messages, err := h.messages.ListForMailbox(address, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrMailboxNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "mailbox not found"})
			return
		}
		h.log.Error("failed to list messages",
			zap.String("address", address),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	views := make([]messageView, 0, len(messages))
	for i := range messages {
		views = append(views, newMessageView(&messages[i]))
	}
	c.JSON(http.StatusOK, views)
}

// MarkMessageRead 标记邮件已读
//
// PATCH /api/message/:id/read
//
// 会话不拥有该邮件时静默跳过，响应与成功一致，
// 避免通过状态码探测他人邮件是否存在。
func (h *Handler) MarkMessageRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "sessionId is required"})
		return
	}

	if err := h.messages.MarkRead(c.Param("id"), req.SessionID); err != nil {
		h.log.Error("failed to mark message read",
			zap.String("messageID", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusOK)
}

func newMessageView(message *domain.Message) messageView {
	attachments := make([]attachmentView, 0, len(message.Attachments))
	for _, a := range message.Attachments {
		attachments = append(attachments, attachmentView{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}

	return messageView{
		ID:          message.ID,
		Sender:      message.Sender,
		Subject:     message.Subject,
		Preview:     message.Preview(),
		Body:        message.BodyText,
		BodyHTML:    message.BodyHTML,
		ReceivedAt:  message.ReceivedAt,
		Attachments: attachments,
		IsRead:      message.IsRead,
	}
}
