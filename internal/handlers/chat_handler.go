package handlers

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"neuroconnect/internal/config"
	"neuroconnect/internal/models"
	"neuroconnect/internal/services"
	"neuroconnect/pkg/uploads"
)

// ChatHandler 会话消息处理器（HTTP 通道，与 WebSocket 共用消息服务）
type ChatHandler struct {
	messages     *services.MessageService
	storage      uploads.Storage
	maxFileSize  int64
	allowedTypes []string
	logger       *logrus.Logger
}

// NewChatHandler 创建消息处理器；storage 为空时不接受附件上传
func NewChatHandler(messages *services.MessageService, storage uploads.Storage, cfg config.UploadConfig, logger *logrus.Logger) *ChatHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	maxSize, err := uploads.ParseSize(cfg.MaxFileSize)
	if err != nil {
		// 配置错误不应导致请求失败，跳过大小校验
		logger.Warnf("Invalid max file size config '%s': %v", cfg.MaxFileSize, err)
	}
	return &ChatHandler{
		messages:     messages,
		storage:      storage,
		maxFileSize:  maxSize,
		allowedTypes: cfg.AllowedTypes,
		logger:       logger,
	}
}

// GetHistory 会话消息历史
// @Summary 会话消息历史
// @Tags 消息
// @Produce json
// @Param sessionId path string true "会话ID"
// @Success 200 {array} services.MessageView
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/chat/{sessionId} [get]
func (h *ChatHandler) GetHistory(c *gin.Context) {
	msgs, err := h.messages.History(c.Request.Context(), currentPartyID(c), c.Param("sessionId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs, "total": len(msgs)})
}

// SendMessage 发送消息。JSON 发送文本；multipart/form-data 的 file 字段作为附件上传。
// @Summary 发送消息
// @Tags 消息
// @Accept json,mpfd
// @Produce json
// @Param sessionId path string true "会话ID"
// @Success 201 {object} services.MessageView
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/chat/{sessionId}/message [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	sessionID := c.Param("sessionId")
	partyID := currentPartyID(c)

	// 会话不可发送时直接返回，不解析请求体，附件不落盘
	if err := h.messages.CheckSendable(c.Request.Context(), partyID, sessionID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	var (
		req    services.SendMessageRequest
		object string
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		var ok bool
		if object, ok = h.attachmentRequest(c, sessionID, &req); !ok {
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.messages.Send(c.Request.Context(), partyID, sessionID, &req)
	if err != nil {
		if object != "" {
			h.discardAttachment(c, sessionID, object)
		}
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// discardAttachment 消息未写入时删除已保存的附件
func (h *ChatHandler) discardAttachment(c *gin.Context, sessionID, object string) {
	// 请求上下文可能已取消，删除使用独立超时
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 10*time.Second)
	defer cancel()
	if err := h.storage.Delete(ctx, object); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"object":     object,
		}).Warn("Failed to remove orphaned attachment")
	}
}

// attachmentRequest 校验并保存附件，填充消息载荷，返回对象名；失败时已写响应
func (h *ChatHandler) attachmentRequest(c *gin.Context, sessionID string, req *services.SendMessageRequest) (string, bool) {
	if h.storage == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Upload disabled", Message: "attachment storage is not configured"})
		return "", false
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, fmt.Errorf("no file provided: %w", err))
		return "", false
	}
	defer file.Close()

	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "File too large",
			Message: fmt.Sprintf("%d bytes (max: %d)", header.Size, h.maxFileSize),
		})
		return "", false
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename))); byExt != "" {
			mimeType = byExt
		}
	}
	if !uploads.IsAllowedType(header.Filename, mimeType, h.allowedTypes) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "File type not allowed",
			Message: fmt.Sprintf("%s (%s)", mimeType, header.Filename),
		})
		return "", false
	}

	name := uploads.ObjectName(sessionID, header.Filename, time.Now())
	location, err := h.storage.Save(c.Request.Context(), name, file, header.Size, mimeType)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to save attachment")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Message: "failed to save file"})
		return "", false
	}

	req.Type = models.MessageFile
	if uploads.IsImage(mimeType) {
		req.Type = models.MessageImage
	}
	req.FileName = header.Filename
	req.FilePath = location
	req.FileSize = header.Size
	req.MimeType = mimeType
	return name, true
}

// MarkRead 将对方消息标记为已读
func (h *ChatHandler) MarkRead(c *gin.Context) {
	n, err := h.messages.MarkRead(c.Request.Context(), currentPartyID(c), c.Param("sessionId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// RegisterChatRoutes 注册消息路由
func RegisterChatRoutes(r *gin.RouterGroup, handler *ChatHandler) {
	chat := r.Group("/chat")
	{
		chat.GET("/:sessionId", handler.GetHistory)
		chat.POST("/:sessionId/message", handler.SendMessage)
		chat.POST("/:sessionId/read", handler.MarkRead)
	}
}
