package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"neuroconnect/internal/middleware"
	"neuroconnect/internal/models"
	"neuroconnect/internal/services"
)

// SessionHandler 咨询会话处理器
type SessionHandler struct {
	sessionService *services.SessionService
	logger         *logrus.Logger
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(sessionService *services.SessionService, logger *logrus.Logger) *SessionHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionHandler{
		sessionService: sessionService,
		logger:         logger,
	}
}

// CreateSession 发起会话请求
// @Summary 发起会话请求
// @Description 学生向医生发起咨询会话，初始状态为 pending
// @Tags 会话
// @Accept json
// @Produce json
// @Param session body services.SessionCreateRequest true "会话信息"
// @Success 201 {object} models.Session
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/sessions [post]
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req services.SessionCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sess, err := h.sessionService.Create(c.Request.Context(), currentPartyID(c), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// ListMySessions 当前用户参与的会话
// @Summary 我的会话
// @Tags 会话
// @Produce json
// @Param status query string false "状态过滤"
// @Success 200 {array} models.Session
// @Router /api/sessions/mine [get]
func (h *SessionHandler) ListMySessions(c *gin.Context) {
	status := models.SessionStatus(c.Query("status"))
	sessions, err := h.sessionService.ListByParty(c.Request.Context(), currentPartyID(c), status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions, "total": len(sessions)})
}

// GetSession 会话详情（仅会话双方，管理员不受限）
func (h *SessionHandler) GetSession(c *gin.Context) {
	var (
		sess *models.Session
		err  error
	)
	if currentRole(c) == models.RoleAdmin {
		sess, err = h.sessionService.Get(c.Request.Context(), c.Param("id"))
	} else {
		sess, err = h.sessionService.GetForParty(c.Request.Context(), currentPartyID(c), c.Param("id"))
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// RespondSession 医生接受/拒绝
// @Summary 答复会话请求
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param body body services.SessionRespondRequest true "active 或 rejected"
// @Success 200 {object} models.Session
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/sessions/{id}/status [patch]
func (h *SessionHandler) RespondSession(c *gin.Context) {
	var req services.SessionRespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sess, err := h.sessionService.Respond(c.Request.Context(), currentPartyID(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// CompleteSession 医生结束会话
// @Summary 结束会话
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param body body services.SessionCompleteRequest true "反馈与评分"
// @Success 200 {object} models.Session
// @Failure 409 {object} ErrorResponse
// @Router /api/sessions/{id}/end [post]
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	var req services.SessionCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sess, err := h.sessionService.Complete(c.Request.Context(), currentPartyID(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// CancelSession 学生撤回请求
func (h *SessionHandler) CancelSession(c *gin.Context) {
	sess, err := h.sessionService.Cancel(c.Request.Context(), currentPartyID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// RescheduleSession 调整待确认会话的时间
func (h *SessionHandler) RescheduleSession(c *gin.Context) {
	var req services.SessionRescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sess, err := h.sessionService.Reschedule(c.Request.Context(), currentPartyID(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// ListExpiredSessions 已超时但尚未被扫描处理的会话（诊断用）
func (h *SessionHandler) ListExpiredSessions(c *gin.Context) {
	sessions, err := h.sessionService.ListExpiredUnswept(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions, "total": len(sessions)})
}

// RunExpireSweep 立即执行一次过期扫描
func (h *SessionHandler) RunExpireSweep(c *gin.Context) {
	res, err := h.sessionService.ExpireSweep(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "expiration sweep finished", Data: res})
}

// RegisterSessionRoutes 注册会话相关路由
func RegisterSessionRoutes(r *gin.RouterGroup, handler *SessionHandler) {
	sessions := r.Group("/sessions")
	{
		sessions.POST("", middleware.RequireRolesAny(models.RoleStudent), handler.CreateSession)
		sessions.GET("/mine", handler.ListMySessions)
		sessions.GET("/expired", middleware.RequireRolesAny(models.RoleAdmin), handler.ListExpiredSessions)
		sessions.POST("/auto-expire", middleware.RequireRolesAny(models.RoleAdmin), handler.RunExpireSweep)
		sessions.GET("/:id", handler.GetSession)
		sessions.PATCH("/:id/status", middleware.RequireRolesAny(models.RoleDoctor), handler.RespondSession)
		sessions.PATCH("/:id/schedule", handler.RescheduleSession)
		sessions.POST("/:id/end", middleware.RequireRolesAny(models.RoleDoctor), handler.CompleteSession)
		sessions.POST("/:id/cancel", middleware.RequireRolesAny(models.RoleStudent), handler.CancelSession)
	}
}
