package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"neuroconnect/internal/models"
	"neuroconnect/internal/services"
)

// PartyProfile 对外展示的参与方资料
type PartyProfile struct {
	ID             uint   `json:"id"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	Avatar         string `json:"avatar,omitempty"`
	Role           string `json:"role"`
	Specialization string `json:"specialization,omitempty"`
}

func toPartyProfile(u *models.User, withEmail bool) PartyProfile {
	p := PartyProfile{
		ID:             u.ID,
		Name:           u.Name,
		Username:       u.Username,
		Avatar:         u.Avatar,
		Role:           u.Role,
		Specialization: u.Specialization,
	}
	if withEmail {
		p.Email = u.Email
	}
	return p
}

// PartyHandler 参与方查询
type PartyHandler struct {
	parties services.PartyDirectory
	logger  *logrus.Logger
}

// NewPartyHandler 创建参与方处理器
func NewPartyHandler(parties services.PartyDirectory, logger *logrus.Logger) *PartyHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PartyHandler{parties: parties, logger: logger}
}

// ListProviders 可预约的医生列表
// @Summary 医生列表
// @Tags 用户
// @Produce json
// @Success 200 {array} PartyProfile
// @Router /api/users/providers [get]
func (h *PartyHandler) ListProviders(c *gin.Context) {
	providers, err := h.parties.ListProviders(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]PartyProfile, 0, len(providers))
	for i := range providers {
		out = append(out, toPartyProfile(&providers[i], false))
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "total": len(out)})
}

// GetParty 参与方资料；邮箱仅本人和管理员可见
func (h *PartyHandler) GetParty(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}
	u, err := h.parties.FindParty(c.Request.Context(), uint(id))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	self := currentPartyID(c) == u.ID || currentRole(c) == models.RoleAdmin
	c.JSON(http.StatusOK, toPartyProfile(u, self))
}

// RegisterPartyRoutes 注册用户查询路由
func RegisterPartyRoutes(r *gin.RouterGroup, handler *PartyHandler) {
	users := r.Group("/users")
	{
		users.GET("/providers", handler.ListProviders)
		users.GET("/:id", handler.GetParty)
	}
}
