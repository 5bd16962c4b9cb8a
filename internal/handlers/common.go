package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"neuroconnect/internal/middleware"
	"neuroconnect/internal/services"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// statusForError 服务层错误 -> HTTP 状态码
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict, "Invalid transition"
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "Validation failed"
	case errors.Is(err, services.ErrAuthentication):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, services.ErrAuthorization):
		return http.StatusForbidden, "Forbidden"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// respondError 写错误响应；未分类的错误只记录日志，不把内部细节返回给调用方
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status, title := statusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		msg = "internal server error"
	}
	c.JSON(status, ErrorResponse{Error: title, Message: msg})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request body",
		Message: err.Error(),
	})
}

// currentPartyID 读取认证中间件注入的参与方 ID
func currentPartyID(c *gin.Context) uint {
	if v, ok := c.Get(middleware.CtxUserID); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

func currentRole(c *gin.Context) string {
	return c.GetString(middleware.CtxRole)
}
