package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HealthCheck 依赖检查函数
type HealthCheck func(ctx context.Context) error

// HealthHandler 健康检查与就绪检查
type HealthHandler struct {
	version string
	checks  map[string]HealthCheck
	logger  *logrus.Logger
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(version string, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HealthHandler{version: version, checks: make(map[string]HealthCheck), logger: logger}
}

// AddCheck 注册依赖检查（数据库、Redis 等）
func (h *HealthHandler) AddCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services,omitempty"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

// Health 存活检查，依赖异常时状态为 degraded 但仍返回 200
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp, healthy := h.run(ctx)
	resp.Status = "healthy"
	if !healthy {
		resp.Status = "degraded"
	}
	c.JSON(http.StatusOK, resp)
}

// Ready 就绪检查，任一依赖异常返回 503
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	resp, healthy := h.run(ctx)
	resp.Status = "ready"
	code := http.StatusOK
	if !healthy {
		resp.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (h *HealthHandler) run(ctx context.Context) (HealthResponse, bool) {
	resp := HealthResponse{
		Version:   h.version,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo, len(h.checks)),
		System: SystemInfo{
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		start := time.Now()
		info := ServiceInfo{Status: "healthy"}
		if err := h.checks[name](ctx); err != nil {
			h.logger.WithError(err).Warnf("health check %s failed", name)
			info.Status = "unhealthy"
			info.Error = err.Error()
			healthy = false
		}
		info.Latency = time.Since(start).String()
		resp.Services[name] = info
	}
	return resp, healthy
}
