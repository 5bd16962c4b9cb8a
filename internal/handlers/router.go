package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"neuroconnect/internal/config"
	"neuroconnect/internal/middleware"
	"neuroconnect/internal/models"
	"neuroconnect/internal/services"
)

// RouterDeps 路由装配所需的处理器与鉴权组件
type RouterDeps struct {
	Config    *config.Config
	Verifier  services.CredentialVerifier
	Parties   services.PartyDirectory
	Health    *HealthHandler
	Sessions  *SessionHandler
	Chat      *ChatHandler
	PartyAPI  *PartyHandler
	WebSocket *WebSocketHandler
}

// SetupRouter 创建 gin 引擎：全局中间件、健康检查、指标、REST 与 WebSocket 路由
func SetupRouter(d RouterDeps) *gin.Engine {
	cfg := d.Config
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}
	if cfg.Monitoring.Enabled {
		r.Use(middleware.Metrics())
		r.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	if cfg.Security.CORS.Enabled {
		r.Use(cors.New(corsConfig(cfg.Security.CORS)))
	}
	// WebSocket 升级不能被压缩包装
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/ws"})))

	// 健康检查
	if d.Health != nil {
		r.GET("/health", d.Health.Health)
		r.GET("/ready", d.Health.Ready)
	}

	// 附件（本地存储）
	if cfg.Upload.Backend == "local" && cfg.Upload.PublicPrefix != "" {
		r.Static(cfg.Upload.PublicPrefix, cfg.Upload.StoragePath)
	}

	// REST API：先鉴权再限流，限流按参与方计数
	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(d.Verifier, d.Parties, nil))
	api.Use(middleware.RateLimitMiddleware(cfg.Security.RateLimiting))
	if d.Sessions != nil {
		RegisterSessionRoutes(api, d.Sessions)
	}
	if d.Chat != nil {
		RegisterChatRoutes(api, d.Chat)
	}
	if d.PartyAPI != nil {
		RegisterPartyRoutes(api, d.PartyAPI)
	}

	// v1：WebSocket 自行完成握手认证；连接统计仅管理员可见
	if d.WebSocket != nil {
		v1 := r.Group("/api/v1")
		v1.GET("/ws", d.WebSocket.HandleWebSocket)
		v1.GET("/ws/stats",
			middleware.AuthMiddleware(d.Verifier, d.Parties, nil),
			middleware.RequireRolesAny(models.RoleAdmin),
			d.WebSocket.GetStats,
		)
	}

	return r
}

func corsConfig(c config.CORSConfig) cors.Config {
	out := cors.Config{
		AllowMethods:  c.AllowedMethods,
		AllowHeaders:  c.AllowedHeaders,
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	allowAll := len(c.AllowedOrigins) == 0
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		out.AllowAllOrigins = true
	} else {
		out.AllowOrigins = c.AllowedOrigins
	}
	if len(out.AllowMethods) == 0 {
		out.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(out.AllowHeaders) == 0 {
		out.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	}
	return out
}
