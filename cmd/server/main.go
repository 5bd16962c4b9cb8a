package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"neuroconnect/internal/auth"
	"neuroconnect/internal/config"
	"neuroconnect/internal/database"
	"neuroconnect/internal/handlers"
	"neuroconnect/internal/observability"
	"neuroconnect/internal/services"
	"neuroconnect/pkg/uploads"
)

// 由 -ldflags "-X main.version=..." 注入
var version = "dev"

func main() {
	var cfgFile string
	flag.StringVar(&cfgFile, "config", "", "config file (default is ./config.yml)")
	flag.Parse()

	// 读取配置文件（默认 ./config.yml）并初始化日志
	if err := config.SetupViper(cfgFile); err != nil {
		logrus.Fatalf("Failed to read config: %v", err)
	}
	cfg := config.Load()
	appLogger, err := config.InitLogger(cfg)
	if err != nil {
		logrus.Warnf("init logger: %v", err)
		appLogger = logrus.StandardLogger()
	}

	// OpenTelemetry 初始化（可选）
	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg, version)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	db, err := database.Open(cfg.Database, cfg.Monitoring.Tracing.Enabled, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	healthHandler := handlers.NewHealthHandler(version, appLogger)
	healthHandler.AddCheck("database", dbCheck(db))

	// 参与方目录（可选 Redis 缓存）
	var parties services.PartyDirectory = services.NewGormPartyDirectory(db)
	if cfg.Redis.Enabled {
		cache, err := services.NewRedisPartyCache(context.Background(), &redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			appLogger.Warnf("redis unavailable, party cache disabled: %v", err)
		} else {
			defer cache.Close()
			parties = services.NewCachedPartyDirectory(parties, cache, cfg.Redis.PartyTTL, appLogger)
			healthHandler.AddCheck("redis", cache.Ping)
		}
	}

	// 生命周期事件总线
	bus := services.NewEventBus(cfg.Events.Buffer, appLogger)
	var publisher *services.AMQPEventPublisher
	if cfg.Events.AMQP.Enabled {
		publisher, err = services.NewAMQPEventPublisher(cfg.Events.AMQP.URL, cfg.Events.AMQP.Exchange, appLogger)
		if err != nil {
			appLogger.Warnf("amqp unavailable, lifecycle events stay in-process: %v", err)
		} else {
			bus.Subscribe(publisher)
		}
	}

	// 业务服务
	clock := services.SystemClock()
	sessionService := services.NewSessionService(
		services.NewGormSessionStore(db), parties, bus, clock, cfg.Session, appLogger,
	)
	messageService := services.NewMessageService(
		sessionService, services.NewGormMessageStore(db), clock, appLogger,
	)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpiresIn)
	if cfg.JWT.Secret == "" {
		appLogger.Warn("jwt.secret is empty; every authenticated request will be rejected")
	}

	// 实时网关：消息服务通过网关广播，网关订阅生命周期事件
	gateway := services.NewGateway(
		services.NewConnectionRegistry(), jwtService, parties, sessionService, messageService, cfg.Realtime, appLogger,
	)
	messageService.SetBroadcaster(gateway)
	bus.Subscribe(gateway)

	busCtx, stopBus := context.WithCancel(context.Background())
	go bus.Run(busCtx)

	sweeper := services.NewExpirationSweeper(sessionService, cfg.Session.SweepInterval, cfg.Session.SweepTimeout, appLogger)
	sweeper.Start()

	storage, err := newUploadStorage(context.Background(), cfg.Upload)
	if err != nil {
		appLogger.Warnf("upload storage unavailable, attachments disabled: %v", err)
	}

	// 初始化 Gin
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handlers.SetupRouter(handlers.RouterDeps{
		Config:    cfg,
		Verifier:  jwtService,
		Parties:   parties,
		Health:    healthHandler,
		Sessions:  handlers.NewSessionHandler(sessionService, appLogger),
		Chat:      handlers.NewChatHandler(messageService, storage, cfg.Upload, appLogger),
		PartyAPI:  handlers.NewPartyHandler(parties, appLogger),
		WebSocket: handlers.NewWebSocketHandler(gateway),
	})

	listenAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		appLogger.Infof("Starting server on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sweeper.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	bus.Close()
	stopBus()
	if n := bus.Drain(shutdownCtx); n > 0 {
		appLogger.Infof("Delivered %d pending lifecycle events", n)
	}
	if publisher != nil {
		publisher.Close()
	}
	appLogger.Info("Server exited")
}

// newUploadStorage 按配置选择附件存储后端
func newUploadStorage(ctx context.Context, cfg config.UploadConfig) (uploads.Storage, error) {
	switch cfg.Backend {
	case "s3":
		s, err := uploads.NewS3Storage(ctx, uploads.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "local", "":
		s, err := uploads.NewLocalStorage(cfg.StoragePath, cfg.PublicPrefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown upload backend %q", cfg.Backend)
	}
}

func dbCheck(db *gorm.DB) handlers.HealthCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
