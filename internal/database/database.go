// Package database opens the gorm connection for the configured driver and
// owns the schema: migrations, composite indexes and data backfills.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"

	"neuroconnect/internal/config"
	"neuroconnect/internal/models"
	"neuroconnect/internal/services"
)

// DSN 根据驱动组装连接串；cfg.DSN 非空时直接使用
func DSN(cfg config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	tz := cfg.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		if cfg.Name == "" {
			return "neuroconnect.db"
		}
		return cfg.Name
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
	default:
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
			cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port, sslmode, tz)
	}
}

// Open 连接数据库并设置连接池；tracing 为 true 时挂载 OpenTelemetry 插件
func Open(cfg config.DatabaseConfig, tracing bool, log *logrus.Logger) (*gorm.DB, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	gormCfg := &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogLevel(log.GetLevel()),
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	dsn := DSN(cfg)
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		// 父目录不存在时提前失败
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if _, err := os.Stat(dir); err != nil {
				return nil, fmt.Errorf("sqlite dir: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if strings.EqualFold(cfg.Driver, "sqlite") {
		db.Exec("PRAGMA journal_mode=WAL;")
		db.Exec("PRAGMA busy_timeout=5000;")
	}
	if sqlDB, err := db.DB(); err == nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}
	if tracing {
		if err := db.Use(gormtracing.NewPlugin()); err != nil {
			log.Warnf("gorm tracing plugin: %v", err)
		}
	}
	return db, nil
}

func gormLogLevel(l logrus.Level) logger.LogLevel {
	switch {
	case l >= logrus.DebugLevel:
		return logger.Info
	case l >= logrus.WarnLevel:
		return logger.Warn
	default:
		return logger.Error
	}
}

// AutoMigrate 迁移全部模型
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.User{}, &models.Session{}, &models.Message{})
}

// EnsureIndexes 创建扫描与历史查询依赖的复合索引
func EnsureIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_status_end_time ON sessions (status, end_time)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_provider_status ON sessions (provider_id, status)",
	}
	if db.Dialector.Name() == "mysql" {
		// mysql 不支持 IF NOT EXISTS，交给 Migrator 判断
		m := db.Migrator()
		for name, cols := range map[string]string{
			"idx_sessions_status_end_time": "status, end_time",
			"idx_sessions_provider_status": "provider_id, status",
		} {
			if m.HasIndex(&models.Session{}, name) {
				continue
			}
			if err := db.Exec(fmt.Sprintf("CREATE INDEX %s ON sessions (%s)", name, cols)).Error; err != nil {
				return fmt.Errorf("create index %s: %w", name, err)
			}
		}
		return nil
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// BackfillResult 回填统计
type BackfillResult struct {
	Durations int64 `json:"durations"`
	EndTimes  int64 `json:"end_times"`
}

// Backfill 补齐历史数据：缺失时长写入默认时长，缺失结束时间按开始时间 + 时长计算
func Backfill(db *gorm.DB, defaultMinutes int) (BackfillResult, error) {
	var res BackfillResult
	if defaultMinutes <= 0 {
		return res, fmt.Errorf("default duration must be positive, got %d", defaultMinutes)
	}

	tx := db.Model(&models.Session{}).
		Where("duration_minutes IS NULL OR duration_minutes <= 0").
		Update("duration_minutes", defaultMinutes)
	if tx.Error != nil {
		return res, fmt.Errorf("backfill duration: %w", tx.Error)
	}
	res.Durations = tx.RowsAffected

	// 逐行计算，避免依赖各数据库的时间运算语法
	var rows []models.Session
	zero := time.Time{}
	err := db.Select("id", "requested_start", "duration_minutes").
		Where("end_time IS NULL OR end_time = ?", zero).
		Find(&rows).Error
	if err != nil {
		return res, fmt.Errorf("load sessions without end time: %w", err)
	}
	for _, s := range rows {
		end := services.ComputeEndTime(s.RequestedStart.UTC(), s.DurationMinutes)
		if err := db.Model(&models.Session{}).Where("id = ?", s.ID).Update("end_time", end).Error; err != nil {
			return res, fmt.Errorf("backfill end time %s: %w", s.ID, err)
		}
		res.EndTimes++
	}
	return res, nil
}
