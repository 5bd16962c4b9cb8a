package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.JWT.Secret == "" {
		t.Error("expected JWT.Secret to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}

	// 会话时长默认值只在这里定义一次
	assert.Equal(t, 60, cfg.Session.DefaultDurationMinutes)
	assert.Equal(t, 1, cfg.Session.MinDurationMinutes)
	assert.Equal(t, 180, cfg.Session.MaxDurationMinutes)
	assert.Equal(t, 5*time.Minute, cfg.Session.SweepInterval)
	assert.NotEmpty(t, cfg.Session.AnonymousName)
}

func TestConfig_RealtimeDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Less(t, cfg.Realtime.PingPeriod, cfg.Realtime.PongWait, "ping must fire before the read deadline")
	assert.Greater(t, cfg.Realtime.SendBuffer, 0)
	assert.Greater(t, cfg.Realtime.MaxMessageBytes, int64(0))
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := []byte(`
server:
  port: 9090
session:
  default_duration_minutes: 45
  sweep_interval: 30s
database:
  driver: sqlite
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	require.NoError(t, SetupViper(path))

	cfg := Load()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45, cfg.Session.DefaultDurationMinutes)
	assert.Equal(t, 30*time.Second, cfg.Session.SweepInterval)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 180, cfg.Session.MaxDurationMinutes)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestSetupViper_MissingExplicitFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	err := SetupViper(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestInitLogger_FileOutput(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Log.Output = "file"
	cfg.Log.Format = "text"
	cfg.Log.FilePath = filepath.Join(t.TempDir(), "logs", "app.log")

	logger, err := InitLogger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	_, statErr := os.Stat(filepath.Dir(cfg.Log.FilePath))
	assert.NoError(t, statErr)
}
