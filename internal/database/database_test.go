package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroconnect/internal/config"
	"neuroconnect/internal/models"
)

func TestDSN(t *testing.T) {
	pg := config.DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "host=db user=u password=p dbname=n port=5432 sslmode=disable TimeZone=UTC", DSN(pg))

	my := config.DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "u:p@tcp(db:3306)/n?charset=utf8mb4&parseTime=True&loc=UTC", DSN(my))

	assert.Equal(t, "neuroconnect.db", DSN(config.DatabaseConfig{Driver: "sqlite"}))
	assert.Equal(t, "custom", DSN(config.DatabaseConfig{Driver: "postgres", DSN: "custom"}))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, false, nil)
	assert.Error(t, err)
}

func openMemory(t *testing.T) config.DatabaseConfig {
	t.Helper()
	return config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxOpenConns: 1,
	}
}

func TestMigrateAndBackfill(t *testing.T) {
	db, err := Open(openMemory(t), false, nil)
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, EnsureIndexes(db))
	// 重复执行不报错
	require.NoError(t, EnsureIndexes(db))

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rows := []models.Session{
		{ID: "legacy-no-duration", RequesterID: 1, ProviderID: 2, RequestedStart: start, Status: models.SessionPending},
		{ID: "legacy-no-end", RequesterID: 1, ProviderID: 2, RequestedStart: start, DurationMinutes: 30, Status: models.SessionActive},
		{ID: "complete", RequesterID: 1, ProviderID: 2, RequestedStart: start, DurationMinutes: 45, EndTime: start.Add(45 * time.Minute), Status: models.SessionActive},
	}
	require.NoError(t, db.Create(&rows).Error)

	res, err := Backfill(db, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Durations)
	assert.Equal(t, int64(2), res.EndTimes)

	var got models.Session
	require.NoError(t, db.First(&got, "id = ?", "legacy-no-duration").Error)
	assert.Equal(t, 60, got.DurationMinutes)
	assert.True(t, got.EndTime.Equal(start.Add(time.Hour)))

	require.NoError(t, db.First(&got, "id = ?", "legacy-no-end").Error)
	assert.True(t, got.EndTime.Equal(start.Add(30*time.Minute)))

	require.NoError(t, db.First(&got, "id = ?", "complete").Error)
	assert.True(t, got.EndTime.Equal(start.Add(45*time.Minute)))

	// 第二次回填无事可做
	res, err = Backfill(db, 60)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{}, res)
}

func TestBackfill_RejectsNonPositiveDefault(t *testing.T) {
	db, err := Open(openMemory(t), false, nil)
	require.NoError(t, err)
	_, err = Backfill(db, 0)
	assert.Error(t, err)
}
