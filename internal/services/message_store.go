package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"neuroconnect/internal/models"
)

// MessageStore 聊天消息持久化接口
type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
	ListBySession(ctx context.Context, sessionID string) ([]models.Message, error)
	MarkRead(ctx context.Context, sessionID string, readerID uint) (int64, error)
}

// GormMessageStore 基于 GORM 的消息存储
type GormMessageStore struct {
	db *gorm.DB
}

// NewGormMessageStore 创建消息存储
func NewGormMessageStore(db *gorm.DB) *GormMessageStore {
	return &GormMessageStore{db: db}
}

func (s *GormMessageStore) Create(ctx context.Context, m *models.Message) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	return nil
}

// ListBySession 按创建时间升序返回会话消息，id 作为同一时刻的次序
func (s *GormMessageStore) ListBySession(ctx context.Context, sessionID string) ([]models.Message, error) {
	var out []models.Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// MarkRead 将对方发送的未读消息标记为已读
func (s *GormMessageStore) MarkRead(ctx context.Context, sessionID string, readerID uint) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("session_id = ? AND sender_id <> ? AND is_read = ?", sessionID, readerID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}
