package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"neuroconnect/internal/models"
)

// SessionStore 会话持久化接口。所有状态迁移都通过 Transition 以单条条件更新完成。
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	ListByParty(ctx context.Context, partyID uint, status models.SessionStatus) ([]models.Session, error)
	FindExpired(ctx context.Context, now time.Time) ([]models.Session, error)
	Transition(ctx context.Context, t Transition) (bool, error)
}

// Transition 描述一次受前置条件约束的更新：仅当会话仍处于 From 状态且满足参与方条件时生效
type Transition struct {
	SessionID string
	From      models.SessionStatus
	To        models.SessionStatus

	// 非零时要求匹配
	ProviderID  uint
	RequesterID uint
	PartyID     uint // requester 或 provider 任一匹配

	// 非 nil 时附加过期谓词（status = active AND end_time < ExpiredAt）
	ExpiredAt *time.Time

	Updates map[string]interface{}
}

// GormSessionStore 基于 GORM 的会话存储
type GormSessionStore struct {
	db *gorm.DB
}

// NewGormSessionStore 创建会话存储
func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

// expiredScope 扫描与诊断查询共用的过期谓词
func expiredScope(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND end_time < ?", models.SessionActive, now)
	}
}

func (s *GormSessionStore) Create(ctx context.Context, sess *models.Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *GormSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Preload("Requester").
		Preload("Provider").
		First(&sess, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (s *GormSessionStore) ListByParty(ctx context.Context, partyID uint, status models.SessionStatus) ([]models.Session, error) {
	q := s.db.WithContext(ctx).
		Preload("Requester").
		Preload("Provider").
		Where("requester_id = ? OR provider_id = ?", partyID, partyID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Session
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (s *GormSessionStore) FindExpired(ctx context.Context, now time.Time) ([]models.Session, error) {
	var out []models.Session
	err := s.db.WithContext(ctx).
		Scopes(expiredScope(now)).
		Order("end_time ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("find expired sessions: %w", err)
	}
	return out, nil
}

// Transition 执行条件更新，返回是否命中（RowsAffected == 1）
func (s *GormSessionStore) Transition(ctx context.Context, t Transition) (bool, error) {
	q := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", t.SessionID)
	if t.ExpiredAt != nil {
		q = q.Scopes(expiredScope(*t.ExpiredAt))
	}
	q = q.Where("status = ?", t.From)
	if t.ProviderID != 0 {
		q = q.Where("provider_id = ?", t.ProviderID)
	}
	if t.RequesterID != 0 {
		q = q.Where("requester_id = ?", t.RequesterID)
	}
	if t.PartyID != 0 {
		q = q.Where("(requester_id = ? OR provider_id = ?)", t.PartyID, t.PartyID)
	}

	updates := make(map[string]interface{}, len(t.Updates)+1)
	for k, v := range t.Updates {
		updates[k] = v
	}
	if t.To != t.From {
		updates["status"] = t.To
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update session %s: %w", t.SessionID, res.Error)
	}
	return res.RowsAffected == 1, nil
}
