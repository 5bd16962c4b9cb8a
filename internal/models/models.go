package models

import (
	"time"

	"gorm.io/gorm"
)

// 参与方角色
const (
	RoleStudent = "student"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// 账户状态
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// SessionStatus 会话生命周期状态
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionActive    SessionStatus = "active"
	SessionRejected  SessionStatus = "rejected"
	SessionCancelled SessionStatus = "cancelled"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// IsTerminal 终态不会再发生任何迁移
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionRejected, SessionCancelled, SessionCompleted, SessionExpired:
		return true
	}
	return false
}

// 消息类型
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageFile  = "file"
)

// 用户模型（会话双方：学生/医生，以及管理员）
type User struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Username       string         `gorm:"unique;not null" json:"username"`
	Email          string         `gorm:"unique;not null" json:"email"`
	Name           string         `json:"name"`
	Avatar         string         `json:"avatar,omitempty"`
	Role           string         `gorm:"index;default:'student'" json:"role"`     // student, doctor, admin
	Status         string         `gorm:"index;default:'active'" json:"status"`    // active, inactive
	Approved       bool           `gorm:"default:false" json:"approved"`           // 医生需审核通过
	Specialization string         `json:"specialization,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// 咨询会话模型
type Session struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	RequesterID uint   `gorm:"index;not null" json:"requester_id"`
	ProviderID  uint   `gorm:"index;not null" json:"provider_id"`
	Title       string `gorm:"size:100" json:"title"`
	Description string `gorm:"type:text" json:"description"`

	IsAnonymous   bool   `gorm:"default:false" json:"is_anonymous"`
	AnonymousName string `json:"anonymous_name,omitempty"`

	RequestedStart  time.Time     `gorm:"not null" json:"requested_start"`
	DurationMinutes int           `gorm:"not null" json:"duration_minutes"`
	EndTime         time.Time     `gorm:"index" json:"end_time"`
	Status          SessionStatus `gorm:"size:16;index;default:'pending'" json:"status"`
	RoomToken       *string       `gorm:"size:64;uniqueIndex" json:"room_token,omitempty"`

	ProviderResponse string     `gorm:"type:text" json:"provider_response,omitempty"`
	RespondedAt      *time.Time `json:"responded_at,omitempty"`

	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Feedback     string     `gorm:"type:text" json:"feedback,omitempty"`
	Rating       *int       `json:"rating,omitempty"`
	ClosingNotes string     `gorm:"type:text" json:"closing_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Requester User `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	Provider  User `gorm:"foreignKey:ProviderID" json:"provider,omitempty"`
}

// HasParty 判断用户是否为会话的一方
func (s *Session) HasParty(userID uint) bool {
	return userID != 0 && (s.RequesterID == userID || s.ProviderID == userID)
}

// 聊天消息模型
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:36;index:idx_messages_session_created,priority:1;not null" json:"session_id"`
	SenderID  uint      `gorm:"index;not null" json:"sender_id"`
	Type      string    `gorm:"size:16;default:'text'" json:"type"` // text, image, file
	Content   string    `gorm:"type:text" json:"content,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	FilePath  string    `json:"file_path,omitempty"`
	FileSize  int64     `json:"file_size,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	IsRead    bool      `gorm:"default:false" json:"is_read"`
	CreatedAt time.Time `gorm:"index:idx_messages_session_created,priority:2" json:"created_at"`

	Sender User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}
