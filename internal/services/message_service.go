package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"neuroconnect/internal/metrics"
	"neuroconnect/internal/models"
)

var validate = validator.New()

// SendMessageRequest 消息载荷。text 需要非空 content；image/file 需要文件名、路径和大小，且不得带 content。
type SendMessageRequest struct {
	Type     string `json:"type" validate:"omitempty,oneof=text image file"`
	Content  string `json:"content" validate:"max=4096"`
	FileName string `json:"file_name" validate:"max=255"`
	FilePath string `json:"file_path" validate:"max=1024"`
	FileSize int64  `json:"file_size" validate:"gte=0"`
	MimeType string `json:"mime_type" validate:"max=100"`
}

// Validate 校验并规范化载荷
func (r *SendMessageRequest) Validate() error {
	r.Type = strings.TrimSpace(r.Type)
	if r.Type == "" {
		r.Type = models.MessageText
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	switch r.Type {
	case models.MessageText:
		r.Content = strings.TrimSpace(r.Content)
		if r.Content == "" {
			return fmt.Errorf("%w: text message requires content", ErrValidation)
		}
		if r.FileName != "" || r.FilePath != "" || r.FileSize != 0 {
			return fmt.Errorf("%w: text message cannot carry a file", ErrValidation)
		}
	default:
		if strings.TrimSpace(r.FileName) == "" || strings.TrimSpace(r.FilePath) == "" || r.FileSize <= 0 {
			return fmt.Errorf("%w: %s message requires file_name, file_path and file_size", ErrValidation, r.Type)
		}
		if r.Content != "" {
			return fmt.Errorf("%w: %s message cannot carry text content", ErrValidation, r.Type)
		}
	}
	return nil
}

// SenderProfile 广播给房间的发送者资料；匿名会话中学生以化名出现
type SenderProfile struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	Role      string `json:"role"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

// MessageView 带发送者资料的消息
type MessageView struct {
	models.Message
	Sender SenderProfile `json:"sender"`
}

// Broadcaster 向会话房间推送帧
type Broadcaster interface {
	BroadcastToRoom(sessionID string, f Frame, exceptClientID string) int
}

// SessionReader 只读会话查询
type SessionReader interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
}

// MessageService 会话消息服务，WebSocket 与 HTTP 两条发送路径共用
type MessageService struct {
	sessions    SessionReader
	store       MessageStore
	clock       Clock
	logger      *logrus.Logger
	broadcaster Broadcaster
}

// NewMessageService 创建消息服务
func NewMessageService(sessions SessionReader, store MessageStore, clock Clock, logger *logrus.Logger) *MessageService {
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &MessageService{sessions: sessions, store: store, clock: clock, logger: logger}
}

// SetBroadcaster 注入房间广播器（实时网关）
func (s *MessageService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// CheckSendable 发送方是否可以向会话发消息（附件落盘前调用）
func (s *MessageService) CheckSendable(ctx context.Context, senderID uint, sessionID string) error {
	_, err := s.sendable(ctx, senderID, sessionID)
	return err
}

func (s *MessageService) sendable(ctx context.Context, senderID uint, sessionID string) (*models.Session, error) {
	sess, err := s.authorize(ctx, senderID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionActive {
		return nil, fmt.Errorf("%w: session is %s, messaging closed", ErrInvalidTransition, sess.Status)
	}
	return sess, nil
}

// Send 校验会话状态与载荷，先落库再广播到房间。
// 会话非 active 时无论载荷是否合法都返回 ErrInvalidTransition。
func (s *MessageService) Send(ctx context.Context, senderID uint, sessionID string, req *SendMessageRequest) (*MessageView, error) {
	sess, err := s.sendable(ctx, senderID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m := &models.Message{
		SessionID: sessionID,
		SenderID:  senderID,
		Type:      req.Type,
		Content:   req.Content,
		FileName:  strings.TrimSpace(req.FileName),
		FilePath:  strings.TrimSpace(req.FilePath),
		FileSize:  req.FileSize,
		MimeType:  strings.TrimSpace(req.MimeType),
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.Create(ctx, m); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Error("failed to persist message")
		return nil, err
	}
	metrics.MessagesPersisted.WithLabelValues(m.Type).Inc()

	view := newMessageView(sess, m)
	if s.broadcaster != nil {
		s.broadcaster.BroadcastToRoom(sessionID, Frame{
			Type:      FrameNewMessage,
			Data:      view,
			SessionID: sessionID,
			Timestamp: m.CreatedAt,
		}, "")
	}
	return view, nil
}

// History 按创建顺序返回会话消息，仅会话双方可读
func (s *MessageService) History(ctx context.Context, partyID uint, sessionID string) ([]MessageView, error) {
	sess, err := s.authorize(ctx, partyID, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, *newMessageView(sess, &msgs[i]))
	}
	return out, nil
}

// MarkRead 将对方发来的消息标记为已读
func (s *MessageService) MarkRead(ctx context.Context, partyID uint, sessionID string) (int64, error) {
	if _, err := s.authorize(ctx, partyID, sessionID); err != nil {
		return 0, err
	}
	return s.store.MarkRead(ctx, sessionID, partyID)
}

func (s *MessageService) authorize(ctx context.Context, partyID uint, sessionID string) (*models.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HasParty(partyID) {
		return nil, fmt.Errorf("%w: not a party to session %s", ErrAuthorization, sessionID)
	}
	return sess, nil
}

func newMessageView(sess *models.Session, m *models.Message) *MessageView {
	return &MessageView{Message: *m, Sender: senderProfile(sess, m.SenderID)}
}

// senderProfile 根据会话双方资料生成发送者展示信息
func senderProfile(sess *models.Session, senderID uint) SenderProfile {
	var u models.User
	switch senderID {
	case sess.RequesterID:
		if sess.IsAnonymous {
			return SenderProfile{ID: senderID, Name: sess.AnonymousName, Role: models.RoleStudent, Anonymous: true}
		}
		u = sess.Requester
	case sess.ProviderID:
		u = sess.Provider
	}
	name := u.Name
	if name == "" {
		name = u.Username
	}
	return SenderProfile{ID: senderID, Name: name, Avatar: u.Avatar, Role: u.Role}
}
