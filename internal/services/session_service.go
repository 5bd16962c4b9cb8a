package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"neuroconnect/internal/config"
	"neuroconnect/internal/metrics"
	"neuroconnect/internal/models"
	"neuroconnect/pkg/utils"
)

const (
	minRating = 1
	maxRating = 5
)

// SessionCreateRequest 创建会话请求
type SessionCreateRequest struct {
	ProviderID      uint      `json:"provider_id" binding:"required"`
	Title           string    `json:"title" binding:"required,max=100"`
	Description     string    `json:"description" binding:"required,max=1000"`
	RequestedStart  time.Time `json:"requested_start" binding:"required"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
	IsAnonymous     bool      `json:"is_anonymous"`
	AnonymousName   string    `json:"anonymous_name,omitempty"`
}

// SessionRespondRequest 医生对会话请求的答复
type SessionRespondRequest struct {
	Status   models.SessionStatus `json:"status" binding:"required"`
	Response string               `json:"response"`
}

// SessionCompleteRequest 结束会话
type SessionCompleteRequest struct {
	Feedback string `json:"feedback"`
	Rating   *int   `json:"rating,omitempty"`
	Notes    string `json:"notes"`
}

// SessionRescheduleRequest 调整待确认会话的时间
type SessionRescheduleRequest struct {
	RequestedStart  *time.Time `json:"requested_start,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
}

// SweepResult 一次过期扫描的结果
type SweepResult struct {
	Candidates int `json:"candidates"`
	Expired    int `json:"expired"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// SessionService 会话生命周期引擎
type SessionService struct {
	store   SessionStore
	parties PartyDirectory
	events  EventSink
	clock   Clock
	cfg     config.SessionConfig
	logger  *logrus.Logger
	tracer  trace.Tracer
}

// NewSessionService 创建会话生命周期服务
func NewSessionService(store SessionStore, parties PartyDirectory, events EventSink, clock Clock, cfg config.SessionConfig, logger *logrus.Logger) *SessionService {
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.DefaultDurationMinutes <= 0 {
		cfg.DefaultDurationMinutes = config.GetDefaultConfig().Session.DefaultDurationMinutes
	}
	return &SessionService{
		store:   store,
		parties: parties,
		events:  events,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("neuroconnect/services/session"),
	}
}

// resolveDuration 缺省时长的唯一来源
func (s *SessionService) resolveDuration(d *int) (int, error) {
	if d == nil {
		return s.cfg.DefaultDurationMinutes, nil
	}
	lo, hi := s.cfg.MinDurationMinutes, s.cfg.MaxDurationMinutes
	if *d <= 0 || (lo > 0 && *d < lo) || (hi > 0 && *d > hi) {
		return 0, fmt.Errorf("%w: duration must be between %d and %d minutes", ErrValidation, lo, hi)
	}
	return *d, nil
}

// ComputeEndTime 结束时间 = 开始时间 + 时长，纯函数，重复计算结果一致
func ComputeEndTime(start time.Time, durationMinutes int) time.Time {
	return start.Add(time.Duration(durationMinutes) * time.Minute)
}

// Create 学生发起会话请求，状态为 pending
func (s *SessionService) Create(ctx context.Context, requesterID uint, req *SessionCreateRequest) (*models.Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.create")
	defer span.End()

	title := strings.TrimSpace(req.Title)
	desc := strings.TrimSpace(req.Description)
	if title == "" || desc == "" {
		return nil, fmt.Errorf("%w: title and description are required", ErrValidation)
	}
	if req.RequestedStart.IsZero() {
		return nil, fmt.Errorf("%w: requested_start is required", ErrValidation)
	}
	if req.ProviderID == requesterID {
		return nil, fmt.Errorf("%w: cannot book a session with yourself", ErrValidation)
	}
	duration, err := s.resolveDuration(req.DurationMinutes)
	if err != nil {
		return nil, err
	}

	provider, err := s.parties.FindPartyFresh(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if !IsEnabledProvider(provider) {
		return nil, fmt.Errorf("%w: provider %d not available", ErrNotFound, req.ProviderID)
	}

	start := req.RequestedStart.UTC()
	sess := &models.Session{
		ID:              utils.GenerateSessionID(),
		RequesterID:     requesterID,
		ProviderID:      req.ProviderID,
		Title:           title,
		Description:     desc,
		IsAnonymous:     req.IsAnonymous,
		RequestedStart:  start,
		DurationMinutes: duration,
		EndTime:         ComputeEndTime(start, duration),
		Status:          models.SessionPending,
	}
	if req.IsAnonymous {
		sess.AnonymousName = strings.TrimSpace(req.AnonymousName)
		if sess.AnonymousName == "" {
			sess.AnonymousName = s.cfg.AnonymousName
		}
	}

	if err := s.store.Create(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))
	metrics.SessionTransitions.WithLabelValues(string(models.SessionPending)).Inc()

	s.logger.WithFields(logrus.Fields{
		"session_id":  sess.ID,
		"party_id":    requesterID,
		"provider_id": req.ProviderID,
	}).Info("session requested")

	return s.store.Get(ctx, sess.ID)
}

// Respond 医生接受或拒绝待确认的会话
func (s *SessionService) Respond(ctx context.Context, providerID uint, sessionID string, req *SessionRespondRequest) (*models.Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.respond", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if req.Status != models.SessionActive && req.Status != models.SessionRejected {
		return nil, fmt.Errorf("%w: status must be active or rejected", ErrValidation)
	}

	sess, err := s.getOwnedByProvider(ctx, providerID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionPending {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, sess.Status)
	}

	now := s.clock.Now()
	updates := map[string]interface{}{
		"provider_response": strings.TrimSpace(req.Response),
		"responded_at":      now,
		"updated_at":        now,
	}
	if req.Status == models.SessionActive {
		updates["room_token"] = gorm.Expr("COALESCE(room_token, ?)", utils.GenerateRoomToken(sess.ID, now))
	}

	return s.apply(ctx, Transition{
		SessionID:  sessionID,
		From:       models.SessionPending,
		To:         req.Status,
		ProviderID: providerID,
		Updates:    updates,
	}, now)
}

// Complete 医生结束进行中的会话，记录反馈与评分
func (s *SessionService) Complete(ctx context.Context, providerID uint, sessionID string, req *SessionCompleteRequest) (*models.Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.complete", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if req.Rating != nil && (*req.Rating < minRating || *req.Rating > maxRating) {
		return nil, fmt.Errorf("%w: rating must be between %d and %d", ErrValidation, minRating, maxRating)
	}

	sess, err := s.getOwnedByProvider(ctx, providerID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionActive {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, sess.Status)
	}

	now := s.clock.Now()
	updates := map[string]interface{}{
		"ended_at":      now,
		"feedback":      strings.TrimSpace(req.Feedback),
		"closing_notes": strings.TrimSpace(req.Notes),
		"updated_at":    now,
	}
	if req.Rating != nil {
		updates["rating"] = *req.Rating
	}

	return s.apply(ctx, Transition{
		SessionID:  sessionID,
		From:       models.SessionActive,
		To:         models.SessionCompleted,
		ProviderID: providerID,
		Updates:    updates,
	}, now)
}

// Cancel 学生撤回尚未确认的请求
func (s *SessionService) Cancel(ctx context.Context, requesterID uint, sessionID string) (*models.Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.cancel", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.RequesterID != requesterID {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if sess.Status != models.SessionPending {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, sess.Status)
	}

	now := s.clock.Now()
	return s.apply(ctx, Transition{
		SessionID:   sessionID,
		From:        models.SessionPending,
		To:          models.SessionCancelled,
		RequesterID: requesterID,
		Updates:     map[string]interface{}{"updated_at": now},
	}, now)
}

// Reschedule 调整 pending 会话的开始时间/时长，并重新计算结束时间
func (s *SessionService) Reschedule(ctx context.Context, partyID uint, sessionID string, req *SessionRescheduleRequest) (*models.Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.reschedule", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if req.RequestedStart == nil && req.DurationMinutes == nil {
		return nil, fmt.Errorf("%w: nothing to change", ErrValidation)
	}

	sess, err := s.GetForParty(ctx, partyID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionPending {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, sess.Status)
	}

	start := sess.RequestedStart
	if req.RequestedStart != nil {
		if req.RequestedStart.IsZero() {
			return nil, fmt.Errorf("%w: requested_start is required", ErrValidation)
		}
		start = req.RequestedStart.UTC()
	}
	duration := sess.DurationMinutes
	if req.DurationMinutes != nil {
		if duration, err = s.resolveDuration(req.DurationMinutes); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	ok, err := s.store.Transition(ctx, Transition{
		SessionID: sessionID,
		From:      models.SessionPending,
		To:        models.SessionPending,
		PartyID:   partyID,
		Updates: map[string]interface{}{
			"requested_start":  start,
			"duration_minutes": duration,
			"end_time":         ComputeEndTime(start, duration),
			"updated_at":       now,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("session.duration_minutes", duration))
	if !ok {
		return nil, fmt.Errorf("%w: session %s is no longer pending", ErrInvalidTransition, sessionID)
	}
	return s.store.Get(ctx, sessionID)
}

// Get 按 ID 读取会话（管理端使用，不做参与方校验）
func (s *SessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.store.Get(ctx, sessionID)
}

// GetForParty 读取会话，调用方必须是会话一方，否则视为不存在
func (s *SessionService) GetForParty(ctx context.Context, partyID uint, sessionID string) (*models.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HasParty(partyID) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return sess, nil
}

// ListByParty 列出用户参与的会话，status 为空时不过滤
func (s *SessionService) ListByParty(ctx context.Context, partyID uint, status models.SessionStatus) ([]models.Session, error) {
	return s.store.ListByParty(ctx, partyID, status)
}

// ListExpiredUnswept 已过结束时间但仍为 active 的会话（与扫描使用同一谓词）
func (s *SessionService) ListExpiredUnswept(ctx context.Context) ([]models.Session, error) {
	return s.store.FindExpired(ctx, s.clock.Now())
}

// ExpireSweep 将所有超时的 active 会话置为 expired。
// 单个会话更新失败只记录日志，留待下一轮扫描；仅当候选查询本身失败时返回错误。
func (s *SessionService) ExpireSweep(ctx context.Context) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "session.expire_sweep")
	defer span.End()

	started := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(started).Seconds()) }()

	now := s.clock.Now()
	candidates, err := s.store.FindExpired(ctx, now)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SweepResult{}, err
	}

	res := SweepResult{Candidates: len(candidates)}
	for i := range candidates {
		sess := &candidates[i]
		ok, err := s.store.Transition(ctx, Transition{
			SessionID: sess.ID,
			From:      models.SessionActive,
			To:        models.SessionExpired,
			ExpiredAt: &now,
			Updates: map[string]interface{}{
				"ended_at":   now,
				"updated_at": now,
			},
		})
		if err != nil {
			res.Failed++
			metrics.SweepFailures.Inc()
			s.logger.WithError(err).WithField("session_id", sess.ID).Error("failed to expire session")
			continue
		}
		if !ok {
			// 并发的 complete 已先一步迁移
			res.Skipped++
			continue
		}

		res.Expired++
		sess.Status = models.SessionExpired
		sess.EndedAt = &now
		metrics.SweepExpired.Inc()
		metrics.SessionTransitions.WithLabelValues(string(models.SessionExpired)).Inc()
		s.publish(newLifecycleEvent(sess, models.SessionActive, now))
		s.logger.WithField("session_id", sess.ID).Info("session expired")
	}

	metrics.SweepRuns.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.Int("sweep.candidates", res.Candidates),
		attribute.Int("sweep.expired", res.Expired),
		attribute.Int("sweep.failed", res.Failed),
	)
	if res.Candidates > 0 {
		s.logger.WithFields(logrus.Fields{
			"candidates": res.Candidates,
			"expired":    res.Expired,
			"skipped":    res.Skipped,
			"failed":     res.Failed,
		}).Info("expiration sweep finished")
	}
	return res, nil
}

func (s *SessionService) getOwnedByProvider(ctx context.Context, providerID uint, sessionID string) (*models.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ProviderID != providerID {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return sess, nil
}

// apply 执行条件迁移；未命中说明状态已被并发修改
func (s *SessionService) apply(ctx context.Context, t Transition, at time.Time) (*models.Session, error) {
	ok, err := s.store.Transition(ctx, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: session %s is no longer %s", ErrInvalidTransition, t.SessionID, t.From)
	}

	sess, err := s.store.Get(ctx, t.SessionID)
	if err != nil {
		return nil, err
	}
	metrics.SessionTransitions.WithLabelValues(string(t.To)).Inc()
	s.publish(newLifecycleEvent(sess, t.From, at))
	s.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"from":       t.From,
		"status":     t.To,
	}).Info("session transitioned")
	return sess, nil
}

func (s *SessionService) publish(ev LifecycleEvent) {
	if s.events == nil {
		return
	}
	s.events.Publish(ev)
}
