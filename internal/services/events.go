package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"neuroconnect/internal/metrics"
	"neuroconnect/internal/models"
)

// LifecycleEvent 会话状态迁移事件
type LifecycleEvent struct {
	SessionID   string               `json:"session_id"`
	RoomToken   string               `json:"room_token,omitempty"`
	RequesterID uint                 `json:"requester_id"`
	ProviderID  uint                 `json:"provider_id"`
	From        models.SessionStatus `json:"from"`
	Status      models.SessionStatus `json:"status"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

func newLifecycleEvent(s *models.Session, from models.SessionStatus, at time.Time) LifecycleEvent {
	ev := LifecycleEvent{
		SessionID:   s.ID,
		RequesterID: s.RequesterID,
		ProviderID:  s.ProviderID,
		From:        from,
		Status:      s.Status,
		OccurredAt:  at,
	}
	if s.RoomToken != nil {
		ev.RoomToken = *s.RoomToken
	}
	return ev
}

// EventSink 接收生命周期事件。Publish 不得阻塞调用方。
type EventSink interface {
	Publish(ev LifecycleEvent)
}

// EventSubscriber 事件订阅者（实时网关、AMQP 发布器等）
type EventSubscriber interface {
	HandleLifecycleEvent(ctx context.Context, ev LifecycleEvent)
}

// SubscriberFunc 函数适配器
type SubscriberFunc func(ctx context.Context, ev LifecycleEvent)

func (f SubscriberFunc) HandleLifecycleEvent(ctx context.Context, ev LifecycleEvent) { f(ctx, ev) }

// EventBus 进程内事件总线：带缓冲的队列 + 单个分发协程。
// 队列满时丢弃事件并计数，生命周期操作永远不会等待投递。
type EventBus struct {
	queue  chan LifecycleEvent
	logger *logrus.Logger

	mu          sync.RWMutex
	subscribers []EventSubscriber

	done chan struct{}
	once sync.Once
}

// NewEventBus 创建事件总线
func NewEventBus(buffer int, logger *logrus.Logger) *EventBus {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &EventBus{
		queue:  make(chan LifecycleEvent, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Subscribe 注册订阅者
func (b *EventBus) Subscribe(sub EventSubscriber) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()
}

// Publish 非阻塞入队
func (b *EventBus) Publish(ev LifecycleEvent) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.queue <- ev:
	default:
		metrics.LifecycleEventsDropped.Inc()
		b.logger.WithFields(logrus.Fields{
			"session_id": ev.SessionID,
			"status":     ev.Status,
		}).Warn("lifecycle event queue full, dropping event")
	}
}

// Run 分发事件直到 ctx 取消或 Close
func (b *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case ev := <-b.queue:
			b.dispatch(ctx, ev)
		}
	}
}

func (b *EventBus) dispatch(ctx context.Context, ev LifecycleEvent) {
	b.mu.RLock()
	subs := make([]EventSubscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.WithField("session_id", ev.SessionID).Errorf("lifecycle subscriber panic: %v", r)
				}
			}()
			sub.HandleLifecycleEvent(ctx, ev)
		}()
	}
}

// Close 停止分发，之后的 Publish 被忽略
func (b *EventBus) Close() {
	b.once.Do(func() { close(b.done) })
}

// Drain 同步分发队列中剩余的事件，返回分发数量。在 Close 之后调用，用于退出前把事件送达订阅者。
func (b *EventBus) Drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ctx, ev)
			n++
		default:
			return n
		}
	}
}
