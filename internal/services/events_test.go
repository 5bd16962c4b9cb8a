package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroconnect/internal/models"
)

type collectingSubscriber struct {
	mu     sync.Mutex
	events []LifecycleEvent
	got    chan struct{}
}

func newCollectingSubscriber() *collectingSubscriber {
	return &collectingSubscriber{got: make(chan struct{}, 64)}
}

func (c *collectingSubscriber) HandleLifecycleEvent(_ context.Context, ev LifecycleEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collectingSubscriber) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestEventBus_DispatchesToSubscribers(t *testing.T) {
	bus := NewEventBus(8, quietLogger())
	sub := newCollectingSubscriber()
	bus.Subscribe(SubscriberFunc(func(context.Context, LifecycleEvent) { panic("boom") }))
	bus.Subscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Publish(LifecycleEvent{SessionID: "s1", From: models.SessionActive, Status: models.SessionExpired})
	select {
	case <-sub.got:
	case <-time.After(2 * time.Second):
		t.Fatal("event not dispatched")
	}
	assert.Equal(t, "s1", sub.events[0].SessionID)
}

func TestEventBus_PublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(2, quietLogger())
	sub := newCollectingSubscriber()
	bus.Subscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(LifecycleEvent{SessionID: "s"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	// 没有分发协程时，队列中只保留缓冲区大小的事件
	bus.Close()
	assert.Equal(t, 2, bus.Drain(context.Background()))
	assert.Equal(t, 2, sub.len())
	assert.Zero(t, bus.Drain(context.Background()))
}

func TestEventBus_CloseIgnoresLatePublish(t *testing.T) {
	bus := NewEventBus(4, quietLogger())
	sub := newCollectingSubscriber()
	bus.Subscribe(sub)

	bus.Publish(LifecycleEvent{SessionID: "before"})
	bus.Close()
	bus.Close()
	bus.Publish(LifecycleEvent{SessionID: "after"})

	require.Equal(t, 1, bus.Drain(context.Background()))
	assert.Equal(t, "before", sub.events[0].SessionID)
}

func TestEventBus_RunReturnsAfterClose(t *testing.T) {
	bus := NewEventBus(4, quietLogger())
	returned := make(chan struct{})
	go func() {
		bus.Run(context.Background())
		close(returned)
	}()
	bus.Close()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestNewLifecycleEvent(t *testing.T) {
	token := "chat_abc"
	s := &models.Session{ID: "s1", RequesterID: 1, ProviderID: 2, Status: models.SessionActive, RoomToken: &token}
	ev := newLifecycleEvent(s, models.SessionPending, testEpoch)
	assert.Equal(t, LifecycleEvent{
		SessionID:   "s1",
		RoomToken:   "chat_abc",
		RequesterID: 1,
		ProviderID:  2,
		From:        models.SessionPending,
		Status:      models.SessionActive,
		OccurredAt:  testEpoch,
	}, ev)
}
