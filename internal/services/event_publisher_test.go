package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroconnect/internal/models"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	declareErr error
	publishErr error
	sent       []published
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.declared = append(c.declared, name+":"+kind)
	return c.declareErr
}

func (c *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPEventPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPEventPublisher(ch, "session.lifecycle", quietLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"session.lifecycle:fanout"}, ch.declared)

	ev := LifecycleEvent{SessionID: "s1", RequesterID: 1, ProviderID: 2, From: models.SessionActive, Status: models.SessionExpired, OccurredAt: testEpoch}
	p.HandleLifecycleEvent(context.Background(), ev)

	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, "session.lifecycle", got.exchange)
	assert.Equal(t, "expired", got.key)
	assert.Equal(t, "session.expired", got.msg.Type)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)

	var decoded LifecycleEvent
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, "s1", decoded.SessionID)
	assert.Equal(t, models.SessionExpired, decoded.Status)

	// 发布失败不影响调用方
	ch.publishErr = errors.New("channel closed")
	p.HandleLifecycleEvent(context.Background(), ev)
	assert.Len(t, ch.sent, 1)

	p.Close()
	assert.True(t, ch.closed)
}

func TestAMQPEventPublisher_DeclareFailure(t *testing.T) {
	_, err := newAMQPEventPublisher(&fakeChannel{declareErr: errors.New("access refused")}, "x", nil)
	assert.Error(t, err)
}
