package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// amqpChannel 发布所需的最小通道能力
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPEventPublisher 将生命周期事件发布到 fanout 交换机，供外部系统（通知、报表）订阅
type AMQPEventPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	logger   *logrus.Logger
}

// NewAMQPEventPublisher 连接 RabbitMQ 并声明交换机
func NewAMQPEventPublisher(url, exchange string, logger *logrus.Logger) (*AMQPEventPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	p, err := newAMQPEventPublisher(ch, exchange, logger)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPEventPublisher(ch amqpChannel, exchange string, logger *logrus.Logger) (*AMQPEventPublisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPEventPublisher{channel: ch, exchange: exchange, logger: logger}, nil
}

// HandleLifecycleEvent 事件总线订阅回调；发布失败只记录日志
func (p *AMQPEventPublisher) HandleLifecycleEvent(_ context.Context, ev LifecycleEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.WithError(err).Error("marshal lifecycle event")
		return
	}
	err = p.channel.Publish(p.exchange, string(ev.Status), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Type:         "session." + string(ev.Status),
		Body:         body,
	})
	if err != nil {
		p.logger.WithError(err).WithField("session_id", ev.SessionID).Warn("publish lifecycle event failed")
	}
}

// Close 关闭通道与连接
func (p *AMQPEventPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
