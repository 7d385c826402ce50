package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/infra/metrics"
)

// AMQPMessage: событие, которое уходит в обменник.
type AMQPMessage struct {
	RecipientID string    `json:"recipient_id"`
	Name        string    `json:"name,omitempty"`
	Address     string    `json:"address"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

type amqpChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// AMQP публикует уведомления в RabbitMQ с подтверждением брокера.
// Routing key равен адресу получателя либо routingKey по умолчанию.
type AMQP struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         amqpChannel
	exchange   string
	routingKey string
	now        func() time.Time
}

var _ domain.Notifier = (*AMQP)(nil)

// DialAMQP подключается к брокеру, объявляет topic-обменник и включает confirm-режим.
func DialAMQP(url, exchange, routingKey string) (*AMQP, error) {
	if url == "" {
		return nil, errors.New("amqp: url не задан")
	}
	if exchange == "" {
		exchange = "pasantias"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}
	n := newAMQP(ch, exchange, routingKey)
	n.conn = conn
	return n, nil
}

func newAMQP(ch amqpChannel, exchange, routingKey string) *AMQP {
	if routingKey == "" {
		routingKey = "offers.new"
	}
	return &AMQP{ch: ch, exchange: exchange, routingKey: routingKey, now: time.Now}
}

// Send публикует событие и ждёт подтверждения брокера.
func (a *AMQP) Send(ctx context.Context, recipient domain.Recipient, subject, body string) error {
	payload, err := json.Marshal(AMQPMessage{
		RecipientID: recipient.ID,
		Name:        recipient.Name,
		Address:     recipient.Address,
		Subject:     subject,
		Body:        body,
		CreatedAt:   a.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("amqp marshal: %w", err)
	}
	key := recipient.Address
	if key == "" {
		key = a.routingKey
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	confirm, err := a.ch.PublishWithDeferredConfirmWithContext(ctx, a.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    a.now(),
		Body:         payload,
	})
	if err == nil && confirm != nil {
		var acked bool
		acked, err = confirm.WaitContext(ctx)
		if err == nil && !acked {
			err = errors.New("брокер отклонил сообщение")
		}
	}
	metrics.ObserveNetworkRequest("rabbitmq", "publish", a.exchange, start, err)
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.ch.Close()
	if a.conn != nil {
		if cerr := a.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
