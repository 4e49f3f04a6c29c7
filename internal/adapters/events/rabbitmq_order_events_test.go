package events

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeChannel struct {
	exchange string
	msgs     []amqp.Publishing
	err      error
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.exchange = exchange
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestPublishOrderStatus(t *testing.T) {
	ch := &fakeChannel{}
	p := &RabbitMQOrderEvents{ch: ch}
	at := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	err := p.PublishOrderStatus(context.Background(), domain.OrderStatusEvent{
		OrderID:    "order-1",
		Status:     domain.OrderArrived,
		CustomerID: "customer-1",
		DriverID:   "driver-1",
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ch.exchange != "order.status" {
		t.Fatalf("exchange = %q, want order.status", ch.exchange)
	}
	if len(ch.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(ch.msgs))
	}

	msg := ch.msgs[0]
	if msg.DeliveryMode != amqp.Transient {
		t.Fatalf("delivery mode = %d, want transient", msg.DeliveryMode)
	}
	if msg.MessageId == "" {
		t.Fatalf("expected a message id")
	}

	var got orderStatusMessage
	if err := json.Unmarshal(msg.Body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.OrderID != "order-1" || got.Status != domain.OrderArrived || got.CustomerID != "customer-1" {
		t.Fatalf("body = %+v", got)
	}
	if got.Timestamp != at.UnixMilli() {
		t.Fatalf("timestamp = %d, want %d", got.Timestamp, at.UnixMilli())
	}
}

func TestPublishOrderStatusError(t *testing.T) {
	p := &RabbitMQOrderEvents{ch: &fakeChannel{err: amqp.ErrClosed}}

	err := p.PublishOrderStatus(context.Background(), domain.OrderStatusEvent{OrderID: "order-1"})
	if !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
