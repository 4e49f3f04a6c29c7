package events

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/platform/obs"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const orderStatusExchange = "order.status"

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQOrderEvents publishes order status transitions to a fanout
// exchange. Messages are transient: the channel is at-most-once and
// consumers that are not connected miss the event.
type RabbitMQOrderEvents struct {
	ch amqpChannel
}

func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn, nil
}

func NewRabbitMQOrderEvents(conn *amqp.Connection) (*RabbitMQOrderEvents, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(orderStatusExchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &RabbitMQOrderEvents{ch: ch}, nil
}

type orderStatusMessage struct {
	OrderID    string             `json:"order_id"`
	Status     domain.OrderStatus `json:"status"`
	CustomerID string             `json:"customer_id"`
	DriverID   string             `json:"driver_id"`
	Timestamp  int64              `json:"timestamp"`
}

func (p *RabbitMQOrderEvents) PublishOrderStatus(ctx context.Context, evt domain.OrderStatusEvent) (err error) {
	defer obs.Time(ctx, "events.PublishOrderStatus")(&err)

	body, err := json.Marshal(orderStatusMessage{
		OrderID:    evt.OrderID,
		Status:     evt.Status,
		CustomerID: evt.CustomerID,
		DriverID:   evt.DriverID,
		Timestamp:  evt.OccurredAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal order status: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, orderStatusExchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Type:         string(evt.Status),
		Timestamp:    evt.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish order status order_id=%s status=%s: %w", evt.OrderID, evt.Status, err)
	}
	return nil
}

func (p *RabbitMQOrderEvents) Close() error {
	return p.ch.Close()
}

// LogOrderEvents is used when no broker is configured.
type LogOrderEvents struct{}

func (LogOrderEvents) PublishOrderStatus(ctx context.Context, evt domain.OrderStatusEvent) error {
	log.Printf("order status order_id=%s status=%s customer_id=%s driver_id=%s",
		evt.OrderID, evt.Status, evt.CustomerID, evt.DriverID)
	return nil
}
