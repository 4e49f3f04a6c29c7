package ports

import (
	"context"
	"delivery-navigation-service/internal/domain"
)

// Port: at-most-once real-time channel for order status transitions.
type OrderEventPublisher interface {
	PublishOrderStatus(ctx context.Context, evt domain.OrderStatusEvent) error
}
