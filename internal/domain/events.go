package domain

import "time"

// OrderStatus values emitted on the order-status side channel.
type OrderStatus string

const (
	OrderCollected OrderStatus = "collected"
	OrderArrived   OrderStatus = "arrived"
	OrderCompleted OrderStatus = "completed"
)

// OrderStatusEvent is emitted on business-level order transitions.
// Delivery is at-most-once.
type OrderStatusEvent struct {
	OrderID    string      `json:"orderId"`
	Status     OrderStatus `json:"status"`
	CustomerID string      `json:"customerId"`
	DriverID   string      `json:"driverId"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// TrackingRecord is the per-driver document written to the external location store.
type TrackingRecord struct {
	UserID      string
	SessionID   string
	Latitude    float64
	Longitude   float64
	Timestamp   time.Time
	OrderID     string
	OrderNumber string
	Status      Status
	Source      Source
	SpeedKmh    *float64
	BearingDeg  *float64
}
