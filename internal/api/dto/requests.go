package dto

import "delivery-navigation-service/internal/domain"

type CreateSessionRequest struct {
	DriverID    string `json:"driver_id" validate:"required"`
	OrderID     string `json:"order_id" validate:"required"`
	OrderNumber string `json:"order_number"`
	CustomerID  string `json:"customer_id"`
}

// TargetRequest sets a pickup or drop-off target. Exactly one of Address
// and Coordinate is expected; Coordinate wins when both are sent.
type TargetRequest struct {
	Address      string             `json:"address" validate:"required_without=Coordinate"`
	Coordinate   *domain.Coordinate `json:"coordinate" validate:"required_without=Address"`
	RadiusMeters float64            `json:"radius_meters" validate:"gte=0"`
	Phase        domain.Phase       `json:"phase" validate:"omitempty,oneof=pickup collected"`
	Origin       *domain.Coordinate `json:"origin"`
}

type RouteRequest struct {
	Polyline  []domain.Coordinate `json:"polyline" validate:"required"`
	Maneuvers []domain.Maneuver   `json:"maneuvers"`
}

type EligibilityResponse struct {
	Eligible       bool    `json:"eligible"`
	DistanceMeters float64 `json:"distance_meters"`
	RadiusMeters   float64 `json:"radius_meters"`
}
