package dto

import (
	"delivery-navigation-service/internal/domain"
	"math"
	"time"
)

type SampleResponse struct {
	Latitude   float64       `json:"latitude"`
	Longitude  float64       `json:"longitude"`
	Accuracy   float64       `json:"accuracy"`
	Timestamp  time.Time     `json:"timestamp"`
	Source     domain.Source `json:"source"`
	SpeedKmh   *float64      `json:"speed_kmh"`
	BearingDeg *float64      `json:"bearing_deg"`
}

type TargetResponse struct {
	Center       domain.Coordinate `json:"center"`
	RadiusMeters float64           `json:"radius_meters"`
}

// SessionResponse is the snapshot a UI renders. DeviationMeters is null
// while no route or sample makes the deviation computable.
type SessionResponse struct {
	SessionID            string             `json:"session_id"`
	DriverID             string             `json:"driver_id"`
	OrderID              string             `json:"order_id"`
	OrderNumber          string             `json:"order_number,omitempty"`
	CustomerID           string             `json:"customer_id,omitempty"`
	Status               domain.Status      `json:"status"`
	Phase                domain.Phase       `json:"phase"`
	LastSample           *SampleResponse    `json:"last_sample"`
	CurrentManeuverIndex int                `json:"current_maneuver_index"`
	CurrentManeuver      *domain.Maneuver   `json:"current_maneuver"`
	DeviationMeters      *float64           `json:"deviation_meters"`
	DisplayCoordinate    *domain.Coordinate `json:"display_coordinate"`
	Target               *TargetResponse    `json:"target"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

func FromSession(s domain.TrackingSession) SessionResponse {
	res := SessionResponse{
		SessionID:            s.SessionID,
		DriverID:             s.DriverID,
		OrderID:              s.TargetOrderID,
		OrderNumber:          s.OrderNumber,
		CustomerID:           s.CustomerID,
		Status:               s.Status,
		Phase:                s.Phase,
		CurrentManeuverIndex: s.CurrentManeuverIndex,
		CurrentManeuver:      s.CurrentManeuver,
		DisplayCoordinate:    s.DisplayCoordinate,
		UpdatedAt:            s.UpdatedAt,
	}

	if !math.IsInf(s.DeviationMeters, 0) && !math.IsNaN(s.DeviationMeters) {
		d := s.DeviationMeters
		res.DeviationMeters = &d
	}
	if s.LastSample != nil {
		res.LastSample = &SampleResponse{
			Latitude:   s.LastSample.Coordinate.Lat,
			Longitude:  s.LastSample.Coordinate.Lon,
			Accuracy:   s.LastSample.Accuracy,
			Timestamp:  s.LastSample.Timestamp,
			Source:     s.LastSample.Source,
			SpeedKmh:   s.LastSample.SpeedKmh,
			BearingDeg: s.LastSample.BearingDeg,
		}
	}
	if s.Target != nil {
		res.Target = &TargetResponse{Center: s.Target.Center, RadiusMeters: s.Target.RadiusMeters}
	}
	return res
}
