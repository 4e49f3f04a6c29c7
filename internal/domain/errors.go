package domain

import "errors"

var (
	ErrPermissionDenied           = errors.New("location permission denied")
	ErrBackgroundPermissionDenied = errors.New("background location permission denied")
	ErrProviderUnavailable        = errors.New("provider unavailable")
	ErrGeocodeFailure             = errors.New("geocode failure")
	ErrPublishFailure             = errors.New("publish failure")
	ErrInvalidRoute               = errors.New("invalid route")
	ErrInvalidCoordinate          = errors.New("invalid coordinate")
	ErrSessionActive              = errors.New("driver already has an active session")
	ErrSessionNotFound            = errors.New("session not found")
	ErrInvalidTransition          = errors.New("invalid status transition")
)
