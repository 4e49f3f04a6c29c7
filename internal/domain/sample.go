package domain

import "time"

// Source identifies the execution context a sample was delivered from.
type Source string

const (
	SourceForeground Source = "foreground"
	SourceBackground Source = "background"
)

// LocationSample is a normalized position fix. Samples are values and are
// never mutated after the sampler emits them.
type LocationSample struct {
	Coordinate Coordinate
	Accuracy   float64
	Timestamp  time.Time
	Source     Source
	SpeedKmh   *float64
	BearingDeg *float64
}
