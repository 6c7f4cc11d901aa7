package repository

import "time"

// Interval identifies a candle bucket duration.
type Interval string

const (
	I1m  Interval = "1m"
	I5m  Interval = "5m"
	I15m Interval = "15m"
	I1h  Interval = "1h"
	I4h  Interval = "4h"
	I1d  Interval = "1d"
)

// Intervals lists the supported intervals in ascending duration order.
func Intervals() []Interval {
	return []Interval{I1m, I5m, I15m, I1h, I4h, I1d}
}

// IsValidInterval returns true if iv is a supported interval.
func IsValidInterval(iv Interval) bool {
	switch iv {
	case I1m, I5m, I15m, I1h, I4h, I1d:
		return true
	default:
		return false
	}
}

// DefaultInterval returns the default interval.
func DefaultInterval() Interval { return I5m }

// NormalizeInterval converts raw string to a valid interval (or default).
func NormalizeInterval(s string) Interval {
	if s == "" {
		return DefaultInterval()
	}
	iv := Interval(s)
	if IsValidInterval(iv) {
		return iv
	}
	return DefaultInterval()
}

// Duration returns the bucket duration, or zero for unknown intervals.
func (iv Interval) Duration() time.Duration {
	switch iv {
	case I1m:
		return time.Minute
	case I5m:
		return 5 * time.Minute
	case I15m:
		return 15 * time.Minute
	case I1h:
		return time.Hour
	case I4h:
		return 4 * time.Hour
	case I1d:
		return 24 * time.Hour
	default:
		return 0
	}
}
