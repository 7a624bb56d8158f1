package model

import (
	"strconv"
	"time"
)

// DefaultInterval is used when no interval is given.
const DefaultInterval = "1m"

// intervalUnits maps the interval suffix to its unit duration.
var intervalUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseInterval converts an interval tag such as "5m" or "1d" to a duration.
func ParseInterval(s string) (time.Duration, bool) {
	if len(s) < 2 {
		return 0, false
	}
	unit, ok := intervalUnits[s[len(s)-1]]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// ValidInterval reports whether s is a well-formed interval tag.
func ValidInterval(s string) bool {
	_, ok := ParseInterval(s)
	return ok
}

// IntervalDuration is ParseInterval with a one-minute fallback.
func IntervalDuration(s string) time.Duration {
	if d, ok := ParseInterval(s); ok {
		return d
	}
	return time.Minute
}

// AlignMs floors an epoch-ms timestamp to the start of its interval bucket.
func AlignMs(ts int64, interval string) int64 {
	step := IntervalDuration(interval).Milliseconds()
	return ts - ts%step
}
