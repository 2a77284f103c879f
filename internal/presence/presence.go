// Package presence derives device liveness from last-seen timestamps.
package presence

import "time"

const (
	OnlineThreshold   = 5 * time.Minute
	InactiveThreshold = 24 * time.Hour
)

// IsOnline is true while less than OnlineThreshold has passed since lastSeen.
func IsOnline(lastSeen, now time.Time) bool {
	return now.Sub(lastSeen) < OnlineThreshold
}

// Uptime is the time since lastSeen for an online device, zero otherwise.
func Uptime(lastSeen, now time.Time) time.Duration {
	if !IsOnline(lastSeen, now) {
		return 0
	}
	return now.Sub(lastSeen)
}

// Device is the minimal view FindInactive needs.
type Device interface {
	GetLastSeen() time.Time
	IsActive() bool
}

// FindInactive returns the active devices not seen for longer than after.
func FindInactive[D Device](devices []D, now time.Time, after time.Duration) []D {
	var out []D
	for _, d := range devices {
		if d.IsActive() && now.Sub(d.GetLastSeen()) > after {
			out = append(out, d)
		}
	}
	return out
}
