// Package timefmt renders relative times for dashboard listings.
package timefmt

import (
	"fmt"
	"time"
)

var units = []struct {
	name    string
	seconds int64
}{
	{"year", 31536000},
	{"month", 2592000},
	{"week", 604800},
	{"day", 86400},
	{"hour", 3600},
	{"minute", 60},
	{"second", 1},
}

// TimeAgo picks the largest whole unit, e.g. "3 hours ago" or "1 day ago".
// Anything under a second, including future times, is "just now".
func TimeAgo(t, now time.Time) string {
	elapsed := int64(now.Sub(t) / time.Second)
	for _, u := range units {
		if n := elapsed / u.seconds; n >= 1 {
			if n == 1 {
				return fmt.Sprintf("1 %s ago", u.name)
			}
			return fmt.Sprintf("%d %ss ago", n, u.name)
		}
	}
	return "just now"
}
