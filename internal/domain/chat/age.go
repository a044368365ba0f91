package chat

import (
	"fmt"
	"time"
)

// FormatAge renders how long ago createdAt happened relative to now.
// Future timestamps (clock skew) read as "just now". All units floor.
func FormatAge(createdAt, now time.Time) string {
	elapsed := now.Sub(createdAt)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return fmt.Sprintf("%dm ago", int64(elapsed/time.Minute))
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int64(elapsed/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int64(elapsed/(24*time.Hour)))
	}
}
