package query

import (
	"fmt"
	"time"
)

// Compiled requests reference the time range and interval through these placeholders, which the
// caller resolves before sending the request.
const (
	TimeFromPlaceholder = "$timeFrom"
	TimeToPlaceholder   = "$timeTo"
	IntervalPlaceholder = "$__interval"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// FormatInterval renders a bucket width in the backend's duration syntax, using the largest unit
// that divides it evenly. Widths below the backend's 1ms resolution are rounded up to 1ms.
func FormatInterval(interval time.Duration) string {
	switch {
	case interval < time.Millisecond:
		return "1ms"
	case interval%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", interval/(24*time.Hour))
	case interval%time.Hour == 0:
		return fmt.Sprintf("%dh", interval/time.Hour)
	case interval%time.Minute == 0:
		return fmt.Sprintf("%dm", interval/time.Minute)
	case interval%time.Second == 0:
		return fmt.Sprintf("%ds", interval/time.Second)
	default:
		return fmt.Sprintf("%dms", interval.Milliseconds())
	}
}
