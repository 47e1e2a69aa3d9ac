package availability

import (
	"fmt"
	"time"
)

// InvalidRangeError is returned when the query window is empty or inverted,
// or when the requested minimum duration is not positive.
type InvalidRangeError struct {
	WindowStart time.Time
	WindowEnd   time.Time
	MinDuration time.Duration
}

func (e *InvalidRangeError) Error() string {
	if e.MinDuration <= 0 {
		return fmt.Sprintf("invalid range: minimum duration must be positive, got %s", e.MinDuration)
	}
	return fmt.Sprintf("invalid range: window start %s is not before window end %s",
		e.WindowStart.Format(time.RFC3339), e.WindowEnd.Format(time.RFC3339))
}
