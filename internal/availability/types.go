package availability

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FreeSlot is an interval returned by ComputeFreeSlots. Its length is always
// at least the requested minimum duration.
type FreeSlot = Interval

// BusyList is a sequence of busy intervals as reported by a calendar.
// It is not assumed to be sorted.
type BusyList []Interval

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Valid reports whether Start is strictly before End.
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Overlaps reports whether the two half-open intervals share any instant.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// ParseInterval parses two RFC 3339 timestamps into an Interval.
func ParseInterval(start, end string) (Interval, error) {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid start time %q: %w", start, err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid end time %q: %w", end, err)
	}
	iv := Interval{Start: s, End: e}
	if !iv.Valid() {
		return Interval{}, fmt.Errorf("start %s must be before end %s", start, end)
	}
	return iv, nil
}
