package availability

import (
	"sort"
	"time"
)

// ComputeFreeSlots returns the gaps in [windowStart, windowEnd) that are not
// covered by any busy interval and are at least minDuration long.
//
// Busy intervals are walked in start order with a cursor that only moves
// forward, so overlapping, duplicate and nested intervals collapse into a
// single blocked region. Intervals reaching outside the window are clipped
// by the cursor starting at windowStart and by every emitted gap ending no
// later than windowEnd.
func ComputeFreeSlots(windowStart, windowEnd time.Time, busy BusyList, minDuration time.Duration) ([]FreeSlot, error) {
	if !windowStart.Before(windowEnd) || minDuration <= 0 {
		return nil, &InvalidRangeError{
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			MinDuration: minDuration,
		}
	}

	sorted := make(BusyList, len(busy))
	copy(sorted, busy)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	slots := make([]FreeSlot, 0)
	emit := func(start, end time.Time) {
		if end.Sub(start) >= minDuration {
			slots = append(slots, FreeSlot{Start: start, End: end})
		}
	}

	cur := windowStart
	for _, iv := range sorted {
		if !cur.Before(windowEnd) {
			break
		}
		if cur.Before(iv.Start) {
			gapEnd := iv.Start
			if gapEnd.After(windowEnd) {
				gapEnd = windowEnd
			}
			emit(cur, gapEnd)
		}
		if iv.End.After(cur) {
			cur = iv.End
		}
	}

	if cur.Before(windowEnd) {
		emit(cur, windowEnd)
	}

	return slots, nil
}
