// Package availability computes free time slots inside a query window.
//
// The engine is a pure function over a list of busy intervals. It performs
// no I/O and holds no state, so it is safe to call from any goroutine.
//
// Example usage:
//
//	slots, err := availability.ComputeFreeSlots(dayStart, dayEnd, busy, 30*time.Minute)
//	if err != nil {
//	    return err
//	}
//	for _, s := range slots {
//	    fmt.Println(s.Start, s.End)
//	}
package availability
