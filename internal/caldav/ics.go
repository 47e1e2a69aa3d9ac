package caldav

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"github.com/teemow/ash/internal/agent"
	"github.com/teemow/ash/internal/availability"
)

const productID = "-//ash//scheduling assistant//EN"

// newCalendar wraps a single VEVENT into a VCALENDAR object.
func newCalendar(event *ical.Component) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, event)
	return cal
}

// buildEvent converts an event spec to a VEVENT with the given UID.
func buildEvent(uid string, spec agent.EventSpec, now time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, spec.Summary)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, spec.Start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, spec.End.UTC())

	if spec.Description != "" {
		ve.Props.SetText(ical.PropDescription, spec.Description)
	}
	if spec.Location != "" {
		ve.Props.SetText(ical.PropLocation, spec.Location)
	}
	for _, attendee := range spec.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.SetText(fmt.Sprintf("mailto:%s", attendee))
		ve.Props.Add(p)
	}
	return ve
}

// findEvent returns the first VEVENT of a calendar object.
func findEvent(cal *ical.Calendar) (*ical.Component, error) {
	if cal == nil {
		return nil, fmt.Errorf("calendar object has no data")
	}
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			return child, nil
		}
	}
	return nil, fmt.Errorf("calendar object has no VEVENT")
}

// applyPatch changes the patched properties of a VEVENT in place.
func applyPatch(ve *ical.Component, patch agent.EventPatch, now time.Time) error {
	setOrDelete := func(name string, value *string) {
		if value == nil {
			return
		}
		if *value == "" {
			ve.Props.Del(name)
			return
		}
		ve.Props.SetText(name, *value)
	}
	setOrDelete(ical.PropSummary, patch.Summary)
	setOrDelete(ical.PropDescription, patch.Description)
	setOrDelete(ical.PropLocation, patch.Location)

	if patch.Start != nil {
		ve.Props.SetDateTime(ical.PropDateTimeStart, patch.Start.UTC())
	}
	if patch.End != nil {
		ve.Props.Del(ical.PropDuration)
		ve.Props.SetDateTime(ical.PropDateTimeEnd, patch.End.UTC())
	}

	ev := ical.Event{Component: ve}
	start, err := ev.DateTimeStart(time.UTC)
	if err != nil {
		return fmt.Errorf("invalid DTSTART: %w", err)
	}
	end, err := ev.DateTimeEnd(time.UTC)
	if err != nil {
		return fmt.Errorf("invalid DTEND: %w", err)
	}
	if !start.Before(end) {
		return fmt.Errorf("updated event would end before it starts")
	}

	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetDateTime(ical.PropLastModified, now.UTC())
	return nil
}

func propText(c *ical.Component, name string) string {
	v, err := c.Props.Text(name)
	if err != nil {
		return ""
	}
	return v
}

// blocksTime reports whether an event should count as busy.
func blocksTime(c *ical.Component) bool {
	if strings.EqualFold(propText(c, ical.PropStatus), "CANCELLED") {
		return false
	}
	return !strings.EqualFold(propText(c, ical.PropTransparency), "TRANSPARENT")
}

// occurrence is one concrete instance of a (possibly recurring) event.
type occurrence struct {
	component *ical.Component
	start     time.Time
	end       time.Time
}

// expand returns the instances of all events in objs overlapping
// [from, to), sorted by start time.
func expand(objs []caldav.CalendarObject, from, to time.Time) []occurrence {
	var out []occurrence
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			start, err := ev.DateTimeStart(time.UTC)
			if err != nil || start.IsZero() {
				continue
			}
			end, err := ev.DateTimeEnd(time.UTC)
			if err != nil || !end.After(start) {
				continue
			}
			length := end.Sub(start)

			set, err := ev.RecurrenceSet(time.UTC)
			if err != nil || set == nil {
				if start.Before(to) && end.After(from) {
					out = append(out, occurrence{ev.Component, start, end})
				}
				continue
			}
			for _, s := range set.Between(from.Add(-length), to, true) {
				e := s.Add(length)
				if s.Before(to) && e.After(from) {
					out = append(out, occurrence{ev.Component, s, e})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

// busyFromObjects extracts busy intervals from query results.
func busyFromObjects(objs []caldav.CalendarObject, from, to time.Time) availability.BusyList {
	busy := availability.BusyList{}
	for _, occ := range expand(objs, from, to) {
		if !blocksTime(occ.component) {
			continue
		}
		busy = append(busy, availability.Interval{Start: occ.start, End: occ.end})
	}
	return busy
}

// eventsFromObjects converts query results to calendar events.
func eventsFromObjects(objs []caldav.CalendarObject, from, to time.Time, limit int) []agent.CalendarEvent {
	events := []agent.CalendarEvent{}
	for _, occ := range expand(objs, from, to) {
		if strings.EqualFold(propText(occ.component, ical.PropStatus), "CANCELLED") {
			continue
		}
		if limit > 0 && len(events) >= limit {
			break
		}
		ev := agent.CalendarEvent{
			ID:          propText(occ.component, ical.PropUID),
			Summary:     propText(occ.component, ical.PropSummary),
			Description: propText(occ.component, ical.PropDescription),
			Location:    propText(occ.component, ical.PropLocation),
			Start:       occ.start,
			End:         occ.end,
		}
		for _, p := range occ.component.Props.Values(ical.PropAttendee) {
			addr := strings.TrimPrefix(strings.TrimPrefix(p.Value, "mailto:"), "MAILTO:")
			if addr != "" {
				ev.Attendees = append(ev.Attendees, addr)
			}
		}
		events = append(events, ev)
	}
	return events
}
