package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/teemow/ash/internal/availability"
)

const (
	defaultUpcomingDays  = 7
	maxUpcomingDays      = 31
	defaultUpcomingLimit = 10
	maxUpcomingLimit     = 50
)

var (
	errNoCalendar  = errors.New("calendar is not configured")
	errNoMailer    = errors.New("mail delivery is not configured")
	errNoReminders = errors.New("reminders are not configured")

	errNoReminderAddress = errors.New("no email address to deliver the reminder to: the user ID or the account must be an email address")
)

// Scope is who and when a tool call runs for.
type Scope struct {
	UserID                string
	Account               string
	SessionID             string
	Now                   time.Time
	Location              *time.Location
	DefaultMeetingMinutes int
}

func (s Scope) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s Scope) now() time.Time {
	if s.Now.IsZero() {
		return time.Now()
	}
	return s.Now
}

type toolHandler func(ctx context.Context, scope Scope, args json.RawMessage) (any, error)

func (o *Orchestrator) dispatchTable() map[ToolName]toolHandler {
	return map[ToolName]toolHandler{
		ToolGetFreeSlots:      o.getFreeSlots,
		ToolCreateEvent:       o.createEvent,
		ToolUpdateEvent:       o.updateEvent,
		ToolDeleteEvent:       o.deleteEvent,
		ToolGetUpcomingEvents: o.getUpcomingEvents,
		ToolSendInvite:        o.sendInvite,
		ToolSetReminder:       o.setReminder,
	}
}

// decodeArgs unmarshals tool arguments. Missing arguments decode as {}.
func decodeArgs(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Layouts accepted for timestamp arguments. Values without an offset are
// read in the turn's location.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseTimestamp checks that value is an ISO 8601 date-time and parses it.
func parseTimestamp(field, value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%s must be an ISO 8601 date-time, got %q", field, value)
}

func parseOptionalTimestamp(field string, value *string, loc *time.Location) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := parseTimestamp(field, *value, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func validateEmails(field string, addrs []string) ([]string, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%s must contain at least one address", field)
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := mail.ParseAddress(strings.TrimSpace(a))
		if err != nil {
			return nil, fmt.Errorf("invalid email address %q in %s", a, field)
		}
		out = append(out, parsed.Address)
	}
	return out, nil
}

type freeSlotsArgs struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"durationMinutes"`
}

func (o *Orchestrator) getFreeSlots(ctx context.Context, scope Scope, raw json.RawMessage) (any, error) {
	var args freeSlotsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	loc := scope.location()
	start, err := parseTimestamp("start", args.Start, loc)
	if err != nil {
		return nil, err
	}
	end, err := parseTimestamp("end", args.End, loc)
	if err != nil {
		return nil, err
	}
	minutes := args.DurationMinutes
	if minutes <= 0 {
		minutes = scope.DefaultMeetingMinutes
	}
	if minutes <= 0 {
		minutes = DefaultMeetingMinutes
	}
	if !start.Before(end) {
		return nil, &availability.InvalidRangeError{WindowStart: start, WindowEnd: end, MinDuration: time.Duration(minutes) * time.Minute}
	}
	if o.calendar == nil {
		return nil, errNoCalendar
	}

	busy, err := o.calendar.ListBusy(ctx, scope.Account, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to read busy times: %w", err)
	}
	free, err := availability.ComputeFreeSlots(start, end, busy, time.Duration(minutes)*time.Minute)
	if err != nil {
		return nil, err
	}

	slots := make([]Slot, 0, len(free))
	for _, s := range free {
		slots = append(slots, Slot{
			Start:           s.Start.In(loc).Format(time.RFC3339),
			End:             s.End.In(loc).Format(time.RFC3339),
			DurationMinutes: int(s.Duration() / time.Minute),
		})
	}
	return slots, nil
}

type createEventArgs struct {
	Summary     string   `json:"summary"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Attendees   []string `json:"attendees"`
}

func (o *Orchestrator) createEvent(ctx context.Context, scope Scope, raw json.RawMessage) (any, error) {
	var args createEventArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := required("summary", args.Summary); err != nil {
		return nil, err
	}
	loc := scope.location()
	start, err := parseTimestamp("start", args.Start, loc)
	if err != nil {
		return nil, err
	}
	end, err := parseTimestamp("end", args.End, loc)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("start %s must be before end %s", args.Start, args.End)
	}
	var attendees []string
	if len(args.Attendees) > 0 {
		if attendees, err = validateEmails("attendees", args.Attendees); err != nil {
			return nil, err
		}
	}
	if o.calendar == nil {
		return nil, errNoCalendar
	}

	spec := EventSpec{
		Summary:     strings.TrimSpace(args.Summary),
		Description: args.Description,
		Location:    args.Location,
		Start:       start,
		End:         end,
		Attendees:   attendees,
	}
	id, err := o.calendar.CreateEvent(ctx, scope.Account, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return EventCreated{EventID: id, Summary: spec.Summary, Start: start, End: end, Attendees: attendees}, nil
}

type updateEventArgs struct {
	EventID     string  `json:"eventId"`
	Summary     *string `json:"summary"`
	Start       *string `json:"start"`
	End         *string `json:"end"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
}

func (o *Orchestrator) updateEvent(ctx context.Context, scope Scope, raw json.RawMessage) (any, error) {
	var args updateEventArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := required("eventId", args.EventID); err != nil {
		return nil, err
	}
	loc := scope.location()
	start, err := parseOptionalTimestamp("start", args.Start, loc)
	if err != nil {
		return nil, err
	}
	end, err := parseOptionalTimestamp("end", args.End, loc)
	if err != nil {
		return nil, err
	}
	if start != nil && end != nil && !start.Before(*end) {
		return nil, fmt.Errorf("start %s must be before end %s", *args.Start, *args.End)
	}

	patch := EventPatch{
		Summary:     args.Summary,
		Description: args.Description,
		Location:    args.Location,
		Start:       start,
		End:         end,
	}
	if patch.Empty() {
		return nil, errors.New("nothing to update")
	}
	if o.calendar == nil {
		return nil, errNoCalendar
	}
	if err := o.calendar.UpdateEvent(ctx, scope.Account, args.EventID, patch); err != nil {
		return nil, fmt.Errorf("failed to update event %s: %w", args.EventID, err)
	}
	return EventUpdated{EventID: args.EventID, Updated: true, Summary: patch.Summary, Start: start, End: end}, nil
}

type deleteEventArgs struct {
	EventID string `json:"eventId"`
}

func (o *Orchestrator) deleteEvent(ctx context.Context, scope Scope, raw json.RawMessage) (any, error) {
	var args deleteEventArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := required("eventId", args.EventID); err != nil {
		return nil, err
	}
	if o.calendar == nil {
		return nil, errNoCalendar
	}
	if err := o.calendar.DeleteEvent(ctx, scope.Account, args.EventID); err != nil {
		return nil, fmt.Errorf("failed to delete event %s: %w", args.EventID, err)
	}
	return EventDeleted{EventID: args.EventID, Deleted: true}, nil
}

type upcomingArgs struct {
	Days  int `json:"days"`
	Limit int `json:"limit"`
}

func (o *Orchestrator) getUpcomingEvents(ctx context.Context, scope Scope, raw json.RawMessage) (any, error) {
	var args upcomingArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	days := args.Days
	switch {
	case days <= 0:
		days = defaultUpcomingDays
	case days > maxUpcomingDays:
		days = maxUpcomingDays
	}
	limit := args.Limit
	switch {
	case limit <= 0:
		limit = defaultUpcomingLimit
	case limit > maxUpcomingLimit:
		limit = maxUpcomingLimit
	}
	if o.calendar == nil {
		return nil, errNoCalendar
	}

	from := scope.now()
	events, err := o.calendar.ListEvents(ctx, scope.Account, from, from.AddDate(0, 0, days), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	if events == nil {
		events = []CalendarEvent{}
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

type sendInviteArgs struct {
	Recipients []string `json:"recipients"`
	Summary    string   `json:"summary"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Message    string   `json:"message"`
}

func (o *Orchestrator) sendInvite(ctx context.Context, scope Scope, raw json.RawMessage) (any, error) {
	var args sendInviteArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	recipients, err := validateEmails("recipients", args.Recipients)
	if err != nil {
		return nil, err
	}
	if err := required("summary", args.Summary); err != nil {
		return nil, err
	}
	loc := scope.location()
	start, err := parseTimestamp("start", args.Start, loc)
	if err != nil {
		return nil, err
	}
	var end *time.Time
	if args.End != "" {
		e, err := parseTimestamp("end", args.End, loc)
		if err != nil {
			return nil, err
		}
		if !start.Before(e) {
			return nil, fmt.Errorf("start %s must be before end %s", args.Start, args.End)
		}
		end = &e
	}
	if o.mailer == nil {
		return nil, errNoMailer
	}

	subject := "Invitation: " + strings.TrimSpace(args.Summary)
	body := inviteBody(args.Summary, start.In(loc), end, loc, args.Message)
	if err := o.mailer.SendMail(ctx, scope.Account, recipients, subject, body); err != nil {
		return nil, fmt.Errorf("failed to send invite: %w", err)
	}
	return InviteSent{Sent: true, Recipients: recipients}, nil
}

func inviteBody(summary string, start time.Time, end *time.Time, loc *time.Location, note string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are invited to: %s\n\n", strings.TrimSpace(summary))
	fmt.Fprintf(&b, "When: %s", start.Format("Monday, January 2, 2006 15:04 MST"))
	if end != nil {
		fmt.Fprintf(&b, " - %s", end.In(loc).Format("15:04 MST"))
	}
	b.WriteString("\n")
	if note = strings.TrimSpace(note); note != "" {
		fmt.Fprintf(&b, "\n%s\n", note)
	}
	return b.String()
}

type setReminderArgs struct {
	Message  string `json:"message"`
	RemindAt string `json:"remindAt"`
	EventID  string `json:"eventId"`
}

func (o *Orchestrator) setReminder(ctx context.Context, scope Scope, raw json.RawMessage) (any, error) {
	var args setReminderArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := required("message", args.Message); err != nil {
		return nil, err
	}
	at, err := parseTimestamp("remindAt", args.RemindAt, scope.location())
	if err != nil {
		return nil, err
	}
	if !at.After(scope.now()) {
		return nil, fmt.Errorf("remindAt %s is in the past", args.RemindAt)
	}
	if o.reminders == nil {
		return nil, errNoReminders
	}
	if _, ok := ReminderRecipient(scope.UserID, scope.Account); !ok {
		return nil, errNoReminderAddress
	}

	id, err := o.reminders.ScheduleReminder(ctx, Reminder{
		UserID:    scope.UserID,
		Account:   scope.Account,
		SessionID: scope.SessionID,
		EventID:   args.EventID,
		Message:   strings.TrimSpace(args.Message),
		RemindAt:  at,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule reminder: %w", err)
	}
	return ReminderScheduled{ReminderID: id, RemindAt: at}, nil
}

// ReminderRecipient is the address a reminder is mailed to: the user ID when
// it is an email address, otherwise the account name.
func ReminderRecipient(userID, account string) (string, bool) {
	for _, candidate := range []string{userID, account} {
		if addr, err := mail.ParseAddress(strings.TrimSpace(candidate)); err == nil {
			return addr.Address, true
		}
	}
	return "", false
}
