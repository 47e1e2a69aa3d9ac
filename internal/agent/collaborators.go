package agent

import (
	"context"
	"time"

	"github.com/teemow/ash/internal/availability"
)

// Calendar is the calendar backend the scheduling tools act on. The account
// argument selects the user's calendar credentials.
type Calendar interface {
	ListBusy(ctx context.Context, account string, windowStart, windowEnd time.Time) (availability.BusyList, error)
	CreateEvent(ctx context.Context, account string, spec EventSpec) (string, error)
	UpdateEvent(ctx context.Context, account, eventID string, patch EventPatch) error
	DeleteEvent(ctx context.Context, account, eventID string) error
	ListEvents(ctx context.Context, account string, from, to time.Time, limit int) ([]CalendarEvent, error)
}

// Mailer delivers plain text email on behalf of an account.
type Mailer interface {
	SendMail(ctx context.Context, account string, recipients []string, subject, body string) error
}

// Reminders persists reminders for later delivery.
type Reminders interface {
	ScheduleReminder(ctx context.Context, r Reminder) (string, error)
}

// EventSpec describes an event to create.
type EventSpec struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// EventPatch lists the fields of an event to change. Nil fields are left
// untouched.
type EventPatch struct {
	Summary     *string
	Description *string
	Location    *string
	Start       *time.Time
	End         *time.Time
}

// Empty reports whether the patch changes nothing.
func (p EventPatch) Empty() bool {
	return p.Summary == nil && p.Description == nil && p.Location == nil && p.Start == nil && p.End == nil
}

// CalendarEvent is an event as reported by a calendar backend.
type CalendarEvent struct {
	ID          string    `json:"eventId"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// Reminder is a message to deliver to a user at a given time.
type Reminder struct {
	UserID    string
	Account   string
	SessionID string
	EventID   string
	Message   string
	RemindAt  time.Time
}
