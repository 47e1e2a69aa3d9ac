// Package store persists chat sessions, messages, mirrored events,
// interaction logs and reminders.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/teemow/ash/internal/agent"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session is a conversation between one user and the assistant.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one chat message of a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventRecord mirrors an event created through the assistant.
type EventRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ExternalID string    `json:"eventId"`
	Summary    string    `json:"summary"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Attendees  []string  `json:"attendees,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EventRecordPatch changes a mirrored event. Nil fields are kept.
type EventRecordPatch struct {
	Summary *string
	Start   *time.Time
	End     *time.Time
}

// InteractionLog records one processed turn.
type InteractionLog struct {
	ID           string
	UserID       string
	SessionID    string
	Utterance    string
	Reply        string
	Tools        []string
	SuccessCount int
	Duration     time.Duration
	Status       string
	Voice        bool
	CreatedAt    time.Time
}

// Reminder is a scheduled reminder and its delivery state.
type Reminder struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Account   string     `json:"account"`
	SessionID string     `json:"sessionId,omitempty"`
	EventID   string     `json:"eventId,omitempty"`
	Message   string     `json:"message"`
	RemindAt  time.Time  `json:"remindAt"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Repository defines the persistence operations of the assistant.
type Repository interface {
	// CreateSession starts a new session for a user.
	CreateSession(ctx context.Context, userID, title string) (*Session, error)

	// GetSession returns ErrNotFound for unknown IDs.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns the user's sessions, most recently active first.
	ListSessions(ctx context.Context, userID string) ([]Session, error)

	// TouchSession bumps the session's updated_at.
	TouchSession(ctx context.Context, id string, at time.Time) error

	AppendMessage(ctx context.Context, msg *Message) error

	// RecentMessages returns the last limit messages, oldest first.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// ListMessages returns the whole session, oldest first.
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)

	SaveEvent(ctx context.Context, ev *EventRecord) error
	DeleteEventRecord(ctx context.Context, userID, externalID string) error

	// UpdateEventRecord applies a patch to a mirrored event. Events that
	// were not mirrored are ignored.
	UpdateEventRecord(ctx context.Context, userID, externalID string, patch EventRecordPatch) error

	// ListEventRecords returns mirrored events starting in [from, to).
	ListEventRecords(ctx context.Context, userID string, from, to time.Time) ([]EventRecord, error)

	LogInteraction(ctx context.Context, log *InteractionLog) error

	// ScheduleReminder stores a reminder and returns its ID. It satisfies
	// agent.Reminders.
	ScheduleReminder(ctx context.Context, r agent.Reminder) (string, error)

	// DueReminders returns pending reminders due at or before now.
	DueReminders(ctx context.Context, now time.Time, limit int) ([]Reminder, error)

	MarkReminderSent(ctx context.Context, id string, sentAt time.Time) error

	// ReleaseReminder undoes MarkReminderSent after a failed delivery.
	ReleaseReminder(ctx context.Context, id string) error

	// MarkReminderFailed removes an undeliverable reminder from the due set.
	MarkReminderFailed(ctx context.Context, id string, failedAt time.Time, reason string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
