package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/ash/internal/agent"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "ash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateSession(ctx, "", "x")
	assert.Error(t, err)

	first, err := s.CreateSession(ctx, "jane", "Lunch planning")
	require.NoError(t, err)
	second, err := s.CreateSession(ctx, "jane", "Dentist")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "bob", "Other")
	require.NoError(t, err)

	got, err := s.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lunch planning", got.Title)
	assert.Equal(t, "jane", got.UserID)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.TouchSession(ctx, first.ID, time.Now().Add(time.Hour)))
	assert.ErrorIs(t, s.TouchSession(ctx, "missing", time.Now()), ErrNotFound)

	list, err := s.ListSessions(ctx, "jane")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	empty, err := s.ListSessions(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, err := s.CreateSession(ctx, "jane", "chat")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msg := &Message{SessionID: sess.ID, UserID: "jane", Role: role, Content: fmt.Sprintf("m%d", i), CreatedAt: base}
		require.NoError(t, s.AppendMessage(ctx, msg))
		assert.NotEmpty(t, msg.ID)
	}

	recent, err := s.RecentMessages(ctx, sess.ID, 6)
	require.NoError(t, err)
	require.Len(t, recent, 6)
	assert.Equal(t, "m4", recent[0].Content)
	assert.Equal(t, "m9", recent[5].Content)
	assert.Equal(t, "assistant", recent[5].Role)

	all, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, all, 10)
	assert.Equal(t, "m0", all[0].Content)

	none, err := s.RecentMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	err = s.AppendMessage(ctx, &Message{SessionID: "missing", UserID: "jane", Role: "user", Content: "x"})
	assert.Error(t, err, "foreign key on session_id")
}

func TestEventRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveEvent(ctx, &EventRecord{
		UserID: "jane", ExternalID: "e2", Summary: "Dinner",
		Start: base.Add(10 * time.Hour), End: base.Add(12 * time.Hour),
	}))
	require.NoError(t, s.SaveEvent(ctx, &EventRecord{
		UserID: "jane", ExternalID: "e1", Summary: "Lunch",
		Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour), Attendees: []string{"bob@example.com"},
	}))
	require.NoError(t, s.SaveEvent(ctx, &EventRecord{
		UserID: "jane", ExternalID: "e1", Summary: "Lunch (moved)",
		Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour),
	}))
	require.NoError(t, s.SaveEvent(ctx, &EventRecord{
		UserID: "bob", ExternalID: "e9", Summary: "Bob's",
		Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour),
	}))

	events, err := s.ListEventRecords(ctx, "jane", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Lunch (moved)", events[0].Summary)
	assert.Nil(t, events[0].Attendees)
	assert.Equal(t, "Dinner", events[1].Summary)
	assert.True(t, events[1].Start.Equal(base.Add(10*time.Hour)))

	require.NoError(t, s.DeleteEventRecord(ctx, "jane", "e1"))
	require.NoError(t, s.DeleteEventRecord(ctx, "jane", "unknown"))

	events, err = s.ListEventRecords(ctx, "jane", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ExternalID)
}

func TestUpdateEventRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveEvent(ctx, &EventRecord{
		UserID: "jane", ExternalID: "ev-1", Summary: "Lunch", Start: base, End: base.Add(time.Hour),
	}))

	later := base.Add(3 * time.Hour)
	require.NoError(t, s.UpdateEventRecord(ctx, "jane", "ev-1", EventRecordPatch{Start: &later}))
	require.NoError(t, s.UpdateEventRecord(ctx, "jane", "unknown", EventRecordPatch{Start: &later}))

	events, err := s.ListEventRecords(ctx, "jane", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Lunch", events[0].Summary)
	assert.True(t, events[0].Start.Equal(later))
	assert.True(t, events[0].End.Equal(base.Add(time.Hour)))
}

func TestLogInteraction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	log := &InteractionLog{
		UserID:       "jane",
		Utterance:    "book lunch",
		Reply:        "done",
		Tools:        []string{"createEvent"},
		SuccessCount: 1,
		Duration:     1500 * time.Millisecond,
		Status:       "success",
		Voice:        true,
	}
	require.NoError(t, s.LogInteraction(ctx, log))
	assert.NotEmpty(t, log.ID)

	var tools string
	var durationMs int64
	var voice int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT tools_json, duration_ms, voice FROM interaction_logs WHERE id = ?`, log.ID).
		Scan(&tools, &durationMs, &voice))
	assert.Equal(t, `["createEvent"]`, tools)
	assert.Equal(t, int64(1500), durationMs)
	assert.Equal(t, 1, voice)
}

func TestReminders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ScheduleReminder(ctx, agent.Reminder{UserID: "jane", RemindAt: base})
	assert.Error(t, err)

	early, err := s.ScheduleReminder(ctx, agent.Reminder{UserID: "jane", Message: "stand up", RemindAt: base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = s.ScheduleReminder(ctx, agent.Reminder{UserID: "jane", Account: "work", Message: "later", RemindAt: base.Add(time.Hour), EventID: "e1"})
	require.NoError(t, err)

	due, err := s.DueReminders(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, early, due[0].ID)
	assert.Equal(t, "default", due[0].Account)
	assert.Equal(t, "stand up", due[0].Message)

	require.NoError(t, s.MarkReminderSent(ctx, early, base.Add(2*time.Minute)))
	assert.ErrorIs(t, s.MarkReminderSent(ctx, early, base.Add(3*time.Minute)), ErrNotFound)

	due, err = s.DueReminders(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "later", due[0].Message)
	assert.Equal(t, "work", due[0].Account)
	assert.Equal(t, "e1", due[0].EventID)
}

func TestReminders_ReleaseAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dead, err := s.ScheduleReminder(ctx, agent.Reminder{UserID: "u-1", Message: "nobody", RemindAt: base})
	require.NoError(t, err)
	retry, err := s.ScheduleReminder(ctx, agent.Reminder{UserID: "jane@example.com", Message: "retry", RemindAt: base.Add(time.Minute)})
	require.NoError(t, err)

	require.NoError(t, s.MarkReminderFailed(ctx, dead, base, "no address"))
	assert.ErrorIs(t, s.MarkReminderFailed(ctx, dead, base, "again"), ErrNotFound)

	assert.ErrorIs(t, s.ReleaseReminder(ctx, retry), ErrNotFound)
	require.NoError(t, s.MarkReminderSent(ctx, retry, base.Add(time.Minute)))
	require.NoError(t, s.ReleaseReminder(ctx, retry))

	due, err := s.DueReminders(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, retry, due[0].ID)

	var failure string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT failure FROM reminders WHERE id = ?`, dead).Scan(&failure))
	assert.Equal(t, "no address", failure)
}

func TestNewSQLite_AddsReminderColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`DROP TABLE reminders`)
	require.NoError(t, err)
	_, err = s.db.Exec(`CREATE TABLE reminders (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL, account TEXT NOT NULL,
		session_id TEXT, event_id TEXT, message TEXT NOT NULL,
		remind_at INTEGER NOT NULL, sent_at INTEGER, created_at INTEGER NOT NULL)`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	id, err := s.ScheduleReminder(ctx, agent.Reminder{UserID: "u", Message: "x", RemindAt: base})
	require.NoError(t, err)
	require.NoError(t, s.MarkReminderFailed(ctx, id, base, "no address"))
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestNewSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ash.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	sess, err := s.CreateSession(ctx, "jane", "persisted")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)
}
