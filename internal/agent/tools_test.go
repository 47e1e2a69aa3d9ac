package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/ash/internal/availability"
)

func at(h, m int) time.Time {
	return time.Date(2025, 3, 11, h, m, 0, 0, time.UTC)
}

func testScope() Scope {
	return Scope{UserID: "jane@example.com", Account: "default", SessionID: "s1", Now: refNow, Location: time.UTC}
}

func TestExecuteTool_GetFreeSlots(t *testing.T) {
	cal := &fakeCalendar{busy: availability.BusyList{
		{Start: at(10, 0), End: at(11, 0)},
		{Start: at(9, 0), End: at(9, 20)},
	}}
	o := New(Deps{Calendar: cal})

	res := o.ExecuteTool(context.Background(), testScope(),
		call("c1", ToolGetFreeSlots, `{"start":"2025-03-11T09:00:00Z","end":"2025-03-11T12:00:00Z","durationMinutes":30}`))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []Slot{
		{Start: "2025-03-11T09:20:00Z", End: "2025-03-11T10:00:00Z", DurationMinutes: 40},
		{Start: "2025-03-11T11:00:00Z", End: "2025-03-11T12:00:00Z", DurationMinutes: 60},
	}, res.Result)
}

func TestExecuteTool_GetFreeSlotsDefaults(t *testing.T) {
	cal := &fakeCalendar{busy: availability.BusyList{{Start: at(9, 0), End: at(9, 40)}}}
	o := New(Deps{Calendar: cal})

	scope := testScope()
	scope.DefaultMeetingMinutes = 45
	res := o.ExecuteTool(context.Background(), scope,
		call("c1", ToolGetFreeSlots, `{"start":"2025-03-11T09:00:00","end":"2025-03-11T10:00:00"}`))

	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.Result, "a 20 minute gap is shorter than the 45 minute default")
}

func TestExecuteTool_GetFreeSlotsInvalidWindow(t *testing.T) {
	o := New(Deps{Calendar: &fakeCalendar{}})
	res := o.ExecuteTool(context.Background(), testScope(),
		call("c1", ToolGetFreeSlots, `{"start":"2025-03-11T12:00:00Z","end":"2025-03-11T09:00:00Z"}`))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid range")
}

func TestExecuteTool_Validation(t *testing.T) {
	tests := []struct {
		name    string
		tool    ToolName
		args    string
		wantErr string
	}{
		{"malformed json", ToolCreateEvent, `{"summary":`, "invalid arguments"},
		{"missing summary", ToolCreateEvent, `{"start":"2025-03-11T09:00:00Z","end":"2025-03-11T10:00:00Z"}`, "summary is required"},
		{"missing start", ToolCreateEvent, `{"summary":"x","end":"2025-03-11T10:00:00Z"}`, "start is required"},
		{"date only", ToolCreateEvent, `{"summary":"x","start":"2025-03-11","end":"2025-03-11T10:00:00Z"}`, "ISO 8601"},
		{"inverted", ToolCreateEvent, `{"summary":"x","start":"2025-03-11T11:00:00Z","end":"2025-03-11T10:00:00Z"}`, "must be before"},
		{"bad attendee", ToolCreateEvent, `{"summary":"x","start":"2025-03-11T09:00:00Z","end":"2025-03-11T10:00:00Z","attendees":["nope"]}`, "invalid email"},
		{"update without id", ToolUpdateEvent, `{"summary":"x"}`, "eventId is required"},
		{"update nothing", ToolUpdateEvent, `{"eventId":"e1"}`, "nothing to update"},
		{"update bad time", ToolUpdateEvent, `{"eventId":"e1","start":"soon"}`, "ISO 8601"},
		{"delete without id", ToolDeleteEvent, `null`, "eventId is required"},
		{"invite without recipients", ToolSendInvite, `{"summary":"x","start":"2025-03-11T09:00:00Z"}`, "at least one address"},
		{"reminder in the past", ToolSetReminder, `{"message":"x","remindAt":"2025-03-01T09:00:00Z"}`, "in the past"},
		{"reminder without message", ToolSetReminder, `{"remindAt":"2025-03-12T09:00:00Z"}`, "message is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := &fakeCalendar{}
			o := New(Deps{Calendar: cal, Mailer: &fakeMailer{}, Reminders: &fakeReminders{}})

			res := o.ExecuteTool(context.Background(), testScope(), call("c1", tt.tool, tt.args))

			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantErr)
			assert.Contains(t, res.Error, string(tt.tool))
			assert.Empty(t, cal.created)
			assert.Empty(t, cal.deleted)
		})
	}
}

func TestExecuteTool_MissingCollaborators(t *testing.T) {
	o := New(Deps{})
	tests := []struct {
		tool ToolName
		args string
	}{
		{ToolGetFreeSlots, `{"start":"2025-03-11T09:00:00Z","end":"2025-03-11T10:00:00Z"}`},
		{ToolDeleteEvent, `{"eventId":"e1"}`},
		{ToolSendInvite, `{"recipients":["a@example.com"],"summary":"x","start":"2025-03-11T09:00:00Z"}`},
		{ToolSetReminder, `{"message":"x","remindAt":"2025-03-12T09:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(string(tt.tool), func(t *testing.T) {
			res := o.ExecuteTool(context.Background(), testScope(), call("c", tt.tool, tt.args))
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "not configured")
		})
	}
}

func TestExecuteTool_UpdateEvent(t *testing.T) {
	cal := &fakeCalendar{}
	o := New(Deps{Calendar: cal})

	res := o.ExecuteTool(context.Background(), testScope(),
		call("c1", ToolUpdateEvent, `{"eventId":"e1","summary":"Renamed","start":"2025-03-11T14:00:00Z"}`))

	require.True(t, res.Success, res.Error)
	updated, ok := res.Result.(EventUpdated)
	require.True(t, ok)
	assert.Equal(t, "e1", updated.EventID)
	assert.True(t, updated.Updated)
	require.NotNil(t, updated.Summary)
	assert.Equal(t, "Renamed", *updated.Summary)
	require.NotNil(t, updated.Start)
	assert.True(t, updated.Start.Equal(at(14, 0)))
	assert.Nil(t, updated.End)
	patch := cal.updated["e1"]
	require.NotNil(t, patch.Summary)
	assert.Equal(t, "Renamed", *patch.Summary)
	require.NotNil(t, patch.Start)
	assert.True(t, patch.Start.Equal(at(14, 0)))
	assert.Nil(t, patch.End)
	assert.Nil(t, patch.Location)
}

func TestExecuteTool_DeleteEventCollaboratorFailure(t *testing.T) {
	cause := errors.New("backend down")
	o := New(Deps{Calendar: &fakeCalendar{failOn: map[string]error{"delete": cause}}})

	res := o.ExecuteTool(context.Background(), testScope(), call("c1", ToolDeleteEvent, `{"eventId":"e1"}`))

	assert.False(t, res.Success)
	assert.Equal(t, "deleteEvent failed: failed to delete event e1: backend down", res.Error)
}

func TestExecuteTool_GetUpcomingEvents(t *testing.T) {
	events := []CalendarEvent{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	tests := []struct {
		name      string
		args      string
		wantDays  int
		wantLimit int
		wantLen   int
	}{
		{"defaults", `{}`, 7, 10, 3},
		{"clamped days", `{"days":90}`, 31, 10, 3},
		{"limit", `{"days":2,"limit":2}`, 2, 2, 2},
		{"limit clamped", `{"limit":500}`, 7, 50, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := &fakeCalendar{events: events}
			o := New(Deps{Calendar: cal})

			res := o.ExecuteTool(context.Background(), testScope(), call("c1", ToolGetUpcomingEvents, tt.args))

			require.True(t, res.Success, res.Error)
			assert.Equal(t, refNow, cal.listFrom)
			assert.Equal(t, refNow.AddDate(0, 0, tt.wantDays), cal.listTo)
			assert.Equal(t, tt.wantLimit, cal.listLimit)
			assert.Len(t, res.Result, tt.wantLen)
		})
	}
}

func TestExecuteTool_SendInvite(t *testing.T) {
	mailer := &fakeMailer{}
	o := New(Deps{Mailer: mailer})

	res := o.ExecuteTool(context.Background(), testScope(), call("c1", ToolSendInvite,
		`{"recipients":["Bob <bob@example.com>","amy@example.com"],"summary":"Planning","start":"2025-03-11T15:00:00Z","end":"2025-03-11T16:00:00Z","message":"Bring notes"}`))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, InviteSent{Sent: true, Recipients: []string{"bob@example.com", "amy@example.com"}}, res.Result)
	require.Len(t, mailer.sent, 1)
	sent := mailer.sent[0]
	assert.Equal(t, "default", sent.account)
	assert.Equal(t, "Invitation: Planning", sent.subject)
	assert.Contains(t, sent.body, "You are invited to: Planning")
	assert.Contains(t, sent.body, "Tuesday, March 11, 2025 15:00 UTC - 16:00 UTC")
	assert.Contains(t, sent.body, "Bring notes")
}

func TestExecuteTool_SetReminder(t *testing.T) {
	reminders := &fakeReminders{}
	o := New(Deps{Reminders: reminders})

	res := o.ExecuteTool(context.Background(), testScope(), call("c1", ToolSetReminder,
		`{"message":"Call mom","remindAt":"2025-03-10T18:00:00+01:00","eventId":"e9"}`))

	require.True(t, res.Success, res.Error)
	got, ok := res.Result.(ReminderScheduled)
	require.True(t, ok)
	assert.Equal(t, "rem-1", got.ReminderID)
	require.Len(t, reminders.scheduled, 1)
	r := reminders.scheduled[0]
	assert.Equal(t, "jane@example.com", r.UserID)
	assert.Equal(t, "s1", r.SessionID)
	assert.Equal(t, "e9", r.EventID)
	assert.True(t, r.RemindAt.Equal(time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC)))
}

func TestExecuteTool_SetReminderWithoutAddress(t *testing.T) {
	reminders := &fakeReminders{}
	o := New(Deps{Reminders: reminders})
	scope := testScope()
	scope.UserID = "u-42"

	res := o.ExecuteTool(context.Background(), scope, call("c1", ToolSetReminder,
		`{"message":"Call mom","remindAt":"2025-03-12T09:00:00Z"}`))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "setReminder failed: no email address")
	assert.Empty(t, reminders.scheduled)

	scope.Account = "work@example.com"
	res = o.ExecuteTool(context.Background(), scope, call("c2", ToolSetReminder,
		`{"message":"Call mom","remindAt":"2025-03-12T09:00:00Z"}`))
	require.True(t, res.Success, res.Error)
	require.Len(t, reminders.scheduled, 1)
	assert.Equal(t, "work@example.com", reminders.scheduled[0].Account)
}

func TestReminderRecipient(t *testing.T) {
	tests := []struct {
		userID, account string
		want            string
		ok              bool
	}{
		{"jane@example.com", "default", "jane@example.com", true},
		{"u-42", "bob@example.com", "bob@example.com", true},
		{"Jane <jane@example.com>", "", "jane@example.com", true},
		{"u-42", "default", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		got, ok := ReminderRecipient(tt.userID, tt.account)
		assert.Equal(t, tt.ok, ok, tt.userID)
		assert.Equal(t, tt.want, got, tt.userID)
	}
}

func TestParseTimestamp_LocalLayouts(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	got, err := parseTimestamp("start", "2025-03-11T09:30", berlin)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 11, 8, 30, 0, 0, time.UTC)))

	_, err = parseTimestamp("start", "tomorrow", berlin)
	assert.Error(t, err)
}
