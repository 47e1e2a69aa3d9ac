package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/ash/internal/store"
)

type fakeSource struct {
	mu         sync.Mutex
	due        []store.Reminder
	err        error
	marked     map[string]time.Time
	failed     map[string]string
	markErr    error
	releaseErr error
	gotLimit   int
}

func (f *fakeSource) DueReminders(_ context.Context, now time.Time, limit int) ([]store.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []store.Reminder
	for _, r := range f.due {
		_, sent := f.marked[r.ID]
		_, dead := f.failed[r.ID]
		if !sent && !dead && !r.RemindAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) MarkReminderSent(_ context.Context, id string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	if f.marked == nil {
		f.marked = map[string]time.Time{}
	}
	f.marked[id] = sentAt
	return nil
}

func (f *fakeSource) ReleaseReminder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	delete(f.marked, id)
	return nil
}

func (f *fakeSource) MarkReminderFailed(_ context.Context, id string, _ time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[id] = reason
	return nil
}

type sentMail struct {
	account    string
	recipients []string
	subject    string
	body       string
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []sentMail
	failTo string
}

func (m *fakeMailer) SendMail(_ context.Context, account string, recipients []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(recipients) > 0 && recipients[0] == m.failTo {
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, sentMail{account, recipients, subject, body})
	return nil
}

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestRunOnce(t *testing.T) {
	source := &fakeSource{due: []store.Reminder{
		{ID: "r1", UserID: "jane@example.com", Account: "default", Message: "Call the dentist", RemindAt: now.Add(-time.Minute), EventID: "ev-1"},
		{ID: "r2", UserID: "u-42", Account: "bob@example.com", Message: "Stand-up\nbring notes", RemindAt: now},
		{ID: "r3", UserID: "u-43", Account: "default", Message: "Nobody", RemindAt: now},
		{ID: "r4", UserID: "jane@example.com", Account: "default", Message: "Later", RemindAt: now.Add(time.Hour)},
	}}
	mailer := &fakeMailer{}
	sweeper := NewSweeper(source, mailer, Config{Location: time.UTC}, nil)

	summary, err := sweeper.RunOnce(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, DefaultBatchSize, source.gotLimit)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, ErrNoRecipient.Error(), summary.Results[2].Error)

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, []string{"jane@example.com"}, mailer.sent[0].recipients)
	assert.Equal(t, "Reminder: Call the dentist", mailer.sent[0].subject)
	assert.Contains(t, mailer.sent[0].body, "Scheduled for Mon Mar 10 2025 08:59 UTC")
	assert.Contains(t, mailer.sent[0].body, "Related event: ev-1")
	assert.Equal(t, []string{"bob@example.com"}, mailer.sent[1].recipients)
	assert.Equal(t, "Reminder: Stand-up", mailer.sent[1].subject)

	assert.Contains(t, source.marked, "r1")
	assert.Contains(t, source.marked, "r2")
	assert.NotContains(t, source.marked, "r3")
	assert.Equal(t, ErrNoRecipient.Error(), source.failed["r3"])

	// Delivered and dead-lettered reminders are not picked up again.
	summary, err = sweeper.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Len(t, mailer.sent, 2)
}

func TestRunOnce_MailFailureLeavesReminderUnsent(t *testing.T) {
	source := &fakeSource{due: []store.Reminder{
		{ID: "r1", UserID: "jane@example.com", Message: "x", RemindAt: now},
	}}
	sweeper := NewSweeper(source, &fakeMailer{failTo: "jane@example.com"}, Config{}, nil)

	summary, err := sweeper.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Results[0].Error, "mailbox unavailable")
	assert.Empty(t, source.marked)
	assert.Empty(t, source.failed)

	// The released reminder is due again.
	due, err := source.DueReminders(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestRunOnce_ClaimFailureSendsNothing(t *testing.T) {
	source := &fakeSource{
		due:     []store.Reminder{{ID: "r1", UserID: "jane@example.com", Message: "x", RemindAt: now}},
		markErr: store.ErrNotFound,
	}
	mailer := &fakeMailer{}
	sweeper := NewSweeper(source, mailer, Config{}, nil)

	summary, err := sweeper.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Results[0].Error, "failed to claim reminder")
	assert.Empty(t, mailer.sent)
}

func TestRunOnce_ReleaseFailure(t *testing.T) {
	source := &fakeSource{
		due:        []store.Reminder{{ID: "r1", UserID: "jane@example.com", Message: "x", RemindAt: now}},
		releaseErr: errors.New("disk full"),
	}
	sweeper := NewSweeper(source, &fakeMailer{failTo: "jane@example.com"}, Config{}, nil)

	summary, err := sweeper.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Results[0].Error, "mailbox unavailable")
	assert.Contains(t, source.marked, "r1")
}

func TestRunOnce_SourceError(t *testing.T) {
	sweeper := NewSweeper(&fakeSource{err: errors.New("db locked")}, &fakeMailer{}, Config{BatchSize: 5}, nil)
	_, err := sweeper.RunOnce(context.Background(), now)
	assert.ErrorContains(t, err, "db locked")
}

func TestRunOnce_NothingDue(t *testing.T) {
	sweeper := NewSweeper(&fakeSource{}, &fakeMailer{}, Config{}, nil)
	summary, err := sweeper.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
}

func TestRun_StopsOnCancel(t *testing.T) {
	source := &fakeSource{due: []store.Reminder{{ID: "r1", UserID: "jane@example.com", Message: "x", RemindAt: time.Now().Add(-time.Minute)}}}
	mailer := &fakeMailer{}
	sweeper := NewSweeper(source, mailer, Config{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	require.Eventually(t, func() bool {
		mailer.mu.Lock()
		defer mailer.mu.Unlock()
		return len(mailer.sent) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSubject(t *testing.T) {
	long := "This reminder message is definitely longer than sixty characters in total"
	assert.Equal(t, "Reminder: "+string([]rune(long)[:60])+"…", subject(long))
	assert.Equal(t, "Reminder: hi", subject("  hi  "))
}
