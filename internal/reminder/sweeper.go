package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teemow/ash/internal/agent"
	"github.com/teemow/ash/internal/instrumentation"
	"github.com/teemow/ash/internal/logging"
	"github.com/teemow/ash/internal/store"
	"github.com/teemow/ash/internal/tools/batch"
)

const (
	// DefaultInterval is the time between two sweeps.
	DefaultInterval = time.Minute

	// DefaultBatchSize caps the reminders delivered per sweep.
	DefaultBatchSize = 100
)

// ErrNoRecipient is returned for reminders whose owner has no email address.
// Such reminders are dead-lettered and never retried.
var ErrNoRecipient = errors.New("reminder has no deliverable address")

// Source is the reminder storage used by the sweeper.
type Source interface {
	DueReminders(ctx context.Context, now time.Time, limit int) ([]store.Reminder, error)
	MarkReminderSent(ctx context.Context, id string, sentAt time.Time) error
	ReleaseReminder(ctx context.Context, id string) error
	MarkReminderFailed(ctx context.Context, id string, failedAt time.Time, reason string) error
}

// Config configures a Sweeper.
type Config struct {
	Interval  time.Duration
	BatchSize int
	Location  *time.Location
	Metrics   *instrumentation.Metrics
}

// Sweeper periodically delivers due reminders.
type Sweeper struct {
	source Source
	mailer agent.Mailer
	cfg    Config
	logger logging.Logger
	now    func() time.Time
}

// NewSweeper creates a Sweeper. A nil logger discards output.
func NewSweeper(source Source, mailer agent.Mailer, cfg Config, logger logging.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = logging.NewSlogAdapter(nil)
	}
	return &Sweeper{source: source, mailer: mailer, cfg: cfg, logger: logger, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("reminder sweeper started", "interval", s.cfg.Interval.String())
	for {
		if _, err := s.RunOnce(ctx, s.now()); err != nil && ctx.Err() == nil {
			s.logger.Error("reminder sweep failed", logging.KeyError, err.Error())
		}
		select {
		case <-ctx.Done():
			s.logger.Info("reminder sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce delivers every reminder due at now. Each reminder is handled
// independently. Reminders whose mail failed stay due; reminders without a
// recipient are dead-lettered.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (batch.Summary, error) {
	due, err := s.source.DueReminders(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("failed to load due reminders: %w", err)
	}
	if len(due) == 0 {
		return batch.Summarize(nil), nil
	}

	byID := make(map[string]store.Reminder, len(due))
	ids := make([]string, 0, len(due))
	for _, r := range due {
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}

	results := batch.Process(ctx, ids, func(ctx context.Context, id string) (string, error) {
		return s.deliver(ctx, byID[id], now)
	})
	for _, r := range results {
		status := instrumentation.StatusSuccess
		if !r.OK() {
			status = instrumentation.StatusError
			s.logger.Warn("reminder delivery failed", "reminder_id", r.ID, logging.KeyError, r.Error)
		}
		s.cfg.Metrics.RecordReminderSent(ctx, status)
	}

	summary := batch.Summarize(results)
	s.logger.Info("reminder sweep finished",
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed)
	return summary, nil
}

// deliver claims the reminder before mailing it so a lost mark can never cause
// a second mail. A failed send releases the claim.
func (s *Sweeper) deliver(ctx context.Context, r store.Reminder, now time.Time) (string, error) {
	to, ok := agent.ReminderRecipient(r.UserID, r.Account)
	if !ok {
		if err := s.source.MarkReminderFailed(ctx, r.ID, now, ErrNoRecipient.Error()); err != nil {
			return "", fmt.Errorf("%w (dead-letter failed: %v)", ErrNoRecipient, err)
		}
		return "", ErrNoRecipient
	}

	if err := s.source.MarkReminderSent(ctx, r.ID, now); err != nil {
		return "", fmt.Errorf("failed to claim reminder: %w", err)
	}
	if err := s.mailer.SendMail(ctx, r.Account, []string{to}, subject(r.Message), s.body(r)); err != nil {
		if relErr := s.source.ReleaseReminder(ctx, r.ID); relErr != nil {
			s.logger.Error("reminder lost after failed delivery",
				"reminder_id", r.ID,
				logging.KeyError, relErr.Error())
		}
		return "", err
	}
	return "sent to " + logging.AnonymizeUser(to), nil
}

func (s *Sweeper) body(r store.Reminder) string {
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Scheduled for %s.\n", r.RemindAt.In(s.cfg.Location).Format("Mon Jan 2 2006 15:04 MST"))
	if r.EventID != "" {
		fmt.Fprintf(&b, "Related event: %s\n", r.EventID)
	}
	return b.String()
}

func subject(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	if r := []rune(line); len(r) > 60 {
		line = string(r[:60]) + "…"
	}
	return "Reminder: " + line
}
