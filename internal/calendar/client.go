package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/ash/internal/agent"
	"github.com/teemow/ash/internal/availability"
	"github.com/teemow/ash/internal/instrumentation"
	"github.com/teemow/ash/internal/logging"
)

// HTTPClientSource returns an authorized HTTP client for an account.
type HTTPClientSource interface {
	HTTPClient(account string) (*http.Client, error)
}

// Config configures the Google Calendar collaborator.
type Config struct {
	// CalendarID defaults to "primary".
	CalendarID string

	// TimeZone is attached to created events, e.g. "Europe/Berlin".
	TimeZone string

	// Endpoint overrides the API base URL.
	Endpoint string

	Metrics *instrumentation.Metrics
}

// Client implements agent.Calendar for Google Calendar.
type Client struct {
	clients    HTTPClientSource
	calendarID string
	timeZone   string
	endpoint   string
	metrics    *instrumentation.Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	services map[string]*calendar.Service
}

var _ agent.Calendar = (*Client)(nil)

// NewClient creates a Google Calendar collaborator.
func NewClient(clients HTTPClientSource, cfg Config, logger *slog.Logger) *Client {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		clients:    clients,
		calendarID: cfg.CalendarID,
		timeZone:   cfg.TimeZone,
		endpoint:   cfg.Endpoint,
		metrics:    cfg.Metrics,
		logger:     logging.WithBackend(logger, instrumentation.BackendGoogleCalendar),
		services:   make(map[string]*calendar.Service),
	}
}

func (c *Client) service(ctx context.Context, account string) (*calendar.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if svc, ok := c.services[account]; ok {
		return svc, nil
	}

	hc, err := c.clients.HTTPClient(account)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	c.services[account] = svc
	return svc, nil
}

// observe wraps a single API operation in a span and records its outcome.
func (c *Client) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := instrumentation.StartCollaboratorSpan(ctx, instrumentation.BackendGoogleCalendar, op)
	defer span.End()

	err := fn(ctx)
	c.metrics.RecordCalendarOperation(ctx, instrumentation.BackendGoogleCalendar, op, instrumentation.StatusFor(err), time.Since(start))
	if err != nil {
		instrumentation.SetSpanError(span, err)
		c.logger.Debug("calendar operation failed", logging.Operation(op), logging.Err(err))
		return err
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

// ListBusy returns the busy intervals of the configured calendar.
func (c *Client) ListBusy(ctx context.Context, account string, windowStart, windowEnd time.Time) (availability.BusyList, error) {
	var busy availability.BusyList
	err := c.observe(ctx, instrumentation.OperationListBusy, func(ctx context.Context) error {
		svc, err := c.service(ctx, account)
		if err != nil {
			return err
		}
		resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
			TimeMin: windowStart.Format(time.RFC3339),
			TimeMax: windowEnd.Format(time.RFC3339),
			Items:   []*calendar.FreeBusyRequestItem{{Id: c.calendarID}},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to query freebusy: %w", err)
		}

		cal, ok := resp.Calendars[c.calendarID]
		if !ok {
			return fmt.Errorf("freebusy response has no entry for calendar %s", c.calendarID)
		}
		if len(cal.Errors) > 0 {
			reasons := make([]string, 0, len(cal.Errors))
			for _, e := range cal.Errors {
				reasons = append(reasons, e.Reason)
			}
			return fmt.Errorf("freebusy error for calendar %s: %s", c.calendarID, strings.Join(reasons, ", "))
		}

		busy = make(availability.BusyList, 0, len(cal.Busy))
		for _, period := range cal.Busy {
			iv, err := availability.ParseInterval(period.Start, period.End)
			if err != nil {
				c.logger.Warn("skipping malformed busy period", logging.Err(err))
				continue
			}
			busy = append(busy, iv)
		}
		return nil
	})
	return busy, err
}

// ListEvents lists up to limit upcoming event instances between from and to.
func (c *Client) ListEvents(ctx context.Context, account string, from, to time.Time, limit int) ([]agent.CalendarEvent, error) {
	var events []agent.CalendarEvent
	err := c.observe(ctx, instrumentation.OperationList, func(ctx context.Context) error {
		svc, err := c.service(ctx, account)
		if err != nil {
			return err
		}
		call := svc.Events.List(c.calendarID).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime")
		if limit > 0 {
			call = call.MaxResults(int64(limit))
		}
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}

		events = make([]agent.CalendarEvent, 0, len(resp.Items))
		for _, item := range resp.Items {
			if item == nil || item.Status == "cancelled" {
				continue
			}
			events = append(events, toCalendarEvent(item))
		}
		return nil
	})
	return events, err
}

// CreateEvent inserts a new event and returns its ID.
func (c *Client) CreateEvent(ctx context.Context, account string, spec agent.EventSpec) (string, error) {
	var id string
	err := c.observe(ctx, instrumentation.OperationCreate, func(ctx context.Context) error {
		svc, err := c.service(ctx, account)
		if err != nil {
			return err
		}
		event := &calendar.Event{
			Summary:     spec.Summary,
			Description: spec.Description,
			Location:    spec.Location,
			Start:       c.eventTime(spec.Start),
			End:         c.eventTime(spec.End),
		}
		for _, email := range spec.Attendees {
			event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
		}

		call := svc.Events.Insert(c.calendarID, event)
		if len(event.Attendees) > 0 {
			call = call.SendUpdates("all")
		}
		created, err := call.Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to create event: %w", err)
		}
		id = created.Id
		return nil
	})
	return id, err
}

// UpdateEvent applies the non-nil fields of patch to an existing event.
func (c *Client) UpdateEvent(ctx context.Context, account, eventID string, patch agent.EventPatch) error {
	return c.observe(ctx, instrumentation.OperationUpdate, func(ctx context.Context) error {
		svc, err := c.service(ctx, account)
		if err != nil {
			return err
		}
		existing, err := svc.Events.Get(c.calendarID, eventID).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to get existing event: %w", err)
		}

		if patch.Summary != nil {
			existing.Summary = *patch.Summary
		}
		if patch.Description != nil {
			existing.Description = *patch.Description
		}
		if patch.Location != nil {
			existing.Location = *patch.Location
		}
		if patch.Start != nil {
			existing.Start = c.eventTime(*patch.Start)
		}
		if patch.End != nil {
			existing.End = c.eventTime(*patch.End)
		}
		if start, end := parseEventTime(existing.Start), parseEventTime(existing.End); !start.IsZero() && !end.IsZero() && !start.Before(end) {
			return errors.New("updated event would end before it starts")
		}

		if _, err := svc.Events.Update(c.calendarID, eventID, existing).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to update event: %w", err)
		}
		return nil
	})
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, account, eventID string) error {
	return c.observe(ctx, instrumentation.OperationDelete, func(ctx context.Context) error {
		svc, err := c.service(ctx, account)
		if err != nil {
			return err
		}
		if err := svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
		return nil
	})
}

func (c *Client) eventTime(t time.Time) *calendar.EventDateTime {
	return &calendar.EventDateTime{
		DateTime: t.Format(time.RFC3339),
		TimeZone: c.timeZone,
	}
}

// parseEventTime reads a timed or all-day event boundary.
func parseEventTime(dt *calendar.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

func toCalendarEvent(event *calendar.Event) agent.CalendarEvent {
	out := agent.CalendarEvent{
		ID:          event.Id,
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
		Start:       parseEventTime(event.Start),
		End:         parseEventTime(event.End),
	}
	for _, att := range event.Attendees {
		if att != nil && att.Email != "" {
			out.Attendees = append(out.Attendees, att.Email)
		}
	}
	return out
}
