package caldav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/teemow/ash/internal/agent"
	"github.com/teemow/ash/internal/availability"
	"github.com/teemow/ash/internal/instrumentation"
	"github.com/teemow/ash/internal/logging"
)

// Config configures the CalDAV collaborator.
type Config struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string

	// HTTPClient supplies the base transport. http.DefaultTransport is used
	// when nil.
	HTTPClient *http.Client

	Metrics *instrumentation.Metrics
}

// Client implements agent.Calendar for a CalDAV calendar. All ASH accounts
// share the configured credentials.
type Client struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	calendarName string
	metrics      *instrumentation.Metrics
	logger       *slog.Logger
	now          func() time.Time

	mu           sync.Mutex
	calendarPath string
}

var _ agent.Calendar = (*Client)(nil)

// NewClient creates a CalDAV collaborator. The calendar is discovered on
// first use.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("caldav endpoint is required")
	}
	if cfg.CalendarName == "" {
		return nil, errors.New("caldav calendar name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	base := http.DefaultTransport
	if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
		base = cfg.HTTPClient.Transport
	}
	httpClient := &http.Client{Transport: &basicAuthTransport{
		username:  cfg.Username,
		password:  cfg.Password,
		userAgent: "ash/1.0",
		base:      base,
	}}

	caldavClient, err := caldav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	webdavClient, err := webdav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	return &Client{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		calendarName: cfg.CalendarName,
		metrics:      cfg.Metrics,
		logger:       logging.WithBackend(logger, instrumentation.BackendCalDAV),
		now:          time.Now,
	}, nil
}

// calendar returns the path of the configured calendar, discovering it once.
func (c *Client) calendar(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.calendarPath != "" {
		return c.calendarPath, nil
	}

	var found string
	err := c.observe(ctx, instrumentation.OperationDiscover, func(ctx context.Context) error {
		principal, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
		if err != nil {
			return fmt.Errorf("failed to find principal path: %w", err)
		}
		homeSet, err := c.caldavClient.FindCalendarHomeSet(ctx, principal)
		if err != nil {
			return fmt.Errorf("failed to find calendar home set: %w", err)
		}
		calendars, err := c.caldavClient.FindCalendars(ctx, homeSet)
		if err != nil {
			return fmt.Errorf("failed to find calendars: %w", err)
		}
		for _, cal := range calendars {
			if cal.Name == c.calendarName {
				found = cal.Path
				return nil
			}
		}
		return fmt.Errorf("no calendar found with name %q", c.calendarName)
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("found CalDAV calendar", slog.String("calendar", c.calendarName), slog.String("path", found))
	c.calendarPath = found
	return found, nil
}

func (c *Client) eventPath(calendarPath, uid string) string {
	return path.Join(calendarPath, uid+".ics")
}

func (c *Client) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := instrumentation.StartCollaboratorSpan(ctx, instrumentation.BackendCalDAV, op)
	defer span.End()

	err := fn(ctx)
	c.metrics.RecordCalendarOperation(ctx, instrumentation.BackendCalDAV, op, instrumentation.StatusFor(err), time.Since(start))
	if err != nil {
		instrumentation.SetSpanError(span, err)
		c.logger.Debug("caldav operation failed", logging.Operation(op), logging.Err(err))
		return err
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

func (c *Client) query(ctx context.Context, from, to time.Time) ([]caldav.CalendarObject, error) {
	calPath, err := c.calendar(ctx)
	if err != nil {
		return nil, err
	}
	objs, err := c.caldavClient.QueryCalendar(ctx, calPath, &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent, Start: from, End: to}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}
	return objs, nil
}

// ListBusy returns the busy intervals of the calendar. The account is
// ignored; credentials are per deployment.
func (c *Client) ListBusy(ctx context.Context, _ string, windowStart, windowEnd time.Time) (availability.BusyList, error) {
	var busy availability.BusyList
	err := c.observe(ctx, instrumentation.OperationListBusy, func(ctx context.Context) error {
		objs, err := c.query(ctx, windowStart, windowEnd)
		if err != nil {
			return err
		}
		busy = busyFromObjects(objs, windowStart, windowEnd)
		return nil
	})
	return busy, err
}

// ListEvents returns up to limit event instances between from and to.
func (c *Client) ListEvents(ctx context.Context, _ string, from, to time.Time, limit int) ([]agent.CalendarEvent, error) {
	var events []agent.CalendarEvent
	err := c.observe(ctx, instrumentation.OperationList, func(ctx context.Context) error {
		objs, err := c.query(ctx, from, to)
		if err != nil {
			return err
		}
		events = eventsFromObjects(objs, from, to, limit)
		return nil
	})
	return events, err
}

// CreateEvent stores a new event and returns its UID.
func (c *Client) CreateEvent(ctx context.Context, _ string, spec agent.EventSpec) (string, error) {
	uid := uuid.NewString()
	err := c.observe(ctx, instrumentation.OperationCreate, func(ctx context.Context) error {
		calPath, err := c.calendar(ctx)
		if err != nil {
			return err
		}
		cal := newCalendar(buildEvent(uid, spec, c.now()))

		writer, err := c.webdavClient.Create(ctx, c.eventPath(calPath, uid))
		if err != nil {
			return fmt.Errorf("failed to create event on CalDAV server: %w", err)
		}
		if err := ical.NewEncoder(writer).Encode(cal); err != nil {
			_ = writer.Close()
			return fmt.Errorf("failed to encode event to iCal format: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return uid, nil
}

// UpdateEvent rewrites the stored event with the patch applied.
func (c *Client) UpdateEvent(ctx context.Context, _ string, eventID string, patch agent.EventPatch) error {
	if err := validateUID(eventID); err != nil {
		return err
	}
	return c.observe(ctx, instrumentation.OperationUpdate, func(ctx context.Context) error {
		calPath, err := c.calendar(ctx)
		if err != nil {
			return err
		}
		p := c.eventPath(calPath, eventID)
		obj, err := c.caldavClient.GetCalendarObject(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to get existing event: %w", err)
		}
		ve, err := findEvent(obj.Data)
		if err != nil {
			return err
		}
		if err := applyPatch(ve, patch, c.now()); err != nil {
			return err
		}
		if _, err := c.caldavClient.PutCalendarObject(ctx, p, obj.Data); err != nil {
			return fmt.Errorf("failed to update event: %w", err)
		}
		return nil
	})
}

// DeleteEvent removes the stored event.
func (c *Client) DeleteEvent(ctx context.Context, _ string, eventID string) error {
	if err := validateUID(eventID); err != nil {
		return err
	}
	return c.observe(ctx, instrumentation.OperationDelete, func(ctx context.Context) error {
		calPath, err := c.calendar(ctx)
		if err != nil {
			return err
		}
		if err := c.webdavClient.RemoveAll(ctx, c.eventPath(calPath, eventID)); err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
		return nil
	})
}

// validateUID keeps model-supplied IDs inside the calendar collection.
func validateUID(uid string) error {
	if uid == "" || strings.ContainsAny(uid, "/\\") || strings.Contains(uid, "..") {
		return fmt.Errorf("invalid event id %q", uid)
	}
	return nil
}
