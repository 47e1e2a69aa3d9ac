package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/ash/internal/agent"
	"github.com/teemow/ash/internal/instrumentation"
	"github.com/teemow/ash/internal/logging"
)

// HTTPClientSource returns an authorized HTTP client for an account.
type HTTPClientSource interface {
	HTTPClient(account string) (*http.Client, error)
}

// Client sends mail on behalf of ASH accounts.
type Client struct {
	clients  HTTPClientSource
	endpoint string
	metrics  *instrumentation.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	services map[string]*gmail.Service
}

var _ agent.Mailer = (*Client)(nil)

// NewClient creates a Gmail sender. endpoint overrides the API base URL and
// is normally empty.
func NewClient(clients HTTPClientSource, endpoint string, metrics *instrumentation.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		clients:  clients,
		endpoint: endpoint,
		metrics:  metrics,
		logger:   logging.WithBackend(logger, instrumentation.BackendGmail),
		services: make(map[string]*gmail.Service),
	}
}

func (c *Client) service(ctx context.Context, account string) (*gmail.Service, error) {
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
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	c.services[account] = svc
	return svc, nil
}

// SendMail sends a plain text message from the account's mailbox.
func (c *Client) SendMail(ctx context.Context, account string, recipients []string, subject, body string) error {
	_, err := c.Send(ctx, account, &EmailMessage{To: recipients, Subject: subject, Body: body})
	return err
}

// Send delivers msg and returns the Gmail message ID.
func (c *Client) Send(ctx context.Context, account string, msg *EmailMessage) (string, error) {
	start := time.Now()
	ctx, span := instrumentation.StartCollaboratorSpan(ctx, instrumentation.BackendGmail, instrumentation.OperationSend)
	defer span.End()

	id, err := c.send(ctx, account, msg)
	c.metrics.RecordCalendarOperation(ctx, instrumentation.BackendGmail, instrumentation.OperationSend, instrumentation.StatusFor(err), time.Since(start))
	if err != nil {
		instrumentation.SetSpanError(span, err)
		c.logger.Warn("failed to send mail", logging.Err(err), slog.Int("recipients", len(msg.To)))
		return "", err
	}
	instrumentation.SetSpanSuccess(span)
	return id, nil
}

func (c *Client) send(ctx context.Context, account string, msg *EmailMessage) (string, error) {
	raw, err := buildRaw(msg)
	if err != nil {
		return "", err
	}
	svc, err := c.service(ctx, account)
	if err != nil {
		return "", err
	}
	sent, err := svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return sent.Id, nil
}
