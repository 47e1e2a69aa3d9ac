package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/teemow/ash/internal/agent"
	"github.com/teemow/ash/internal/instrumentation"
	"github.com/teemow/ash/internal/llm"
	"github.com/teemow/ash/internal/logging"
	"github.com/teemow/ash/internal/store"
)

const (
	// HistoryLimit is how many stored messages are replayed as prior context.
	HistoryLimit = agent.DefaultMaxPriorTurns

	// DefaultAccount is used when a request names no account.
	DefaultAccount = "default"

	maxTitleRunes = 60
)

var (
	// ErrInvalidRequest is wrapped by every request validation error.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSessionNotFound is returned for unknown sessions and for sessions
	// owned by another user.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTranscriptionUnavailable is returned when no transcriber is configured.
	ErrTranscriptionUnavailable = errors.New("transcription is not configured")
)

// TurnHandler runs a single conversational turn.
type TurnHandler interface {
	HandleUtterance(ctx context.Context, cfg agent.Config, turn agent.Turn) agent.Outcome
}

// Request is one user message addressed to the assistant.
type Request struct {
	UserID    string
	Account   string
	SessionID string
	Text      string

	// Voice marks text that came out of a transcription.
	Voice bool
}

// Response is the assistant's answer to a Request.
type Response struct {
	SessionID string             `json:"sessionId"`
	Reply     string             `json:"reply"`
	Mutations []agent.ToolResult `json:"mutations"`
}

// Option configures a Service.
type Option func(*Service)

// WithTranscriber enables voice input.
func WithTranscriber(t llm.Transcriber) Option {
	return func(s *Service) { s.transcriber = t }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service processes chat requests. It is safe for concurrent use.
type Service struct {
	turns       TurnHandler
	repo        store.Repository
	cfg         agent.Config
	transcriber llm.Transcriber
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a Service running turns with cfg.
func NewService(turns TurnHandler, repo store.Repository, cfg agent.Config, opts ...Option) *Service {
	s := &Service{
		turns:  turns,
		repo:   repo,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the agent configuration used for every turn.
func (s *Service) Config() agent.Config {
	return s.cfg
}

// Chat runs one turn for req and persists its outcome.
//
// Once the turn has run, persistence failures are logged and the reply is
// still returned: the calendar has already been changed.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	text := strings.TrimSpace(req.Text)
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	account := req.Account
	if account == "" {
		account = DefaultAccount
	}

	ctx, span := instrumentation.StartSpan(ctx, "assistant.chat", instrumentation.NewSpanAttributeBuilder().
		WithUser(req.UserID).
		WithSession(req.SessionID).
		Build()...)
	defer span.End()

	logger := logging.WithOperation(s.logger, "assistant.chat").With(logging.UserHash(req.UserID))

	sessionID, err := s.resolveSession(ctx, req.UserID, req.SessionID, text)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}
	logger = logger.With(logging.Session(sessionID))

	history, err := s.repo.RecentMessages(ctx, sessionID, HistoryLimit)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	start := s.now()
	outcome := s.turns.HandleUtterance(ctx, s.cfg, agent.Turn{
		UserID:       req.UserID,
		Account:      account,
		SessionID:    sessionID,
		Text:         text,
		PriorContext: toPriorContext(history),
		Now:          start,
	})
	finished := s.now()

	s.persist(ctx, logger, req, sessionID, text, outcome, start, finished)

	instrumentation.SetSpanSuccess(span)
	return &Response{
		SessionID: sessionID,
		Reply:     outcome.Reply,
		Mutations: outcome.MutationsPerformed,
	}, nil
}

// Transcribe converts recorded speech into text.
func (s *Service) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if s.transcriber == nil {
		return "", ErrTranscriptionUnavailable
	}
	text, err := s.transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Sessions lists the user's sessions.
func (s *Service) Sessions(ctx context.Context, userID string) ([]store.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	return s.repo.ListSessions(ctx, userID)
}

// Messages returns the full transcript of a session owned by userID.
func (s *Service) Messages(ctx context.Context, userID, sessionID string) ([]store.Message, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if err := s.checkSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, sessionID)
}

// Events returns the mirrored events of a user starting in [from, to).
func (s *Service) Events(ctx context.Context, userID string, from, to time.Time) ([]store.EventRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidRequest)
	}
	return s.repo.ListEventRecords(ctx, userID, from, to)
}

func (s *Service) resolveSession(ctx context.Context, userID, sessionID, text string) (string, error) {
	if sessionID != "" {
		if err := s.checkSession(ctx, userID, sessionID); err != nil {
			return "", err
		}
		return sessionID, nil
	}
	sess, err := s.repo.CreateSession(ctx, userID, sessionTitle(text))
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sess.ID, nil
}

func (s *Service) checkSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess.UserID != userID {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

func (s *Service) persist(ctx context.Context, logger *slog.Logger, req Request, sessionID, text string, outcome agent.Outcome, start, finished time.Time) {
	messages := []*store.Message{
		{SessionID: sessionID, UserID: req.UserID, Role: string(llm.RoleUser), Content: text, CreatedAt: start},
		{SessionID: sessionID, UserID: req.UserID, Role: string(llm.RoleAssistant), Content: outcome.Reply, CreatedAt: finished},
	}
	for _, msg := range messages {
		if err := s.repo.AppendMessage(ctx, msg); err != nil {
			logger.Error("failed to store chat message", slog.String("role", msg.Role), logging.Err(err))
		}
	}
	if err := s.repo.TouchSession(ctx, sessionID, finished); err != nil {
		logger.Warn("failed to touch session", logging.Err(err))
	}

	s.mirrorEvents(ctx, logger, req.UserID, outcome)

	entry := &store.InteractionLog{
		UserID:       req.UserID,
		SessionID:    sessionID,
		Utterance:    text,
		Reply:        outcome.Reply,
		Tools:        outcome.ToolNames(),
		SuccessCount: outcome.SuccessCount(),
		Duration:     finished.Sub(start),
		Status:       turnStatus(outcome),
		Voice:        req.Voice,
		CreatedAt:    finished,
	}
	if err := s.repo.LogInteraction(ctx, entry); err != nil {
		logger.Error("failed to write interaction log", logging.Err(err))
	}
}

// mirrorEvents keeps the local event table in step with successful
// createEvent, updateEvent and deleteEvent calls.
func (s *Service) mirrorEvents(ctx context.Context, logger *slog.Logger, userID string, outcome agent.Outcome) {
	for _, r := range outcome.MutationsPerformed {
		if !r.Success {
			continue
		}
		switch v := r.Result.(type) {
		case agent.EventCreated:
			rec := &store.EventRecord{
				UserID:     userID,
				ExternalID: v.EventID,
				Summary:    v.Summary,
				Start:      v.Start,
				End:        v.End,
				Attendees:  v.Attendees,
			}
			if err := s.repo.SaveEvent(ctx, rec); err != nil {
				logger.Warn("failed to mirror created event", slog.String("event_id", v.EventID), logging.Err(err))
			}
		case agent.EventUpdated:
			patch := store.EventRecordPatch{Summary: v.Summary, Start: v.Start, End: v.End}
			if err := s.repo.UpdateEventRecord(ctx, userID, v.EventID, patch); err != nil {
				logger.Warn("failed to update mirrored event", slog.String("event_id", v.EventID), logging.Err(err))
			}
		case agent.EventDeleted:
			if err := s.repo.DeleteEventRecord(ctx, userID, v.EventID); err != nil {
				logger.Warn("failed to remove mirrored event", slog.String("event_id", v.EventID), logging.Err(err))
			}
		}
	}
}

func turnStatus(outcome agent.Outcome) string {
	if outcome.Reply == agent.FallbackReply {
		return instrumentation.StatusFallback
	}
	return instrumentation.StatusSuccess
}

// toPriorContext converts stored chat messages to model messages. Only user
// and assistant turns are stored.
func toPriorContext(history []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		switch llm.Role(m.Role) {
		case llm.RoleUser:
			out = append(out, llm.UserMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, llm.AssistantMessage(m.Content))
		}
	}
	return out
}

// sessionTitle derives a one-line title from the first message.
func sessionTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
}
