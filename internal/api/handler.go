package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teemow/ash/internal/assistant"
	"github.com/teemow/ash/internal/availability"
	"github.com/teemow/ash/internal/instrumentation"
	"github.com/teemow/ash/internal/logging"
	"github.com/teemow/ash/internal/store"
)

const (
	// DefaultTurnTimeout bounds a single chat turn.
	DefaultTurnTimeout = 60 * time.Second

	// maxAudioBytes matches the transcription upload limit.
	maxAudioBytes = 25 << 20

	defaultEventsWindow = 7 * 24 * time.Hour
)

// Assistant is the chat service behind the API.
type Assistant interface {
	Chat(ctx context.Context, req assistant.Request) (*assistant.Response, error)
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
	Sessions(ctx context.Context, userID string) ([]store.Session, error)
	Messages(ctx context.Context, userID, sessionID string) ([]store.Message, error)
	Events(ctx context.Context, userID string, from, to time.Time) ([]store.EventRecord, error)
}

// Handler serves the /api routes.
type Handler struct {
	assistant      Assistant
	logger         *slog.Logger
	metrics        *instrumentation.Metrics
	turnTimeout    time.Duration
	allowedOrigins []string
	now            func() time.Time
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	TurnTimeout    time.Duration
	AllowedOrigins []string
	Metrics        *instrumentation.Metrics
	Logger         *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(a Assistant, cfg HandlerConfig) *Handler {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		assistant:      a,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		turnTimeout:    cfg.TurnTimeout,
		allowedOrigins: cfg.AllowedOrigins,
		now:            time.Now,
	}
}

// RegisterRoutes registers the /api routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/sessions", h.HandleSessions)
		r.Get("/sessions/{id}/messages", h.HandleMessages)
		r.Get("/events", h.HandleEvents)
		r.Post("/availability", h.HandleAvailability)
		r.Post("/transcribe", h.HandleTranscribe)
		r.Get("/ws", h.HandleWebSocket)
	})
}

type chatRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
	Account   string `json:"account,omitempty"`
	Message   string `json:"message"`
}

// HandleChat runs one turn.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.chat(r.Context(), assistant.Request{
		UserID:    req.UserID,
		Account:   req.Account,
		SessionID: req.SessionID,
		Text:      req.Message,
	})
	if err != nil {
		h.logFailure(r, "chat", err)
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (h *Handler) chat(ctx context.Context, req assistant.Request) (*assistant.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, h.turnTimeout)
	defer cancel()
	return h.assistant.Chat(ctx, req)
}

// HandleSessions lists a user's sessions.
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.assistant.Sessions(r.Context(), userID(r))
	if err != nil {
		h.logFailure(r, "sessions", err)
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// HandleMessages returns a session transcript.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.assistant.Messages(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure(r, "messages", err)
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// HandleEvents lists mirrored events. The window defaults to the next seven
// days.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := h.now()
	to := from.Add(defaultEventsWindow)
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			Error(w, http.StatusBadRequest, "from must be an RFC 3339 timestamp")
			return
		}
		if q.Get("to") == "" {
			to = from.Add(defaultEventsWindow)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			Error(w, http.StatusBadRequest, "to must be an RFC 3339 timestamp")
			return
		}
	}

	events, err := h.assistant.Events(r.Context(), userID(r), from, to)
	if err != nil {
		h.logFailure(r, "events", err)
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"events": events})
}

type availabilityRequest struct {
	Start           time.Time               `json:"start"`
	End             time.Time               `json:"end"`
	DurationMinutes int                     `json:"durationMinutes"`
	Busy            []availability.Interval `json:"busy"`
}

// HandleAvailability computes free slots for the posted busy list.
func (h *Handler) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	for i, iv := range req.Busy {
		if !iv.Valid() {
			Error(w, http.StatusBadRequest, fmt.Sprintf("busy[%d]: start must be before end", i))
			return
		}
	}

	slots, err := availability.ComputeFreeSlots(req.Start, req.End, req.Busy, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	if slots == nil {
		slots = []availability.FreeSlot{}
	}
	JSON(w, http.StatusOK, map[string]any{"slots": slots})
}

type transcribeResponse struct {
	Text string `json:"text"`
	*assistant.Response
}

// HandleTranscribe converts an uploaded audio file to text. With ?chat=1
// the text is also sent to the assistant.
func (h *Handler) HandleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		Error(w, http.StatusBadRequest, "expected a multipart form with an audio file")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		Error(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	text, err := h.assistant.Transcribe(r.Context(), file, header.Filename)
	if err != nil {
		h.logFailure(r, "transcribe", err)
		writeError(w, err)
		return
	}

	out := transcribeResponse{Text: text}
	if wantsChat(r.URL.Query().Get("chat")) {
		uid := r.FormValue("userId")
		if uid == "" {
			uid = userID(r)
		}
		resp, err := h.chat(r.Context(), assistant.Request{
			UserID:    uid,
			Account:   r.FormValue("account"),
			SessionID: r.FormValue("sessionId"),
			Text:      text,
			Voice:     true,
		})
		if err != nil {
			h.logFailure(r, "transcribe_chat", err)
			writeError(w, err)
			return
		}
		out.Response = resp
	}
	JSON(w, http.StatusOK, out)
}

func (h *Handler) logFailure(r *http.Request, op string, err error) {
	level := slog.LevelWarn
	if statusFor(err) == http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.LogAttrs(r.Context(), level, "api request failed", logging.Operation(op), logging.Err(err))
}

// userID reads the caller from the X-User-ID header or the userId query.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("userId")
}

func wantsChat(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
