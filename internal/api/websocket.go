package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/teemow/ash/internal/assistant"
	"github.com/teemow/ash/internal/logging"
)

const wsWriteTimeout = 10 * time.Second

type wsRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Account   string `json:"account,omitempty"`
	Message   string `json:"message"`
}

type wsResponse struct {
	*assistant.Response
	Error string `json:"error,omitempty"`
}

// HandleWebSocket upgrades the connection and answers every text frame with
// one reply frame. Frames without a sessionId continue the connection's
// current session.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		Error(w, http.StatusBadRequest, "userId is required")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.allowedOrigins),
	})
	if err != nil {
		h.logger.Warn("failed to accept websocket", logging.Err(err))
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bye"); closeErr != nil {
			h.logger.Debug("failed to close websocket", logging.Err(closeErr))
		}
	}()

	ctx := r.Context()
	h.metrics.IncrementActiveWebsockets(ctx)
	defer h.metrics.DecrementActiveWebsockets(ctx)

	logger := h.logger.With(logging.UserHash(uid))
	logger.Info("websocket connected")

	sessionID := ""
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				logger.Info("websocket closed")
			} else {
				logger.Warn("websocket read failed", logging.Err(err))
			}
			return
		}
		if typ != websocket.MessageText {
			if err := h.writeFrame(ctx, ws, wsResponse{Error: "only text frames are supported"}); err != nil {
				return
			}
			continue
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := h.writeFrame(ctx, ws, wsResponse{Error: "invalid message: " + err.Error()}); err != nil {
				return
			}
			continue
		}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}

		resp, err := h.chat(ctx, assistant.Request{
			UserID:    uid,
			Account:   req.Account,
			SessionID: req.SessionID,
			Text:      req.Message,
		})
		frame := wsResponse{Response: resp}
		if err != nil {
			frame = wsResponse{Error: err.Error()}
			if statusFor(err) == http.StatusInternalServerError {
				logger.Error("websocket turn failed", logging.Err(err))
				frame.Error = "internal error"
			}
		} else {
			sessionID = resp.SessionID
		}
		if err := h.writeFrame(ctx, ws, frame); err != nil {
			logger.Warn("websocket write failed", logging.Err(err))
			return
		}
	}
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

// originPatterns turns allowed origins into the host patterns expected by
// websocket.Accept.
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}

