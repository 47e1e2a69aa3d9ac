package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsExchange(t *testing.T, ctx context.Context, conn *websocket.Conn, msg string) map[string]any {
	t.Helper()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestWebSocketChat(t *testing.T) {
	router, _ := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?userId=jane"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	first := wsExchange(t, ctx, conn, `{"message":"hello"}`)
	assert.Equal(t, "echo: hello (0 prior)", first["reply"])
	sessionID, _ := first["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	second := wsExchange(t, ctx, conn, `{"message":"again"}`)
	assert.Equal(t, sessionID, second["sessionId"], "frames continue the connection's session")
	assert.Equal(t, "echo: again (2 prior)", second["reply"])

	bad := wsExchange(t, ctx, conn, `not json`)
	assert.Contains(t, bad["error"], "invalid message")

	empty := wsExchange(t, ctx, conn, `{"message":"  "}`)
	assert.Contains(t, empty["error"], "message is required")

	fresh := wsExchange(t, ctx, conn, `{"sessionId":"unknown","message":"hi"}`)
	assert.Contains(t, fresh["error"], "session not found")
}

func TestWebSocket_RequiresUser(t *testing.T) {
	router, _ := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
