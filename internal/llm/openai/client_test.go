package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/ash/internal/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/",
		Model:   "test-model",
	}, nil)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(Config{APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.Model())
	assert.Equal(t, DefaultTranscriptionModel, client.transcriptionModel)
	assert.Equal(t, "openai", client.Name())
}

func TestComplete_ToolCalls(t *testing.T) {
	var captured map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "getFreeSlots", "arguments": "{\"durationMinutes\":30}"}
					}, {
						"id": "call_2",
						"type": "function",
						"function": {"name": "getUpcomingEvents", "arguments": ""}
					}]
				}
			}]
		}`))
	})

	messages := []llm.Message{
		llm.SystemMessage("persona"),
		llm.UserMessage("find me 30 minutes tomorrow"),
	}
	tools := []llm.ToolSchema{{
		Name:        "getFreeSlots",
		Description: "Find free slots",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}}

	completion, err := client.Complete(context.Background(), messages, tools)
	require.NoError(t, err)
	require.True(t, completion.HasToolCalls())
	require.Len(t, completion.ToolCalls, 2)

	assert.Equal(t, "call_1", completion.ToolCalls[0].ID)
	assert.Equal(t, "getFreeSlots", completion.ToolCalls[0].Name)
	assert.JSONEq(t, `{"durationMinutes":30}`, string(completion.ToolCalls[0].Arguments))
	assert.JSONEq(t, `{}`, string(completion.ToolCalls[1].Arguments))

	assert.Equal(t, "test-model", captured["model"])
	sent, ok := captured["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, sent, 2)
	sentTools, ok := captured["tools"].([]any)
	require.True(t, ok)
	require.Len(t, sentTools, 1)
	fn := sentTools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "getFreeSlots", fn["name"])
}

func TestComplete_TextAndToolHistory(t *testing.T) {
	var captured map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-2",
			"object": "chat.completion",
			"created": 1,
			"model": "test-model",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "You are free at 10am."}}]
		}`))
	})

	messages := []llm.Message{
		llm.SystemMessage("persona"),
		llm.UserMessage("when am I free?"),
		{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID: "call_1", Name: "getFreeSlots", Arguments: json.RawMessage(`{}`),
			}},
		},
		llm.ToolMessage("call_1", `{"success":true}`),
	}

	completion, err := client.Complete(context.Background(), messages, nil)
	require.NoError(t, err)
	assert.Equal(t, "You are free at 10am.", completion.Text)
	assert.False(t, completion.HasToolCalls())

	sent := captured["messages"].([]any)
	require.Len(t, sent, 4)
	assistant := sent[2].(map[string]any)
	assert.Equal(t, "assistant", assistant["role"])
	assert.Len(t, assistant["tool_calls"], 1)
	tool := sent[3].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
	_, hasTools := captured["tools"]
	assert.False(t, hasTools)
}

func TestComplete_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit"}}`))
	})

	_, err := client.Complete(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestComplete_NoChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "created": 1, "model": "m", "choices": []}`))
	})

	_, err := client.Complete(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil)
	assert.Error(t, err)
}

func TestTranscribe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/audio/transcriptions"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "note.m4a", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": " book lunch with Sam on Friday "}`))
	})

	text, err := client.Transcribe(context.Background(), strings.NewReader("fake audio"), "note.m4a")
	require.NoError(t, err)
	assert.Equal(t, "book lunch with Sam on Friday", text)
}
