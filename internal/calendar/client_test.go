package calendar

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calendar "google.golang.org/api/calendar/v3"

	"github.com/teemow/ash/internal/agent"
)

type staticClients struct {
	client *http.Client
}

func (s staticClients) HTTPClient(string) (*http.Client, error) {
	return s.client, nil
}

type recordedRequest struct {
	method string
	path   string
	query  string
	body   string
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request, body string)
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		api.mu.Lock()
		api.requests = append(api.requests, recordedRequest{r.Method, r.URL.Path, r.URL.RawQuery, string(data)})
		api.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		api.handler(w, r, string(data))
	}))
	t.Cleanup(srv.Close)

	return NewClient(staticClients{client: srv.Client()}, Config{Endpoint: srv.URL + "/", TimeZone: "UTC"}, nil)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestListBusy(t *testing.T) {
	api := &fakeAPI{}
	api.handler = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(t, w, map[string]any{
			"calendars": map[string]any{
				"primary": map[string]any{
					"busy": []map[string]string{
						{"start": "2025-03-11T10:00:00Z", "end": "2025-03-11T11:00:00Z"},
						{"start": "garbage", "end": "2025-03-11T12:00:00Z"},
					},
				},
			},
		})
	}
	c := newTestClient(t, api)

	busy, err := c.ListBusy(context.Background(), "default",
		time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC), time.Date(2025, 3, 11, 17, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.True(t, busy[0].Start.Equal(time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)))

	require.Len(t, api.requests, 1)
	assert.Equal(t, http.MethodPost, api.requests[0].method)
	assert.True(t, strings.HasSuffix(api.requests[0].path, "/freeBusy"))

	var req calendar.FreeBusyRequest
	require.NoError(t, json.Unmarshal([]byte(api.requests[0].body), &req))
	assert.Equal(t, "2025-03-11T09:00:00Z", req.TimeMin)
	require.Len(t, req.Items, 1)
	assert.Equal(t, "primary", req.Items[0].Id)
}

func TestListBusy_CalendarError(t *testing.T) {
	api := &fakeAPI{}
	api.handler = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(t, w, map[string]any{
			"calendars": map[string]any{
				"primary": map[string]any{"errors": []map[string]string{{"reason": "notFound"}}},
			},
		})
	}
	c := newTestClient(t, api)

	_, err := c.ListBusy(context.Background(), "default", time.Now(), time.Now().Add(time.Hour))
	assert.ErrorContains(t, err, "notFound")
}

func TestListEvents(t *testing.T) {
	api := &fakeAPI{}
	api.handler = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(t, w, map[string]any{
			"items": []map[string]any{
				{
					"id": "e1", "summary": "Standup", "status": "confirmed",
					"start":     map[string]string{"dateTime": "2025-03-11T09:00:00Z"},
					"end":       map[string]string{"dateTime": "2025-03-11T09:15:00Z"},
					"attendees": []map[string]string{{"email": "bob@example.com"}},
				},
				{"id": "e2", "status": "cancelled"},
				{
					"id": "e3", "summary": "Holiday",
					"start": map[string]string{"date": "2025-03-12"},
					"end":   map[string]string{"date": "2025-03-13"},
				},
			},
		})
	}
	c := newTestClient(t, api)

	from := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	events, err := c.ListEvents(context.Background(), "default", from, from.AddDate(0, 0, 7), 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Standup", events[0].Summary)
	assert.Equal(t, []string{"bob@example.com"}, events[0].Attendees)
	assert.Equal(t, "e3", events[1].ID)
	assert.True(t, events[1].Start.Equal(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)))

	q := api.requests[0].query
	assert.Contains(t, q, "singleEvents=true")
	assert.Contains(t, q, "orderBy=startTime")
	assert.Contains(t, q, "maxResults=5")
}

func TestCreateEvent(t *testing.T) {
	api := &fakeAPI{}
	api.handler = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(t, w, map[string]any{"id": "new-1"})
	}
	c := newTestClient(t, api)

	id, err := c.CreateEvent(context.Background(), "default", agent.EventSpec{
		Summary:   "Lunch",
		Start:     time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC),
		End:       time.Date(2025, 3, 11, 13, 0, 0, 0, time.UTC),
		Attendees: []string{"amy@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", id)

	req := api.requests[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.True(t, strings.HasSuffix(req.path, "/calendars/primary/events"))
	assert.Contains(t, req.query, "sendUpdates=all")

	var sent calendar.Event
	require.NoError(t, json.Unmarshal([]byte(req.body), &sent))
	assert.Equal(t, "Lunch", sent.Summary)
	assert.Equal(t, "2025-03-11T12:00:00Z", sent.Start.DateTime)
	assert.Equal(t, "UTC", sent.Start.TimeZone)
	require.Len(t, sent.Attendees, 1)
	assert.Equal(t, "amy@example.com", sent.Attendees[0].Email)
}

func TestUpdateEvent_PreservesUnpatchedFields(t *testing.T) {
	api := &fakeAPI{}
	api.handler = func(w http.ResponseWriter, r *http.Request, body string) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, map[string]any{
				"id": "e1", "summary": "Old", "location": "Room 1",
				"start": map[string]string{"dateTime": "2025-03-11T09:00:00Z"},
				"end":   map[string]string{"dateTime": "2025-03-11T10:00:00Z"},
			})
		case http.MethodPut:
			_, _ = w.Write([]byte(body))
		}
	}
	c := newTestClient(t, api)

	summary := "New"
	require.NoError(t, c.UpdateEvent(context.Background(), "default", "e1", agent.EventPatch{Summary: &summary}))

	require.Len(t, api.requests, 2)
	var put calendar.Event
	require.NoError(t, json.Unmarshal([]byte(api.requests[1].body), &put))
	assert.Equal(t, "New", put.Summary)
	assert.Equal(t, "Room 1", put.Location)
	assert.Equal(t, "2025-03-11T09:00:00Z", put.Start.DateTime)
}

func TestUpdateEvent_RejectsInvertedResult(t *testing.T) {
	api := &fakeAPI{}
	api.handler = func(w http.ResponseWriter, r *http.Request, body string) {
		writeJSON(t, w, map[string]any{
			"id":    "e1",
			"start": map[string]string{"dateTime": "2025-03-11T09:00:00Z"},
			"end":   map[string]string{"dateTime": "2025-03-11T10:00:00Z"},
		})
	}
	c := newTestClient(t, api)

	start := time.Date(2025, 3, 11, 11, 0, 0, 0, time.UTC)
	err := c.UpdateEvent(context.Background(), "default", "e1", agent.EventPatch{Start: &start})
	assert.ErrorContains(t, err, "end before it starts")
	assert.Len(t, api.requests, 1, "no write after a failed check")
}

func TestDeleteEvent(t *testing.T) {
	api := &fakeAPI{}
	api.handler = func(w http.ResponseWriter, r *http.Request, body string) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
	c := newTestClient(t, api)

	require.NoError(t, c.DeleteEvent(context.Background(), "default", "e1"))
	assert.Equal(t, http.MethodDelete, api.requests[0].method)

	err := c.DeleteEvent(context.Background(), "default", "missing")
	assert.ErrorContains(t, err, "failed to delete event")
}
