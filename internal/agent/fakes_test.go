package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/teemow/ash/internal/availability"
	"github.com/teemow/ash/internal/llm"
)

type modelReply struct {
	completion *llm.Completion
	err        error
	panics     bool
}

// scriptedModel returns its replies in order and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []modelReply
	requests [][]llm.Message
	tools    [][]llm.ToolSchema
}

func (m *scriptedModel) Complete(_ context.Context, messages []llm.Message, tools []llm.ToolSchema) (*llm.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, append([]llm.Message(nil), messages...))
	m.tools = append(m.tools, tools)
	if len(m.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	if r.panics {
		panic("model exploded")
	}
	return r.completion, r.err
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func textReply(text string) modelReply {
	return modelReply{completion: &llm.Completion{Text: text}}
}

func toolReply(calls ...llm.ToolCall) modelReply {
	return modelReply{completion: &llm.Completion{ToolCalls: calls}}
}

func call(id string, name ToolName, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: string(name), Arguments: json.RawMessage(args)}
}

type fakeCalendar struct {
	busy      availability.BusyList
	events    []CalendarEvent
	created   []EventSpec
	updated   map[string]EventPatch
	deleted   []string
	failOn    map[string]error
	listLimit int
	listFrom  time.Time
	listTo    time.Time
	panicOn   string
}

func (c *fakeCalendar) fail(op string) error {
	if c.panicOn == op {
		panic("calendar exploded")
	}
	if c.failOn == nil {
		return nil
	}
	return c.failOn[op]
}

func (c *fakeCalendar) ListBusy(_ context.Context, _ string, _, _ time.Time) (availability.BusyList, error) {
	if err := c.fail("listBusy"); err != nil {
		return nil, err
	}
	return c.busy, nil
}

func (c *fakeCalendar) CreateEvent(_ context.Context, _ string, spec EventSpec) (string, error) {
	if err := c.fail("create"); err != nil {
		return "", err
	}
	c.created = append(c.created, spec)
	return "evt-" + spec.Summary, nil
}

func (c *fakeCalendar) UpdateEvent(_ context.Context, _, id string, patch EventPatch) error {
	if err := c.fail("update"); err != nil {
		return err
	}
	if c.updated == nil {
		c.updated = map[string]EventPatch{}
	}
	c.updated[id] = patch
	return nil
}

func (c *fakeCalendar) DeleteEvent(_ context.Context, _, id string) error {
	if err := c.fail("delete"); err != nil {
		return err
	}
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *fakeCalendar) ListEvents(_ context.Context, _ string, from, to time.Time, limit int) ([]CalendarEvent, error) {
	if err := c.fail("list"); err != nil {
		return nil, err
	}
	c.listFrom, c.listTo, c.listLimit = from, to, limit
	return c.events, nil
}

type sentMail struct {
	account    string
	recipients []string
	subject    string
	body       string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendMail(_ context.Context, account string, recipients []string, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{account, recipients, subject, body})
	return nil
}

type fakeReminders struct {
	scheduled []Reminder
}

func (r *fakeReminders) ScheduleReminder(_ context.Context, rem Reminder) (string, error) {
	r.scheduled = append(r.scheduled, rem)
	return "rem-1", nil
}
