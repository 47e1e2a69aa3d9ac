package agent

import (
	"encoding/json"
	"time"
)

// ToolResult is the outcome of one dispatched tool call.
type ToolResult struct {
	CallID  string   `json:"callId"`
	Tool    ToolName `json:"tool"`
	Success bool     `json:"success"`
	Result  any      `json:"result,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ModelContent is the JSON payload reported back to the model for this call.
func (r ToolResult) ModelContent() string {
	var payload any
	if r.Success {
		payload = struct {
			Success bool `json:"success"`
			Result  any  `json:"result"`
		}{true, r.Result}
	} else {
		payload = struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}{false, r.Error}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"success":false,"error":"result could not be encoded"}`
	}
	return string(data)
}

func failedResult(callID string, tool ToolName, err error) ToolResult {
	return ToolResult{CallID: callID, Tool: tool, Success: false, Error: err.Error()}
}

// Slot is a free slot as reported to the model.
type Slot struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"durationMinutes"`
}

// EventCreated is the result of createEvent.
type EventCreated struct {
	EventID   string    `json:"eventId"`
	Summary   string    `json:"summary"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Attendees []string  `json:"attendees,omitempty"`
}

// EventUpdated is the result of updateEvent. Only the changed fields that
// the event list shows are set.
type EventUpdated struct {
	EventID string     `json:"eventId"`
	Updated bool       `json:"updated"`
	Summary *string    `json:"summary,omitempty"`
	Start   *time.Time `json:"start,omitempty"`
	End     *time.Time `json:"end,omitempty"`
}

// EventDeleted is the result of deleteEvent.
type EventDeleted struct {
	EventID string `json:"eventId"`
	Deleted bool   `json:"deleted"`
}

// InviteSent is the result of sendInvite.
type InviteSent struct {
	Sent       bool     `json:"sent"`
	Recipients []string `json:"recipients"`
}

// ReminderScheduled is the result of setReminder.
type ReminderScheduled struct {
	ReminderID string    `json:"reminderId"`
	RemindAt   time.Time `json:"remindAt"`
}

// Outcome is everything a turn produced.
type Outcome struct {
	Reply              string       `json:"reply"`
	MutationsPerformed []ToolResult `json:"mutations"`
}

// SuccessCount returns how many dispatched calls succeeded.
func (o Outcome) SuccessCount() int {
	n := 0
	for _, r := range o.MutationsPerformed {
		if r.Success {
			n++
		}
	}
	return n
}

// ToolNames returns the names of the dispatched tools in call order.
func (o Outcome) ToolNames() []string {
	names := make([]string, 0, len(o.MutationsPerformed))
	for _, r := range o.MutationsPerformed {
		names = append(names, string(r.Tool))
	}
	return names
}
