package agent

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teemow/ash/internal/llm"
)

// ToolName identifies one of the scheduling tools offered to the model.
type ToolName string

const (
	ToolGetFreeSlots      ToolName = "getFreeSlots"
	ToolCreateEvent       ToolName = "createEvent"
	ToolUpdateEvent       ToolName = "updateEvent"
	ToolDeleteEvent       ToolName = "deleteEvent"
	ToolGetUpcomingEvents ToolName = "getUpcomingEvents"
	ToolSendInvite        ToolName = "sendInvite"
	ToolSetReminder       ToolName = "setReminder"
)

// AllTools lists the tool names in the order they are offered to the model.
var AllTools = []ToolName{
	ToolGetFreeSlots,
	ToolCreateEvent,
	ToolUpdateEvent,
	ToolDeleteEvent,
	ToolGetUpcomingEvents,
	ToolSendInvite,
	ToolSetReminder,
}

const (
	// DefaultMaxPriorTurns is how many earlier messages are sent to the model.
	DefaultMaxPriorTurns = 6

	// DefaultMeetingMinutes is used when getFreeSlots is called without a duration.
	DefaultMeetingMinutes = 30

	// FallbackReply is returned whenever a turn cannot be completed.
	FallbackReply = "I apologize, but I encountered an error processing your request. Please try again."

	// EmptyReply is returned when the model answers with neither text nor tools.
	EmptyReply = "I'm not sure how to help with that. Could you rephrase your scheduling request?"

	defaultPersona = `You are ASH, a friendly and efficient scheduling assistant.
You help the user manage their calendar: find free time, create, move and
cancel events, list what is coming up, send invitations and set reminders.
Always use the provided tools to read or change the calendar; never invent
event IDs. Use ISO 8601 timestamps with an offset in tool arguments.
Resolve relative dates such as "tomorrow" or "next Friday" against the
current time given below. Keep replies short and confirm what you did.`
)

// Config is the per-turn configuration of the orchestrator. It is a plain
// value and may be shared between goroutines.
type Config struct {
	Persona               string
	Tools                 []llm.ToolSchema
	MaxPriorTurns         int
	DefaultMeetingMinutes int
	Location              *time.Location
}

// DefaultConfig returns the built-in persona and all tool schemas in UTC.
func DefaultConfig() Config {
	return Config{
		Persona:               defaultPersona,
		Tools:                 ToolSchemas(),
		MaxPriorTurns:         DefaultMaxPriorTurns,
		DefaultMeetingMinutes: DefaultMeetingMinutes,
		Location:              time.UTC,
	}
}

// personaFile is the YAML layout of ASH_PERSONA_FILE.
type personaFile struct {
	Persona               string `yaml:"persona"`
	DefaultMeetingMinutes int    `yaml:"default_meeting_minutes"`
	MaxPriorTurns         int    `yaml:"max_prior_turns"`
	Timezone              string `yaml:"timezone"`
}

// LoadPersonaFile applies the overrides found in a YAML persona file to cfg.
func LoadPersonaFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read persona file: %w", err)
	}

	var pf personaFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return cfg, fmt.Errorf("failed to parse persona file %s: %w", path, err)
	}

	if p := strings.TrimSpace(pf.Persona); p != "" {
		cfg.Persona = p
	}
	if pf.DefaultMeetingMinutes > 0 {
		cfg.DefaultMeetingMinutes = pf.DefaultMeetingMinutes
	}
	if pf.MaxPriorTurns > 0 {
		cfg.MaxPriorTurns = pf.MaxPriorTurns
	}
	if pf.Timezone != "" {
		loc, err := time.LoadLocation(pf.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("invalid timezone %q in persona file: %w", pf.Timezone, err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Config) maxPriorTurns() int {
	if c.MaxPriorTurns <= 0 {
		return DefaultMaxPriorTurns
	}
	return c.MaxPriorTurns
}

// systemPrompt renders the persona with the turn's reference time.
func (c Config) systemPrompt(now time.Time) string {
	loc := c.location()
	local := now.In(loc)
	return fmt.Sprintf("%s\n\nCurrent time: %s (%s, %s).",
		c.Persona, local.Format(time.RFC3339), loc.String(), local.Weekday())
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func timeProp(desc string) map[string]any {
	return map[string]any{"type": "string", "format": "date-time", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func stringListProp(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToolSchemas returns the JSON schemas of all scheduling tools.
func ToolSchemas() []llm.ToolSchema {
	return []llm.ToolSchema{
		{
			Name:        string(ToolGetFreeSlots),
			Description: "Find free time slots in the user's calendar between two timestamps.",
			Parameters: object(map[string]any{
				"start":           timeProp("Start of the search window (ISO 8601)"),
				"end":             timeProp("End of the search window (ISO 8601)"),
				"durationMinutes": intProp("Minimum slot length in minutes"),
			}, "start", "end"),
		},
		{
			Name:        string(ToolCreateEvent),
			Description: "Create a calendar event.",
			Parameters: object(map[string]any{
				"summary":     stringProp("Event title"),
				"start":       timeProp("Event start (ISO 8601)"),
				"end":         timeProp("Event end (ISO 8601)"),
				"description": stringProp("Event description"),
				"location":    stringProp("Event location"),
				"attendees":   stringListProp("Attendee email addresses"),
			}, "summary", "start", "end"),
		},
		{
			Name:        string(ToolUpdateEvent),
			Description: "Change fields of an existing calendar event.",
			Parameters: object(map[string]any{
				"eventId":     stringProp("ID of the event to change"),
				"summary":     stringProp("New title"),
				"start":       timeProp("New start (ISO 8601)"),
				"end":         timeProp("New end (ISO 8601)"),
				"description": stringProp("New description"),
				"location":    stringProp("New location"),
			}, "eventId"),
		},
		{
			Name:        string(ToolDeleteEvent),
			Description: "Delete a calendar event.",
			Parameters: object(map[string]any{
				"eventId": stringProp("ID of the event to delete"),
			}, "eventId"),
		},
		{
			Name:        string(ToolGetUpcomingEvents),
			Description: "List the user's upcoming events.",
			Parameters: object(map[string]any{
				"days":  intProp("How many days ahead to look (default 7, max 31)"),
				"limit": intProp("Maximum number of events (default 10)"),
			}),
		},
		{
			Name:        string(ToolSendInvite),
			Description: "Email an invitation for a meeting to one or more recipients.",
			Parameters: object(map[string]any{
				"recipients": stringListProp("Recipient email addresses"),
				"summary":    stringProp("Meeting title"),
				"start":      timeProp("Meeting start (ISO 8601)"),
				"end":        timeProp("Meeting end (ISO 8601)"),
				"message":    stringProp("Personal note to include"),
			}, "recipients", "summary", "start"),
		},
		{
			Name:        string(ToolSetReminder),
			Description: "Schedule an email reminder for the user.",
			Parameters: object(map[string]any{
				"message":  stringProp("What to remind the user about"),
				"remindAt": timeProp("When to send the reminder (ISO 8601)"),
				"eventId":  stringProp("Related event ID"),
			}, "message", "remindAt"),
		},
	}
}
