package assistant_tools

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/ash/internal/agent"
	"github.com/teemow/ash/internal/server"
	"github.com/teemow/ash/internal/tools/batch"
	"github.com/teemow/ash/internal/tools/common"
)

// RegisterCalendarTools registers the seven scheduling tools and the
// deleteEvents batch tool.
func RegisterCalendarTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	s.AddTool(newTool(string(agent.ToolGetFreeSlots),
		"Find free time slots in the calendar between two timestamps",
		mcp.WithString("start",
			mcp.Required(),
			mcp.Description("Start of the search window (ISO 8601, e.g. '2025-01-06T09:00:00Z')"),
		),
		mcp.WithString("end",
			mcp.Required(),
			mcp.Description("End of the search window (ISO 8601)"),
		),
		mcp.WithNumber("durationMinutes",
			mcp.Description("Minimum slot length in minutes (default: the configured meeting length)"),
		),
	), handler(sc, agent.ToolGetFreeSlots))

	s.AddTool(newTool(string(agent.ToolCreateEvent),
		"Create a calendar event",
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("Event title"),
		),
		mcp.WithString("start",
			mcp.Required(),
			mcp.Description("Event start (ISO 8601)"),
		),
		mcp.WithString("end",
			mcp.Required(),
			mcp.Description("Event end (ISO 8601)"),
		),
		mcp.WithString("description",
			mcp.Description("Event description"),
		),
		mcp.WithString("location",
			mcp.Description("Event location"),
		),
		mcp.WithString("attendees",
			mcp.Description("Comma-separated list of attendee email addresses"),
		),
	), handler(sc, agent.ToolCreateEvent, "attendees"))

	s.AddTool(newTool(string(agent.ToolUpdateEvent),
		"Change fields of an existing calendar event",
		mcp.WithString("eventId",
			mcp.Required(),
			mcp.Description("ID of the event to change"),
		),
		mcp.WithString("summary",
			mcp.Description("New title"),
		),
		mcp.WithString("start",
			mcp.Description("New start (ISO 8601)"),
		),
		mcp.WithString("end",
			mcp.Description("New end (ISO 8601)"),
		),
		mcp.WithString("description",
			mcp.Description("New description"),
		),
		mcp.WithString("location",
			mcp.Description("New location"),
		),
	), handler(sc, agent.ToolUpdateEvent))

	s.AddTool(newTool(string(agent.ToolDeleteEvent),
		"Delete a calendar event",
		mcp.WithString("eventId",
			mcp.Required(),
			mcp.Description("ID of the event to delete"),
		),
	), handler(sc, agent.ToolDeleteEvent))

	s.AddTool(newTool("deleteEvents",
		"Delete several calendar events at once",
		mcp.WithString("eventIds",
			mcp.Required(),
			mcp.Description("Comma-separated list of event IDs to delete"),
		),
	), mcpserver.ToolHandlerFunc(common.InstrumentedToolHandler("deleteEvents", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleDeleteEvents(ctx, request, sc)
		})))

	s.AddTool(newTool(string(agent.ToolGetUpcomingEvents),
		"List upcoming calendar events",
		mcp.WithNumber("days",
			mcp.Description("How many days ahead to look (default: 7, max: 31)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of events (default: 10, max: 50)"),
		),
	), handler(sc, agent.ToolGetUpcomingEvents))

	s.AddTool(newTool(string(agent.ToolSendInvite),
		"Email a meeting invitation to one or more recipients",
		mcp.WithString("recipients",
			mcp.Required(),
			mcp.Description("Comma-separated list of recipient email addresses"),
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("Meeting title"),
		),
		mcp.WithString("start",
			mcp.Required(),
			mcp.Description("Meeting start (ISO 8601)"),
		),
		mcp.WithString("end",
			mcp.Description("Meeting end (ISO 8601)"),
		),
		mcp.WithString("message",
			mcp.Description("Personal note to include"),
		),
	), handler(sc, agent.ToolSendInvite, "recipients"))

	s.AddTool(newTool(string(agent.ToolSetReminder),
		"Schedule an email reminder",
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("What to be reminded about"),
		),
		mcp.WithString("remindAt",
			mcp.Required(),
			mcp.Description("When to send the reminder (ISO 8601, must be in the future)"),
		),
		mcp.WithString("eventId",
			mcp.Description("Related event ID"),
		),
	), handler(sc, agent.ToolSetReminder))

	return nil
}

func handleDeleteEvents(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	ids, err := batch.ParseStringList(args["eventIds"], "eventIds")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	scope := scopeFor(common.CallerFromArgs(args, sc), sc)
	results := batch.Process(ctx, ids, func(ctx context.Context, id string) (string, error) {
		raw, err := toolArguments(map[string]any{"eventId": id})
		if err != nil {
			return "", err
		}
		result := sc.Orchestrator().ExecuteTool(ctx, scope, agentCall(agent.ToolDeleteEvent, raw))
		if !result.Success {
			return "", errors.New(result.Error)
		}
		return "deleted", nil
	})

	summary := batch.Summarize(results)
	if summary.Successful == 0 {
		return mcp.NewToolResultError(summary.JSON()), nil
	}
	return mcp.NewToolResultText(summary.JSON()), nil
}
