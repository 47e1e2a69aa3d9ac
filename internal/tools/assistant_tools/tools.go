package assistant_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/ash/internal/agent"
	"github.com/teemow/ash/internal/llm"
	"github.com/teemow/ash/internal/server"
	"github.com/teemow/ash/internal/tools/batch"
	"github.com/teemow/ash/internal/tools/common"
)

// callerArgs are accepted by every tool and never forwarded to the agent.
var callerArgs = map[string]bool{
	"account":   true,
	"userId":    true,
	"sessionId": true,
}

// RegisterAssistantTools registers the scheduling tools and ash_chat with
// the MCP server.
func RegisterAssistantTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if sc.Orchestrator() == nil {
		return fmt.Errorf("orchestrator is not configured")
	}
	if err := RegisterCalendarTools(s, sc); err != nil {
		return fmt.Errorf("failed to register calendar tools: %w", err)
	}
	if err := RegisterChatTools(s, sc); err != nil {
		return fmt.Errorf("failed to register chat tools: %w", err)
	}
	return nil
}

func callerOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("account",
			mcp.Description("Calendar account name (default: the configured account)"),
		),
		mcp.WithString("userId",
			mcp.Description("User on whose behalf the tool runs (default: the account name)"),
		),
		mcp.WithString("sessionId",
			mcp.Description("Conversation session the call belongs to"),
		),
	}
}

func newTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	all := append([]mcp.ToolOption{mcp.WithDescription(description)}, callerOptions()...)
	return mcp.NewTool(name, append(all, opts...)...)
}

// toolArguments converts MCP arguments into the JSON the agent expects.
// listFields may be given as comma-separated strings by MCP clients.
func toolArguments(args map[string]any, listFields ...string) (json.RawMessage, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if callerArgs[k] {
			continue
		}
		out[k] = v
	}
	for _, field := range listFields {
		v, ok := out[field]
		if !ok {
			continue
		}
		list, err := batch.ParseStringList(v, field)
		if err != nil {
			return nil, err
		}
		out[field] = list
	}
	return json.Marshal(out)
}

func scopeFor(caller common.Caller, sc *server.ServerContext) agent.Scope {
	cfg := sc.AgentConfig()
	return agent.Scope{
		UserID:                caller.UserID,
		Account:               caller.Account,
		SessionID:             caller.SessionID,
		Now:                   time.Now(),
		Location:              cfg.Location,
		DefaultMeetingMinutes: cfg.DefaultMeetingMinutes,
	}
}

// executeTool runs one agent tool for an MCP request.
func executeTool(ctx context.Context, sc *server.ServerContext, name agent.ToolName, request mcp.CallToolRequest, listFields ...string) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	raw, err := toolArguments(args, listFields...)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := sc.Orchestrator().ExecuteTool(ctx, scopeFor(common.CallerFromArgs(args, sc), sc), agentCall(name, raw))
	if !result.Success {
		return mcp.NewToolResultError(result.Error), nil
	}
	return mcp.NewToolResultText(result.ModelContent()), nil
}

func agentCall(name agent.ToolName, raw json.RawMessage) llm.ToolCall {
	return llm.ToolCall{ID: "mcp-" + uuid.NewString(), Name: string(name), Arguments: raw}
}

// handler adapts executeTool to an instrumented MCP handler.
func handler(sc *server.ServerContext, name agent.ToolName, listFields ...string) mcpserver.ToolHandlerFunc {
	return mcpserver.ToolHandlerFunc(common.InstrumentedToolHandler(string(name), sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return executeTool(ctx, sc, name, request, listFields...)
		}))
}
