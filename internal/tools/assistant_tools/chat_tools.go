package assistant_tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/ash/internal/assistant"
	"github.com/teemow/ash/internal/server"
	"github.com/teemow/ash/internal/tools/common"
)

// RegisterChatTools registers ash_chat and ash_sessions.
func RegisterChatTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	chatTool := newTool("ash_chat",
		"Send a message to the scheduling assistant and get its reply. Omit sessionId to start a new conversation.",
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("What the user said"),
		),
	)
	s.AddTool(chatTool, mcpserver.ToolHandlerFunc(common.InstrumentedToolHandler("ash_chat", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleChat(ctx, request, sc)
		})))

	sessionsTool := newTool("ash_sessions",
		"List the user's conversation sessions, most recent first",
	)
	s.AddTool(sessionsTool, mcpserver.ToolHandlerFunc(common.InstrumentedToolHandler("ash_sessions", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSessions(ctx, request, sc)
		})))

	return nil
}

func handleChat(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	svc := sc.Assistant()
	if svc == nil {
		return mcp.NewToolResultError("assistant is not configured"), nil
	}

	args := request.GetArguments()
	message, _ := args["message"].(string)
	caller := common.CallerFromArgs(args, sc)

	resp, err := svc.Chat(ctx, assistant.Request{
		UserID:    caller.UserID,
		Account:   caller.Account,
		SessionID: caller.SessionID,
		Text:      message,
	})
	if err != nil {
		return mcp.NewToolResultError(chatError(err)), nil
	}
	return jsonResult(resp)
}

func handleSessions(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	svc := sc.Assistant()
	if svc == nil {
		return mcp.NewToolResultError("assistant is not configured"), nil
	}

	caller := common.CallerFromArgs(request.GetArguments(), sc)
	sessions, err := svc.Sessions(ctx, caller.UserID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list sessions: %v", err)), nil
	}
	return jsonResult(sessions)
}

func chatError(err error) string {
	switch {
	case errors.Is(err, assistant.ErrInvalidRequest), errors.Is(err, assistant.ErrSessionNotFound):
		return err.Error()
	default:
		return fmt.Sprintf("Failed to run turn: %v", err)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
