package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/ash/internal/server"
)

const (
	configURI   = "ash://config"
	sessionsURI = "ash://sessions"

	messagesTemplate = "ash://sessions/{id}/messages"
	messagesSuffix   = "/messages"
)

// RegisterAssistantResources registers the configuration and session resources.
func RegisterAssistantResources(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	configResource := mcp.NewResource(
		configURI,
		"Assistant Configuration",
		mcp.WithResourceDescription("Persona, time zone, meeting defaults and tools of the scheduling assistant"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(configResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleConfig(ctx, request, sc)
	})

	sessionsResource := mcp.NewResource(
		sessionsURI,
		"Conversation Sessions",
		mcp.WithResourceDescription("Conversation sessions of the configured account, most recent first"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(sessionsResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleSessions(ctx, request, sc)
	})

	messagesResource := mcp.NewResourceTemplate(
		messagesTemplate,
		"Session Transcript",
		mcp.WithTemplateDescription("All messages of a conversation session in order"),
		mcp.WithTemplateMIMEType("application/json"),
	)
	s.AddResourceTemplate(messagesResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleMessages(ctx, request, sc)
	})

	return nil
}

func handleConfig(_ context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	cfg := sc.AgentConfig()
	tools := make([]string, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		tools = append(tools, t.Name)
	}
	timezone := "UTC"
	if cfg.Location != nil {
		timezone = cfg.Location.String()
	}

	return jsonContents(request.Params.URI, map[string]any{
		"account":               sc.Account(),
		"persona":               cfg.Persona,
		"timezone":              timezone,
		"defaultMeetingMinutes": cfg.DefaultMeetingMinutes,
		"maxPriorTurns":         cfg.MaxPriorTurns,
		"tools":                 tools,
	})
}

func handleSessions(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	svc := sc.Assistant()
	if svc == nil {
		return nil, fmt.Errorf("assistant is not configured")
	}
	sessions, err := svc.Sessions(ctx, sc.Account())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return jsonContents(request.Params.URI, sessions)
}

func handleMessages(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	svc := sc.Assistant()
	if svc == nil {
		return nil, fmt.Errorf("assistant is not configured")
	}
	id, err := sessionIDFromURI(request.Params.URI)
	if err != nil {
		return nil, err
	}
	messages, err := svc.Messages(ctx, sc.Account(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	return jsonContents(request.Params.URI, messages)
}

// sessionIDFromURI extracts {id} from ash://sessions/{id}/messages.
func sessionIDFromURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, sessionsURI+"/")
	if !ok {
		return "", fmt.Errorf("unsupported resource URI: %s", uri)
	}
	id, ok := strings.CutSuffix(rest, messagesSuffix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("unsupported resource URI: %s", uri)
	}
	return id, nil
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
