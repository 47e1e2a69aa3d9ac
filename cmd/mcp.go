package cmd

import (
	"context"
	"fmt"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/ash/internal/resources"
	"github.com/teemow/ash/internal/tools/assistant_tools"
	"github.com/teemow/ash/internal/tools/google_tools"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the scheduling tools over stdio MCP",
		Long: `Start a Model Context Protocol server on standard input/output.

Tools:
  getFreeSlots, createEvent, updateEvent, deleteEvent, deleteEvents,
  getUpcomingEvents, sendInvite, setReminder, ash_chat, ash_sessions,
  google_get_auth_url, google_save_auth_code

The calendar tools work without OPENAI_API_KEY; ash_chat needs it to
produce anything but the fallback reply. Logs are written to stderr.

Resources:
  ash://config, ash://sessions, ash://sessions/{id}/messages`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := newApp(ctx, cfg, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			mcpSrv := mcpserver.NewMCPServer("ash", version,
				mcpserver.WithToolCapabilities(true),
				mcpserver.WithResourceCapabilities(false, false),
			)
			if err := assistant_tools.RegisterAssistantTools(mcpSrv, a.serverContext); err != nil {
				return err
			}
			if err := resources.RegisterAssistantResources(mcpSrv, a.serverContext); err != nil {
				return fmt.Errorf("failed to register resources: %w", err)
			}
			if err := google_tools.RegisterGoogleTools(mcpSrv, a.serverContext, a.tokens, a.clients.Forget); err != nil {
				return fmt.Errorf("failed to register Google tools: %w", err)
			}
			return runStdioServer(mcpSrv)
		},
	}
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}
