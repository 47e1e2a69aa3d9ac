package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the ash application
var rootCmd = &cobra.Command{
	Use:   "ash",
	Short: "Conversational scheduling assistant",
	Long: `ash is a conversational scheduling assistant. It turns natural language
requests into calendar operations: finding free time, creating, moving and
deleting events, sending invitations and scheduling email reminders.

It can run as:
  - An HTTP and WebSocket API for chat clients (serve)
  - A one-shot terminal assistant (chat)
  - An MCP (Model Context Protocol) server for AI assistants (mcp)`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "ash version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newSlotsCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newVersionCmd())
}
