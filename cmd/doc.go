// Package cmd implements the command-line interface for ash.
//
// This package provides the following commands:
//   - serve: Start the HTTP and WebSocket API with the reminder sweeper
//   - chat: Run a single conversational turn from the terminal
//   - slots: Compute free slots from a list of busy intervals
//   - mcp: Serve the scheduling tools over stdio MCP
//   - version: Display version information
//
// Configuration is read from the environment, optionally seeded from a
// .env file in the working directory.
package cmd
