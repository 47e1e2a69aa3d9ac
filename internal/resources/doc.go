// Package resources provides MCP resources for ASH.
//
// Resources are read-only data sources that MCP clients can fetch:
//
//   - ash://config: the active persona, time zone and tool list
//   - ash://sessions: conversation sessions of the configured account
//   - ash://sessions/{id}/messages: the transcript of one session
package resources
