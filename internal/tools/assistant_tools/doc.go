// Package assistant_tools exposes the ASH scheduling tools over MCP.
//
// Every calendar tool delegates to the agent's dispatch table, so an MCP
// client and the language model get identical argument validation and
// results. The ash_chat tool runs a full conversational turn through the
// assistant service, including session persistence.
//
// All tools accept the optional arguments account, userId and sessionId to
// select whose calendar and conversation they act on.
package assistant_tools
