// Package common provides helpers shared by the MCP tool packages: caller
// resolution from tool arguments and the instrumentation wrapper applied to
// every tool handler.
package common
