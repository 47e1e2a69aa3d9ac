// Package batch runs an operation over a list of items and reports partial
// failures in a uniform shape.
//
// It is used by the reminder sweeper, which delivers every due reminder
// independently, and by MCP tools whose arguments accept either a single
// value or a list.
package batch
