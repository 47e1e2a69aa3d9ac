package common

import (
	"strings"

	"github.com/teemow/ash/internal/server"
)

// Caller identifies on whose behalf an MCP tool runs.
type Caller struct {
	UserID    string
	Account   string
	SessionID string
}

// GetAccountFromArgs returns the "account" argument, or fallback when it is
// missing, empty or not a string.
func GetAccountFromArgs(args map[string]interface{}, fallback string) string {
	if account, ok := args["account"].(string); ok && strings.TrimSpace(account) != "" {
		return strings.TrimSpace(account)
	}
	return fallback
}

// CallerFromArgs resolves the caller of a tool request. The user defaults
// to the account name, since a stdio MCP client acts for a single person.
func CallerFromArgs(args map[string]interface{}, sc *server.ServerContext) Caller {
	c := Caller{Account: GetAccountFromArgs(args, sc.Account())}
	if user, ok := args["userId"].(string); ok {
		c.UserID = strings.TrimSpace(user)
	}
	if c.UserID == "" {
		c.UserID = c.Account
	}
	if session, ok := args["sessionId"].(string); ok {
		c.SessionID = strings.TrimSpace(session)
	}
	return c
}
