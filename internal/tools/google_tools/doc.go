// Package google_tools provides MCP tools for authorizing Google accounts.
//
// A new account is connected in two steps: google_get_auth_url returns the
// consent page URL, and google_save_auth_code exchanges the code shown by
// Google for a token that the calendar and mail collaborators then use.
package google_tools
