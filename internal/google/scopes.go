package google

import (
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"
)

// DefaultOAuthScopes are the scopes ASH tokens must carry: calendar
// read/write and sending mail.
var DefaultOAuthScopes = []string{
	calendar.CalendarScope,
	gmail.GmailSendScope,
}
