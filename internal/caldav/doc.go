// Package caldav implements the calendar collaborator against any CalDAV
// server (iCloud, Nextcloud, Fastmail, Radicale).
//
// The calendar is discovered by display name through the current user
// principal and its calendar home set. Events are stored as one VCALENDAR
// object per event at <calendar path>/<uid>.ics, and the UID doubles as the
// event ID handed to the model. Recurring events are expanded when reading
// busy time and upcoming events.
package caldav
