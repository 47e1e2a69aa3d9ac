// Package calendar implements the scheduling assistant's calendar
// collaborator on top of the Google Calendar v3 API.
//
// Busy time comes from the FreeBusy endpoint. Upcoming events are expanded
// single instances ordered by start time. Updates fetch the event, apply the
// patch and write it back, so unspecified fields are preserved.
package calendar
