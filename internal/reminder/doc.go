// Package reminder delivers due reminders by email.
//
// A Sweeper wakes up on a fixed interval, fetches every unsent reminder
// whose time has come, mails it to its owner and marks it as sent.
// Delivery failures are retried on the next sweep.
package reminder
