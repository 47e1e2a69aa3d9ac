// Package logging provides structured logging helpers for ASH.
//
// All logging goes through log/slog. This package centralizes attribute
// names, installs the process-wide handler, and hashes user identifiers so
// that chat participants can be correlated across log lines without their
// email addresses appearing in logs.
//
//	logger := logging.WithOperation(slog.Default(), "reminder.sweep")
//	logger.Info("reminder sent", logging.UserHash(userID), logging.Status(logging.StatusSuccess))
package logging
