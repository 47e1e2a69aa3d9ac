// Package assistant binds the agent orchestrator to persistence.
//
// A chat request resolves or creates the session, replays the most recent
// messages as prior context, runs one agent turn and records the result:
// both chat messages, a local mirror of created and deleted events and an
// interaction log entry.
package assistant
