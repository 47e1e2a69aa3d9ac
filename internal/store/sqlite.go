package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/teemow/ash/internal/agent"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Repository = (*SQLiteStore)(nil)
var _ agent.Reminders = (*SQLiteStore)(nil)

// NewSQLite opens (and creates if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		summary TEXT NOT NULL,
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL,
		attendees_json TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE(user_id, external_id)
	);

	CREATE TABLE IF NOT EXISTS interaction_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT,
		utterance TEXT NOT NULL,
		reply TEXT NOT NULL,
		tools_json TEXT,
		success_count INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL,
		status TEXT NOT NULL,
		voice INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		account TEXT NOT NULL,
		session_id TEXT,
		event_id TEXT,
		message TEXT NOT NULL,
		remind_at INTEGER NOT NULL,
		sent_at INTEGER,
		failed_at INTEGER,
		failure TEXT,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Databases created before dead-lettering lack these columns.
	for _, col := range []struct{ name, decl string }{
		{"failed_at", "INTEGER"},
		{"failure", "TEXT"},
	} {
		if err := s.ensureColumn("reminders", col.name, col.decl); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(table, column, decl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("check %s.%s: %w", table, column, err)
	}
	exists := false
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			_ = rows.Close()
			return fmt.Errorf("check %s.%s: %w", table, column, err)
		}
		if strings.EqualFold(name, column) {
			exists = true
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("check %s.%s: %w", table, column, err)
	}
	_ = rows.Close()
	if exists {
		return nil
	}
	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}
	return nil
}

// Timestamps are stored as Unix milliseconds.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func encodeList(list []string) (any, error) {
	if len(list) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeList(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil
	}
	return list
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession starts a new session for a user.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID, title string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	sess := &Session{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Title, toMillis(now), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session with the given ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM sessions WHERE id = ?`, id)

	var sess Session
	var createdAt, updatedAt int64
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	sess.CreatedAt = fromMillis(createdAt)
	sess.UpdatedAt = fromMillis(updatedAt)
	return &sess, nil
}

// ListSessions returns the user's sessions, most recently active first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM sessions
		 WHERE user_id = ? ORDER BY updated_at DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var createdAt, updatedAt int64
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.CreatedAt = fromMillis(createdAt)
		sess.UpdatedAt = fromMillis(updatedAt)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// TouchSession bumps the session's updated_at.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendMessage stores a chat message. ID and CreatedAt are filled in when
// empty.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.UserID, msg.Role, msg.Content, toMillis(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	msgs := []Message{}
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.CreatedAt = fromMillis(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RecentMessages returns the last limit messages of a session, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, role, content, created_at FROM (
			SELECT seq, id, session_id, user_id, role, content, created_at FROM messages
			WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	return scanMessages(rows)
}

// ListMessages returns all messages of a session, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return scanMessages(rows)
}

// SaveEvent stores or refreshes a mirrored event.
func (s *SQLiteStore) SaveEvent(ctx context.Context, ev *EventRecord) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}
	attendees, err := encodeList(ev.Attendees)
	if err != nil {
		return fmt.Errorf("encode attendees: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, external_id, summary, start_at, end_at, attendees_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, external_id) DO UPDATE SET
			summary = excluded.summary,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			attendees_json = excluded.attendees_json`,
		ev.ID, ev.UserID, ev.ExternalID, ev.Summary, toMillis(ev.Start), toMillis(ev.End), attendees, toMillis(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

// DeleteEventRecord removes a mirrored event. Unknown events are ignored.
func (s *SQLiteStore) DeleteEventRecord(ctx context.Context, userID, externalID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE user_id = ? AND external_id = ?`, userID, externalID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// UpdateEventRecord applies a patch to a mirrored event. Unknown events are
// ignored.
func (s *SQLiteStore) UpdateEventRecord(ctx context.Context, userID, externalID string, patch EventRecordPatch) error {
	var summary, start, end any
	if patch.Summary != nil {
		summary = *patch.Summary
	}
	if patch.Start != nil {
		start = toMillis(*patch.Start)
	}
	if patch.End != nil {
		end = toMillis(*patch.End)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET
			summary = COALESCE(?, summary),
			start_at = COALESCE(?, start_at),
			end_at = COALESCE(?, end_at)
		WHERE user_id = ? AND external_id = ?`,
		summary, start, end, userID, externalID)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// ListEventRecords returns mirrored events starting in [from, to), by start.
func (s *SQLiteStore) ListEventRecords(ctx context.Context, userID string, from, to time.Time) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, external_id, summary, start_at, end_at, attendees_json, created_at
		FROM events WHERE user_id = ? AND start_at >= ? AND start_at < ?
		ORDER BY start_at ASC`, userID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		var ev EventRecord
		var start, end, createdAt int64
		var attendees sql.NullString
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.ExternalID, &ev.Summary, &start, &end, &attendees, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.Start = fromMillis(start)
		ev.End = fromMillis(end)
		ev.CreatedAt = fromMillis(createdAt)
		ev.Attendees = decodeList(attendees)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LogInteraction stores the record of a processed turn.
func (s *SQLiteStore) LogInteraction(ctx context.Context, log *InteractionLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	tools, err := encodeList(log.Tools)
	if err != nil {
		return fmt.Errorf("encode tools: %w", err)
	}
	voice := 0
	if log.Voice {
		voice = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interaction_logs
			(id, user_id, session_id, utterance, reply, tools_json, success_count, duration_ms, status, voice, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.UserID, nullable(log.SessionID), log.Utterance, log.Reply, tools,
		log.SuccessCount, log.Duration.Milliseconds(), log.Status, voice, toMillis(log.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert interaction log: %w", err)
	}
	return nil
}

// ScheduleReminder stores a reminder and returns its ID.
func (s *SQLiteStore) ScheduleReminder(ctx context.Context, r agent.Reminder) (string, error) {
	if strings.TrimSpace(r.Message) == "" {
		return "", errors.New("reminder message is required")
	}
	if r.RemindAt.IsZero() {
		return "", errors.New("reminder time is required")
	}
	account := r.Account
	if account == "" {
		account = "default"
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, user_id, account, session_id, event_id, message, remind_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.UserID, account, nullable(r.SessionID), nullable(r.EventID), r.Message,
		toMillis(r.RemindAt), toMillis(s.now()))
	if err != nil {
		return "", fmt.Errorf("insert reminder: %w", err)
	}
	return id, nil
}

// DueReminders returns pending reminders due at or before now, oldest first.
// Sent and dead-lettered reminders are skipped.
func (s *SQLiteStore) DueReminders(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, account, session_id, event_id, message, remind_at, created_at
		FROM reminders WHERE sent_at IS NULL AND failed_at IS NULL AND remind_at <= ?
		ORDER BY remind_at ASC LIMIT ?`, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	reminders := []Reminder{}
	for rows.Next() {
		var r Reminder
		var sessionID, eventID sql.NullString
		var remindAt, createdAt int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.Account, &sessionID, &eventID, &r.Message, &remindAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan reminder row: %w", err)
		}
		r.SessionID = sessionID.String
		r.EventID = eventID.String
		r.RemindAt = fromMillis(remindAt)
		r.CreatedAt = fromMillis(createdAt)
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// MarkReminderSent records delivery. Marking an already sent reminder
// returns ErrNotFound.
func (s *SQLiteStore) MarkReminderSent(ctx context.Context, id string, sentAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET sent_at = ? WHERE id = ? AND sent_at IS NULL`, toMillis(sentAt), id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("unsent reminder %s: %w", id, ErrNotFound)
	}
	return nil
}

// ReleaseReminder clears the sent mark so the reminder is due again. It
// returns ErrNotFound when the reminder is not marked sent.
func (s *SQLiteStore) ReleaseReminder(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET sent_at = NULL WHERE id = ? AND sent_at IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("release reminder: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("sent reminder %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkReminderFailed dead-letters a reminder that can never be delivered.
// Only pending reminders can be marked; others return ErrNotFound.
func (s *SQLiteStore) MarkReminderFailed(ctx context.Context, id string, failedAt time.Time, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET failed_at = ?, failure = ?
		WHERE id = ? AND sent_at IS NULL AND failed_at IS NULL`, toMillis(failedAt), reason, id)
	if err != nil {
		return fmt.Errorf("mark reminder failed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pending reminder %s: %w", id, ErrNotFound)
	}
	return nil
}
