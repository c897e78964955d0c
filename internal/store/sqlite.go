package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("record not found")

// timeLayout keeps a fixed number of fractional digits so that lexical
// order of the stored text matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const memoryPath = ":memory:"

type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// New opens the database kept under <projectDir>/.chatsave.
func New(projectDir string) (*Store, error) {
	return Open(DefaultPath(projectDir))
}

func DefaultPath(projectDir string) string {
	return filepath.Join(projectDir, ".chatsave", "chatsave.db")
}

// OpenMemory returns an isolated store that lives only as long as the handle.
func OpenMemory() (*Store, error) {
	return Open(memoryPath)
}

func Open(path string) (*Store, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: ":memory:" is per-connection, and the reply timer
	// writes concurrently with foreground calls.
	db.SetMaxOpenConns(1)

	if path != memoryPath {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	s := &Store{db: db, log: slog.Default()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// SetLogger replaces the logger used to report skipped rows.
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id       TEXT PRIMARY KEY,
		title    TEXT NOT NULL,
		summary  TEXT,
		category TEXT NOT NULL,
		date     TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		session_id   TEXT NOT NULL,
		content      TEXT NOT NULL,
		timestamp    TEXT NOT NULL,
		is_from_user INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSession(ctx context.Context, ex execer, verb string, sess Session) error {
	_, err := ex.ExecContext(ctx,
		verb+" INTO sessions (id, title, summary, category, date) VALUES (?, ?, ?, ?, ?)",
		sess.ID, sess.Title, nullString(sess.Summary), string(ParseCategory(string(sess.Category))), formatTime(sess.Date),
	)
	return err
}

func (s *Store) InsertSession(ctx context.Context, sess Session) error {
	if err := insertSession(ctx, s.db, "INSERT", sess); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) UpsertSession(ctx context.Context, sess Session) error {
	if err := insertSession(ctx, s.db, "INSERT OR REPLACE", sess); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ReplaceSessions deletes every session and inserts the given set in one
// transaction.
func (s *Store) ReplaceSessions(ctx context.Context, sessions []Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	for _, sess := range sessions {
		if err := insertSession(ctx, tx, "INSERT", sess); err != nil {
			return fmt.Errorf("insert session %s: %w", sess.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) DeleteAllSessions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, summary, category, date FROM sessions ORDER BY date DESC, id",
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	// Unreadable rows are skipped so one bad record cannot hide the rest.
	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			s.log.Warn("skip unreadable session row", "error", err)
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, summary, category, date FROM sessions WHERE id = ?", id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg Message) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, session_id, content, timestamp, is_from_user) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.SessionID, msg.Content, formatTime(msg.Timestamp), msg.IsFromUser,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns a session's messages oldest first. Messages with an
// identical timestamp keep insertion order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, content, timestamp, is_from_user FROM messages WHERE session_id = ? ORDER BY timestamp, seq",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m  Message
			ts string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Content, &ts, &m.IsFromUser); err != nil {
			s.log.Warn("skip unreadable message row", "session_id", sessionID, "error", fmt.Errorf("scan message: %w", err))
			continue
		}
		var err error
		if m.Timestamp, err = parseTime(ts); err != nil {
			s.log.Warn("skip unreadable message row", "session_id", sessionID, "message_id", m.ID, "error", err)
			continue
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var (
		sess     Session
		summary  sql.NullString
		category string
		date     string
	)
	if err := sc.Scan(&sess.ID, &sess.Title, &summary, &category, &date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.Summary = summary.String
	sess.Category = ParseCategory(category)

	var err error
	if sess.Date, err = parseTime(date); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
