package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keshon/companion/internal/chat"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id    TEXT NOT NULL,
	channel_id  TEXT NOT NULL,
	message_id  TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	nick        TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	mentioned   INTEGER NOT NULL DEFAULT 0,
	UNIQUE (agent_id, channel_id, message_id)
);

CREATE TABLE IF NOT EXISTS job_cursors (
	job         TEXT NOT NULL,
	agent_id    TEXT NOT NULL,
	channel_id  TEXT NOT NULL,
	last_seq    INTEGER NOT NULL,
	PRIMARY KEY (job, agent_id, channel_id)
);

CREATE TABLE IF NOT EXISTS memory_summary (
	agent_id    TEXT NOT NULL,
	channel_id  TEXT NOT NULL,
	summary     TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (agent_id, channel_id)
);

CREATE TABLE IF NOT EXISTS memory_facts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id    TEXT NOT NULL,
	channel_id  TEXT NOT NULL,
	fact        TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_profiles (
	agent_id    TEXT NOT NULL,
	channel_id  TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	profile     TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (agent_id, channel_id, user_id)
);

CREATE TABLE IF NOT EXISTS vocabulary (
	agent_id    TEXT NOT NULL,
	channel_id  TEXT NOT NULL,
	word        TEXT NOT NULL,
	weight      REAL NOT NULL,
	last_used   TEXT NOT NULL,
	PRIMARY KEY (agent_id, channel_id, word)
);
`

// Repository is the sqlite-backed history and memory store.
type Repository struct {
	db *sql.DB
}

// Open opens a SQLite database and runs migrations.
func Open(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// timeLayout is fixed width so stored timestamps compare as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// InsertMessage stores m and returns its sequence number. A message id seen
// before for the same key is ignored and returns the existing sequence.
func (r *Repository) InsertMessage(ctx context.Context, key chat.Key, m chat.Message) (int64, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (agent_id, channel_id, message_id, user_id, nick, content, created_at, mentioned)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.AgentID, key.ChannelID, m.ID, m.UserID, m.Nick, m.Content, formatTime(m.Timestamp), m.Mentioned,
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	var seq int64
	err = r.db.QueryRowContext(ctx,
		`SELECT seq FROM messages WHERE agent_id = ? AND channel_id = ? AND message_id = ?`,
		key.AgentID, key.ChannelID, m.ID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read message seq: %w", err)
	}
	return seq, nil
}

func scanMessages(rows *sql.Rows) ([]chat.Message, error) {
	defer rows.Close()
	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		var ts string
		if err := rows.Scan(&m.Seq, &m.ID, &m.UserID, &m.Nick, &m.Content, &ts, &m.Mentioned); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = parseTime(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

const messageColumns = `seq, message_id, user_id, nick, content, created_at, mentioned`

// Cursor returns the last sequence job processed for key, 0 if none.
func (r *Repository) Cursor(ctx context.Context, job string, key chat.Key) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_seq FROM job_cursors WHERE job = ? AND agent_id = ? AND channel_id = ?`,
		job, key.AgentID, key.ChannelID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return seq, nil
}

// AdvanceCursor moves the cursor of job forward to seq. It never moves back.
func (r *Repository) AdvanceCursor(ctx context.Context, job string, key chat.Key, seq int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_cursors (job, agent_id, channel_id, last_seq) VALUES (?, ?, ?, ?)
		 ON CONFLICT(job, agent_id, channel_id) DO UPDATE SET last_seq = MAX(last_seq, excluded.last_seq)`,
		job, key.AgentID, key.ChannelID, seq,
	)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// CountNew returns how many messages of key job has not processed yet.
func (r *Repository) CountNew(ctx context.Context, job string, key chat.Key) (int, error) {
	after, err := r.Cursor(ctx, job, key)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE agent_id = ? AND channel_id = ? AND seq > ?`,
		key.AgentID, key.ChannelID, after,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count new: %w", err)
	}
	return n, nil
}

// NewMessages returns up to limit unprocessed messages of key, oldest first.
func (r *Repository) NewMessages(ctx context.Context, job string, key chat.Key, limit int) ([]chat.Message, error) {
	after, err := r.Cursor(ctx, job, key)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE agent_id = ? AND channel_id = ? AND seq > ?
		 ORDER BY seq ASC LIMIT ?`,
		key.AgentID, key.ChannelID, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query new messages: %w", err)
	}
	return scanMessages(rows)
}

// Recent returns up to limit messages of key with seq < before, oldest first.
// before <= 0 means no upper bound.
func (r *Repository) Recent(ctx context.Context, key chat.Key, before int64, limit int) ([]chat.Message, error) {
	if before <= 0 {
		before = 1<<63 - 1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE agent_id = ? AND channel_id = ? AND seq < ?
			ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`,
		key.AgentID, key.ChannelID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	return scanMessages(rows)
}

// Keys lists the conversations of agentID that have history.
func (r *Repository) Keys(ctx context.Context, agentID string) ([]chat.Key, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT channel_id FROM messages WHERE agent_id = ? ORDER BY channel_id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()
	var out []chat.Key
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, chat.NewKey(agentID, ch))
	}
	return out, rows.Err()
}

// SpokeSince reports whether any of userIDs wrote in key since t.
func (r *Repository) SpokeSince(ctx context.Context, key chat.Key, userIDs []string, t time.Time) (bool, error) {
	for _, id := range userIDs {
		var n int
		err := r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE agent_id = ? AND channel_id = ? AND user_id = ? AND created_at >= ?`,
			key.AgentID, key.ChannelID, id, formatTime(t),
		).Scan(&n)
		if err != nil {
			return false, fmt.Errorf("query speaker: %w", err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}
