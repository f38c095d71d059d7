package sessioncore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tronrun/tron/pkg/models"
	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"
)

// SQLiteLog is the reference durable-log implementation backing `tron`'s
// default on-disk run: an events table keyed by (session_id, sequence), with
// sequence assigned per-session inside a transaction so it matches the
// in-memory log's linearization guarantee even across process restarts.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog opens (and migrates) the events database at path. Use
// ":memory:" for an ephemeral database.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessioncore: open sqlite log: %w", err)
	}
	l := &SQLiteLog{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) Close() error { return l.db.Close() }

func (l *SQLiteLog) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			workspace_id TEXT,
			parent_id TEXT,
			type TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			payload TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_session_seq ON events(session_id, sequence);
		CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	`)
	if err != nil {
		return fmt.Errorf("sessioncore: migrate events table: %w", err)
	}
	return nil
}

func (l *SQLiteLog) Append(ctx context.Context, ev models.Event) (models.Event, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Event{}, err
	}
	defer tx.Rollback()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if ev.ParentID == "" {
		row := tx.QueryRowContext(ctx, `SELECT id FROM events WHERE session_id = ? ORDER BY sequence DESC LIMIT 1`, ev.SessionID)
		var head string
		if err := row.Scan(&head); err == nil {
			ev.ParentID = head
		} else if err != sql.ErrNoRows {
			return models.Event{}, err
		}
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM events WHERE session_id = ?`, ev.SessionID).Scan(&maxSeq); err != nil {
		return models.Event{}, err
	}
	ev.Sequence = maxSeq.Int64 + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, session_id, workspace_id, parent_id, type, sequence, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.WorkspaceID, ev.ParentID, string(ev.Type), ev.Sequence, ev.Timestamp, string(ev.Payload),
	)
	if err != nil {
		return models.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}

func (l *SQLiteLog) Events(ctx context.Context, sessionID string) ([]models.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_id, workspace_id, parent_id, type, sequence, timestamp, payload
		FROM events WHERE session_id = ? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (l *SQLiteLog) Ancestors(ctx context.Context, eventID string) ([]models.Event, error) {
	var chain []models.Event
	cur := eventID
	for cur != "" {
		row := l.db.QueryRowContext(ctx, `
			SELECT id, session_id, workspace_id, parent_id, type, sequence, timestamp, payload
			FROM events WHERE id = ?`, cur)
		ev, err := scanEvent(row)
		if err == sql.ErrNoRows {
			if len(chain) == 0 {
				return nil, ErrEventNotFound
			}
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, ev)
		cur = ev.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (l *SQLiteLog) Search(ctx context.Context, sessionID, query string) ([]models.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_id, workspace_id, parent_id, type, sequence, timestamp, payload
		FROM events WHERE session_id = ? AND payload LIKE ? ORDER BY sequence ASC`,
		sessionID, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (l *SQLiteLog) Head(ctx context.Context, sessionID string) (string, error) {
	var head string
	err := l.db.QueryRowContext(ctx, `SELECT id FROM events WHERE session_id = ? ORDER BY sequence DESC LIMIT 1`, sessionID).Scan(&head)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return head, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(row scannable) (models.Event, error) {
	var ev models.Event
	var payload string
	var evType string
	if err := row.Scan(&ev.ID, &ev.SessionID, &ev.WorkspaceID, &ev.ParentID, &evType, &ev.Sequence, &ev.Timestamp, &payload); err != nil {
		return models.Event{}, err
	}
	ev.Type = models.EventType(evType)
	ev.Payload = []byte(payload)
	return ev, nil
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	var out []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
