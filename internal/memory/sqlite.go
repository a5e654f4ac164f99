package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/ent0n29/chloe/internal/conversation"
)

// SQLiteStore persists the conversation in a single SQLite file. Rows are
// keyed by ULIDs so lexical order follows insertion order.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newKey(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		key         TEXT PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		author_name TEXT NOT NULL,
		author_id   TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL,
		reply_text  TEXT NOT NULL,
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS summaries (
		key        TEXT PRIMARY KEY,
		id         TEXT NOT NULL UNIQUE,
		text       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS archives (
		key          TEXT PRIMARY KEY,
		id           TEXT NOT NULL UNIQUE,
		triggered_at TEXT NOT NULL,
		turns        TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) InsertTurn(ctx context.Context, turn conversation.Turn) error {
	now := time.Now().UTC()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}
	key := s.newKey(now)
	if turn.ID == "" {
		turn.ID = key
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (key, id, author_name, author_id, content, reply_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, turn.ID, turn.AuthorName, turn.AuthorID, turn.Content, turn.ReplyText,
		turn.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindTurns(ctx context.Context) ([]conversation.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, author_name, author_id, content, reply_text, created_at FROM turns ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var (
			t       conversation.Turn
			created string
		)
		if err := rows.Scan(&t.ID, &t.AuthorName, &t.AuthorID, &t.Content, &t.ReplyText, &created); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("turn %s: %w", t.ID, err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

func (s *SQLiteStore) ClearTurns(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns`); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertSummary(ctx context.Context, summary conversation.Summary) error {
	now := time.Now().UTC()
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = now
	}
	key := s.newKey(now)
	if summary.ID == "" {
		summary.ID = key
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO summaries (key, id, text, created_at) VALUES (?, ?, ?, ?)`,
		key, summary.ID, summary.Text, summary.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindSummaries(ctx context.Context) ([]conversation.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, created_at FROM summaries ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []conversation.Summary
	for rows.Next() {
		var (
			sm      conversation.Summary
			created string
		)
		if err := rows.Scan(&sm.ID, &sm.Text, &created); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		if sm.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("summary %s: %w", sm.ID, err)
		}
		summaries = append(summaries, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return summaries, nil
}

func (s *SQLiteStore) ClearSummaries(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM summaries`); err != nil {
		return fmt.Errorf("clear summaries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertArchive(ctx context.Context, record conversation.ArchiveRecord) error {
	now := time.Now().UTC()
	if record.TriggeredAt.IsZero() {
		record.TriggeredAt = now
	}
	key := s.newKey(now)
	if record.ID == "" {
		record.ID = key
	}
	turns, err := encodeTurns(record.Turns)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO archives (key, id, triggered_at, turns) VALUES (?, ?, ?, ?)`,
		key, record.ID, record.TriggeredAt.UTC().Format(time.RFC3339Nano), string(turns))
	if err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindArchives(ctx context.Context) ([]conversation.ArchiveRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, triggered_at, turns FROM archives ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("query archives: %w", err)
	}
	defer rows.Close()

	var records []conversation.ArchiveRecord
	for rows.Next() {
		var (
			r         conversation.ArchiveRecord
			triggered string
			raw       string
		)
		if err := rows.Scan(&r.ID, &triggered, &raw); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		if r.TriggeredAt, err = parseTime(triggered); err != nil {
			return nil, fmt.Errorf("archive %s: %w", r.ID, err)
		}
		if r.Turns, err = decodeTurns([]byte(raw)); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}
	return records, nil
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
