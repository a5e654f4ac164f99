package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/chloe/internal/conversation"
)

// PostgresStore persists the conversation in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			author_name TEXT NOT NULL,
			author_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			reply_text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_summaries (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_archives (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			triggered_at TIMESTAMPTZ NOT NULL,
			turns JSONB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_archives_triggered ON conversation_archives (triggered_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) InsertTurn(ctx context.Context, turn conversation.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, author_name, author_id, content, reply_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.ID,
		turn.AuthorName,
		turn.AuthorID,
		turn.Content,
		turn.ReplyText,
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindTurns(ctx context.Context) ([]conversation.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, author_name, author_id, content, reply_text, created_at
		 FROM conversation_turns ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var t conversation.Turn
		if err := rows.Scan(&t.ID, &t.AuthorName, &t.AuthorID, &t.Content, &t.ReplyText, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) ClearTurns(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_turns`); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertSummary(ctx context.Context, summary conversation.Summary) error {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_summaries (id, text, created_at) VALUES ($1, $2, $3)`,
		summary.ID,
		summary.Text,
		summary.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindSummaries(ctx context.Context) ([]conversation.Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, text, created_at FROM conversation_summaries ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []conversation.Summary
	for rows.Next() {
		var sm conversation.Summary
		if err := rows.Scan(&sm.ID, &sm.Text, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		summaries = append(summaries, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return summaries, nil
}

func (s *PostgresStore) ClearSummaries(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_summaries`); err != nil {
		return fmt.Errorf("clear summaries: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertArchive(ctx context.Context, record conversation.ArchiveRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.TriggeredAt.IsZero() {
		record.TriggeredAt = time.Now().UTC()
	}
	turns, err := encodeTurns(record.Turns)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_archives (id, triggered_at, turns) VALUES ($1, $2, $3)`,
		record.ID,
		record.TriggeredAt,
		turns,
	)
	if err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindArchives(ctx context.Context) ([]conversation.ArchiveRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, triggered_at, turns FROM conversation_archives ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query archives: %w", err)
	}
	defer rows.Close()

	var records []conversation.ArchiveRecord
	for rows.Next() {
		var (
			r   conversation.ArchiveRecord
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.TriggeredAt, &raw); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		if r.Turns, err = decodeTurns(raw); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func encodeTurns(turns []conversation.Turn) ([]byte, error) {
	if turns == nil {
		turns = []conversation.Turn{}
	}
	b, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("encode archived turns: %w", err)
	}
	return b, nil
}

func decodeTurns(raw []byte) ([]conversation.Turn, error) {
	var turns []conversation.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("decode archived turns: %w", err)
	}
	if len(turns) == 0 {
		return nil, nil
	}
	return turns, nil
}
