package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/chloe/internal/conversation"
)

// InMemoryStore is a simple in-process conversation store for local/dev use.
type InMemoryStore struct {
	mu        sync.RWMutex
	turns     []conversation.Turn
	summaries []conversation.Summary
	archives  []conversation.ArchiveRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) InsertTurn(_ context.Context, turn conversation.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns = append(s.turns, turn)
	return nil
}

func (s *InMemoryStore) FindTurns(_ context.Context) ([]conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTurns(s.turns), nil
}

func (s *InMemoryStore) ClearTurns(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	return nil
}

func (s *InMemoryStore) InsertSummary(_ context.Context, summary conversation.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	s.summaries = append(s.summaries, summary)
	return nil
}

func (s *InMemoryStore) FindSummaries(_ context.Context) ([]conversation.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.summaries) == 0 {
		return nil, nil
	}
	out := make([]conversation.Summary, len(s.summaries))
	copy(out, s.summaries)
	return out, nil
}

func (s *InMemoryStore) ClearSummaries(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = nil
	return nil
}

func (s *InMemoryStore) InsertArchive(_ context.Context, record conversation.ArchiveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.TriggeredAt.IsZero() {
		record.TriggeredAt = time.Now().UTC()
	}
	record.Turns = cloneTurns(record.Turns)
	s.archives = append(s.archives, record)
	return nil
}

func (s *InMemoryStore) FindArchives(_ context.Context) ([]conversation.ArchiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.archives) == 0 {
		return nil, nil
	}
	out := make([]conversation.ArchiveRecord, len(s.archives))
	for i, r := range s.archives {
		r.Turns = cloneTurns(r.Turns)
		out[i] = r
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func cloneTurns(in []conversation.Turn) []conversation.Turn {
	if len(in) == 0 {
		return nil
	}
	out := make([]conversation.Turn, len(in))
	copy(out, in)
	return out
}
