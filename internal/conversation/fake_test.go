package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/chloe/internal/completion"
)

// fakeStore is an in-package Store with an operation log and per-operation
// failure injection.
type fakeStore struct {
	mu        sync.Mutex
	turns     []Turn
	summaries []Summary
	archives  []ArchiveRecord
	ops       []string
	fail      map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{fail: map[string]error{}}
}

func (s *fakeStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *fakeStore) record(op string) error {
	s.ops = append(s.ops, op)
	return s.fail[op]
}

func (s *fakeStore) InsertTurn(_ context.Context, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("InsertTurn"); err != nil {
		return err
	}
	s.turns = append(s.turns, t)
	return nil
}

func (s *fakeStore) FindTurns(context.Context) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("FindTurns"); err != nil {
		return nil, err
	}
	return append([]Turn(nil), s.turns...), nil
}

func (s *fakeStore) ClearTurns(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ClearTurns"); err != nil {
		return err
	}
	s.turns = nil
	return nil
}

func (s *fakeStore) InsertSummary(_ context.Context, sm Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("InsertSummary"); err != nil {
		return err
	}
	s.summaries = append(s.summaries, sm)
	return nil
}

func (s *fakeStore) FindSummaries(context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("FindSummaries"); err != nil {
		return nil, err
	}
	return append([]Summary(nil), s.summaries...), nil
}

func (s *fakeStore) ClearSummaries(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ClearSummaries"); err != nil {
		return err
	}
	s.summaries = nil
	return nil
}

func (s *fakeStore) InsertArchive(_ context.Context, r ArchiveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("InsertArchive"); err != nil {
		return err
	}
	s.archives = append(s.archives, r)
	return nil
}

func (s *fakeStore) FindArchives(context.Context) ([]ArchiveRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("FindArchives"); err != nil {
		return nil, err
	}
	return append([]ArchiveRecord(nil), s.archives...), nil
}

func (s *fakeStore) Close() error { return nil }

// writes returns the logged mutating operations in order.
func (s *fakeStore) writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, op := range s.ops {
		switch op {
		case "InsertTurn", "ClearTurns", "InsertSummary", "ClearSummaries", "InsertArchive":
			out = append(out, op)
		}
	}
	return out
}

// scriptedEngine answers reply requests (those with a stop sequence) and
// summary requests separately and records every request.
type scriptedEngine struct {
	mu       sync.Mutex
	requests []completion.Request

	reply   func(req completion.Request) (string, error)
	summary func(req completion.Request) (string, error)
}

func newScriptedEngine() *scriptedEngine {
	return &scriptedEngine{
		reply:   func(completion.Request) (string, error) { return "hi there", nil },
		summary: func(completion.Request) (string, error) { return "they talked", nil },
	}
}

func (e *scriptedEngine) Complete(ctx context.Context, req completion.Request) (completion.Response, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	reply, summary := e.reply, e.summary
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return completion.Response{}, err
	}
	fn := reply
	if len(req.Stop) == 0 {
		fn = summary
	}
	text, err := fn(req)
	if err != nil {
		return completion.Response{}, err
	}
	return completion.Response{Text: text}, nil
}

func (e *scriptedEngine) calls() []completion.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]completion.Request(nil), e.requests...)
}

type recordingObserver struct {
	mu           sync.Mutex
	stages       []string
	compressions []string
	replies      []string
	contextChars []int
}

func (o *recordingObserver) ObserveStage(stage string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) ObserveContextChars(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.contextChars = append(o.contextChars, n)
}

func (o *recordingObserver) ObserveCompression(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.compressions = append(o.compressions, outcome)
}

func (o *recordingObserver) ObserveReply(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies = append(o.replies, outcome)
}
