package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/chloe/internal/completion"
	"github.com/ent0n29/chloe/internal/policy"
)

const (
	DefaultForceTailTurns         = 10
	DefaultReplyMaxTokens         = 100
	DefaultSummaryTokenMultiplier = 5
	DefaultCompletionTimeout      = 30 * time.Second
	DefaultStoreTimeout           = 5 * time.Second

	logPreviewRunes = 80
)

// Stage names reported to the Observer.
const (
	StageContextBuild = "context_build"
	StageCompression  = "compression"
	StageCompletion   = "completion"
	StagePersist      = "persist"
	StageTurnTotal    = "turn_total"
)

// Observer receives per-turn measurements. observability.Metrics implements it.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveContextChars(n int)
	ObserveCompression(outcome string)
	ObserveReply(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) ObserveContextChars(int)            {}
func (nopObserver) ObserveCompression(string)          {}
func (nopObserver) ObserveReply(string)                {}

// Options tunes the context manager. Zero values take the defaults.
type Options struct {
	Persona                Persona
	MaxContextChars        int
	ForceTailTurns         int
	ReplyMaxTokens         int
	SummaryTokenMultiplier int
	Sampling               completion.Sampling
	CompletionTimeout      time.Duration
	StoreTimeout           time.Duration
}

// Deps are the explicitly scoped handles the orchestrator works with.
type Deps struct {
	Store    Store
	Engine   completion.Engine
	Logger   *zap.Logger
	Observer Observer
	Now      func() time.Time
}

// Orchestrator drives the reply cycle for one conversation. All cycles that
// read and then write the stores are serialized through a single slot.
type Orchestrator struct {
	store      Store
	engine     completion.Engine
	builder    *ContextBuilder
	monitor    ThresholdMonitor
	compressor *Compressor
	opts       Options
	logger     *zap.Logger
	observer   Observer
	now        func() time.Time
	slot       chan struct{}
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("completion engine is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.Persona.Preamble == "" && opts.Persona.BotName == "" {
		opts.Persona = DefaultPersona()
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = DefaultMaxContextChars
	}
	if opts.ForceTailTurns <= 0 {
		opts.ForceTailTurns = DefaultForceTailTurns
	}
	if opts.ReplyMaxTokens <= 0 {
		opts.ReplyMaxTokens = DefaultReplyMaxTokens
	}
	if opts.SummaryTokenMultiplier <= 0 {
		opts.SummaryTokenMultiplier = DefaultSummaryTokenMultiplier
	}
	if opts.CompletionTimeout <= 0 {
		opts.CompletionTimeout = DefaultCompletionTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}

	o := &Orchestrator{
		store:    deps.Store,
		engine:   deps.Engine,
		builder:  NewContextBuilder(opts.Persona),
		monitor:  ThresholdMonitor{MaxContextChars: opts.MaxContextChars},
		opts:     opts,
		logger:   deps.Logger,
		observer: deps.Observer,
		now:      deps.Now,
		slot:     make(chan struct{}, 1),
	}
	o.compressor = &Compressor{
		engine:            deps.Engine,
		store:             deps.Store,
		sampling:          opts.Sampling,
		maxTokens:         opts.ReplyMaxTokens * opts.SummaryTokenMultiplier,
		completionTimeout: opts.CompletionTimeout,
		storeTimeout:      opts.StoreTimeout,
		now:               deps.Now,
		logger:            deps.Logger,
	}
	return o, nil
}

// BotName is the persona's display name.
func (o *Orchestrator) BotName() string { return o.builder.Persona().BotName }

// HandleIncomingMessage builds the context, compresses when the threshold
// monitor says so, asks the engine for a reply and records the turn.
//
// A completion failure returns an ErrCompletion error and persists nothing.
// A failed turn save is logged and the reply is still returned with
// Persisted=false.
func (o *Orchestrator) HandleIncomingMessage(ctx context.Context, msg IncomingMessage) (Reply, error) {
	if strings.TrimSpace(msg.AuthorName) == "" {
		msg.AuthorName = GenericSpeaker
	}
	log := o.logger.With(
		zap.String("author", msg.AuthorName),
		zap.String("message", preview(msg.Content)))

	if err := o.acquire(ctx); err != nil {
		o.observer.ObserveReply("canceled")
		return Reply{}, completionError("wait for conversation", err)
	}
	defer o.release()

	turnStart := time.Now()
	defer func() { o.observer.ObserveStage(StageTurnTotal, time.Since(turnStart)) }()

	stageStart := time.Now()
	summaries, turns, err := o.load(ctx)
	if err != nil {
		log.Error("load conversation failed", zap.Error(err))
		o.observer.ObserveReply("store_failed")
		return Reply{}, err
	}
	prompt := o.builder.Build(summaries, turns, msg)
	o.observer.ObserveStage(StageContextBuild, time.Since(stageStart))

	contextLen := ContextLength(prompt)
	o.observer.ObserveContextChars(contextLen)

	compressed := false
	decision := o.monitor.Evaluate(contextLen, len(summaries))
	if decision.Trigger {
		stageStart = time.Now()
		res, err := o.compressor.Compress(ctx, prompt)
		o.observer.ObserveStage(StageCompression, time.Since(stageStart))
		if err != nil {
			// The turn goes ahead on the uncompressed context; the next build
			// re-triggers.
			log.Warn("compression failed",
				zap.Bool("force", decision.Force),
				zap.Int("context_chars", contextLen),
				zap.Error(err))
			o.observer.ObserveCompression("failed")
		} else {
			compressed = true
			o.observer.ObserveCompression(compressionOutcome(decision))
			prompt = o.builder.Build(appendSummary(summaries, res.Summary), o.tail(turns, decision.Force), msg)
		}
	}

	stageStart = time.Now()
	text, err := complete(ctx, o.engine, o.opts.CompletionTimeout, completion.Request{
		Prompt:    prompt,
		Stop:      []string{StopSequence(msg.AuthorName)},
		MaxTokens: o.opts.ReplyMaxTokens,
		Sampling:  o.opts.Sampling,
	})
	o.observer.ObserveStage(StageCompletion, time.Since(stageStart))
	if err != nil {
		log.Error("reply completion failed", zap.Error(err))
		o.observer.ObserveReply("completion_failed")
		return Reply{}, completionError("reply", err)
	}

	turn := Turn{
		ID:         uuid.NewString(),
		AuthorName: msg.AuthorName,
		AuthorID:   msg.AuthorID,
		Content:    msg.Content,
		ReplyText:  text,
		CreatedAt:  o.now().UTC(),
	}
	stageStart = time.Now()
	persisted := true
	if err := withTimeout(ctx, o.opts.StoreTimeout, func(ctx context.Context) error {
		return o.store.InsertTurn(ctx, turn)
	}); err != nil {
		persisted = false
		log.Error("save turn failed", zap.String("turn_id", turn.ID), zap.Error(err))
	}
	o.observer.ObserveStage(StagePersist, time.Since(stageStart))

	if persisted {
		o.observer.ObserveReply("ok")
	} else {
		o.observer.ObserveReply("unsaved")
	}
	log.Debug("reply ready", zap.Bool("compressed", compressed), zap.Bool("persisted", persisted))

	return Reply{Text: text, Persisted: persisted, Compressed: compressed}, nil
}

// Snapshot reads the stored conversation under the conversation slot so it
// never observes a half-finished compression cycle.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := o.acquire(ctx); err != nil {
		return Snapshot{}, storeError("wait for conversation", err)
	}
	defer o.release()

	summaries, turns, err := o.load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	var archives []ArchiveRecord
	if err := withTimeout(ctx, o.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		archives, err = o.store.FindArchives(ctx)
		return err
	}); err != nil {
		return Snapshot{}, storeError("find archives", err)
	}
	return Snapshot{Summaries: summaries, Turns: turns, Archives: len(archives)}, nil
}

// Ping reads the summaries without waiting for the conversation slot, so it
// reports store health while a reply is in flight.
func (o *Orchestrator) Ping(ctx context.Context) error {
	if err := withTimeout(ctx, o.opts.StoreTimeout, func(ctx context.Context) error {
		_, err := o.store.FindSummaries(ctx)
		return err
	}); err != nil {
		return storeError("ping", err)
	}
	return nil
}

// Reset archives any remaining turns and then drops turns and summaries,
// starting the conversation over.
func (o *Orchestrator) Reset(ctx context.Context) (ArchiveRecord, error) {
	if err := o.acquire(ctx); err != nil {
		return ArchiveRecord{}, storeError("wait for conversation", err)
	}
	defer o.release()

	var turns []Turn
	if err := withTimeout(ctx, o.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		turns, err = o.store.FindTurns(ctx)
		return err
	}); err != nil {
		return ArchiveRecord{}, storeError("find turns", err)
	}

	record := ArchiveRecord{
		ID:          uuid.NewString(),
		TriggeredAt: o.now().UTC(),
		Turns:       turns,
	}
	if len(turns) > 0 {
		if err := withTimeout(ctx, o.opts.StoreTimeout, func(ctx context.Context) error {
			return o.store.InsertArchive(ctx, record)
		}); err != nil {
			return ArchiveRecord{}, storeError("insert archive", err)
		}
	}
	if err := withTimeout(ctx, o.opts.StoreTimeout, o.store.ClearTurns); err != nil {
		return ArchiveRecord{}, storeError("clear turns", err)
	}
	if err := withTimeout(ctx, o.opts.StoreTimeout, o.store.ClearSummaries); err != nil {
		return ArchiveRecord{}, storeError("clear summaries", err)
	}

	o.logger.Info("conversation reset", zap.Int("archived_turns", len(turns)))
	return record, nil
}

func (o *Orchestrator) load(ctx context.Context) ([]Summary, []Turn, error) {
	var summaries []Summary
	if err := withTimeout(ctx, o.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		summaries, err = o.store.FindSummaries(ctx)
		return err
	}); err != nil {
		return nil, nil, storeError("find summaries", err)
	}

	var turns []Turn
	if err := withTimeout(ctx, o.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		turns, err = o.store.FindTurns(ctx)
		return err
	}); err != nil {
		return nil, nil, storeError("find turns", err)
	}
	return summaries, turns, nil
}

// tail is the in-memory turn history kept in the rebuilt context after a
// compression: the last ForceTailTurns on a size-forced cycle, all otherwise.
func (o *Orchestrator) tail(turns []Turn, force bool) []Turn {
	if !force || len(turns) <= o.opts.ForceTailTurns {
		return turns
	}
	return turns[len(turns)-o.opts.ForceTailTurns:]
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	select {
	case o.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) release() { <-o.slot }

func appendSummary(summaries []Summary, s Summary) []Summary {
	out := make([]Summary, 0, len(summaries)+1)
	out = append(out, summaries...)
	return append(out, s)
}

func compressionOutcome(d Decision) string {
	if d.Force {
		return "forced"
	}
	return "pending_summaries"
}

func preview(s string) string {
	return policy.LogPreview(s, logPreviewRunes)
}
