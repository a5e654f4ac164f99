package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/chloe/internal/completion"
)

const summaryInstruction = "Produce a detailed summary of the following conversation. " +
	"Keep the names of the participants, the facts they shared and anything they asked to be remembered."

// CompressResult is what one successful compression cycle wrote.
type CompressResult struct {
	Summary Summary
	Archive ArchiveRecord
}

// Compressor runs the summarize, archive, prune cycle.
type Compressor struct {
	engine            completion.Engine
	store             Store
	sampling          completion.Sampling
	maxTokens         int
	completionTimeout time.Duration
	storeTimeout      time.Duration
	now               func() time.Time
	logger            *zap.Logger
}

// Compress summarizes contextText and rotates the turn store.
//
// Order matters: the summary and the archive record are written before any
// turn is removed. If the engine fails nothing is written at all; if a store
// write fails the cycle stops there and turns are left in place.
//
// A failure after InsertSummary keeps the new summary next to the turns it
// covers, so the next cycle summarizes those turns again. Summaries are never
// rolled back.
func (c *Compressor) Compress(ctx context.Context, contextText string) (CompressResult, error) {
	triggeredAt := c.now().UTC()

	text, err := complete(ctx, c.engine, c.completionTimeout, completion.Request{
		Prompt:    summaryInstruction + "\n\n" + contextText,
		MaxTokens: c.maxTokens,
		Sampling:  c.sampling,
	})
	if err != nil {
		return CompressResult{}, compressionError("summarize", completionError("summarize", err))
	}

	summary := Summary{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: c.now().UTC(),
	}
	if err := withTimeout(ctx, c.storeTimeout, func(ctx context.Context) error {
		return c.store.InsertSummary(ctx, summary)
	}); err != nil {
		return CompressResult{}, compressionError("save summary", storeError("insert summary", err))
	}

	var turns []Turn
	if err := withTimeout(ctx, c.storeTimeout, func(ctx context.Context) error {
		var err error
		turns, err = c.store.FindTurns(ctx)
		return err
	}); err != nil {
		return CompressResult{}, compressionError("archive", storeError("find turns", err))
	}

	archive := ArchiveRecord{
		ID:          uuid.NewString(),
		TriggeredAt: triggeredAt,
		Turns:       turns,
	}
	if err := withTimeout(ctx, c.storeTimeout, func(ctx context.Context) error {
		return c.store.InsertArchive(ctx, archive)
	}); err != nil {
		return CompressResult{}, compressionError("archive", storeError("insert archive", err))
	}

	if err := withTimeout(ctx, c.storeTimeout, c.store.ClearTurns); err != nil {
		return CompressResult{}, compressionError("prune", storeError("clear turns", err))
	}

	c.logger.Info("conversation compressed",
		zap.String("summary_id", summary.ID),
		zap.String("archive_id", archive.ID),
		zap.Int("archived_turns", len(turns)),
		zap.Int("summary_chars", ContextLength(text)))

	return CompressResult{Summary: summary, Archive: archive}, nil
}

func compressionError(op string, err error) error {
	return &Error{Kind: KindCompression, Op: op, Err: err}
}

// complete runs one engine call under timeout and rejects empty output.
func complete(ctx context.Context, engine completion.Engine, timeout time.Duration, req completion.Request) (string, error) {
	var text string
	err := withTimeout(ctx, timeout, func(ctx context.Context) error {
		resp, err := engine.Complete(ctx, req)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(resp.Text)
		return nil
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}

func withTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(callCtx)
}
