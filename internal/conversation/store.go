package conversation

import "context"

// TurnStore is the durable record of turns since the last compression.
// FindTurns returns turns in creation order.
type TurnStore interface {
	InsertTurn(ctx context.Context, turn Turn) error
	FindTurns(ctx context.Context) ([]Turn, error)
	ClearTurns(ctx context.Context) error
}

// SummaryStore is append-only on the online path. ClearSummaries exists only
// for an explicit conversation reset.
type SummaryStore interface {
	InsertSummary(ctx context.Context, summary Summary) error
	FindSummaries(ctx context.Context) ([]Summary, error)
	ClearSummaries(ctx context.Context) error
}

// ArchiveStore keeps recovery copies of pruned turns.
type ArchiveStore interface {
	InsertArchive(ctx context.Context, record ArchiveRecord) error
	FindArchives(ctx context.Context) ([]ArchiveRecord, error)
}

// Store groups the three collections backing one conversation.
type Store interface {
	TurnStore
	SummaryStore
	ArchiveStore
	Close() error
}
