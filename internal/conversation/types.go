package conversation

import "time"

// Turn is one persisted exchange: a human message and the agent's reply.
type Turn struct {
	ID         string    `json:"id"`
	AuthorName string    `json:"author_name"`
	AuthorID   string    `json:"author_id,omitempty"`
	Content    string    `json:"content"`
	ReplyText  string    `json:"reply_text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summary is a compressed account of a block of earlier turns.
type Summary struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ArchiveRecord holds the turns displaced by one compression cycle, keyed by
// the time the cycle was triggered. Write-once.
type ArchiveRecord struct {
	ID          string    `json:"id"`
	TriggeredAt time.Time `json:"triggered_at"`
	Turns       []Turn    `json:"turns"`
}

// IncomingMessage is a chat message delivered by a gateway.
type IncomingMessage struct {
	Content    string `json:"content"`
	AuthorName string `json:"author_name"`
	AuthorID   string `json:"author_id,omitempty"`
}

// Reply is the outcome of one handled message.
type Reply struct {
	Text string `json:"text"`
	// Persisted is false when the turn could not be saved. The reply text is
	// still valid in that case.
	Persisted  bool `json:"persisted"`
	Compressed bool `json:"compressed"`
}

// Snapshot is a read-only view of the stored conversation state.
type Snapshot struct {
	Summaries []Summary `json:"summaries"`
	Turns     []Turn    `json:"turns"`
	Archives  int       `json:"archives"`
}
