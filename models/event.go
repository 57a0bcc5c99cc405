package models

import "time"

// MessageKind is the closed set of normalized feed message kinds. Venue
// payloads are decoded into exactly one kind at the reader boundary so the
// rest of the pipeline never branches on raw type strings.
type MessageKind uint8

const (
	KindBookSnapshot MessageKind = iota
	KindBookDelta
	KindBalances
	KindPositions
)

func (k MessageKind) String() string {
	switch k {
	case KindBookSnapshot:
		return "book_snapshot"
	case KindBookDelta:
		return "book_delta"
	case KindBalances:
		return "balances"
	case KindPositions:
		return "positions"
	}
	return "unknown"
}

// FeedEvent is the tagged variant carried on feed channels. Exactly one of
// the payload pointers matching Kind is set.
type FeedEvent struct {
	Venue     string
	Symbol    string
	Kind      MessageKind
	Snapshot  *BookSnapshot
	Delta     *BookDelta
	Balances  map[string]AccountState
	Positions map[string]PositionState
	// Partial marks a position event that carries only the changed records
	// (push updates). A non-partial position event is a complete refresh:
	// any previously known symbol it omits has been closed.
	Partial   bool
	Timestamp time.Time
}

// BookRow is a single flattened order book level produced by the processor.
type BookRow struct {
	Venue     string  `json:"venue"`
	Symbol    string  `json:"symbol"`
	Kind      string  `json:"kind"`
	Timestamp int64   `json:"timestamp"`
	Sequence  int64   `json:"sequence"`
	Side      string  `json:"side"` // "bid" or "ask"
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Level     int     `json:"level"` // 1 = best
}

// BookBatch groups flattened rows for one (venue, symbol) pair.
type BookBatch struct {
	BatchID     string    `json:"batch_id"`
	Venue       string    `json:"venue"`
	Symbol      string    `json:"symbol"`
	Rows        []BookRow `json:"rows"`
	RecordCount int       `json:"record_count"`
	Timestamp   time.Time `json:"timestamp"`
	ProcessedAt time.Time `json:"processed_at"`
}
