package models

import "time"

// BookLevel represents a single price level in an order book. A Size of zero,
// when applied as part of a delta, removes the level.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSnapshot is the complete order book state for one symbol at one
// sequence point. Applying a snapshot replaces all prior state for its symbol.
type BookSnapshot struct {
	Venue     string      `json:"venue"`
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Sequence  int64       `json:"sequence"`
	Timestamp time.Time   `json:"timestamp"`
}

// Clone returns a deep copy so consumers never share level slices with the
// owning feed.
func (s *BookSnapshot) Clone() BookSnapshot {
	out := *s
	out.Bids = append([]BookLevel(nil), s.Bids...)
	out.Asks = append([]BookLevel(nil), s.Asks...)
	return out
}

// BookDelta is an incremental set of level changes. It is valid only when
// PrevSequence matches the receiver's last applied sequence; otherwise the
// receiver must discard its state and request a fresh snapshot.
type BookDelta struct {
	Venue        string      `json:"venue"`
	Symbol       string      `json:"symbol"`
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
	PrevSequence int64       `json:"prev_sequence"`
	Sequence     int64       `json:"sequence"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Apply merges the delta into the snapshot and advances its sequence. Zero
// sized levels are removed. Sequence validation is the caller's job; Apply
// assumes the delta is contiguous.
func (s *BookSnapshot) Apply(d *BookDelta) {
	s.Bids = applyLevels(s.Bids, d.Bids, func(a, b float64) bool { return a > b })
	s.Asks = applyLevels(s.Asks, d.Asks, func(a, b float64) bool { return a < b })
	s.Sequence = d.Sequence
	if !d.Timestamp.IsZero() {
		s.Timestamp = d.Timestamp
	}
}

// applyLevels merges changes into a side kept sorted best-first.
func applyLevels(side []BookLevel, changes []BookLevel, better func(a, b float64) bool) []BookLevel {
	for _, ch := range changes {
		idx := -1
		for i, lvl := range side {
			if lvl.Price == ch.Price {
				idx = i
				break
			}
		}
		switch {
		case ch.Size == 0 && idx >= 0:
			side = append(side[:idx], side[idx+1:]...)
		case ch.Size == 0:
			// removal of an unknown level, nothing to do
		case idx >= 0:
			side[idx].Size = ch.Size
		default:
			pos := len(side)
			for i, lvl := range side {
				if better(ch.Price, lvl.Price) {
					pos = i
					break
				}
			}
			side = append(side, BookLevel{})
			copy(side[pos+1:], side[pos:])
			side[pos] = ch
		}
	}
	return side
}
