package models

import "time"

// AccountState holds the balance for one collateral asset. Updates are whole
// record replacements keyed by asset, last write wins.
type AccountState struct {
	Asset        string    `json:"asset"`
	Total        float64   `json:"total"`
	Available    float64   `json:"available"`
	Withdrawable float64   `json:"withdrawable"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PositionState is the per-symbol position, replaced wholesale on each
// update. Size is signed: positive long, negative short. A refresh that no
// longer reports a previously known symbol closes the position, which the
// account feed records as an explicitly zeroed PositionState.
type PositionState struct {
	Symbol        string    `json:"symbol"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}
