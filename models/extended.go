package models

import "encoding/json"

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// EXTENDED ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// ExtendedEnvelope is the REST envelope {"status":"OK","data":...} used by
// every Extended endpoint. A non-OK status carries an error description.
type ExtendedEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ExtendedBookLevel is a price level as {"price": "...", "qty": "..."}.
type ExtendedBookLevel struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

// ExtendedBookData is the order book payload for both REST snapshots and
// websocket stream messages.
type ExtendedBookData struct {
	Market string              `json:"market"`
	Bid    []ExtendedBookLevel `json:"bid"`
	Ask    []ExtendedBookLevel `json:"ask"`
}

// ExtendedStreamMsg is one websocket frame on an Extended stream. Type is
// SNAPSHOT or DELTA for order book streams, BALANCE or POSITION on account
// streams. Seq increases by one per frame on a given stream.
type ExtendedStreamMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	TS   int64           `json:"ts"`
	Seq  int64           `json:"seq"`
}

// ExtendedBalance is the user balance payload.
type ExtendedBalance struct {
	CollateralName         string `json:"collateralName"`
	Balance                string `json:"balance"`
	AvailableForTrade      string `json:"availableForTrade"`
	AvailableForWithdrawal string `json:"availableForWithdrawal"`
	UpdatedTime            int64  `json:"updatedTime"`
}

// ExtendedPosition is one entry of the user positions payload.
type ExtendedPosition struct {
	Market        string `json:"market"`
	Side          string `json:"side"` // LONG or SHORT
	Size          string `json:"size"`
	OpenPrice     string `json:"openPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	UpdatedTime   int64  `json:"updatedTime"`
}
