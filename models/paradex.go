package models

import "encoding/json"

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// PARADEX ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// ParadexRPCRequest is the JSON-RPC 2.0 frame used for websocket subscribes.
type ParadexRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ParadexRPCMessage is an inbound JSON-RPC frame: either a response to a
// subscribe request (ID set) or a subscription notification (Method set).
type ParadexRPCMessage struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method,omitempty"`
	Params  struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ParadexBookMsg carries an order book snapshot or delta on the
// order_book.<market> channel. UpdateType is "s" for snapshots and "d" for
// deltas; inserts, updates and deletes all arrive as [price, size] pairs with
// size zero denoting a delete.
type ParadexBookMsg struct {
	Market        string      `json:"market"`
	SeqNo         int64       `json:"seq_no"`
	PrevSeqNo     int64       `json:"prev_seq_no"`
	UpdateType    string      `json:"update_type"`
	LastUpdatedAt int64       `json:"last_updated_at"`
	Bids          [][2]string `json:"bids"`
	Asks          [][2]string `json:"asks"`
}

// ParadexBalance is one row of the balance endpoint / balance channel.
type ParadexBalance struct {
	Token         string `json:"token"`
	Size          string `json:"size"`
	Available     string `json:"available"`
	LastUpdatedAt int64  `json:"last_updated_at"`
}

// ParadexPosition is one row of the positions endpoint / positions channel.
type ParadexPosition struct {
	Market            string `json:"market"`
	Side              string `json:"side"` // LONG or SHORT
	Size              string `json:"size"`
	AverageEntryPrice string `json:"average_entry_price"`
	UnrealizedPnl     string `json:"unrealized_pnl"`
	LastUpdatedAt     int64  `json:"last_updated_at"`
}

// ParadexResults is the REST list envelope {"results": [...]}.
type ParadexResults struct {
	Results json.RawMessage `json:"results"`
}
