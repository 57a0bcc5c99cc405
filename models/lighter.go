package models

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// LIGHTER ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// LighterSubscribe is the websocket subscribe frame. Channels address order
// books by integer market index, e.g. "order_book/0".
type LighterSubscribe struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// LighterLevel is a price level as decimal strings.
type LighterLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// LighterBookMsg is a websocket order book frame. Type is
// "subscribed/order_book" for the initial full book and "update/order_book"
// for incremental changes. Offset is the book sequence; updates apply on top
// of the previous offset.
type LighterBookMsg struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"` // "order_book:<market_id>"
	Offset    int64  `json:"offset"`
	Timestamp int64  `json:"timestamp"`
	OrderBook struct {
		Bids []LighterLevel `json:"bids"`
		Asks []LighterLevel `json:"asks"`
	} `json:"order_book"`
}

// LighterBookResp is the REST order book response. Code 200 is success.
type LighterBookResp struct {
	Code      int            `json:"code"`
	Message   string         `json:"message,omitempty"`
	Offset    int64          `json:"offset"`
	Timestamp int64          `json:"timestamp"`
	Bids      []LighterLevel `json:"bids"`
	Asks      []LighterLevel `json:"asks"`
}

// LighterAccountResp is the REST account response containing collateral and
// the full position set for one account index.
type LighterAccountResp struct {
	Code     int    `json:"code"`
	Message  string `json:"message,omitempty"`
	Accounts []struct {
		Collateral          string `json:"collateral"`
		AvailableBalance    string `json:"available_balance"`
		WithdrawableBalance string `json:"withdrawable_balance"`
		Positions           []struct {
			MarketID      int     `json:"market_id"`
			Sign          int     `json:"sign"` // 1 long, -1 short
			Position      string  `json:"position"`
			AvgEntryPrice string  `json:"avg_entry_price"`
			UnrealizedPnl float64 `json:"unrealized_pnl"`
		} `json:"positions"`
	} `json:"accounts"`
}
