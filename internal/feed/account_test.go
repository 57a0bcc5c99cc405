package feed

import (
	"context"
	"testing"
	"time"

	account "perpflow/internal/channel/account"
	"perpflow/models"
)

func newTestAccountFeed(channels *account.Channels) *AccountFeed {
	f := NewAccountFeed("test", &fakeTransport{name: "test"}, channels, testCoordinatorConfig())
	f.ctx = context.Background()
	return f
}

func TestAccountFeedMergesBalances(t *testing.T) {
	f := newTestAccountFeed(nil)

	f.handleEvent(models.FeedEvent{Kind: models.KindBalances, Balances: map[string]models.AccountState{
		"USDC": {Asset: "USDC", Total: 100, Available: 90},
	}})
	f.handleEvent(models.FeedEvent{Kind: models.KindBalances, Balances: map[string]models.AccountState{
		"USDC": {Asset: "USDC", Total: 80, Available: 70},
	}})

	balances := f.Balances()
	if balances["USDC"].Total != 80 || balances["USDC"].Available != 70 {
		t.Errorf("last write did not win: %+v", balances["USDC"])
	}
}

func TestAccountFeedZeroBalanceIsValidState(t *testing.T) {
	f := newTestAccountFeed(nil)

	// a fresh account reports an explicit zero record, not an absence
	f.handleEvent(models.FeedEvent{Kind: models.KindBalances, Balances: map[string]models.AccountState{
		"USDC": {Asset: "USDC", UpdatedAt: time.Unix(1, 0)},
	}})

	balances := f.Balances()
	st, ok := balances["USDC"]
	if !ok {
		t.Fatal("zero balance record missing")
	}
	if st.Total != 0 || st.Available != 0 {
		t.Errorf("unexpected balance: %+v", st)
	}
}

func TestAccountFeedCompleteRefreshClosesMissingPositions(t *testing.T) {
	f := newTestAccountFeed(nil)
	ts := time.Unix(100, 0)

	f.handleEvent(models.FeedEvent{Kind: models.KindPositions, Positions: map[string]models.PositionState{
		"BTC-USD": {Symbol: "BTC-USD", Size: 1.5, EntryPrice: 50000},
		"ETH-USD": {Symbol: "ETH-USD", Size: -2, EntryPrice: 3000},
	}})
	f.handleEvent(models.FeedEvent{Kind: models.KindPositions, Positions: map[string]models.PositionState{
		"BTC-USD": {Symbol: "BTC-USD", Size: 1.5, EntryPrice: 50000},
	}, Timestamp: ts})

	positions := f.Positions()
	eth, ok := positions["ETH-USD"]
	if !ok {
		t.Fatal("closed position was deleted instead of zeroed")
	}
	if eth.Size != 0 || eth.EntryPrice != 0 {
		t.Errorf("position not zeroed: %+v", eth)
	}
	if !eth.UpdatedAt.Equal(ts) {
		t.Errorf("close timestamp: %v", eth.UpdatedAt)
	}
	if positions["BTC-USD"].Size != 1.5 {
		t.Errorf("open position lost: %+v", positions["BTC-USD"])
	}
}

func TestAccountFeedPartialUpdateDoesNotClose(t *testing.T) {
	f := newTestAccountFeed(nil)

	f.handleEvent(models.FeedEvent{Kind: models.KindPositions, Positions: map[string]models.PositionState{
		"BTC-USD": {Symbol: "BTC-USD", Size: 1},
		"ETH-USD": {Symbol: "ETH-USD", Size: 2},
	}})
	// a push update carries only the changed position
	f.handleEvent(models.FeedEvent{Kind: models.KindPositions, Partial: true, Positions: map[string]models.PositionState{
		"BTC-USD": {Symbol: "BTC-USD", Size: 3},
	}})

	positions := f.Positions()
	if positions["BTC-USD"].Size != 3 {
		t.Errorf("partial update not applied: %+v", positions["BTC-USD"])
	}
	if positions["ETH-USD"].Size != 2 {
		t.Errorf("unreported position closed by partial update: %+v", positions["ETH-USD"])
	}
}

func TestAccountFeedReturnsCopies(t *testing.T) {
	f := newTestAccountFeed(nil)
	f.handleEvent(models.FeedEvent{Kind: models.KindBalances, Balances: map[string]models.AccountState{
		"USDC": {Asset: "USDC", Total: 10},
	}})

	got := f.Balances()
	got["USDC"] = models.AccountState{Asset: "USDC", Total: 999}

	if f.Balances()["USDC"].Total != 10 {
		t.Error("Balances returned internal map")
	}
}

func TestAccountFeedPublishesToChannels(t *testing.T) {
	channels := account.NewChannels(8)
	f := newTestAccountFeed(channels)

	f.handleEvent(models.FeedEvent{Kind: models.KindBalances, Balances: map[string]models.AccountState{
		"USDC": {Asset: "USDC", Total: 10},
	}})

	select {
	case ev := <-channels.Events:
		if ev.Kind != models.KindBalances {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("balance event not published")
	}
}
