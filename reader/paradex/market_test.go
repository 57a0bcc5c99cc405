package paradex

import (
	"testing"

	appconfig "perpflow/config"
	"perpflow/internal/feed"
	"perpflow/internal/symbols"
	"perpflow/models"
)

func testTransport(t *testing.T) *MarketTransport {
	t.Helper()
	mapper, err := symbols.NewMapper("paradex", map[string]string{"BTC-USD-PERP": "BTC-USD"})
	if err != nil {
		t.Fatalf("mapper: %v", err)
	}
	subs := feed.NewSubscriptionSet("BTC-USD")
	return NewMarketTransport(appconfig.VenueConfig{}, mapper, subs)
}

func TestDecodeFrameSnapshot(t *testing.T) {
	tr := testTransport(t)
	msg := []byte(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"order_book.BTC-USD-PERP","data":{"market":"BTC-USD-PERP","seq_no":12,"update_type":"s","last_updated_at":1700000000000,"bids":[["50000","1.5"],["49999","2"]],"asks":[["50001","1"]]}}}`)

	events, err := tr.decodeFrame(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events: %d", len(events))
	}
	ev := events[0]
	if ev.Kind != models.KindBookSnapshot || ev.Symbol != "BTC-USD" {
		t.Errorf("event: %+v", ev)
	}
	if ev.Snapshot.Sequence != 12 || len(ev.Snapshot.Bids) != 2 || ev.Snapshot.Bids[0].Price != 50000 {
		t.Errorf("snapshot: %+v", ev.Snapshot)
	}
}

func TestDecodeFrameDelta(t *testing.T) {
	tr := testTransport(t)
	msg := []byte(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"order_book.BTC-USD-PERP","data":{"market":"BTC-USD-PERP","seq_no":13,"prev_seq_no":12,"update_type":"d","last_updated_at":1700000001000,"bids":[["50000","0"]],"asks":[]}}}`)

	events, err := tr.decodeFrame(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events: %d", len(events))
	}
	d := events[0].Delta
	if events[0].Kind != models.KindBookDelta || d == nil {
		t.Fatalf("event: %+v", events[0])
	}
	if d.PrevSequence != 12 || d.Sequence != 13 {
		t.Errorf("sequencing: %+v", d)
	}
	if len(d.Bids) != 1 || d.Bids[0].Size != 0 {
		t.Errorf("zero size level lost: %+v", d.Bids)
	}
}

func TestDecodeFrameIgnoresAcksAndOtherChannels(t *testing.T) {
	tr := testTransport(t)

	for _, msg := range []string{
		`{"jsonrpc":"2.0","id":1,"result":{}}`,
		`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"trades.BTC-USD-PERP","data":{}}}`,
	} {
		events, err := tr.decodeFrame([]byte(msg))
		if err != nil {
			t.Errorf("decode %s: %v", msg, err)
		}
		if len(events) != 0 {
			t.Errorf("unexpected events for %s: %+v", msg, events)
		}
	}
}

func TestDecodeFrameDropsUnmappedMarket(t *testing.T) {
	tr := testTransport(t)
	msg := []byte(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":"order_book.SOL-USD-PERP","data":{"market":"SOL-USD-PERP","seq_no":1,"update_type":"s"}}}`)

	events, err := tr.decodeFrame(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("unmapped market forwarded: %+v", events)
	}
}

func TestDecodeFrameMalformedIsSchemaError(t *testing.T) {
	tr := testTransport(t)
	if _, err := tr.decodeFrame([]byte(`{"method":"subscription","params":{"channel":"order_book.BTC-USD-PERP","data":"nope"}}`)); err == nil {
		t.Error("expected schema error")
	}
}

func TestParseLevelsSkipsMalformedPairs(t *testing.T) {
	levels := parseLevels([][2]string{{"100", "1"}, {"x", "1"}, {"101", "y"}})
	if len(levels) != 1 || levels[0].Price != 100 {
		t.Errorf("levels: %+v", levels)
	}
}
