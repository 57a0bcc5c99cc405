package lighter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	appconfig "perpflow/config"
	"perpflow/internal/feed"
	"perpflow/internal/symbols"
	"perpflow/models"
)

func testMarketTransport(t *testing.T, restURL string) *MarketTransport {
	t.Helper()
	mapper, err := symbols.NewMapper("lighter", map[string]string{"0": "BTC-USD"})
	if err != nil {
		t.Fatalf("mapper: %v", err)
	}
	subs := feed.NewSubscriptionSet("BTC-USD")
	return NewMarketTransport(appconfig.VenueConfig{RestURL: restURL}, mapper, subs)
}

func TestDecodeSubscribedIsSnapshot(t *testing.T) {
	tr := testMarketTransport(t, "")
	msg := []byte(`{"type":"subscribed/order_book","channel":"order_book:0","offset":100,"timestamp":1700000000000,"order_book":{"bids":[{"price":"50000","size":"1.5"}],"asks":[{"price":"50010","size":"2"}]}}`)

	events, err := tr.decodeFrame(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Kind != models.KindBookSnapshot {
		t.Fatalf("events: %+v", events)
	}
	snap := events[0].Snapshot
	if snap.Symbol != "BTC-USD" || snap.Sequence != 100 {
		t.Errorf("snapshot: %+v", snap)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 50000 || snap.Bids[0].Size != 1.5 {
		t.Errorf("bids: %+v", snap.Bids)
	}
}

func TestDecodeUpdateChainsOffsets(t *testing.T) {
	tr := testMarketTransport(t, "")
	msg := []byte(`{"type":"update/order_book","channel":"order_book:0","offset":101,"timestamp":1700000000100,"order_book":{"bids":[],"asks":[{"price":"50010","size":"0"}]}}`)

	events, err := tr.decodeFrame(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Kind != models.KindBookDelta {
		t.Fatalf("events: %+v", events)
	}
	d := events[0].Delta
	if d.PrevSequence != 100 || d.Sequence != 101 {
		t.Errorf("delta chain: prev=%d seq=%d", d.PrevSequence, d.Sequence)
	}
	if len(d.Asks) != 1 || d.Asks[0].Size != 0 {
		t.Errorf("zero-size level must survive decoding: %+v", d.Asks)
	}
}

func TestDecodeIgnoresOtherFrames(t *testing.T) {
	tr := testMarketTransport(t, "")
	for _, msg := range []string{
		`{"type":"pong"}`,
		`{"type":"connected"}`,
	} {
		events, err := tr.decodeFrame([]byte(msg))
		if err != nil || events != nil {
			t.Fatalf("%s: events=%v err=%v", msg, events, err)
		}
	}
}

func TestDecodeDropsUnmappedIndex(t *testing.T) {
	tr := testMarketTransport(t, "")
	msg := []byte(`{"type":"update/order_book","channel":"order_book:7","offset":5,"timestamp":1700000000000,"order_book":{"bids":[],"asks":[]}}`)
	events, err := tr.decodeFrame(msg)
	if err != nil || events != nil {
		t.Fatalf("events=%v err=%v", events, err)
	}
}

func TestSnapshotUsesSharedOffsets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order_book" || r.URL.Query().Get("market_id") != "0" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"code":200,"offset":250,"timestamp":1700000000000,"bids":[{"price":"49990","size":"1"}],"asks":[]}`))
	}))
	defer srv.Close()

	tr := testMarketTransport(t, srv.URL)
	snap, err := tr.Snapshot(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Sequence != 250 {
		t.Errorf("Sequence = %d, want venue offset 250", snap.Sequence)
	}
}

func TestSnapshotErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":429,"message":"rate limited"}`))
	}))
	defer srv.Close()

	tr := testMarketTransport(t, srv.URL)
	if _, err := tr.Snapshot(context.Background(), "BTC-USD"); err == nil {
		t.Fatal("expected error for non-200 code")
	}
}
