package extended

import (
	"context"
	"encoding/json"
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
	mapper, err := symbols.NewMapper("extended", map[string]string{"BTC-USD": "BTC-USD"})
	if err != nil {
		t.Fatalf("mapper: %v", err)
	}
	subs := feed.NewSubscriptionSet("BTC-USD")
	return NewMarketTransport(appconfig.VenueConfig{RestURL: restURL}, mapper, subs)
}

func streamFrame(t *testing.T, typ string, seq int64, bids, asks []models.ExtendedBookLevel) []byte {
	t.Helper()
	data, _ := json.Marshal(models.ExtendedBookData{Market: "BTC-USD", Bid: bids, Ask: asks})
	msg, err := json.Marshal(models.ExtendedStreamMsg{Type: typ, Data: data, TS: 1700000000000, Seq: seq})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return msg
}

func TestDecodeChainsDeltaToStreamSnapshot(t *testing.T) {
	tr := testMarketTransport(t, "")

	snap, err := tr.decodeFrame(streamFrame(t, "SNAPSHOT", 1,
		[]models.ExtendedBookLevel{{Price: "100", Qty: "2"}}, nil))
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap) != 1 || snap[0].Kind != models.KindBookSnapshot {
		t.Fatalf("snapshot events: %+v", snap)
	}
	base := snap[0].Snapshot.Sequence

	delta, err := tr.decodeFrame(streamFrame(t, "DELTA", 2,
		[]models.ExtendedBookLevel{{Price: "100", Qty: "3"}}, nil))
	if err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	if len(delta) != 1 || delta[0].Kind != models.KindBookDelta {
		t.Fatalf("delta events: %+v", delta)
	}
	d := delta[0].Delta
	if d.PrevSequence != base {
		t.Errorf("PrevSequence = %d, want %d", d.PrevSequence, base)
	}
	if d.Sequence <= base {
		t.Errorf("Sequence = %d, not after %d", d.Sequence, base)
	}
}

func TestDecodeStreamGapBreaksChain(t *testing.T) {
	tr := testMarketTransport(t, "")

	if _, err := tr.decodeFrame(streamFrame(t, "SNAPSHOT", 1, nil, nil)); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	// raw sequence jumps 1 -> 3
	events, err := tr.decodeFrame(streamFrame(t, "DELTA", 3,
		[]models.ExtendedBookLevel{{Price: "100", Qty: "1"}}, nil))
	if err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	if events[0].Delta.PrevSequence != -1 {
		t.Errorf("gapped delta must chain to an impossible base, got %d", events[0].Delta.PrevSequence)
	}
}

func TestDecodeDeltaWithoutStreamStateBreaksChain(t *testing.T) {
	tr := testMarketTransport(t, "")
	// first frame after (re)connect is a delta, nothing recorded for the market
	events, err := tr.decodeFrame(streamFrame(t, "DELTA", 7, nil,
		[]models.ExtendedBookLevel{{Price: "101", Qty: "1"}}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if events[0].Delta.PrevSequence != -1 {
		t.Errorf("PrevSequence = %d, want -1", events[0].Delta.PrevSequence)
	}
}

func TestRestSnapshotOutranksEarlierStreamEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info/markets/BTC-USD/orderbook" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"OK","data":{"market":"BTC-USD","bid":[{"price":"99","qty":"5"}],"ask":[{"price":"101","qty":"4"}]}}`))
	}))
	defer srv.Close()

	tr := testMarketTransport(t, srv.URL)
	streamed, err := tr.decodeFrame(streamFrame(t, "SNAPSHOT", 1, nil, nil))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	snap, err := tr.Snapshot(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Sequence <= streamed[0].Snapshot.Sequence {
		t.Errorf("REST snapshot sequence %d does not outrank stream sequence %d",
			snap.Sequence, streamed[0].Snapshot.Sequence)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 99 || snap.Bids[0].Size != 5 {
		t.Errorf("bids: %+v", snap.Bids)
	}

	// a delta after the REST snapshot chains to it
	events, err := tr.decodeFrame(streamFrame(t, "DELTA", 2, nil, nil))
	if err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	if events[0].Delta.PrevSequence != snap.Sequence {
		t.Errorf("delta chains to %d, want REST snapshot %d", events[0].Delta.PrevSequence, snap.Sequence)
	}
}

func TestSnapshotErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ERROR","error":{"code":1101,"message":"unknown market"}}`))
	}))
	defer srv.Close()

	tr := testMarketTransport(t, srv.URL)
	if _, err := tr.Snapshot(context.Background(), "BTC-USD"); err == nil {
		t.Fatal("expected error for non-OK status")
	}
}

func TestDecodeIgnoresNonBookFrames(t *testing.T) {
	tr := testMarketTransport(t, "")
	events, err := tr.decodeFrame([]byte(`{"type":"SUBSCRIBED","ts":1700000000000}`))
	if err != nil || events != nil {
		t.Fatalf("events=%v err=%v", events, err)
	}
}

func TestDecodeDropsUnmappedMarket(t *testing.T) {
	tr := testMarketTransport(t, "")
	msg := []byte(`{"type":"SNAPSHOT","data":{"market":"DOGE-USD","bid":[],"ask":[]},"ts":1700000000000,"seq":1}`)
	events, err := tr.decodeFrame(msg)
	if err != nil || events != nil {
		t.Fatalf("events=%v err=%v", events, err)
	}
}
