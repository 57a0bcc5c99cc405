package extended

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	appconfig "perpflow/config"
	"perpflow/internal/feed"
	"perpflow/internal/symbols"
	"perpflow/models"
)

func testExtendedAccount(t *testing.T, restURL string) *AccountTransport {
	t.Helper()
	mapper, err := symbols.NewMapper("extended", map[string]string{"BTC-USD": "BTC-USD"})
	if err != nil {
		t.Fatalf("mapper: %v", err)
	}
	return NewAccountTransport(appconfig.VenueConfig{RestURL: restURL}, mapper)
}

func TestAccountDecodeBalanceFrame(t *testing.T) {
	tr := testExtendedAccount(t, "")
	msg := []byte(`{"type":"BALANCE","data":{"collateralName":"USD","balance":"2500.75","availableForTrade":"2000","availableForWithdrawal":"1800","updatedTime":1700000000000},"ts":1700000000000,"seq":3}`)

	events, err := tr.decodeFrame(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Kind != models.KindBalances {
		t.Fatalf("events: %+v", events)
	}
	st := events[0].Balances["USD"]
	if st.Total != 2500.75 || st.Available != 2000 || st.Withdrawable != 1800 {
		t.Errorf("balance: %+v", st)
	}
}

func TestAccountDecodePositionFrameIsPartial(t *testing.T) {
	tr := testExtendedAccount(t, "")
	msg := []byte(`{"type":"POSITION","data":[{"market":"BTC-USD","side":"SHORT","size":"0.5","openPrice":"60000","unrealisedPnl":"-25","updatedTime":1700000000000}],"ts":1700000000000,"seq":4}`)

	events, err := tr.decodeFrame(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || !events[0].Partial {
		t.Fatalf("stream position update must be partial: %+v", events)
	}
	pos := events[0].Positions["BTC-USD"]
	if pos.Size != -0.5 || pos.EntryPrice != 60000 {
		t.Errorf("position: %+v", pos)
	}
}

func TestAccountDecodeDropsUnmappedPositions(t *testing.T) {
	tr := testExtendedAccount(t, "")
	msg := []byte(`{"type":"POSITION","data":[{"market":"DOGE-USD","side":"LONG","size":"10","openPrice":"0.1","unrealisedPnl":"0","updatedTime":1700000000000}],"ts":1700000000000,"seq":5}`)

	events, err := tr.decodeFrame(msg)
	if err != nil || events != nil {
		t.Fatalf("events=%v err=%v", events, err)
	}
}

func TestAccountPullNotFoundZeroState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := testExtendedAccount(t, srv.URL)
	events, err := tr.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events: %d", len(events))
	}
	st, ok := events[0].Balances["USD"]
	if !ok || st.Total != 0 {
		t.Errorf("expected explicit zero USD balance: %+v", events[0].Balances)
	}
	if events[1].Partial || len(events[1].Positions) != 0 {
		t.Errorf("expected complete empty position set: %+v", events[1])
	}
}

func TestAccountPullBalanceErrorEnvelopeIsNotZeroState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ERROR","error":{"code":500,"message":"internal error"}}`))
	}))
	defer srv.Close()

	tr := testExtendedAccount(t, srv.URL)
	events, err := tr.Pull(context.Background())
	if err == nil {
		t.Fatalf("expected transport error, got events: %+v", events)
	}
	var terr *feed.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestAccountPullPositionsErrorEnvelopeIsNotEmptyRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/balance":
			w.Write([]byte(`{"status":"OK","data":{"collateralName":"USD","balance":"100","availableForTrade":"90","availableForWithdrawal":"80","updatedTime":1700000000000}}`))
		case "/user/positions":
			w.Write([]byte(`{"status":"ERROR","error":{"code":503,"message":"unavailable"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tr := testExtendedAccount(t, srv.URL)
	events, err := tr.Pull(context.Background())
	if err == nil {
		t.Fatalf("expected transport error, got events: %+v", events)
	}
	var terr *feed.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestAccountPullDecodesState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/balance":
			w.Write([]byte(`{"status":"OK","data":{"collateralName":"USD","balance":"100","availableForTrade":"90","availableForWithdrawal":"80","updatedTime":1700000000000}}`))
		case "/user/positions":
			w.Write([]byte(`{"status":"OK","data":[{"market":"BTC-USD","side":"LONG","size":"1","openPrice":"55000","unrealisedPnl":"5","updatedTime":1700000000000}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tr := testExtendedAccount(t, srv.URL)
	events, err := tr.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if events[0].Balances["USD"].Total != 100 {
		t.Errorf("balances: %+v", events[0].Balances)
	}
	if events[1].Positions["BTC-USD"].Size != 1 {
		t.Errorf("positions: %+v", events[1].Positions)
	}
}
