package paradex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	appconfig "perpflow/config"
	"perpflow/internal/feed"
	"perpflow/internal/rest"
	"perpflow/internal/symbols"
	"perpflow/internal/ws"
	"perpflow/logger"
	"perpflow/models"
)

const venueName = "paradex"

// MarketTransport streams order book snapshots and deltas from the Paradex
// JSON-RPC websocket and pulls full books over REST. Channels are
// order_book.<market>; deltas carry seq_no/prev_seq_no for contiguity
// checks.
type MarketTransport struct {
	cfg    appconfig.VenueConfig
	mapper *symbols.Mapper
	subs   *feed.SubscriptionSet
	rest   *rest.Client
	log    *logger.Log
	rpcID  atomic.Int64
}

// NewMarketTransport builds the transport. The mapper must cover every
// subscribed symbol; events for unmapped venue symbols are dropped with a
// warning.
func NewMarketTransport(cfg appconfig.VenueConfig, mapper *symbols.Mapper, subs *feed.SubscriptionSet) *MarketTransport {
	return &MarketTransport{
		cfg:    cfg,
		mapper: mapper,
		subs:   subs,
		rest:   rest.NewClient(restConfig(cfg)),
		log:    logger.GetLogger(),
	}
}

func restConfig(cfg appconfig.VenueConfig) rest.Config {
	headers := map[string]string{}
	if token := cfg.AuthToken(); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return rest.Config{
		BaseURL:           cfg.RestURL,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.BurstSize,
		MaxIdleConns:      cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:   cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:   cfg.ConnectionPool.IdleConnTimeout,
		Headers:           headers,
	}
}

func (t *MarketTransport) Name() string { return venueName + "-market" }

// OpenPush dials the websocket and subscribes one order book channel per
// subscribed symbol.
func (t *MarketTransport) OpenPush(ctx context.Context) (feed.PushSession, error) {
	var frames []interface{}
	for _, canonical := range t.subs.Symbols() {
		vs, ok := t.mapper.VenueSymbol(canonical)
		if !ok {
			t.log.WithComponent("paradex_market").WithFields(logger.Fields{"symbol": canonical}).Warn("no venue mapping for symbol, skipping subscribe")
			continue
		}
		params, _ := json.Marshal(map[string]string{"channel": "order_book." + vs})
		frames = append(frames, models.ParadexRPCRequest{
			JSONRPC: "2.0",
			ID:      t.rpcID.Add(1),
			Method:  "subscribe",
			Params:  params,
		})
	}
	if len(frames) == 0 {
		return nil, &feed.TransportError{Op: "subscribe", Err: fmt.Errorf("no mapped symbols")}
	}

	header := http.Header{}
	if token := t.cfg.AuthToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	return ws.Dial(ctx, ws.Options{
		Venue:        venueName,
		URL:          t.cfg.WSURL,
		Header:       header,
		Subscribe:    frames,
		PingInterval: 20 * time.Second,
		Decode:       t.decodeFrame,
	})
}

// Pull fetches a fresh snapshot for every subscribed symbol.
func (t *MarketTransport) Pull(ctx context.Context) ([]models.FeedEvent, error) {
	var events []models.FeedEvent
	for _, canonical := range t.subs.Symbols() {
		snap, err := t.Snapshot(ctx, canonical)
		if err != nil {
			return nil, err
		}
		events = append(events, models.FeedEvent{
			Venue:     venueName,
			Symbol:    snap.Symbol,
			Kind:      models.KindBookSnapshot,
			Snapshot:  snap,
			Timestamp: snap.Timestamp,
		})
	}
	return events, nil
}

// Snapshot pulls one full order book over REST.
func (t *MarketTransport) Snapshot(ctx context.Context, canonical string) (*models.BookSnapshot, error) {
	vs, ok := t.mapper.VenueSymbol(canonical)
	if !ok {
		return nil, &feed.TransportError{Op: "snapshot", Err: fmt.Errorf("no venue mapping for %s", canonical)}
	}
	var resp models.ParadexBookMsg
	if err := t.rest.GetJSON(ctx, "/orderbook/"+vs, nil, &resp); err != nil {
		return nil, err
	}
	snap := &models.BookSnapshot{
		Venue:     venueName,
		Symbol:    canonical,
		Bids:      parseLevels(resp.Bids),
		Asks:      parseLevels(resp.Asks),
		Sequence:  resp.SeqNo,
		Timestamp: time.UnixMilli(resp.LastUpdatedAt).UTC(),
	}
	logger.IncrementPullRead(len(snap.Bids) + len(snap.Asks))
	return snap, nil
}

// decodeFrame turns one JSON-RPC frame into at most one feed event.
// Subscribe acks and unknown channels decode to nothing.
func (t *MarketTransport) decodeFrame(msg []byte) ([]models.FeedEvent, error) {
	var frame models.ParadexRPCMessage
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, &feed.SchemaError{Venue: venueName, Err: err}
	}
	if frame.Method != "subscription" {
		// subscribe ack or server notice
		return nil, nil
	}
	if !strings.HasPrefix(frame.Params.Channel, "order_book.") {
		return nil, nil
	}

	var book models.ParadexBookMsg
	if err := json.Unmarshal(frame.Params.Data, &book); err != nil {
		return nil, &feed.SchemaError{Venue: venueName, Err: err}
	}

	canonical, ok := t.mapper.Canonical(book.Market)
	if !ok {
		t.log.WithComponent("paradex_market").WithFields(logger.Fields{"market": book.Market}).Warn("unmapped venue symbol, dropping message")
		return nil, nil
	}

	ts := time.UnixMilli(book.LastUpdatedAt).UTC()
	logger.IncrementPushRead(len(book.Bids) + len(book.Asks))

	if book.UpdateType == "s" {
		return []models.FeedEvent{{
			Venue:  venueName,
			Symbol: canonical,
			Kind:   models.KindBookSnapshot,
			Snapshot: &models.BookSnapshot{
				Venue:     venueName,
				Symbol:    canonical,
				Bids:      parseLevels(book.Bids),
				Asks:      parseLevels(book.Asks),
				Sequence:  book.SeqNo,
				Timestamp: ts,
			},
			Timestamp: ts,
		}}, nil
	}

	return []models.FeedEvent{{
		Venue:  venueName,
		Symbol: canonical,
		Kind:   models.KindBookDelta,
		Delta: &models.BookDelta{
			Venue:        venueName,
			Symbol:       canonical,
			Bids:         parseLevels(book.Bids),
			Asks:         parseLevels(book.Asks),
			PrevSequence: book.PrevSeqNo,
			Sequence:     book.SeqNo,
			Timestamp:    ts,
		},
		Timestamp: ts,
	}}, nil
}

func parseLevels(raw [][2]string) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			continue
		}
		levels = append(levels, models.BookLevel{Price: price, Size: size})
	}
	return levels
}
