package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	appconfig "perpflow/config"
	"perpflow/internal/feed"
	"perpflow/internal/rest"
	"perpflow/internal/symbols"
	"perpflow/internal/ws"
	"perpflow/logger"
	"perpflow/models"
)

const venueName = "lighter"

// MarketTransport consumes Lighter order book channels. Markets are
// addressed by integer index; the stream sends the full book on subscribe
// and offset-sequenced updates after, with offsets shared between the
// stream and REST snapshots.
type MarketTransport struct {
	cfg    appconfig.VenueConfig
	mapper *symbols.Mapper
	subs   *feed.SubscriptionSet
	rest   *rest.Client
	log    *logger.Log
}

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

// OpenPush subscribes one order book channel per subscribed market index.
func (t *MarketTransport) OpenPush(ctx context.Context) (feed.PushSession, error) {
	var frames []interface{}
	for _, canonical := range t.subs.Symbols() {
		vs, ok := t.mapper.VenueSymbol(canonical)
		if !ok {
			t.log.WithComponent("lighter_market").WithFields(logger.Fields{"symbol": canonical}).Warn("no venue mapping for symbol, skipping subscribe")
			continue
		}
		if _, err := symbols.MarketIndex(vs); err != nil {
			t.log.WithComponent("lighter_market").WithFields(logger.Fields{"symbol": canonical, "venue_symbol": vs}).Warn("venue symbol is not a market index, skipping subscribe")
			continue
		}
		frames = append(frames, models.LighterSubscribe{Type: "subscribe", Channel: "order_book/" + vs})
	}
	if len(frames) == 0 {
		return nil, &feed.TransportError{Op: "subscribe", Err: fmt.Errorf("no mapped symbols")}
	}

	return ws.Dial(ctx, ws.Options{
		Venue:        venueName,
		URL:          t.cfg.WSURL,
		Subscribe:    frames,
		PingInterval: 15 * time.Second,
		PingFrame:    []byte(`{"type":"ping"}`),
		Decode:       t.decodeFrame,
	})
}

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

// Snapshot pulls one order book over REST. Offsets are the same sequence
// the stream uses, so a pulled book slots straight into delta chains.
func (t *MarketTransport) Snapshot(ctx context.Context, canonical string) (*models.BookSnapshot, error) {
	vs, ok := t.mapper.VenueSymbol(canonical)
	if !ok {
		return nil, &feed.TransportError{Op: "snapshot", Err: fmt.Errorf("no venue mapping for %s", canonical)}
	}
	var resp models.LighterBookResp
	if err := t.rest.GetJSON(ctx, "/order_book", url.Values{"market_id": {vs}}, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 200 {
		return nil, &feed.TransportError{Op: "snapshot", Err: fmt.Errorf("code %d: %s", resp.Code, resp.Message)}
	}
	snap := &models.BookSnapshot{
		Venue:     venueName,
		Symbol:    canonical,
		Bids:      parseLevels(resp.Bids),
		Asks:      parseLevels(resp.Asks),
		Sequence:  resp.Offset,
		Timestamp: time.UnixMilli(resp.Timestamp).UTC(),
	}
	logger.IncrementPullRead(len(snap.Bids) + len(snap.Asks))
	return snap, nil
}

func (t *MarketTransport) decodeFrame(msg []byte) ([]models.FeedEvent, error) {
	var frame models.LighterBookMsg
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, &feed.SchemaError{Venue: venueName, Err: err}
	}
	if frame.Type != "subscribed/order_book" && frame.Type != "update/order_book" {
		return nil, nil
	}

	idx := strings.TrimPrefix(frame.Channel, "order_book:")
	canonical, ok := t.mapper.Canonical(idx)
	if !ok {
		t.log.WithComponent("lighter_market").WithFields(logger.Fields{"channel": frame.Channel}).Warn("unmapped market index, dropping message")
		return nil, nil
	}

	ts := time.UnixMilli(frame.Timestamp).UTC()
	bids := parseLevels(frame.OrderBook.Bids)
	asks := parseLevels(frame.OrderBook.Asks)
	logger.IncrementPushRead(len(bids) + len(asks))

	if frame.Type == "subscribed/order_book" {
		return []models.FeedEvent{{
			Venue:  venueName,
			Symbol: canonical,
			Kind:   models.KindBookSnapshot,
			Snapshot: &models.BookSnapshot{
				Venue:     venueName,
				Symbol:    canonical,
				Bids:      bids,
				Asks:      asks,
				Sequence:  frame.Offset,
				Timestamp: ts,
			},
			Timestamp: ts,
		}}, nil
	}

	// updates carry consecutive offsets; a hole surfaces as a base mismatch
	return []models.FeedEvent{{
		Venue:  venueName,
		Symbol: canonical,
		Kind:   models.KindBookDelta,
		Delta: &models.BookDelta{
			Venue:        venueName,
			Symbol:       canonical,
			Bids:         bids,
			Asks:         asks,
			PrevSequence: frame.Offset - 1,
			Sequence:     frame.Offset,
			Timestamp:    ts,
		},
		Timestamp: ts,
	}}, nil
}

func parseLevels(raw []models.LighterLevel) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil {
			continue
		}
		levels = append(levels, models.BookLevel{Price: price, Size: size})
	}
	return levels
}
