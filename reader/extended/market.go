package extended

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
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

const venueName = "extended"

// MarketTransport consumes Extended order book streams. One websocket
// carries every subscribed market; frames are typed SNAPSHOT or DELTA with a
// per-connection sequence restarting at 1.
//
// Extended sequences are not comparable across connections or with REST
// snapshots, so the transport assigns its own monotonically increasing
// virtual sequence at the boundary: every emitted snapshot or delta gets the
// next counter value, deltas chain to the last value emitted for their
// market, and a gap in the underlying stream emits an impossible base so the
// feed resynchronizes.
type MarketTransport struct {
	cfg    appconfig.VenueConfig
	mapper *symbols.Mapper
	subs   *feed.SubscriptionSet
	rest   *rest.Client
	log    *logger.Log

	counter atomic.Int64

	mu          sync.Mutex
	lastEmitted map[string]int64 // venue market -> virtual sequence
	lastStream  map[string]int64 // venue market -> raw stream sequence
}

func NewMarketTransport(cfg appconfig.VenueConfig, mapper *symbols.Mapper, subs *feed.SubscriptionSet) *MarketTransport {
	return &MarketTransport{
		cfg:         cfg,
		mapper:      mapper,
		subs:        subs,
		rest:        rest.NewClient(restConfig(cfg)),
		log:         logger.GetLogger(),
		lastEmitted: make(map[string]int64),
		lastStream:  make(map[string]int64),
	}
}

func restConfig(cfg appconfig.VenueConfig) rest.Config {
	headers := map[string]string{}
	if token := cfg.AuthToken(); token != "" {
		headers["X-Api-Key"] = token
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

// OpenPush subscribes the order book stream for every subscribed market.
func (t *MarketTransport) OpenPush(ctx context.Context) (feed.PushSession, error) {
	var frames []interface{}
	for _, canonical := range t.subs.Symbols() {
		vs, ok := t.mapper.VenueSymbol(canonical)
		if !ok {
			t.log.WithComponent("extended_market").WithFields(logger.Fields{"symbol": canonical}).Warn("no venue mapping for symbol, skipping subscribe")
			continue
		}
		frames = append(frames, map[string]string{"type": "SUBSCRIBE", "stream": "orderbooks." + vs})
	}
	if len(frames) == 0 {
		return nil, &feed.TransportError{Op: "subscribe", Err: fmt.Errorf("no mapped symbols")}
	}

	header := http.Header{}
	if token := t.cfg.AuthToken(); token != "" {
		header.Set("X-Api-Key", token)
	}

	// stream sequences restart per connection
	t.mu.Lock()
	t.lastStream = make(map[string]int64)
	t.mu.Unlock()

	return ws.Dial(ctx, ws.Options{
		Venue:        venueName,
		URL:          t.cfg.WSURL,
		Header:       header,
		Subscribe:    frames,
		PingInterval: 15 * time.Second,
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

// Snapshot pulls one order book over REST and stamps it with the next
// virtual sequence.
func (t *MarketTransport) Snapshot(ctx context.Context, canonical string) (*models.BookSnapshot, error) {
	vs, ok := t.mapper.VenueSymbol(canonical)
	if !ok {
		return nil, &feed.TransportError{Op: "snapshot", Err: fmt.Errorf("no venue mapping for %s", canonical)}
	}
	var envelope models.ExtendedEnvelope
	if err := t.rest.GetJSON(ctx, "/info/markets/"+vs+"/orderbook", nil, &envelope); err != nil {
		return nil, err
	}
	if envelope.Status != "OK" {
		return nil, &feed.TransportError{Op: "snapshot", Err: envelopeError(envelope)}
	}
	var book models.ExtendedBookData
	if err := json.Unmarshal(envelope.Data, &book); err != nil {
		return nil, &feed.SchemaError{Venue: venueName, Err: err}
	}

	seq := t.counter.Add(1)
	t.mu.Lock()
	t.lastEmitted[vs] = seq
	t.mu.Unlock()

	snap := &models.BookSnapshot{
		Venue:     venueName,
		Symbol:    canonical,
		Bids:      parseLevels(book.Bid),
		Asks:      parseLevels(book.Ask),
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
	}
	logger.IncrementPullRead(len(snap.Bids) + len(snap.Asks))
	return snap, nil
}

func (t *MarketTransport) decodeFrame(msg []byte) ([]models.FeedEvent, error) {
	var frame models.ExtendedStreamMsg
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, &feed.SchemaError{Venue: venueName, Err: err}
	}
	if frame.Type != "SNAPSHOT" && frame.Type != "DELTA" {
		return nil, nil
	}

	var book models.ExtendedBookData
	if err := json.Unmarshal(frame.Data, &book); err != nil {
		return nil, &feed.SchemaError{Venue: venueName, Err: err}
	}
	canonical, ok := t.mapper.Canonical(book.Market)
	if !ok {
		t.log.WithComponent("extended_market").WithFields(logger.Fields{"market": book.Market}).Warn("unmapped venue symbol, dropping message")
		return nil, nil
	}

	ts := time.UnixMilli(frame.TS).UTC()
	logger.IncrementPushRead(len(book.Bid) + len(book.Ask))

	if frame.Type == "SNAPSHOT" {
		seq := t.counter.Add(1)
		t.mu.Lock()
		t.lastEmitted[book.Market] = seq
		t.lastStream[book.Market] = frame.Seq
		t.mu.Unlock()
		return []models.FeedEvent{{
			Venue:  venueName,
			Symbol: canonical,
			Kind:   models.KindBookSnapshot,
			Snapshot: &models.BookSnapshot{
				Venue:     venueName,
				Symbol:    canonical,
				Bids:      parseLevels(book.Bid),
				Asks:      parseLevels(book.Ask),
				Sequence:  seq,
				Timestamp: ts,
			},
			Timestamp: ts,
		}}, nil
	}

	seq := t.counter.Add(1)
	t.mu.Lock()
	prev := t.lastEmitted[book.Market]
	if raw, ok := t.lastStream[book.Market]; !ok || frame.Seq != raw+1 {
		// stream gap: chain to an impossible base so the feed resyncs
		prev = -1
	}
	t.lastEmitted[book.Market] = seq
	t.lastStream[book.Market] = frame.Seq
	t.mu.Unlock()

	return []models.FeedEvent{{
		Venue:  venueName,
		Symbol: canonical,
		Kind:   models.KindBookDelta,
		Delta: &models.BookDelta{
			Venue:        venueName,
			Symbol:       canonical,
			Bids:         parseLevels(book.Bid),
			Asks:         parseLevels(book.Ask),
			PrevSequence: prev,
			Sequence:     seq,
			Timestamp:    ts,
		},
		Timestamp: ts,
	}}, nil
}

func parseLevels(raw []models.ExtendedBookLevel) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(lvl.Qty, 64)
		if err != nil {
			continue
		}
		levels = append(levels, models.BookLevel{Price: price, Size: size})
	}
	return levels
}
