package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"

	book "perpflow/internal/channel/book"
	"perpflow/logger"
	"perpflow/models"
)

// MarketTransport extends Transport with a per-symbol snapshot fetch used
// for push baselines and resynchronization. Symbols are canonical.
type MarketTransport interface {
	Transport
	Snapshot(ctx context.Context, symbol string) (*models.BookSnapshot, error)
}

// SubscriptionSet is the symbol set shared between a market feed and its
// venue transport. Registration is idempotent; symbols are never removed by
// transport transitions.
type SubscriptionSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func NewSubscriptionSet(symbols ...string) *SubscriptionSet {
	s := &SubscriptionSet{set: make(map[string]struct{}, len(symbols))}
	s.Add(symbols...)
	return s
}

func (s *SubscriptionSet) Add(symbols ...string) {
	s.mu.Lock()
	for _, sym := range symbols {
		s.set[sym] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *SubscriptionSet) Contains(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[symbol]
	return ok
}

// Symbols returns the subscribed canonical symbols in stable order.
func (s *SubscriptionSet) Symbols() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.set))
	for sym := range s.set {
		out = append(out, sym)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// MarketFeed owns the order book state for one venue's subscribed symbols
// and publishes immutable snapshot/delta events. Sequencing rules: snapshots
// replace state only when newer, deltas apply only when contiguous, anything
// else triggers exactly one resynchronization per symbol.
type MarketFeed struct {
	venue     string
	transport MarketTransport
	subs      *SubscriptionSet
	coord     *Coordinator
	channels  *book.Channels
	log       *logger.Log

	mu        sync.Mutex
	books     map[string]*models.BookSnapshot
	resyncing map[string]bool

	ctx      context.Context
	cancel   context.CancelFunc
	resyncWG sync.WaitGroup
}

// NewMarketFeed wires a market feed with its fallback coordinator.
func NewMarketFeed(venue string, transport MarketTransport, subs *SubscriptionSet, channels *book.Channels, cfg CoordinatorConfig) *MarketFeed {
	f := &MarketFeed{
		venue:     venue,
		transport: transport,
		subs:      subs,
		channels:  channels,
		log:       logger.GetLogger(),
		books:     make(map[string]*models.BookSnapshot),
		resyncing: make(map[string]bool),
	}
	f.coord = NewCoordinator(venue+"-market", transport, f.handleEvent, cfg)
	f.coord.SetPushStartHook(f.baseline)
	return f
}

// Subscribe registers interest in canonical symbols. Idempotent.
func (f *MarketFeed) Subscribe(symbols ...string) {
	f.subs.Add(symbols...)
}

// Start launches the feed. The coordinator begins with a push attempt.
func (f *MarketFeed) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)
	return f.coord.Start(f.ctx)
}

// Stop shuts the coordinator down, cancels any resync request still in
// flight and waits for it before returning.
func (f *MarketFeed) Stop() {
	f.coord.Stop()
	if f.cancel != nil {
		f.cancel()
	}
	f.resyncWG.Wait()
}

func (f *MarketFeed) Mode() Mode     { return f.coord.Mode() }
func (f *MarketFeed) Status() Status { return f.coord.Status() }
func (f *MarketFeed) Err() error     { return f.coord.Err() }

// Snapshot returns a copy of the latest known book for a symbol, or
// ErrNoData when the symbol was never populated.
func (f *MarketFeed) Snapshot(symbol string) (models.BookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.books[symbol]
	if !ok {
		return models.BookSnapshot{}, fmt.Errorf("%s %s: %w", f.venue, symbol, ErrNoData)
	}
	return cur.Clone(), nil
}

// baseline fetches a fresh snapshot per subscribed symbol so deltas have a
// sequence base before the push stream is consumed.
func (f *MarketFeed) baseline(ctx context.Context) error {
	for _, sym := range f.subs.Symbols() {
		snap, err := f.transport.Snapshot(ctx, sym)
		if err != nil {
			return err
		}
		f.applySnapshot(snap)
	}
	return nil
}

func (f *MarketFeed) handleEvent(ev models.FeedEvent) {
	switch ev.Kind {
	case models.KindBookSnapshot:
		f.applySnapshot(ev.Snapshot)
	case models.KindBookDelta:
		f.applyDelta(ev.Delta)
	default:
		f.log.WithComponent("market_feed").WithFields(logger.Fields{
			"venue": f.venue,
			"kind":  ev.Kind.String(),
		}).Debug("ignoring non-book event")
	}
}

// applySnapshot replaces the symbol's state unless the snapshot is stale. A
// resync in flight for the symbol is finished either way.
func (f *MarketFeed) applySnapshot(s *models.BookSnapshot) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.resyncing[s.Symbol] = false
	cur, ok := f.books[s.Symbol]
	if ok && s.Sequence <= cur.Sequence {
		f.mu.Unlock()
		return
	}
	owned := s.Clone()
	f.books[s.Symbol] = &owned
	f.mu.Unlock()

	f.publish(models.FeedEvent{
		Venue:     f.venue,
		Symbol:    s.Symbol,
		Kind:      models.KindBookSnapshot,
		Snapshot:  s,
		Timestamp: s.Timestamp,
	})
}

func (f *MarketFeed) applyDelta(d *models.BookDelta) {
	if d == nil {
		return
	}
	f.mu.Lock()
	cur, ok := f.books[d.Symbol]
	switch {
	case !ok:
		f.triggerResync(d.Symbol, "delta before baseline")
		f.mu.Unlock()
		return
	case d.Sequence <= cur.Sequence:
		// already covered by the current state, e.g. a push delta raced a
		// pull snapshot
		f.mu.Unlock()
		return
	case d.PrevSequence != cur.Sequence:
		f.triggerResync(d.Symbol, "sequence gap")
		f.mu.Unlock()
		return
	}
	cur.Apply(d)
	f.mu.Unlock()

	f.publish(models.FeedEvent{
		Venue:     f.venue,
		Symbol:    d.Symbol,
		Kind:      models.KindBookDelta,
		Delta:     d,
		Timestamp: d.Timestamp,
	})
}

// triggerResync requests one fresh snapshot for the symbol. Callers hold
// f.mu. At most one request is in flight per symbol; further gaps while it
// runs are ignored.
func (f *MarketFeed) triggerResync(symbol, reason string) {
	if f.resyncing[symbol] {
		return
	}
	f.resyncing[symbol] = true
	delete(f.books, symbol)

	f.log.WithComponent("market_feed").WithFields(logger.Fields{
		"venue":  f.venue,
		"symbol": symbol,
		"reason": reason,
	}).Warn("resynchronizing order book")

	f.resyncWG.Add(1)
	go func() {
		defer f.resyncWG.Done()
		snap, err := f.transport.Snapshot(f.ctx, symbol)
		if err != nil {
			f.log.WithComponent("market_feed").WithFields(logger.Fields{
				"venue":  f.venue,
				"symbol": symbol,
			}).WithError(err).Warn("resync snapshot failed")
			f.mu.Lock()
			f.resyncing[symbol] = false
			f.mu.Unlock()
			return
		}
		f.applySnapshot(snap)
	}()
}

func (f *MarketFeed) publish(ev models.FeedEvent) {
	if f.channels == nil {
		return
	}
	if !f.channels.SendEvent(f.ctx, ev) && f.ctx.Err() == nil {
		f.log.WithComponent("market_feed").WithFields(logger.Fields{
			"venue":  f.venue,
			"symbol": ev.Symbol,
		}).Warn("book event channel full, dropping event")
	}
}
