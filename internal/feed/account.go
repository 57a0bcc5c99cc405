package feed

import (
	"context"
	"sync"

	account "perpflow/internal/channel/account"
	"perpflow/logger"
	"perpflow/models"
)

// AccountFeed owns balance and position state for one authenticated account
// on one venue. Updates are whole-record replacements, last write wins per
// asset/symbol. A refresh that omits a previously known position closes it:
// the feed keeps the symbol with an explicitly zeroed PositionState rather
// than deleting it, so consumers observe the close.
type AccountFeed struct {
	venue    string
	coord    *Coordinator
	channels *account.Channels
	log      *logger.Log

	mu        sync.RWMutex
	balances  map[string]models.AccountState
	positions map[string]models.PositionState

	ctx context.Context
}

// NewAccountFeed wires an account feed with its fallback coordinator.
func NewAccountFeed(venue string, transport Transport, channels *account.Channels, cfg CoordinatorConfig) *AccountFeed {
	f := &AccountFeed{
		venue:     venue,
		channels:  channels,
		log:       logger.GetLogger(),
		balances:  make(map[string]models.AccountState),
		positions: make(map[string]models.PositionState),
	}
	f.coord = NewCoordinator(venue+"-account", transport, f.handleEvent, cfg)
	return f
}

func (f *AccountFeed) Start(ctx context.Context) error {
	f.ctx = ctx
	return f.coord.Start(ctx)
}

func (f *AccountFeed) Stop()          { f.coord.Stop() }
func (f *AccountFeed) Mode() Mode     { return f.coord.Mode() }
func (f *AccountFeed) Status() Status { return f.coord.Status() }
func (f *AccountFeed) Err() error     { return f.coord.Err() }

// Balances returns a copy of the balance state keyed by collateral asset.
func (f *AccountFeed) Balances() map[string]models.AccountState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]models.AccountState, len(f.balances))
	for k, v := range f.balances {
		out[k] = v
	}
	return out
}

// Positions returns a copy of the position state keyed by canonical symbol.
// Closed positions are present with zeroed fields.
func (f *AccountFeed) Positions() map[string]models.PositionState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]models.PositionState, len(f.positions))
	for k, v := range f.positions {
		out[k] = v
	}
	return out
}

func (f *AccountFeed) handleEvent(ev models.FeedEvent) {
	switch ev.Kind {
	case models.KindBalances:
		f.mu.Lock()
		for asset, st := range ev.Balances {
			f.balances[asset] = st
		}
		f.mu.Unlock()
	case models.KindPositions:
		// A complete refresh reports every open position; anything known
		// that is no longer reported has been closed. Partial push updates
		// only merge.
		f.mu.Lock()
		for sym, st := range ev.Positions {
			f.positions[sym] = st
		}
		if !ev.Partial {
			for sym, st := range f.positions {
				if _, ok := ev.Positions[sym]; ok {
					continue
				}
				if st.Size == 0 {
					continue
				}
				f.positions[sym] = models.PositionState{Symbol: sym, UpdatedAt: ev.Timestamp}
			}
		}
		f.mu.Unlock()
	default:
		f.log.WithComponent("account_feed").WithFields(logger.Fields{
			"venue": f.venue,
			"kind":  ev.Kind.String(),
		}).Debug("ignoring non-account event")
		return
	}

	if f.channels == nil {
		return
	}
	if !f.channels.SendEvent(f.ctx, ev) && f.ctx.Err() == nil {
		f.log.WithComponent("account_feed").WithFields(logger.Fields{
			"venue": f.venue,
		}).Warn("account event channel full, dropping event")
	}
}
