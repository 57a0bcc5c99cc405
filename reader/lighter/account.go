package lighter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	appconfig "perpflow/config"
	"perpflow/internal/feed"
	"perpflow/internal/rest"
	"perpflow/internal/symbols"
	"perpflow/logger"
	"perpflow/models"
)

// AccountTransport pulls balances and positions for one Lighter account
// index. Lighter has no account stream, so OpenPush reports push as
// unsupported and the coordinator stays in pull mode.
type AccountTransport struct {
	cfg        appconfig.VenueConfig
	mapper     *symbols.Mapper
	rest       *rest.Client
	collateral string
	account    string
	log        *logger.Log
}

func NewAccountTransport(cfg appconfig.VenueConfig, mapper *symbols.Mapper) *AccountTransport {
	collateral := cfg.CollateralAsset
	if collateral == "" {
		collateral = "USDC"
	}
	return &AccountTransport{
		cfg:        cfg,
		mapper:     mapper,
		rest:       rest.NewClient(restConfig(cfg)),
		collateral: collateral,
		account:    strconv.Itoa(cfg.AccountIndex),
		log:        logger.GetLogger(),
	}
}

func (t *AccountTransport) Name() string { return venueName + "-account" }

func (t *AccountTransport) OpenPush(ctx context.Context) (feed.PushSession, error) {
	return nil, feed.ErrPushUnsupported
}

// Pull fetches the account by index. A not-found account is a fresh account
// with a zero balance and no positions.
func (t *AccountTransport) Pull(ctx context.Context) ([]models.FeedEvent, error) {
	now := time.Now().UTC()

	var resp models.LighterAccountResp
	err := t.rest.GetJSON(ctx, "/account", url.Values{"by": {"index"}, "value": {t.account}}, &resp)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			return t.zeroEvents(now), nil
		}
		return nil, err
	}
	// Only an explicit not-found, or a clean response with no accounts,
	// means a fresh zero-balance account. Any other envelope code is a
	// server-side failure and must not masquerade as real state.
	if resp.Code == 404 || (resp.Code == 200 && len(resp.Accounts) == 0) {
		return t.zeroEvents(now), nil
	}
	if resp.Code != 200 {
		return nil, &feed.TransportError{Op: "account", Err: fmt.Errorf("code %d: %s", resp.Code, resp.Message)}
	}

	acct := resp.Accounts[0]
	balances := map[string]models.AccountState{
		t.collateral: {
			Asset:        t.collateral,
			Total:        parseDecimal(acct.Collateral),
			Available:    parseDecimal(acct.AvailableBalance),
			Withdrawable: parseDecimal(acct.WithdrawableBalance),
			UpdatedAt:    now,
		},
	}

	positions := make(map[string]models.PositionState, len(acct.Positions))
	for _, pos := range acct.Positions {
		idx := strconv.Itoa(pos.MarketID)
		canonical, ok := t.mapper.Canonical(idx)
		if !ok {
			t.log.WithComponent("lighter_account").WithFields(logger.Fields{"market_id": pos.MarketID}).Warn("unmapped market index, dropping position")
			continue
		}
		size := parseDecimal(pos.Position)
		if pos.Sign < 0 && size > 0 {
			size = -size
		}
		positions[canonical] = models.PositionState{
			Symbol:        canonical,
			Size:          size,
			EntryPrice:    parseDecimal(pos.AvgEntryPrice),
			UnrealizedPnl: pos.UnrealizedPnl,
			UpdatedAt:     now,
		}
	}

	logger.IncrementPullRead(len(balances) + len(positions))
	return []models.FeedEvent{
		{Venue: venueName, Kind: models.KindBalances, Balances: balances, Timestamp: now},
		{Venue: venueName, Kind: models.KindPositions, Positions: positions, Timestamp: now},
	}, nil
}

func (t *AccountTransport) zeroEvents(now time.Time) []models.FeedEvent {
	return []models.FeedEvent{
		{
			Venue: venueName,
			Kind:  models.KindBalances,
			Balances: map[string]models.AccountState{
				t.collateral: {Asset: t.collateral, UpdatedAt: now},
			},
			Timestamp: now,
		},
		{
			Venue:     venueName,
			Kind:      models.KindPositions,
			Positions: map[string]models.PositionState{},
			Timestamp: now,
		},
	}
}

func parseDecimal(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
