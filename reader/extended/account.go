package extended

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	appconfig "perpflow/config"
	"perpflow/internal/feed"
	"perpflow/internal/rest"
	"perpflow/internal/symbols"
	"perpflow/internal/ws"
	"perpflow/logger"
	"perpflow/models"
)

// AccountTransport feeds balances and positions for one Extended account.
// The account stream pushes BALANCE and POSITION frames; the REST endpoints
// serve the complete state on pull. A not-found balance is a fresh account
// with a zero balance, never an error.
type AccountTransport struct {
	cfg        appconfig.VenueConfig
	mapper     *symbols.Mapper
	rest       *rest.Client
	collateral string
	log        *logger.Log
}

func NewAccountTransport(cfg appconfig.VenueConfig, mapper *symbols.Mapper) *AccountTransport {
	collateral := cfg.CollateralAsset
	if collateral == "" {
		collateral = "USD"
	}
	return &AccountTransport{
		cfg:        cfg,
		mapper:     mapper,
		rest:       rest.NewClient(restConfig(cfg)),
		collateral: collateral,
		log:        logger.GetLogger(),
	}
}

func (t *AccountTransport) Name() string { return venueName + "-account" }

func (t *AccountTransport) OpenPush(ctx context.Context) (feed.PushSession, error) {
	header := http.Header{}
	if token := t.cfg.AuthToken(); token != "" {
		header.Set("X-Api-Key", token)
	}
	return ws.Dial(ctx, ws.Options{
		Venue:        venueName,
		URL:          t.cfg.WSURL,
		Header:       header,
		Subscribe:    []interface{}{map[string]string{"type": "SUBSCRIBE", "stream": "account"}},
		PingInterval: 15 * time.Second,
		Decode:       t.decodeFrame,
	})
}

// Pull fetches the full balance and position state.
func (t *AccountTransport) Pull(ctx context.Context) ([]models.FeedEvent, error) {
	now := time.Now().UTC()

	balances, err := t.pullBalance(ctx, now)
	if err != nil {
		return nil, err
	}
	positions, err := t.pullPositions(ctx, now)
	if err != nil {
		return nil, err
	}
	logger.IncrementPullRead(len(balances.Balances) + len(positions.Positions))
	return []models.FeedEvent{balances, positions}, nil
}

func (t *AccountTransport) pullBalance(ctx context.Context, now time.Time) (models.FeedEvent, error) {
	var envelope models.ExtendedEnvelope
	err := t.rest.GetJSON(ctx, "/user/balance", nil, &envelope)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			return t.zeroBalanceEvent(now), nil
		}
		return models.FeedEvent{}, err
	}
	if envelope.Status != "OK" {
		return models.FeedEvent{}, &feed.TransportError{Op: "balance", Err: envelopeError(envelope)}
	}
	var row models.ExtendedBalance
	if err := json.Unmarshal(envelope.Data, &row); err != nil {
		return models.FeedEvent{}, &feed.SchemaError{Venue: venueName, Err: err}
	}
	return models.FeedEvent{
		Venue:     venueName,
		Kind:      models.KindBalances,
		Balances:  map[string]models.AccountState{t.asset(row): balanceState(t.asset(row), row)},
		Timestamp: now,
	}, nil
}

func (t *AccountTransport) pullPositions(ctx context.Context, now time.Time) (models.FeedEvent, error) {
	var envelope models.ExtendedEnvelope
	err := t.rest.GetJSON(ctx, "/user/positions", nil, &envelope)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			// no positions ever opened; the empty complete refresh closes
			// anything previously known
			return models.FeedEvent{
				Venue:     venueName,
				Kind:      models.KindPositions,
				Positions: map[string]models.PositionState{},
				Timestamp: now,
			}, nil
		}
		return models.FeedEvent{}, err
	}

	if envelope.Status != "OK" {
		return models.FeedEvent{}, &feed.TransportError{Op: "positions", Err: envelopeError(envelope)}
	}
	var rows []models.ExtendedPosition
	if envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, &rows); err != nil {
			return models.FeedEvent{}, &feed.SchemaError{Venue: venueName, Err: err}
		}
	}

	positions := make(map[string]models.PositionState, len(rows))
	for _, row := range rows {
		canonical, ok := t.mapper.Canonical(row.Market)
		if !ok {
			t.log.WithComponent("extended_account").WithFields(logger.Fields{"market": row.Market}).Warn("unmapped venue symbol, dropping position")
			continue
		}
		positions[canonical] = extendedPositionState(canonical, row)
	}
	return models.FeedEvent{
		Venue:     venueName,
		Kind:      models.KindPositions,
		Positions: positions,
		Timestamp: now,
	}, nil
}

// envelopeError surfaces the error carried by a non-OK REST envelope.
func envelopeError(envelope models.ExtendedEnvelope) error {
	if envelope.Error != nil {
		return fmt.Errorf("code %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	return fmt.Errorf("status %s", envelope.Status)
}

func (t *AccountTransport) zeroBalanceEvent(now time.Time) models.FeedEvent {
	return models.FeedEvent{
		Venue: venueName,
		Kind:  models.KindBalances,
		Balances: map[string]models.AccountState{
			t.collateral: {Asset: t.collateral, UpdatedAt: now},
		},
		Timestamp: now,
	}
}

func (t *AccountTransport) asset(row models.ExtendedBalance) string {
	if row.CollateralName != "" {
		return row.CollateralName
	}
	return t.collateral
}

func (t *AccountTransport) decodeFrame(msg []byte) ([]models.FeedEvent, error) {
	var frame models.ExtendedStreamMsg
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, &feed.SchemaError{Venue: venueName, Err: err}
	}

	now := time.Now().UTC()
	switch frame.Type {
	case "BALANCE":
		var row models.ExtendedBalance
		if err := json.Unmarshal(frame.Data, &row); err != nil {
			return nil, &feed.SchemaError{Venue: venueName, Err: err}
		}
		asset := t.asset(row)
		logger.IncrementPushRead(1)
		return []models.FeedEvent{{
			Venue:     venueName,
			Kind:      models.KindBalances,
			Balances:  map[string]models.AccountState{asset: balanceState(asset, row)},
			Timestamp: now,
		}}, nil
	case "POSITION":
		var rows []models.ExtendedPosition
		if err := json.Unmarshal(frame.Data, &rows); err != nil {
			return nil, &feed.SchemaError{Venue: venueName, Err: err}
		}
		positions := make(map[string]models.PositionState, len(rows))
		for _, row := range rows {
			canonical, ok := t.mapper.Canonical(row.Market)
			if !ok {
				t.log.WithComponent("extended_account").WithFields(logger.Fields{"market": row.Market}).Warn("unmapped venue symbol, dropping position update")
				continue
			}
			positions[canonical] = extendedPositionState(canonical, row)
		}
		if len(positions) == 0 {
			return nil, nil
		}
		logger.IncrementPushRead(len(positions))
		// the stream carries only positions that changed
		return []models.FeedEvent{{
			Venue:     venueName,
			Kind:      models.KindPositions,
			Positions: positions,
			Partial:   true,
			Timestamp: now,
		}}, nil
	}
	return nil, nil
}

func balanceState(asset string, row models.ExtendedBalance) models.AccountState {
	return models.AccountState{
		Asset:        asset,
		Total:        parseDecimal(row.Balance),
		Available:    parseDecimal(row.AvailableForTrade),
		Withdrawable: parseDecimal(row.AvailableForWithdrawal),
		UpdatedAt:    time.UnixMilli(row.UpdatedTime).UTC(),
	}
}

func extendedPositionState(canonical string, row models.ExtendedPosition) models.PositionState {
	size := parseDecimal(row.Size)
	if row.Side == "SHORT" && size > 0 {
		size = -size
	}
	return models.PositionState{
		Symbol:        canonical,
		Size:          size,
		EntryPrice:    parseDecimal(row.OpenPrice),
		UnrealizedPnl: parseDecimal(row.UnrealisedPnl),
		UpdatedAt:     time.UnixMilli(row.UpdatedTime).UTC(),
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
