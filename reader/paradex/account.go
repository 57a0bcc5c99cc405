package paradex

import (
	"context"
	"encoding/json"
	"errors"
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

// AccountTransport feeds balances and positions for one authenticated
// Paradex account, streaming the balance and positions channels and pulling
// the matching REST endpoints. A not-found answer on the balance endpoint is
// a valid zero balance for a fresh account, never an error.
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
		collateral = "USDC"
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
	frames := make([]interface{}, 0, 2)
	for i, channel := range []string{"balance_events", "positions"} {
		params, _ := json.Marshal(map[string]string{"channel": channel})
		frames = append(frames, models.ParadexRPCRequest{
			JSONRPC: "2.0",
			ID:      int64(i + 1),
			Method:  "subscribe",
			Params:  params,
		})
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

// Pull fetches the full balance and position state.
func (t *AccountTransport) Pull(ctx context.Context) ([]models.FeedEvent, error) {
	now := time.Now().UTC()

	balances, err := t.pullBalances(ctx, now)
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

func (t *AccountTransport) pullBalances(ctx context.Context, now time.Time) (models.FeedEvent, error) {
	var envelope models.ParadexResults
	err := t.rest.GetJSON(ctx, "/balance", nil, &envelope)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			// fresh account, nothing deposited yet
			return t.zeroBalanceEvent(now), nil
		}
		return models.FeedEvent{}, err
	}

	var rows []models.ParadexBalance
	if envelope.Results != nil {
		if err := json.Unmarshal(envelope.Results, &rows); err != nil {
			return models.FeedEvent{}, &feed.SchemaError{Venue: venueName, Err: err}
		}
	}
	if len(rows) == 0 {
		return t.zeroBalanceEvent(now), nil
	}

	balances := make(map[string]models.AccountState, len(rows))
	for _, row := range rows {
		total := parseDecimal(row.Size)
		available := parseDecimal(row.Available)
		balances[row.Token] = models.AccountState{
			Asset:        row.Token,
			Total:        total,
			Available:    available,
			Withdrawable: available,
			UpdatedAt:    time.UnixMilli(row.LastUpdatedAt).UTC(),
		}
	}
	return models.FeedEvent{
		Venue:     venueName,
		Kind:      models.KindBalances,
		Balances:  balances,
		Timestamp: now,
	}, nil
}

func (t *AccountTransport) pullPositions(ctx context.Context, now time.Time) (models.FeedEvent, error) {
	var envelope models.ParadexResults
	err := t.rest.GetJSON(ctx, "/positions", nil, &envelope)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			// no positions ever opened; a complete empty refresh closes
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

	var rows []models.ParadexPosition
	if envelope.Results != nil {
		if err := json.Unmarshal(envelope.Results, &rows); err != nil {
			return models.FeedEvent{}, &feed.SchemaError{Venue: venueName, Err: err}
		}
	}

	positions := make(map[string]models.PositionState, len(rows))
	for _, row := range rows {
		canonical, ok := t.mapper.Canonical(row.Market)
		if !ok {
			t.log.WithComponent("paradex_account").WithFields(logger.Fields{"market": row.Market}).Warn("unmapped venue symbol, dropping position")
			continue
		}
		positions[canonical] = positionState(canonical, row)
	}
	return models.FeedEvent{
		Venue:     venueName,
		Kind:      models.KindPositions,
		Positions: positions,
		Timestamp: now,
	}, nil
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

func (t *AccountTransport) decodeFrame(msg []byte) ([]models.FeedEvent, error) {
	var frame models.ParadexRPCMessage
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, &feed.SchemaError{Venue: venueName, Err: err}
	}
	if frame.Method != "subscription" {
		return nil, nil
	}

	now := time.Now().UTC()
	switch frame.Params.Channel {
	case "balance_events":
		var row models.ParadexBalance
		if err := json.Unmarshal(frame.Params.Data, &row); err != nil {
			return nil, &feed.SchemaError{Venue: venueName, Err: err}
		}
		available := parseDecimal(row.Available)
		logger.IncrementPushRead(1)
		return []models.FeedEvent{{
			Venue: venueName,
			Kind:  models.KindBalances,
			Balances: map[string]models.AccountState{
				row.Token: {
					Asset:        row.Token,
					Total:        parseDecimal(row.Size),
					Available:    available,
					Withdrawable: available,
					UpdatedAt:    time.UnixMilli(row.LastUpdatedAt).UTC(),
				},
			},
			Timestamp: now,
		}}, nil
	case "positions":
		var row models.ParadexPosition
		if err := json.Unmarshal(frame.Params.Data, &row); err != nil {
			return nil, &feed.SchemaError{Venue: venueName, Err: err}
		}
		canonical, ok := t.mapper.Canonical(row.Market)
		if !ok {
			t.log.WithComponent("paradex_account").WithFields(logger.Fields{"market": row.Market}).Warn("unmapped venue symbol, dropping position update")
			return nil, nil
		}
		logger.IncrementPushRead(1)
		return []models.FeedEvent{{
			Venue:     venueName,
			Symbol:    canonical,
			Kind:      models.KindPositions,
			Positions: map[string]models.PositionState{canonical: positionState(canonical, row)},
			Partial:   true,
			Timestamp: now,
		}}, nil
	}
	return nil, nil
}

func positionState(canonical string, row models.ParadexPosition) models.PositionState {
	size := parseDecimal(row.Size)
	if row.Side == "SHORT" && size > 0 {
		size = -size
	}
	return models.PositionState{
		Symbol:        canonical,
		Size:          size,
		EntryPrice:    parseDecimal(row.AverageEntryPrice),
		UnrealizedPnl: parseDecimal(row.UnrealizedPnl),
		UpdatedAt:     time.UnixMilli(row.LastUpdatedAt).UTC(),
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
