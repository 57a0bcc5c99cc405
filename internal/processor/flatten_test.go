package processor

import (
	"context"
	"testing"
	"time"

	appconfig "perpflow/config"
	book "perpflow/internal/channel/book"
	"perpflow/models"
)

func testConfig(batchSize int) *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Processor.MaxWorkers = 2
	cfg.Processor.BatchSize = batchSize
	cfg.Processor.BatchTimeout = time.Hour
	return cfg
}

func bookEvent(kind models.MessageKind, symbol string, seq int64) models.FeedEvent {
	ts := time.UnixMilli(1700000000000).UTC()
	ev := models.FeedEvent{Venue: "paradex", Symbol: symbol, Kind: kind, Timestamp: ts}
	switch kind {
	case models.KindBookSnapshot:
		ev.Snapshot = &models.BookSnapshot{
			Venue:     "paradex",
			Symbol:    symbol,
			Bids:      []models.BookLevel{{Price: 100, Size: 1}, {Price: 99, Size: 2}},
			Asks:      []models.BookLevel{{Price: 101, Size: 3}},
			Sequence:  seq,
			Timestamp: ts,
		}
	case models.KindBookDelta:
		ev.Delta = &models.BookDelta{
			Venue:     "paradex",
			Symbol:    symbol,
			Asks:      []models.BookLevel{{Price: 101, Size: 0}},
			Sequence:  seq,
			Timestamp: ts,
		}
	}
	return ev
}

func TestFlattenEventSnapshot(t *testing.T) {
	rows := flattenEvent(bookEvent(models.KindBookSnapshot, "BTC-USD", 10))
	if len(rows) != 3 {
		t.Fatalf("rows: %d", len(rows))
	}
	if rows[0].Side != "bid" || rows[0].Level != 1 || rows[0].Price != 100 {
		t.Errorf("first bid row: %+v", rows[0])
	}
	if rows[1].Level != 2 {
		t.Errorf("second bid level: %+v", rows[1])
	}
	ask := rows[2]
	if ask.Side != "ask" || ask.Level != 1 || ask.Price != 101 || ask.Sequence != 10 {
		t.Errorf("ask row: %+v", ask)
	}
}

func TestFlattenEventDeltaKeepsZeroSize(t *testing.T) {
	rows := flattenEvent(bookEvent(models.KindBookDelta, "BTC-USD", 11))
	if len(rows) != 1 {
		t.Fatalf("rows: %d", len(rows))
	}
	if rows[0].Size != 0 || rows[0].Kind != models.KindBookDelta.String() {
		t.Errorf("row: %+v", rows[0])
	}
}

func TestFlattenEventAccountKindsProduceNothing(t *testing.T) {
	for _, kind := range []models.MessageKind{models.KindBalances, models.KindPositions} {
		if rows := flattenEvent(models.FeedEvent{Venue: "paradex", Kind: kind}); rows != nil {
			t.Errorf("%v: rows = %+v", kind, rows)
		}
	}
}

func TestFlattenerBatchesBySize(t *testing.T) {
	channels := book.NewChannels(16, 16)
	f := NewFlattener(testConfig(3), channels)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.Start(ctx); err == nil {
		t.Fatal("second Start must fail")
	}

	// snapshot produces 3 rows, hitting the batch size exactly
	channels.Events <- bookEvent(models.KindBookSnapshot, "BTC-USD", 1)

	select {
	case batch := <-channels.Batches:
		if batch.Venue != "paradex" || batch.Symbol != "BTC-USD" {
			t.Errorf("batch: %+v", batch)
		}
		if batch.RecordCount != 3 || len(batch.Rows) != 3 {
			t.Errorf("record count: %d rows: %d", batch.RecordCount, len(batch.Rows))
		}
		if batch.BatchID == "" {
			t.Error("missing batch id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no batch flushed")
	}

	f.Stop()
}

func TestFlattenerStopFlushesPartialBatches(t *testing.T) {
	channels := book.NewChannels(16, 16)
	f := NewFlattener(testConfig(100), channels)

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	channels.Events <- bookEvent(models.KindBookDelta, "BTC-USD", 5)

	// wait for a worker to pick the event up before stopping
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(channels.Events) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	f.Stop()

	select {
	case batch := <-channels.Batches:
		if batch.RecordCount != 1 {
			t.Errorf("batch: %+v", batch)
		}
	default:
		t.Fatal("partial batch not flushed on stop")
	}
}
