package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "perpflow/config"
	book "perpflow/internal/channel/book"
	"perpflow/logger"
	"perpflow/models"
)

// Flattener turns normalized book events into flat per-level rows and groups
// them into batches keyed by (venue, symbol). Batches flush when they reach
// the configured size or age out.
type Flattener struct {
	config   *appconfig.Config
	channels *book.Channels
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	mu       sync.Mutex
	running  bool
	log      *logger.Log

	batches   map[string]*models.BookBatch
	lastFlush map[string]time.Time
}

func NewFlattener(cfg *appconfig.Config, ch *book.Channels) *Flattener {
	return &Flattener{
		config:    cfg,
		channels:  ch,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		batches:   make(map[string]*models.BookBatch),
		lastFlush: make(map[string]time.Time),
	}
}

func (f *Flattener) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("flattener already running")
	}
	f.running = true
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	log := f.log.WithComponent("flattener").WithFields(logger.Fields{"operation": "start"})

	numWorkers := f.config.Processor.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting flattener workers")

	for i := 0; i < numWorkers; i++ {
		f.wg.Add(1)
		go f.worker(i)
	}

	f.wg.Add(1)
	go f.batchFlusher()

	log.Info("flattener started")
	return nil
}

func (f *Flattener) Stop() {
	f.mu.Lock()
	f.running = false
	cancel := f.cancel
	f.mu.Unlock()

	f.log.WithComponent("flattener").Info("stopping flattener")
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
	// workers are gone; drain whatever they batched but never flushed
	f.flushAll(context.Background())
	f.log.WithComponent("flattener").Info("flattener stopped")
}

func (f *Flattener) worker(workerID int) {
	defer f.wg.Done()

	log := f.log.WithComponent("flattener").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "flattener",
	})
	log.Info("starting flattener worker")

	for {
		select {
		case <-f.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case ev, ok := <-f.channels.Events:
			if !ok {
				log.Info("event channel closed, worker stopping")
				return
			}
			f.processEvent(ev)
		}
	}
}

func (f *Flattener) processEvent(ev models.FeedEvent) int {
	rows := flattenEvent(ev)
	if len(rows) == 0 {
		return 0
	}
	f.addToBatch(ev, rows)

	f.log.WithComponent("flattener").WithFields(logger.Fields{
		"venue":     ev.Venue,
		"symbol":    ev.Symbol,
		"kind":      ev.Kind.String(),
		"row_count": len(rows),
		"operation": "process_event",
	}).Debug("event flattened")

	return len(rows)
}

// flattenEvent expands a book event into one row per price level. Account
// events carry no book levels and flatten to nothing.
func flattenEvent(ev models.FeedEvent) []models.BookRow {
	var bids, asks []models.BookLevel
	var sequence int64

	switch ev.Kind {
	case models.KindBookSnapshot:
		if ev.Snapshot == nil {
			return nil
		}
		bids, asks = ev.Snapshot.Bids, ev.Snapshot.Asks
		sequence = ev.Snapshot.Sequence
	case models.KindBookDelta:
		if ev.Delta == nil {
			return nil
		}
		bids, asks = ev.Delta.Bids, ev.Delta.Asks
		sequence = ev.Delta.Sequence
	default:
		return nil
	}

	rows := make([]models.BookRow, 0, len(bids)+len(asks))
	for level, bid := range bids {
		rows = append(rows, models.BookRow{
			Venue:     ev.Venue,
			Symbol:    ev.Symbol,
			Kind:      ev.Kind.String(),
			Timestamp: ev.Timestamp.UnixMilli(),
			Sequence:  sequence,
			Side:      "bid",
			Price:     bid.Price,
			Size:      bid.Size,
			Level:     level + 1,
		})
	}
	for level, ask := range asks {
		rows = append(rows, models.BookRow{
			Venue:     ev.Venue,
			Symbol:    ev.Symbol,
			Kind:      ev.Kind.String(),
			Timestamp: ev.Timestamp.UnixMilli(),
			Sequence:  sequence,
			Side:      "ask",
			Price:     ask.Price,
			Size:      ask.Size,
			Level:     level + 1,
		})
	}
	return rows
}

func (f *Flattener) addToBatch(ev models.FeedEvent, rows []models.BookRow) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batchKey := ev.Venue + "_" + ev.Symbol

	batch, exists := f.batches[batchKey]
	if !exists {
		batch = &models.BookBatch{
			BatchID:     uuid.New().String(),
			Venue:       ev.Venue,
			Symbol:      ev.Symbol,
			Rows:        make([]models.BookRow, 0, f.config.Processor.BatchSize),
			Timestamp:   ev.Timestamp,
			ProcessedAt: time.Now(),
		}
		f.batches[batchKey] = batch
		f.lastFlush[batchKey] = time.Now()
	}

	batch.Rows = append(batch.Rows, rows...)
	batch.RecordCount = len(batch.Rows)
	if ev.Timestamp.After(batch.Timestamp) {
		batch.Timestamp = ev.Timestamp
	}

	if batch.RecordCount >= f.config.Processor.BatchSize {
		f.flushBatch(f.ctx, batchKey)
	}
}

func (f *Flattener) batchFlusher() {
	defer f.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.flushTimedOut()
		}
	}
}

func (f *Flattener) flushTimedOut() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	for batchKey, lastFlush := range f.lastFlush {
		if now.Sub(lastFlush) >= f.config.Processor.BatchTimeout {
			f.flushBatch(f.ctx, batchKey)
		}
	}
}

// flushBatch requires f.mu held.
func (f *Flattener) flushBatch(ctx context.Context, batchKey string) {
	batch, exists := f.batches[batchKey]
	if !exists || batch.RecordCount == 0 {
		return
	}

	log := f.log.WithComponent("flattener").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"batch_key":    batchKey,
		"venue":        batch.Venue,
		"symbol":       batch.Symbol,
		"record_count": batch.RecordCount,
		"operation":    "flush_batch",
	})

	if f.channels.SendBatch(ctx, *batch) {
		delete(f.batches, batchKey)
		delete(f.lastFlush, batchKey)
		log.Debug("batch flushed")
	} else if ctx.Err() != nil {
		return
	} else {
		log.Warn("batch channel is full, batch not sent")
	}
}

func (f *Flattener) flushAll(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for batchKey := range f.batches {
		f.flushBatch(ctx, batchKey)
	}
}
