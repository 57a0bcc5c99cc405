package channel

import (
	"context"
	"time"

	"perpflow/internal/channel/account"
	"perpflow/internal/channel/book"
	"perpflow/logger"
)

type Channels struct {
	Book    *book.Channels
	Account *account.Channels
}

func NewChannels(eventBufferSize, batchBufferSize int) *Channels {
	return &Channels{
		Book:    book.NewChannels(eventBufferSize, batchBufferSize),
		Account: account.NewChannels(eventBufferSize),
	}
}

func (c *Channels) Close() {
	if c.Book != nil {
		c.Book.Close()
	}
	if c.Account != nil {
		c.Account.Close()
	}
}

// StartMetricsReporting logs channel throughput and drop counters on a fixed
// cadence until the context is cancelled.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	log := logger.GetLogger().WithComponent("channels")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bs := c.Book.GetStats()
			as := c.Account.GetStats()
			log.WithFields(logger.Fields{
				"book_events_sent":       bs.EventsSent,
				"book_events_dropped":    bs.EventsDropped,
				"book_batches_sent":      bs.BatchesSent,
				"book_batches_dropped":   bs.BatchesDropped,
				"account_events_sent":    as.EventsSent,
				"account_events_dropped": as.EventsDropped,
			}).Info("channel statistics")
		}
	}
}
