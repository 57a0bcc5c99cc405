package book

import (
	"context"
	"sync"

	"perpflow/logger"
	"perpflow/models"
)

type ChannelStats struct {
	EventsSent     int64
	BatchesSent    int64
	EventsDropped  int64
	BatchesDropped int64
}

// Channels carries normalized order book traffic: Events from the market
// feeds to the flattener, Batches from the flattener to the writers.
type Channels struct {
	Events  chan models.FeedEvent
	Batches chan models.BookBatch

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(eventBufferSize, batchBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Events:  make(chan models.FeedEvent, eventBufferSize),
		Batches: make(chan models.BookBatch, batchBufferSize),
		log:     log,
	}

	log.WithComponent("book_channels").WithFields(logger.Fields{
		"event_buffer_size": eventBufferSize,
		"batch_buffer_size": batchBufferSize,
	}).Info("book channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Events)
	close(c.Batches)
	c.log.WithComponent("book_channels").Info("book channels closed")
}

// SendEvent publishes without blocking the producing feed. A full buffer
// drops the event and counts the drop.
func (c *Channels) SendEvent(ctx context.Context, ev models.FeedEvent) bool {
	select {
	case c.Events <- ev:
		c.statsMutex.Lock()
		c.stats.EventsSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.EventsDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) SendBatch(ctx context.Context, batch models.BookBatch) bool {
	select {
	case c.Batches <- batch:
		c.statsMutex.Lock()
		c.stats.BatchesSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.BatchesDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
