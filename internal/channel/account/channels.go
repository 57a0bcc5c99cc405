package account

import (
	"context"
	"sync"

	"perpflow/logger"
	"perpflow/models"
)

type ChannelStats struct {
	EventsSent    int64
	EventsDropped int64
}

// Channels carries balance and position events from the account feeds to
// downstream consumers.
type Channels struct {
	Events chan models.FeedEvent

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(eventBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Events: make(chan models.FeedEvent, eventBufferSize),
		log:    log,
	}

	log.WithComponent("account_channels").WithFields(logger.Fields{
		"event_buffer_size": eventBufferSize,
	}).Info("account channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Events)
	c.log.WithComponent("account_channels").Info("account channels closed")
}

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

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
