package book

import (
	"context"
	"testing"

	"perpflow/models"
)

func TestSendEventCountsDropsWhenFull(t *testing.T) {
	c := NewChannels(2, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if !c.SendEvent(ctx, models.FeedEvent{Venue: "paradex"}) {
			t.Fatalf("send %d failed on empty buffer", i)
		}
	}
	if c.SendEvent(ctx, models.FeedEvent{Venue: "paradex"}) {
		t.Fatal("send on full buffer must not block or succeed")
	}

	stats := c.GetStats()
	if stats.EventsSent != 2 || stats.EventsDropped != 1 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestSendBatchCountsDropsWhenFull(t *testing.T) {
	c := NewChannels(2, 1)
	ctx := context.Background()

	if !c.SendBatch(ctx, models.BookBatch{BatchID: "a"}) {
		t.Fatal("first send failed")
	}
	if c.SendBatch(ctx, models.BookBatch{BatchID: "b"}) {
		t.Fatal("send on full buffer must fail")
	}

	stats := c.GetStats()
	if stats.BatchesSent != 1 || stats.BatchesDropped != 1 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestSendEventCanceledContext(t *testing.T) {
	c := NewChannels(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if c.SendEvent(ctx, models.FeedEvent{}) {
		t.Fatal("send with canceled context and no buffer must fail")
	}
}
