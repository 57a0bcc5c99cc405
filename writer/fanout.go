package writer

import (
	"context"

	"perpflow/logger"
	"perpflow/models"
)

// FanOut copies batches from in to every out channel so the archive and
// Kafka writers each see the full stream. A full destination drops the
// batch for that destination only; writers must not block each other.
func FanOut(ctx context.Context, in <-chan models.BookBatch, outs ...chan models.BookBatch) {
	log := logger.GetLogger().WithComponent("writer_fanout")

	go func() {
		defer func() {
			for _, out := range outs {
				close(out)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-in:
				if !ok {
					return
				}
				for _, out := range outs {
					select {
					case out <- batch:
					default:
						log.WithFields(logger.Fields{
							"batch_id": batch.BatchID,
							"venue":    batch.Venue,
							"symbol":   batch.Symbol,
						}).Warn("writer channel full, batch dropped")
					}
				}
			}
		}
	}()
}
