// Package ingest buffers parsed candidate orders in a bounded queue and
// drains them into durable storage as enriched batches.
package ingest

import (
	"context"
	"time"

	"efpmachine/internal/model"
)

// Queue is a bounded FIFO buffer between message producers and the batch
// workers. It is the only shared mutable structure between the two sides
// and the system's only flow-control mechanism: Enqueue blocks when full.
type Queue struct {
	ch chan model.CandidateOrder
}

// NewQueue creates a queue holding up to capacity candidate orders.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan model.CandidateOrder, capacity)}
}

// Enqueue adds one candidate order, suspending the caller while the queue
// is full. It never drops silently; cancellation of ctx is the only way out.
func (q *Queue) Enqueue(ctx context.Context, order model.CandidateOrder) error {
	select {
	case q.ch <- order:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of buffered orders.
func (q *Queue) Len() int { return len(q.ch) }

// collect drains up to max items, waiting at most wait for each next item.
// An empty result means the queue stayed quiet for the whole window.
func (q *Queue) collect(ctx context.Context, max int, wait time.Duration) []model.CandidateOrder {
	var batch []model.CandidateOrder
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for len(batch) < max {
		select {
		case item := <-q.ch:
			batch = append(batch, item)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(wait)
		case <-timer.C:
			return batch
		case <-ctx.Done():
			return batch
		}
	}
	return batch
}
