package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"efpmachine/internal/model"
)

const (
	DefaultBatchSize     = 500
	DefaultFlushInterval = 500 * time.Millisecond
)

// BatchStore persists whole order batches transactionally.
type BatchStore interface {
	InsertOrders(ctx context.Context, orders []model.Order) error
}

// Worker drains the queue and persists enriched order batches. Multiple
// workers may run against the same queue; ordering is only guaranteed
// within one worker's batch.
type Worker struct {
	queue         *Queue
	store         BatchStore
	enricher      *Enricher
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	failedBatches atomic.Int64
}

// NewWorker creates a Worker. Zero batchSize/flushInterval fall back to the
// defaults.
func NewWorker(queue *Queue, store BatchStore, enricher *Enricher, logger *slog.Logger, batchSize int, flushInterval time.Duration) *Worker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Worker{
		queue:         queue,
		store:         store,
		enricher:      enricher,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// Run loops until ctx is cancelled, flushing a batch whenever one fills up
// or the queue goes quiet.
func (w *Worker) Run(ctx context.Context) {
	for {
		batch := w.queue.collect(ctx, w.batchSize, w.flushInterval)
		if len(batch) > 0 {
			w.flush(ctx, batch)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// FailedBatches reports how many batches could not be committed.
func (w *Worker) FailedBatches() int64 { return w.failedBatches.Load() }

const insertAttempts = 3

// flush enriches the batch and writes it in one transaction. Enrichment
// failures degrade the row to nil fields; a commit failure fails the whole
// batch, which is retried a few times and then surfaced loudly. Partial
// commits never happen.
func (w *Worker) flush(ctx context.Context, batch []model.CandidateOrder) {
	now := time.Now().UTC()
	orders := make([]model.Order, 0, len(batch))
	for _, c := range batch {
		order := model.Order{
			ID:          uuid.NewString(),
			CreatedAt:   now,
			EventID:     c.EventID,
			Message:     c.Message,
			SenderUUID:  c.SenderUUID,
			Kind:        c.Kind,
			ContractID:  c.ContractID,
			ExpiryLabel: c.ExpiryLabel,
			Side:        c.Side,
			Price:       c.Price,
			Basis:       c.Basis,
			GroupID:     c.GroupID,
			StatusHistory: []model.StatusEntry{
				{Status: c.State, Timestamp: now},
			},
		}
		w.enricher.Enrich(ctx, &order)
		orders = append(orders, order)
	}

	var err error
	for attempt := 1; attempt <= insertAttempts; attempt++ {
		if err = w.store.InsertOrders(ctx, orders); err == nil {
			w.logger.Debug("order batch committed", "size", len(orders))
			return
		}
		w.logger.Warn("order batch insert failed",
			"size", len(orders), "attempt", attempt, "error", err)
		select {
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		case <-ctx.Done():
		}
	}

	w.failedBatches.Add(1)
	w.logger.Error("order batch lost after retries", "size", len(orders), "error", err)
}
