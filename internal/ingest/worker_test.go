package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"efpmachine/internal/model"
)

type MockReferenceStore struct {
	mock.Mock
}

func (m *MockReferenceStore) GetTrader(ctx context.Context, uuid string) (*model.Trader, error) {
	args := m.Called(ctx, uuid)
	if t, ok := args.Get(0).(*model.Trader); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReferenceStore) GetStrategyID(ctx context.Context, contractID string, expiry time.Time) (*string, error) {
	args := m.Called(ctx, contractID, expiry)
	if s, ok := args.Get(0).(*string); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingStore captures every committed batch; it can be told to fail the
// first n commits.
type recordingStore struct {
	mu       sync.Mutex
	batches  [][]model.Order
	failNext int
}

func (s *recordingStore) InsertOrders(_ context.Context, orders []model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("connection reset")
	}
	cp := make([]model.Order, len(orders))
	copy(cp, orders)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *recordingStore) all() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *recordingStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candidate(i int) model.CandidateOrder {
	return model.CandidateOrder{
		EventID:     fmt.Sprintf("ev-%d", i),
		Message:     "SX5E DEC25 TRF 61 we can sell vs 3.75",
		Kind:        model.KindSingleTrade,
		ContractID:  "SX5E",
		ExpiryLabel: "DEC25",
		Side:        model.SideSell,
		Price:       61,
		Basis:       3.75,
		State:       model.StateActive,
	}
}

func TestWorker_DrainsEverythingExactlyOnce(t *testing.T) {
	const total = 1500
	const batchSize = 500

	store := &recordingStore{}
	refs := &MockReferenceStore{}
	refs.On("GetStrategyID", mock.Anything, "SX5E", mock.Anything).Return((*string)(nil), nil)

	queue := NewQueue(total)
	worker := NewWorker(queue, store, NewEnricher(refs, discardLogger()), discardLogger(), batchSize, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < total; i++ {
		require.NoError(t, queue.Enqueue(ctx, candidate(i)))
	}

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(store.all()) == total
	}, 5*time.Second, 20*time.Millisecond)
	cancel()
	<-done

	orders := store.all()
	assert.GreaterOrEqual(t, store.batchCount(), total/batchSize)

	seen := make(map[string]bool, total)
	for _, o := range orders {
		assert.False(t, seen[o.EventID], "event %s persisted twice", o.EventID)
		seen[o.EventID] = true
		require.Len(t, o.StatusHistory, 1)
		assert.Equal(t, model.StateActive, o.StatusHistory[0].Status)
		assert.NotEmpty(t, o.ID)
	}
	assert.Len(t, seen, total)
	assert.Zero(t, worker.FailedBatches())
}

func TestWorker_EnrichmentMissLeavesFieldsNil(t *testing.T) {
	known := "7d4c2c1b-5b0e-4a6d-8f33-9a1a2b3c4d5e"
	unknown := "00000000-0000-0000-0000-000000000000"
	strategy := "STRAT-SX5E-DEC25"

	refs := &MockReferenceStore{}
	refs.On("GetTrader", mock.Anything, known).
		Return(&model.Trader{UUID: known, Alias: "jdoe", LegalEntityShort: "ACME"}, nil)
	refs.On("GetTrader", mock.Anything, unknown).Return((*model.Trader)(nil), nil)
	refs.On("GetStrategyID", mock.Anything, "SX5E", mock.Anything).Return(&strategy, nil)

	store := &recordingStore{}
	worker := NewWorker(NewQueue(4), store, NewEnricher(refs, discardLogger()), discardLogger(), 0, 0)

	a := candidate(1)
	a.SenderUUID = &known
	b := candidate(2)
	b.SenderUUID = &unknown
	c := candidate(3)

	worker.flush(context.Background(), []model.CandidateOrder{a, b, c})

	orders := store.all()
	require.Len(t, orders, 3)

	require.NotNil(t, orders[0].TraderAlias)
	assert.Equal(t, "jdoe", *orders[0].TraderAlias)
	require.NotNil(t, orders[0].TraderLegalEntity)
	assert.Equal(t, "ACME", *orders[0].TraderLegalEntity)

	assert.Nil(t, orders[1].TraderAlias)
	assert.Nil(t, orders[1].TraderLegalEntity)
	assert.Nil(t, orders[2].TraderAlias)

	for _, o := range orders {
		require.NotNil(t, o.StrategyID)
		assert.Equal(t, strategy, *o.StrategyID)
	}
	refs.AssertExpectations(t)
}

func TestWorker_BadExpiryLabelStillPersists(t *testing.T) {
	refs := &MockReferenceStore{}
	store := &recordingStore{}
	worker := NewWorker(NewQueue(1), store, NewEnricher(refs, discardLogger()), discardLogger(), 0, 0)

	bad := candidate(1)
	bad.ExpiryLabel = "PERP"

	worker.flush(context.Background(), []model.CandidateOrder{bad})

	orders := store.all()
	require.Len(t, orders, 1)
	assert.Nil(t, orders[0].StrategyID)
	refs.AssertNotCalled(t, "GetStrategyID")
}

func TestWorker_RetriesTransientInsertFailure(t *testing.T) {
	refs := &MockReferenceStore{}
	refs.On("GetStrategyID", mock.Anything, "SX5E", mock.Anything).Return((*string)(nil), nil)

	store := &recordingStore{failNext: 2}
	worker := NewWorker(NewQueue(1), store, NewEnricher(refs, discardLogger()), discardLogger(), 0, 0)

	worker.flush(context.Background(), []model.CandidateOrder{candidate(1)})

	assert.Len(t, store.all(), 1)
	assert.Zero(t, worker.FailedBatches())
}

func TestWorker_ExhaustedRetriesCountTheBatch(t *testing.T) {
	refs := &MockReferenceStore{}
	refs.On("GetStrategyID", mock.Anything, "SX5E", mock.Anything).Return((*string)(nil), nil)

	store := &recordingStore{failNext: insertAttempts}
	worker := NewWorker(NewQueue(1), store, NewEnricher(refs, discardLogger()), discardLogger(), 0, 0)

	worker.flush(context.Background(), []model.CandidateOrder{candidate(1)})

	assert.Empty(t, store.all())
	assert.Equal(t, int64(1), worker.FailedBatches())
}

func TestQueue_EnqueueBlocksUntilCancel(t *testing.T) {
	queue := NewQueue(1)
	require.NoError(t, queue.Enqueue(context.Background(), candidate(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := queue.Enqueue(ctx, candidate(2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, queue.Len())
}

func TestQueue_CollectReturnsOnQuietWindow(t *testing.T) {
	queue := NewQueue(8)
	for i := 0; i < 3; i++ {
		require.NoError(t, queue.Enqueue(context.Background(), candidate(i)))
	}

	batch := queue.collect(context.Background(), 10, 50*time.Millisecond)
	assert.Len(t, batch, 3)
	assert.Equal(t, "ev-0", batch[0].EventID)
}
