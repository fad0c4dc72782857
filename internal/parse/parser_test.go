package parse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efpmachine/internal/model"
)

type fakeExtractor struct {
	calls  int
	fields *TradeFields
	err    error
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (*TradeFields, error) {
	f.calls++
	return f.fields, f.err
}

func newTestParser(ex Extractor) *Parser {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), ex)
}

func fv(v float64) *float64 { return &v }

func TestParse_PriceRun(t *testing.T) {
	p := newTestParser(nil)

	legs := p.Parse(context.Background(), "ev-1", "SX5E TRF Dec25 56/58 vs 3.75", nil)
	require.Len(t, legs, 2)

	buy, sell := legs[0], legs[1]
	assert.Equal(t, model.SideBuy, buy.Side)
	assert.Equal(t, 56.0, buy.Price)
	assert.Equal(t, model.SideSell, sell.Side)
	assert.Equal(t, 58.0, sell.Price)

	for _, leg := range legs {
		assert.Equal(t, "ev-1", leg.EventID)
		assert.Equal(t, model.KindPriceRun, leg.Kind)
		assert.Equal(t, "SX5E", leg.ContractID)
		assert.Equal(t, "DEC25", leg.ExpiryLabel)
		assert.Equal(t, 3.75, leg.Basis)
		assert.Equal(t, model.StateActive, leg.State)
		require.NotNil(t, leg.GroupID)
	}
	assert.Equal(t, *buy.GroupID, *sell.GroupID)
}

func TestParse_PriceRunMultipleExpiries(t *testing.T) {
	p := newTestParser(nil)

	legs := p.Parse(context.Background(), "ev-2", "SX5E TRF Dec25 56/58 Mar26 60/62 vs 3.75", nil)
	require.Len(t, legs, 4)

	assert.Equal(t, "DEC25", legs[0].ExpiryLabel)
	assert.Equal(t, "DEC25", legs[1].ExpiryLabel)
	assert.Equal(t, "MAR26", legs[2].ExpiryLabel)
	assert.Equal(t, "MAR26", legs[3].ExpiryLabel)
	for _, leg := range legs[1:] {
		assert.Equal(t, *legs[0].GroupID, *leg.GroupID)
	}
}

func TestParse_SingleTrade(t *testing.T) {
	p := newTestParser(nil)
	sender := "3fa0be2e-9f6a-4f2e-b7a1-0c9a64d0f001"

	t.Run("price before side", func(t *testing.T) {
		legs := p.Parse(context.Background(), "ev-3", "SX5E DEC25 TRF 61 we can sell vs 3.75", &sender)
		require.Len(t, legs, 1)

		leg := legs[0]
		assert.Equal(t, model.KindSingleTrade, leg.Kind)
		assert.Equal(t, "SX5E", leg.ContractID)
		assert.Equal(t, "DEC25", leg.ExpiryLabel)
		assert.Equal(t, model.SideSell, leg.Side)
		assert.Equal(t, 61.0, leg.Price)
		assert.Equal(t, 3.75, leg.Basis)
		assert.Nil(t, leg.GroupID)
		require.NotNil(t, leg.SenderUUID)
		assert.Equal(t, sender, *leg.SenderUUID)
	})

	t.Run("side before price", func(t *testing.T) {
		legs := p.Parse(context.Background(), "ev-4", "we can buy 25 DAX Mar26 TRF at 41 vs 24308", nil)
		require.Len(t, legs, 1)

		leg := legs[0]
		assert.Equal(t, model.SideBuy, leg.Side)
		assert.Equal(t, "DAX", leg.ContractID)
		assert.Equal(t, "MAR26", leg.ExpiryLabel)
		assert.Equal(t, 41.0, leg.Price)
		assert.Equal(t, 24308.0, leg.Basis)
	})
}

func TestParse_NonTradeSkipsExtractor(t *testing.T) {
	ex := &fakeExtractor{}
	p := newTestParser(ex)

	legs := p.Parse(context.Background(), "ev-5", "good morning, how was the weekend?", nil)
	assert.Nil(t, legs)
	assert.Zero(t, ex.calls)
}

func TestParse_FallbackExtraction(t *testing.T) {
	t.Run("structured fields accepted", func(t *testing.T) {
		ex := &fakeExtractor{fields: &TradeFields{
			ContractID: "ftse",
			ExpiryDate: "Jun26",
			Side:       "buy",
			Price:      fv(102.5),
			Basis:      fv(-1.25),
		}}
		p := newTestParser(ex)

		legs := p.Parse(context.Background(), "ev-6", "client keen on the FTSE TRF we discussed, think 102.5 works", nil)
		require.Len(t, legs, 1)
		assert.Equal(t, 1, ex.calls)

		leg := legs[0]
		assert.Equal(t, model.KindUnclassified, leg.Kind)
		assert.Equal(t, "FTSE", leg.ContractID)
		assert.Equal(t, "JUN26", leg.ExpiryLabel)
		assert.Equal(t, model.SideBuy, leg.Side)
		assert.Equal(t, 102.5, leg.Price)
		assert.Equal(t, -1.25, leg.Basis)
	})

	t.Run("extraction error downgrades to non-trade", func(t *testing.T) {
		ex := &fakeExtractor{err: errors.New("upstream timeout")}
		p := newTestParser(ex)

		legs := p.Parse(context.Background(), "ev-7", "anything doing on the EFP today?", nil)
		assert.Nil(t, legs)
		assert.Equal(t, 1, ex.calls)
	})

	t.Run("bad side rejected", func(t *testing.T) {
		ex := &fakeExtractor{fields: &TradeFields{ContractID: "SX5E", ExpiryDate: "DEC25", Side: "hold", Price: fv(9), Basis: fv(3.75)}}
		p := newTestParser(ex)

		assert.Nil(t, p.Parse(context.Background(), "ev-8", "SX5E TRF chatter", nil))
	})

	t.Run("missing contract rejected", func(t *testing.T) {
		ex := &fakeExtractor{fields: &TradeFields{ExpiryDate: "DEC25", Side: "SELL", Price: fv(9), Basis: fv(3.75)}}
		p := newTestParser(ex)

		assert.Nil(t, p.Parse(context.Background(), "ev-9", "SX5E TRF chatter", nil))
	})

	t.Run("missing price rejected", func(t *testing.T) {
		ex := &fakeExtractor{fields: &TradeFields{ContractID: "SX5E", ExpiryDate: "DEC25", Side: "SELL", Basis: fv(3.75)}}
		p := newTestParser(ex)

		assert.Nil(t, p.Parse(context.Background(), "ev-12", "SX5E TRF chatter", nil))
	})

	t.Run("missing basis rejected", func(t *testing.T) {
		ex := &fakeExtractor{fields: &TradeFields{ContractID: "SX5E", ExpiryDate: "DEC25", Side: "SELL", Price: fv(61)}}
		p := newTestParser(ex)

		assert.Nil(t, p.Parse(context.Background(), "ev-13", "SX5E TRF chatter", nil))
	})

	t.Run("nil extractor skips the tier", func(t *testing.T) {
		p := newTestParser(nil)
		assert.Nil(t, p.Parse(context.Background(), "ev-10", "SX5E TRF chatter", nil))
	})
}

func TestParse_EmptyMessage(t *testing.T) {
	p := newTestParser(nil)
	assert.Nil(t, p.Parse(context.Background(), "ev-11", "   ", nil))
}
