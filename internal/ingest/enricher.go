package ingest

import (
	"context"
	"log/slog"
	"time"

	"efpmachine/internal/expiry"
	"efpmachine/internal/model"
)

// ReferenceStore is the read-only reference-data surface the enricher needs.
type ReferenceStore interface {
	GetTrader(ctx context.Context, uuid string) (*model.Trader, error)
	GetStrategyID(ctx context.Context, contractID string, expiry time.Time) (*string, error)
}

// Enricher resolves trader identity and strategy identifiers for orders
// before persistence. Every failure mode here is non-fatal for the row:
// a miss or a bad expiry label leaves the field nil and the order persists.
type Enricher struct {
	store  ReferenceStore
	logger *slog.Logger
}

// NewEnricher creates an Enricher over the given reference store.
func NewEnricher(store ReferenceStore, logger *slog.Logger) *Enricher {
	return &Enricher{store: store, logger: logger}
}

// Enrich fills the order's trader and strategy fields in place.
func (e *Enricher) Enrich(ctx context.Context, order *model.Order) {
	e.enrichTrader(ctx, order)
	e.enrichStrategy(ctx, order)
}

func (e *Enricher) enrichTrader(ctx context.Context, order *model.Order) {
	if order.SenderUUID == nil {
		return
	}
	trader, err := e.store.GetTrader(ctx, *order.SenderUUID)
	if err != nil {
		e.logger.Warn("trader lookup failed", "senderUuid", *order.SenderUUID, "error", err)
		return
	}
	if trader == nil {
		return
	}
	order.TraderAlias = &trader.Alias
	order.TraderLegalEntity = &trader.LegalEntityShort
}

func (e *Enricher) enrichStrategy(ctx context.Context, order *model.Order) {
	expiryDate, err := expiry.ParseLabel(order.ExpiryLabel)
	if err != nil {
		e.logger.Warn("unparseable expiry label, strategy left unresolved",
			"orderId", order.ID, "expiry", order.ExpiryLabel, "error", err)
		return
	}
	strategyID, err := e.store.GetStrategyID(ctx, order.ContractID, expiryDate)
	if err != nil {
		e.logger.Warn("strategy lookup failed",
			"contractId", order.ContractID, "expiry", order.ExpiryLabel, "error", err)
		return
	}
	order.StrategyID = strategyID
}
