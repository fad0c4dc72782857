package database

import (
	"context"
	"time"

	"efpmachine/internal/model"
)

// Repository defines the standard interface for database operations.
type Repository interface {
	// Orders. InsertOrders writes the whole batch in one transaction; a
	// failure leaves none of the batch behind.
	InsertOrders(ctx context.Context, orders []model.Order) error
	ListOrders(ctx context.Context) ([]model.Order, error)
	// AppendOrderStatus appends one entry to the order's status history.
	// History is never rewritten.
	AppendOrderStatus(ctx context.Context, orderID, status string) error

	// Reference data, read-only. A miss returns (nil, nil).
	GetTrader(ctx context.Context, uuid string) (*model.Trader, error)
	GetStrategyID(ctx context.Context, contractID string, expiry time.Time) (*string, error)

	// Run state: one live PriceLine per index.
	GetPriceLine(ctx context.Context, index string) (*model.PriceLine, error)
	ListPriceLines(ctx context.Context) ([]model.PriceLine, error)
	UpsertPriceLine(ctx context.Context, line model.PriceLine) error
	DeletePriceLine(ctx context.Context, index string) error
	ReplaceRun(ctx context.Context, lines []model.PriceLine) error

	// Recaps are append-only.
	InsertRecap(ctx context.Context, recap *model.Recap) error
	ListRecaps(ctx context.Context, limit int) ([]model.Recap, error)

	Migrate(ctx context.Context) error
}
