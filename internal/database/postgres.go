package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"efpmachine/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	event_id TEXT NOT NULL,
	message TEXT NOT NULL,
	sender_uuid TEXT,
	kind TEXT NOT NULL,
	contract_id TEXT NOT NULL,
	expiry_label TEXT NOT NULL,
	side TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	basis DOUBLE PRECISION NOT NULL,
	group_id UUID,
	trader_alias TEXT,
	trader_legal_entity TEXT,
	strategy_id TEXT,
	status_history JSONB NOT NULL DEFAULT '[]'::jsonb
);
CREATE TABLE IF NOT EXISTS price_lines (
	index_name TEXT PRIMARY KEY,
	bid DOUBLE PRECISION,
	offer DOUBLE PRECISION,
	cash_ref DOUBLE PRECISION,
	last_confirm_note TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS recaps (
	id BIGSERIAL PRIMARY KEY,
	index_name TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	lots INTEGER NOT NULL,
	cash_ref DOUBLE PRECISION,
	recap_text TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS traders (
	uuid TEXT PRIMARY KEY,
	alias TEXT NOT NULL,
	legal_entity_short TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS instruments (
	contract_id TEXT NOT NULL,
	expiry_date DATE NOT NULL,
	strategy_id TEXT NOT NULL,
	PRIMARY KEY (contract_id, expiry_date)
);`

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository connects a repository to the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

// Migrate creates the schema if it does not exist yet.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, schema)
	return err
}

const insertOrderSQL = `
INSERT INTO orders (
	id, created_at, event_id, message, sender_uuid, kind, contract_id,
	expiry_label, side, price, basis, group_id, trader_alias,
	trader_legal_entity, strategy_id, status_history
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

// InsertOrders writes the batch inside a single transaction. Either every
// row commits or none does.
func (r *PostgresRepository) InsertOrders(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin order batch: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, o := range orders {
		history, err := json.Marshal(o.StatusHistory)
		if err != nil {
			return fmt.Errorf("marshal status history for %s: %w", o.ID, err)
		}
		batch.Queue(insertOrderSQL,
			o.ID, o.CreatedAt, o.EventID, o.Message, o.SenderUUID, o.Kind,
			o.ContractID, o.ExpiryLabel, o.Side, o.Price, o.Basis, o.GroupID,
			o.TraderAlias, o.TraderLegalEntity, o.StrategyID, history,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit order batch: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, created_at, event_id, message, sender_uuid, kind,
		       contract_id, expiry_label, side, price, basis, group_id,
		       trader_alias, trader_legal_entity, strategy_id, status_history
		FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var history []byte
		if err := rows.Scan(&o.ID, &o.CreatedAt, &o.EventID, &o.Message,
			&o.SenderUUID, &o.Kind, &o.ContractID, &o.ExpiryLabel, &o.Side,
			&o.Price, &o.Basis, &o.GroupID, &o.TraderAlias,
			&o.TraderLegalEntity, &o.StrategyID, &history); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(history, &o.StatusHistory); err != nil {
			return nil, fmt.Errorf("unmarshal status history for %s: %w", o.ID, err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// AppendOrderStatus appends a {status, timestamp} entry to the order's
// history via a jsonb concatenation, never touching prior entries.
func (r *PostgresRepository) AppendOrderStatus(ctx context.Context, orderID, status string) error {
	entry, err := json.Marshal(model.StatusEntry{Status: status, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	tag, err := r.Pool.Exec(ctx,
		`UPDATE orders SET status_history = status_history || $2::jsonb WHERE id = $1`,
		orderID, entry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s not found", orderID)
	}
	return nil
}

func (r *PostgresRepository) GetTrader(ctx context.Context, uuid string) (*model.Trader, error) {
	var t model.Trader
	err := r.Pool.QueryRow(ctx,
		`SELECT uuid, alias, legal_entity_short FROM traders WHERE uuid = $1`, uuid).
		Scan(&t.UUID, &t.Alias, &t.LegalEntityShort)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PostgresRepository) GetStrategyID(ctx context.Context, contractID string, expiry time.Time) (*string, error) {
	var strategyID string
	err := r.Pool.QueryRow(ctx,
		`SELECT strategy_id FROM instruments WHERE contract_id = $1 AND expiry_date = $2`,
		contractID, expiry).Scan(&strategyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &strategyID, nil
}

func (r *PostgresRepository) GetPriceLine(ctx context.Context, index string) (*model.PriceLine, error) {
	var l model.PriceLine
	err := r.Pool.QueryRow(ctx,
		`SELECT index_name, bid, offer, cash_ref, last_confirm_note, updated_at
		 FROM price_lines WHERE index_name = $1`, index).
		Scan(&l.IndexName, &l.Bid, &l.Offer, &l.CashRef, &l.LastConfirmNote, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PostgresRepository) ListPriceLines(ctx context.Context) ([]model.PriceLine, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT index_name, bid, offer, cash_ref, last_confirm_note, updated_at
		 FROM price_lines ORDER BY index_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []model.PriceLine
	for rows.Next() {
		var l model.PriceLine
		if err := rows.Scan(&l.IndexName, &l.Bid, &l.Offer, &l.CashRef,
			&l.LastConfirmNote, &l.UpdatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *PostgresRepository) UpsertPriceLine(ctx context.Context, line model.PriceLine) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO price_lines (index_name, bid, offer, cash_ref, last_confirm_note, updated_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (index_name) DO UPDATE SET
			bid = EXCLUDED.bid,
			offer = EXCLUDED.offer,
			cash_ref = EXCLUDED.cash_ref,
			last_confirm_note = EXCLUDED.last_confirm_note,
			updated_at = NOW()`,
		line.IndexName, line.Bid, line.Offer, line.CashRef, line.LastConfirmNote)
	return err
}

func (r *PostgresRepository) DeletePriceLine(ctx context.Context, index string) error {
	_, err := r.Pool.Exec(ctx, `DELETE FROM price_lines WHERE index_name = $1`, index)
	return err
}

// ReplaceRun swaps the whole run for the given lines in one transaction.
func (r *PostgresRepository) ReplaceRun(ctx context.Context, lines []model.PriceLine) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM price_lines`); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO price_lines (index_name, bid, offer, cash_ref, updated_at)
			VALUES ($1,$2,$3,$4,NOW())`,
			l.IndexName, l.Bid, l.Offer, l.CashRef); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) InsertRecap(ctx context.Context, recap *model.Recap) error {
	return r.Pool.QueryRow(ctx, `
		INSERT INTO recaps (index_name, price, lots, cash_ref, recap_text)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`,
		recap.IndexName, recap.Price, recap.Lots, recap.CashRef, recap.Text).
		Scan(&recap.ID, &recap.CreatedAt)
}

func (r *PostgresRepository) ListRecaps(ctx context.Context, limit int) ([]model.Recap, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, index_name, price, lots, cash_ref, recap_text, created_at
		FROM recaps ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recaps []model.Recap
	for rows.Next() {
		var rec model.Recap
		if err := rows.Scan(&rec.ID, &rec.IndexName, &rec.Price, &rec.Lots,
			&rec.CashRef, &rec.Text, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recaps = append(recaps, rec)
	}
	return recaps, rows.Err()
}
