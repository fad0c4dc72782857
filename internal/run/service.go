// Package run manages the published reference-price run: price updates with
// directional quality checks, trade prints with recaps, confirmation
// overrides and run snapshots.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"efpmachine/internal/expiry"
	"efpmachine/internal/model"
	"efpmachine/internal/protocol"
)

// ErrCashRefRequired is returned when a trade print arrives without any
// usable cash reference.
var ErrCashRefRequired = errors.New("cash reference required")

// ErrIndexNotFound is returned when an operation targets an index that has
// no live price line.
var ErrIndexNotFound = errors.New("index not found")

// Store is the persistence surface the run service needs.
type Store interface {
	GetPriceLine(ctx context.Context, index string) (*model.PriceLine, error)
	ListPriceLines(ctx context.Context) ([]model.PriceLine, error)
	UpsertPriceLine(ctx context.Context, line model.PriceLine) error
	DeletePriceLine(ctx context.Context, index string) error
	ReplaceRun(ctx context.Context, lines []model.PriceLine) error
	InsertRecap(ctx context.Context, recap *model.Recap) error
	ListRecaps(ctx context.Context, limit int) ([]model.Recap, error)
}

// UpdatePriceRequest proposes new values for an index's price line. Nil
// fields are left untouched. Confirm bypasses the worsening check.
type UpdatePriceRequest struct {
	Index   string   `json:"index"`
	Bid     *float64 `json:"bid"`
	Offer   *float64 `json:"offer"`
	CashRef *float64 `json:"cash_ref"`
	Confirm bool     `json:"confirm"`
}

// TradeRequest prints a trade against an index's live line.
type TradeRequest struct {
	Index   string   `json:"index"`
	Price   float64  `json:"price"`
	Lots    int      `json:"lots"`
	CashRef *float64 `json:"cash_ref"`
}

// CommandResult reports the outcome of a run operation. The Requires*
// fields are advisory signals preserving the human-in-the-loop step: a
// worsening or a missing cash reference is flagged, not hard-rejected.
type CommandResult struct {
	OK                   bool   `json:"ok"`
	Detail               string `json:"detail"`
	Recap                string `json:"recap,omitempty"`
	RequiresCashRef      bool   `json:"requires_cash_ref"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
}

// RunRow is one snapshot row: the live line plus derived flags.
type RunRow struct {
	model.PriceLine
	Watchpoint bool                  `json:"watchpoint"`
	Expiry     expiry.Classification `json:"expiry"`
}

// Snapshot is the fan-out payload: the ordered run plus recent recaps.
type Snapshot struct {
	Run    []RunRow      `json:"run"`
	Recaps []model.Recap `json:"recaps"`
}

// Service applies the trading-protocol rules to run mutations.
type Service struct {
	store  Store
	theo   protocol.TheoreticalFunc
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a run Service. theo may be nil, which disables
// watchpoint flags.
func NewService(store Store, theo protocol.TheoreticalFunc, logger *slog.Logger) *Service {
	return &Service{store: store, theo: theo, logger: logger, now: time.Now}
}

// UpdatePrice applies a proposed price update. A first update for an
// unknown index creates its line. A worsening on either side without the
// confirm override leaves the line untouched and asks for confirmation.
func (s *Service) UpdatePrice(ctx context.Context, req UpdatePriceRequest) (CommandResult, error) {
	line, err := s.store.GetPriceLine(ctx, req.Index)
	if err != nil {
		return CommandResult{}, fmt.Errorf("load price line %s: %w", req.Index, err)
	}

	if line == nil {
		created := model.PriceLine{
			IndexName: req.Index,
			Bid:       req.Bid,
			Offer:     req.Offer,
			CashRef:   req.CashRef,
		}
		if err := s.store.UpsertPriceLine(ctx, created); err != nil {
			return CommandResult{}, fmt.Errorf("create price line %s: %w", req.Index, err)
		}
		return CommandResult{
			OK:              true,
			Detail:          "Created new row",
			RequiresCashRef: protocol.RequiresCashRef(req.CashRef),
		}, nil
	}

	if !req.Confirm {
		worsening := (req.Bid != nil && protocol.IsWorsening(line.Bid, req.Bid, protocol.SideBid)) ||
			(req.Offer != nil && protocol.IsWorsening(line.Offer, req.Offer, protocol.SideOffer))
		if worsening {
			return CommandResult{
				Detail:               "Worsening detected; confirmation required.",
				RequiresConfirmation: true,
			}, nil
		}
	}

	if req.Bid != nil {
		line.Bid = req.Bid
	}
	if req.Offer != nil {
		line.Offer = req.Offer
	}
	if req.CashRef != nil {
		line.CashRef = req.CashRef
	}
	if err := s.store.UpsertPriceLine(ctx, *line); err != nil {
		return CommandResult{}, fmt.Errorf("update price line %s: %w", req.Index, err)
	}

	return CommandResult{
		OK:              true,
		Detail:          "Updated",
		RequiresCashRef: protocol.RequiresCashRef(req.CashRef),
	}, nil
}

// Trade prints a trade: the live line is retired and an immutable recap is
// written. Unlike the advisory signal on updates, a missing cash reference
// here is a hard rejection.
func (s *Service) Trade(ctx context.Context, req TradeRequest) (CommandResult, error) {
	line, err := s.store.GetPriceLine(ctx, req.Index)
	if err != nil {
		return CommandResult{}, fmt.Errorf("load price line %s: %w", req.Index, err)
	}

	cashRef := req.CashRef
	if cashRef == nil && line != nil {
		cashRef = line.CashRef
	}
	if cashRef == nil {
		return CommandResult{}, ErrCashRefRequired
	}

	if line != nil {
		if err := s.store.DeletePriceLine(ctx, req.Index); err != nil {
			return CommandResult{}, fmt.Errorf("retire price line %s: %w", req.Index, err)
		}
	}

	text := protocol.FormatRecap(req.Index, req.Price, req.Lots, cashRef)
	recap := &model.Recap{
		IndexName: req.Index,
		Price:     req.Price,
		Lots:      req.Lots,
		CashRef:   cashRef,
		Text:      text,
	}
	if err := s.store.InsertRecap(ctx, recap); err != nil {
		return CommandResult{}, fmt.Errorf("insert recap %s: %w", req.Index, err)
	}

	s.logger.Info("trade printed", "index", req.Index, "price", req.Price, "lots", req.Lots)
	return CommandResult{
		OK:     true,
		Detail: fmt.Sprintf("Ask for price on the follow - %s", req.Index),
		Recap:  text,
	}, nil
}

// Confirm records a worsening confirmation note on the index's line.
func (s *Service) Confirm(ctx context.Context, index, note string) (CommandResult, error) {
	line, err := s.store.GetPriceLine(ctx, index)
	if err != nil {
		return CommandResult{}, fmt.Errorf("load price line %s: %w", index, err)
	}
	if line == nil {
		return CommandResult{}, ErrIndexNotFound
	}

	if note == "" {
		note = "Worsening confirmed"
	}
	line.LastConfirmNote = &note
	if err := s.store.UpsertPriceLine(ctx, *line); err != nil {
		return CommandResult{}, fmt.Errorf("confirm price line %s: %w", index, err)
	}
	return CommandResult{OK: true, Detail: "Worsening confirmed"}, nil
}

// Publish renders the current run as the snapshot text sent to the desk.
func (s *Service) Publish(ctx context.Context) (CommandResult, error) {
	lines, err := s.store.ListPriceLines(ctx)
	if err != nil {
		return CommandResult{}, fmt.Errorf("list price lines: %w", err)
	}
	return CommandResult{
		OK:     true,
		Detail: "Run published",
		Recap:  protocol.FormatRun(lines),
	}, nil
}

// SeedRun replaces the whole run, e.g. with the day's opening prices.
func (s *Service) SeedRun(ctx context.Context, lines []model.PriceLine) error {
	if err := s.store.ReplaceRun(ctx, lines); err != nil {
		return fmt.Errorf("seed run: %w", err)
	}
	s.logger.Info("run seeded", "lines", len(lines))
	return nil
}

// Snapshot assembles the ordered run with watchpoint and expiry flags plus
// the most recent recaps, for websocket fan-out and the run endpoint.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	lines, err := s.store.ListPriceLines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list price lines: %w", err)
	}
	protocol.SortRun(lines)

	today := s.now()
	rows := make([]RunRow, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, RunRow{
			PriceLine:  l,
			Watchpoint: protocol.Watchpoint(l, s.theo),
			Expiry:     expiry.Classify(l.IndexName, today),
		})
	}

	recaps, err := s.store.ListRecaps(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("list recaps: %w", err)
	}
	return &Snapshot{Run: rows, Recaps: recaps}, nil
}
