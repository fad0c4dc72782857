package model

import "time"

// Side is the direction of an order leg.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind classifies how a message was parsed into orders.
type OrderKind string

const (
	KindSingleTrade  OrderKind = "single trade"
	KindPriceRun     OrderKind = "price run"
	KindUnclassified OrderKind = "unclassified"
)

// StateActive is the initial state assigned to every parsed order leg.
const StateActive = "ACTIVE"

// CandidateOrder is an unpersisted order leg produced by the parser.
// GroupID is shared by all legs parsed from one price-run message and is
// nil for single-trade legs.
type CandidateOrder struct {
	EventID     string
	Message     string
	SenderUUID  *string
	Kind        OrderKind
	ContractID  string
	ExpiryLabel string
	Side        Side
	Price       float64
	Basis       float64
	GroupID     *string
	State       string
}

// StatusEntry is one element of an order's append-only status history.
type StatusEntry struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is the durable form of a CandidateOrder, with enrichment fields
// resolved by the batch worker. StatusHistory is append-only; entries are
// never rewritten once stored.
type Order struct {
	ID          string
	CreatedAt   time.Time
	EventID     string
	Message     string
	SenderUUID  *string
	Kind        OrderKind
	ContractID  string
	ExpiryLabel string
	Side        Side
	Price       float64
	Basis       float64
	GroupID     *string

	TraderAlias       *string
	TraderLegalEntity *string
	StrategyID        *string

	StatusHistory []StatusEntry
}

// PriceLine is the single live published price for one index. An index with
// no PriceLine is not yet quoted.
type PriceLine struct {
	IndexName       string
	Bid             *float64
	Offer           *float64
	CashRef         *float64
	LastConfirmNote *string
	UpdatedAt       time.Time
}

// Recap records an executed trade against an index. Immutable once created;
// Text is persisted verbatim.
type Recap struct {
	ID        int64
	IndexName string
	Price     float64
	Lots      int
	CashRef   *float64
	Text      string
	CreatedAt time.Time
}

// Trader is read-only reference data keyed by sender uuid.
type Trader struct {
	UUID             string
	Alias            string
	LegalEntityShort string
}

// Instrument maps a (contract, expiry date) pair to its canonical strategy
// identifier. Read-only reference data.
type Instrument struct {
	ContractID string
	ExpiryDate time.Time
	StrategyID string
}
