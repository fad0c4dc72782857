// Package protocol implements the desk's price-quality rules: directional
// improvement/worsening tests, the cash-reference requirement, watchpoint
// deviation checks and recap formatting.
package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"efpmachine/internal/model"
)

// Side names which side of a price line a value belongs to.
type Side string

const (
	SideBid   Side = "bid"
	SideOffer Side = "offer"
)

// Tribool is a three-valued answer for price-quality tests. Unknown means a
// comparison could not be made (a missing value) and callers must not treat
// it as either improvement or worsening.
type Tribool int

const (
	Unknown Tribool = iota
	False
	True
)

// IsTrue reports whether the result is a definite yes.
func (t Tribool) IsTrue() bool { return t == True }

// WatchpointThreshold is the maximum tolerated deviation between a live
// quote and its theoretical value before a watchpoint is raised.
const WatchpointThreshold = 0.75

// RunOrder is the canonical ordering of indices in a published run.
var RunOrder = []string{
	"SX5E", "SX5E CC", "FTSE", "DAX", "SMI", "MIB",
	"CAC", "IBEX", "AEX", "OMX", "SX7E", "SX7E CC",
}

// TheoreticalFunc computes a theoretical bid/offer pair for an index from a
// live quote. Implementations may return nils when no theory is available.
type TheoreticalFunc func(index string, bid, offer, cashRef float64) (theoBid, theoOffer *float64)

// IsImprovement reports whether new is a better price than old on the given
// side. Prices can be negative, so the zero crossing is handled explicitly:
// a bid dropping from non-negative to negative is never an improvement and
// the reverse transition always is, mirrored for the offer side.
func IsImprovement(old, new *float64, side Side) Tribool {
	if old == nil || new == nil {
		return Unknown
	}
	o, n := *old, *new
	switch side {
	case SideBid:
		switch {
		case o >= 0 && n < 0:
			return toTribool(false)
		case o < 0 && n >= 0:
			return toTribool(true)
		default:
			return toTribool(n > o)
		}
	case SideOffer:
		switch {
		case o >= 0 && n < 0:
			return toTribool(true)
		case o < 0 && n >= 0:
			return toTribool(false)
		default:
			return toTribool(n < o)
		}
	}
	return Unknown
}

// IsWorsening reports whether new is a definitely worse price than old.
// Unknown comparisons are never worsening.
func IsWorsening(old, new *float64, side Side) bool {
	return IsImprovement(old, new, side) == False
}

// RequiresCashRef reports whether a price update arrived without an explicit
// cash reference. Advisory only; the caller decides whether to defer.
func RequiresCashRef(provided *float64) bool {
	return provided == nil
}

// Watchpoint reports whether the line's quote deviates from its theoretical
// value by more than the threshold on either side. Missing inputs, or a
// theory function that declines to price, yield no watchpoint.
func Watchpoint(line model.PriceLine, theo TheoreticalFunc) bool {
	if line.Bid == nil || line.Offer == nil || line.CashRef == nil || theo == nil {
		return false
	}
	tb, to := theo(line.IndexName, *line.Bid, *line.Offer, *line.CashRef)
	if tb == nil || to == nil {
		return false
	}
	return abs(*line.Bid-*tb) > WatchpointThreshold ||
		abs(*line.Offer-*to) > WatchpointThreshold
}

// FormatRecap renders the durable recap string for an executed trade. The
// template is part of the persisted record; changes to it must be versioned.
// Whole cash values keep a trailing ".0" to stay byte-compatible with the
// existing recap history.
func FormatRecap(index string, price float64, lots int, cashRef *float64) string {
	cash := "N/A"
	if cashRef != nil {
		cash = strconv.FormatFloat(*cashRef, 'f', -1, 64)
		if !strings.Contains(cash, ".") {
			cash += ".0"
		}
	}
	return fmt.Sprintf("%s EFP traded at %.2f in %d lots vs %s cash %s", index, price, lots, index, cash)
}

// FormatRun renders the run snapshot text published to the desk.
func FormatRun(lines []model.PriceLine) string {
	sorted := make([]model.PriceLine, len(lines))
	copy(sorted, lines)
	SortRun(sorted)

	var b strings.Builder
	b.WriteString("EFP’s")
	for _, l := range sorted {
		b.WriteString("\n")
		b.WriteString(l.IndexName)
		b.WriteString(" ")
		b.WriteString(optFloat(l.Bid))
		b.WriteString("/")
		b.WriteString(optFloat(l.Offer))
		b.WriteString(" ")
		b.WriteString(optFloat(l.CashRef))
	}
	return b.String()
}

// SortRun orders price lines by the canonical run ordering; indices not in
// the published set sort after it, alphabetically.
func SortRun(lines []model.PriceLine) {
	rank := make(map[string]int, len(RunOrder))
	for i, name := range RunOrder {
		rank[name] = i
	}
	sort.SliceStable(lines, func(i, j int) bool {
		ri, iok := rank[lines[i].IndexName]
		rj, jok := rank[lines[j].IndexName]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return lines[i].IndexName < lines[j].IndexName
		}
	})
}

func toTribool(b bool) Tribool {
	if b {
		return True
	}
	return False
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func optFloat(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *f)
}
