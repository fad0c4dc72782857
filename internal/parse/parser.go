// Package parse turns free-text desk messages into candidate order legs.
// Most chat traffic is not a trade; a nil result is the normal outcome, not
// an error. The parser never mutates state and is safe to call redundantly.
package parse

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"efpmachine/internal/model"
)

// TradeFields is the strict four-field extraction the fallback capability
// must return. Price and Basis are pointers so an absent key is
// distinguishable from a genuine zero and can be rejected.
type TradeFields struct {
	ContractID string   `json:"contractId"`
	ExpiryDate string   `json:"expiryDate"`
	Side       string   `json:"buySell"`
	Price      *float64 `json:"price"`
	Basis      *float64 `json:"basis"`
}

// Extractor is the fallback text-extraction capability. It is the only
// network-bound step in parsing and may fail; the parser swallows every
// failure and treats the message as non-trade-related.
type Extractor interface {
	Extract(ctx context.Context, text string) (*TradeFields, error)
}

var (
	// One bid/offer pair for one expiry inside a price run, e.g. "Dec25 56/58".
	runLineRe = regexp.MustCompile(`(?i)\b([A-Za-z]{3}\d{2})\s+(-?\d+(?:\.\d+)?)/(-?\d+(?:\.\d+)?)`)

	// Basis is the first signed decimal following "vs" anywhere in the message.
	basisRe = regexp.MustCompile(`(?i)\bvs\.?\s*(-?\d+(?:\.\d+)?)`)

	// Contract code is the token immediately preceding "TRF".
	contractRe = regexp.MustCompile(`(?i)\b([A-Z0-9]+)\s+TRF\b`)

	// Single-trade idioms. Side and basis may be separated from the price by
	// free text ("SX5E DEC25 TRF 61 we can sell vs 3.75").
	singleTradeRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b([A-Z0-9]+)\s+([A-Za-z]{3}\d{2})\s+TRF\s+(-?\d+(?:\.\d+)?)\s+.*?\b(buy|sell)\b.*?\bvs\.?\s*(-?\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?i)\bwe can\s+(buy|sell)\s+\d*\s*([A-Z0-9]+)\s+([A-Za-z]{3}\d{2})\s+TRF\s+(?:at\s+)?(-?\d+(?:\.\d+)?)\s+vs\.?\s*(-?\d+(?:\.\d+)?)`),
	}
)

// Parser converts one chat message into zero, one or many candidate orders
// using deterministic patterns first and the fallback extractor last.
type Parser struct {
	logger    *slog.Logger
	extractor Extractor
}

// New creates a Parser. extractor may be nil, in which case the fallback
// tier is skipped entirely.
func New(logger *slog.Logger, extractor Extractor) *Parser {
	return &Parser{logger: logger, extractor: extractor}
}

// Parse tries the price-run pattern, then the single-trade patterns, then
// the gated fallback extractor. A nil result means the message is not trade
// related.
func (p *Parser) Parse(ctx context.Context, eventID, raw string, senderUUID *string) []model.CandidateOrder {
	msg := strings.TrimSpace(raw)
	if msg == "" {
		return nil
	}

	if legs := p.parsePriceRun(eventID, msg, senderUUID); legs != nil {
		return legs
	}
	if legs := p.parseSingleTrade(eventID, msg, senderUUID); legs != nil {
		return legs
	}
	return p.parseFallback(ctx, eventID, msg, senderUUID)
}

// parsePriceRun handles messages publishing bid/offer pairs for several
// expiries of one contract at once, e.g.
// "SX5E TRF Dec25 56/58 Mar26 60/62 vs 3.75". Every expiry line yields a
// BUY leg at the bid and a SELL leg at the offer; all legs share one
// grouping id.
func (p *Parser) parsePriceRun(eventID, msg string, senderUUID *string) []model.CandidateOrder {
	if !strings.Contains(strings.ToLower(msg), "vs") {
		return nil
	}
	lines := runLineRe.FindAllStringSubmatch(msg, -1)
	if len(lines) == 0 {
		return nil
	}

	basisMatch := basisRe.FindStringSubmatch(msg)
	if basisMatch == nil {
		return nil
	}
	basis, err := strconv.ParseFloat(basisMatch[1], 64)
	if err != nil {
		return nil
	}

	contractMatch := contractRe.FindStringSubmatch(msg)
	if contractMatch == nil {
		return nil
	}
	contract := strings.ToUpper(contractMatch[1])

	groupID := uuid.NewString()
	legs := make([]model.CandidateOrder, 0, 2*len(lines))
	for _, line := range lines {
		bid, errB := strconv.ParseFloat(line[2], 64)
		ask, errA := strconv.ParseFloat(line[3], 64)
		if errB != nil || errA != nil {
			continue
		}
		expiryLabel := strings.ToUpper(line[1])
		for _, leg := range []struct {
			side  model.Side
			price float64
		}{{model.SideBuy, bid}, {model.SideSell, ask}} {
			legs = append(legs, model.CandidateOrder{
				EventID:     eventID,
				Message:     msg,
				SenderUUID:  senderUUID,
				Kind:        model.KindPriceRun,
				ContractID:  contract,
				ExpiryLabel: expiryLabel,
				Side:        leg.side,
				Price:       leg.price,
				Basis:       basis,
				GroupID:     &groupID,
				State:       model.StateActive,
			})
		}
	}
	if len(legs) == 0 {
		return nil
	}
	return legs
}

func (p *Parser) parseSingleTrade(eventID, msg string, senderUUID *string) []model.CandidateOrder {
	for i, re := range singleTradeRes {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		var contract, expiry, side, priceStr, basisStr string
		if i == 0 {
			contract, expiry, priceStr, side, basisStr = m[1], m[2], m[3], m[4], m[5]
		} else {
			side, contract, expiry, priceStr, basisStr = m[1], m[2], m[3], m[4], m[5]
		}
		price, errP := strconv.ParseFloat(priceStr, 64)
		basis, errB := strconv.ParseFloat(basisStr, 64)
		if errP != nil || errB != nil {
			continue
		}
		return []model.CandidateOrder{{
			EventID:     eventID,
			Message:     msg,
			SenderUUID:  senderUUID,
			Kind:        model.KindSingleTrade,
			ContractID:  strings.ToUpper(contract),
			ExpiryLabel: strings.ToUpper(expiry),
			Side:        model.Side(strings.ToUpper(side)),
			Price:       price,
			Basis:       basis,
			State:       model.StateActive,
		}}
	}
	return nil
}

// parseFallback asks the extraction capability for a structured read of the
// message. The keyword gate keeps ordinary chatter away from the extractor.
// Any extraction or validation failure downgrades the message to non-trade.
func (p *Parser) parseFallback(ctx context.Context, eventID, msg string, senderUUID *string) []model.CandidateOrder {
	if p.extractor == nil || !hasTradeKeyword(msg) {
		return nil
	}

	fields, err := p.extractor.Extract(ctx, msg)
	if err != nil {
		p.logger.Warn("fallback extraction failed", "eventId", eventID, "error", err)
		return nil
	}
	side := model.Side(strings.ToUpper(fields.Side))
	if side != model.SideBuy && side != model.SideSell {
		p.logger.Warn("fallback extraction returned bad side", "eventId", eventID, "side", fields.Side)
		return nil
	}
	if fields.ContractID == "" || fields.ExpiryDate == "" || fields.Price == nil || fields.Basis == nil {
		p.logger.Warn("fallback extraction missing fields", "eventId", eventID)
		return nil
	}

	return []model.CandidateOrder{{
		EventID:     eventID,
		Message:     msg,
		SenderUUID:  senderUUID,
		Kind:        model.KindUnclassified,
		ContractID:  strings.ToUpper(fields.ContractID),
		ExpiryLabel: strings.ToUpper(fields.ExpiryDate),
		Side:        side,
		Price:       *fields.Price,
		Basis:       *fields.Basis,
		State:       model.StateActive,
	}}
}

func hasTradeKeyword(msg string) bool {
	u := strings.ToUpper(msg)
	return strings.Contains(u, "TRF") || strings.Contains(u, "EFP")
}
