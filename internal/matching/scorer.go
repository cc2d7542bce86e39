// Package matching implements weighted multi-field scoring of internal
// trades against external confirmations and the greedy matching engine that
// pairs them.
package matching

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleargate/reconengine/internal/model"
	"github.com/cleargate/reconengine/internal/tolerance"
)

// ScoreWeights are the per-field contributions to the match score. They are
// fixed business policy and sum to exactly 1.0; tolerances are the
// configurable part.
type ScoreWeights struct {
	Security       float64
	Side           float64
	Quantity       float64
	Price          float64
	TradeDate      float64
	SettlementDate float64
}

// DefaultWeights returns the standard weighting policy.
func DefaultWeights() ScoreWeights {
	return ScoreWeights{
		Security:       0.25,
		Side:           0.25,
		Quantity:       0.20,
		Price:          0.15,
		TradeDate:      0.10,
		SettlementDate: 0.05,
	}
}

// Sum returns the total weight, used to assert the 1.0 invariant in tests.
func (w ScoreWeights) Sum() float64 {
	return w.Security + w.Side + w.Quantity + w.Price + w.TradeDate + w.SettlementDate
}

// Scorer computes a weighted similarity score for one trade/confirmation
// pair.
type Scorer struct {
	weights ScoreWeights
}

// NewScorer creates a scorer with the default weight policy.
func NewScorer() *Scorer {
	return &Scorer{weights: DefaultWeights()}
}

// Weights exposes the active weight policy.
func (s *Scorer) Weights() ScoreWeights { return s.weights }

// Score compares a trade against a confirmation under the given tolerances
// and returns a MatchResult with score in [0,1], matched/unmatched field
// lists, and field discrepancies. The status is left unset; the engine
// classifies it.
func (s *Scorer) Score(trade *model.Trade, conf *model.Confirmation, tol tolerance.Set) *model.MatchResult {
	result := &model.MatchResult{
		ID:             uuid.New(),
		TradeID:        trade.ID,
		ConfirmationID: &conf.ID,
		CreatedAt:      time.Now().UTC(),
	}

	score := 0.0

	if trade.SecurityID == conf.SecurityID {
		score += s.weights.Security
		result.MatchedFields = append(result.MatchedFields, model.FieldSecurity)
	} else {
		s.miss(result, model.FieldSecurity, trade.SecurityID, conf.SecurityID, model.SeverityError)
	}

	if trade.Side == conf.Side {
		score += s.weights.Side
		result.MatchedFields = append(result.MatchedFields, model.FieldSide)
	} else {
		s.miss(result, model.FieldSide, trade.Side, conf.Side, model.SeverityError)
	}

	if trade.Quantity.Equal(conf.Quantity) {
		score += s.weights.Quantity
		result.MatchedFields = append(result.MatchedFields, model.FieldQuantity)
	} else {
		s.miss(result, model.FieldQuantity, trade.Quantity.String(), conf.Quantity.String(), model.SeverityError)
	}

	if priceWithinTolerance(trade.Price, conf.Price, tol) {
		score += s.weights.Price
		result.MatchedFields = append(result.MatchedFields, model.FieldPrice)
	} else {
		s.miss(result, model.FieldPrice, trade.Price.String(), conf.Price.String(), model.SeverityError)
	}

	if sameDay(trade.TradeDate, conf.TradeDate) {
		score += s.weights.TradeDate
		result.MatchedFields = append(result.MatchedFields, model.FieldTradeDate)
	} else {
		s.miss(result, model.FieldTradeDate,
			trade.TradeDate.Format(time.DateOnly), conf.TradeDate.Format(time.DateOnly), model.SeverityWarning)
	}

	if sameDay(trade.SettlementDate, conf.SettlementDate) {
		score += s.weights.SettlementDate
		result.MatchedFields = append(result.MatchedFields, model.FieldSettlementDate)
	} else {
		s.miss(result, model.FieldSettlementDate,
			trade.SettlementDate.Format(time.DateOnly), conf.SettlementDate.Format(time.DateOnly), model.SeverityWarning)
	}

	result.Score = clamp01(score)
	return result
}

func (s *Scorer) miss(r *model.MatchResult, field, internal, external string, sev model.DiscrepancySeverity) {
	r.UnmatchedFields = append(r.UnmatchedFields, field)
	r.Discrepancies = append(r.Discrepancies, model.FieldDiscrepancy{
		Field:         field,
		InternalValue: internal,
		ExternalValue: external,
		Severity:      sev,
	})
}

func priceWithinTolerance(internal, external decimal.Decimal, tol tolerance.Set) bool {
	if t, ok := tol[model.FieldPrice]; ok {
		return t.Within(internal, external)
	}
	return internal.Sub(external).Abs().LessThanOrEqual(tolerance.DefaultPriceTolerance)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SecuritySimilarity is a normalized Levenshtein similarity between two
// security identifiers, used to pre-rank fuzzy candidates with slightly
// garbled identifiers.
func SecuritySimilarity(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a == b {
		return 1.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(maxLen)
}
