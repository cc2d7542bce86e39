// Package adapter connects the engine to the outside world: CSV batch
// files from custodians, the clearing-house Kafka link, and alert
// delivery.
package adapter

import (
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cleargate/reconengine/internal/model"
)

const csvDateLayout = "2006-01-02"

// tradeRow is the CSV wire shape for internal trade extracts.
type tradeRow struct {
	ID             string `csv:"id"`
	SecurityID     string `csv:"security_id"`
	Side           string `csv:"side"`
	Quantity       string `csv:"quantity"`
	Price          string `csv:"price"`
	Currency       string `csv:"currency"`
	TradeDate      string `csv:"trade_date"`
	SettlementDate string `csv:"settlement_date"`
	CounterpartyID string `csv:"counterparty_id"`
	AccountID      string `csv:"account_id"`
}

// confirmationRow is the CSV wire shape for counterparty confirmation
// files.
type confirmationRow struct {
	ID             string `csv:"id"`
	Source         string `csv:"source"`
	TradeRef       string `csv:"trade_ref"`
	SecurityID     string `csv:"security_id"`
	Side           string `csv:"side"`
	Quantity       string `csv:"quantity"`
	Price          string `csv:"price"`
	Currency       string `csv:"currency"`
	TradeDate      string `csv:"trade_date"`
	SettlementDate string `csv:"settlement_date"`
	CounterpartyID string `csv:"counterparty_id"`
	Status         string `csv:"status"`
}

// CSVSource reads trade and confirmation batch files.
type CSVSource struct{}

// NewCSVSource constructs a CSV source.
func NewCSVSource() *CSVSource { return &CSVSource{} }

// FetchTrades parses an internal trade extract. Row-level parse failures
// abort the load; a truncated or malformed batch file must not produce a
// partial run that raises spurious missing-trade breaks.
func (s *CSVSource) FetchTrades(path string) ([]*model.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trade file: %w", err)
	}
	defer f.Close()

	var rows []*tradeRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse trade file %s: %w", path, err)
	}

	out := make([]*model.Trade, 0, len(rows))
	for i, row := range rows {
		t, err := row.toTrade()
		if err != nil {
			return nil, fmt.Errorf("trade file %s row %d: %w", path, i+1, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// FetchConfirmations parses a counterparty confirmation file.
func (s *CSVSource) FetchConfirmations(path string) ([]*model.Confirmation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open confirmation file: %w", err)
	}
	defer f.Close()

	var rows []*confirmationRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse confirmation file %s: %w", path, err)
	}

	out := make([]*model.Confirmation, 0, len(rows))
	for i, row := range rows {
		c, err := row.toConfirmation()
		if err != nil {
			return nil, fmt.Errorf("confirmation file %s row %d: %w", path, i+1, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *tradeRow) toTrade() (*model.Trade, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	qty, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	tradeDate, err := time.Parse(csvDateLayout, r.TradeDate)
	if err != nil {
		return nil, fmt.Errorf("trade_date: %w", err)
	}
	settleDate, err := time.Parse(csvDateLayout, r.SettlementDate)
	if err != nil {
		return nil, fmt.Errorf("settlement_date: %w", err)
	}
	return &model.Trade{
		ID:             id,
		SecurityID:     r.SecurityID,
		Side:           r.Side,
		Quantity:       qty,
		Price:          price,
		Currency:       r.Currency,
		TradeDate:      tradeDate,
		SettlementDate: settleDate,
		CounterpartyID: r.CounterpartyID,
		AccountID:      r.AccountID,
	}, nil
}

func (r *confirmationRow) toConfirmation() (*model.Confirmation, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	qty, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	tradeDate, err := time.Parse(csvDateLayout, r.TradeDate)
	if err != nil {
		return nil, fmt.Errorf("trade_date: %w", err)
	}
	settleDate, err := time.Parse(csvDateLayout, r.SettlementDate)
	if err != nil {
		return nil, fmt.Errorf("settlement_date: %w", err)
	}
	status := model.ConfirmationStatus(r.Status)
	if status == "" {
		status = model.ConfirmationPending
	}
	return &model.Confirmation{
		ID:             id,
		Source:         model.ConfirmationSource(r.Source),
		TradeRef:       r.TradeRef,
		SecurityID:     r.SecurityID,
		Side:           r.Side,
		Quantity:       qty,
		Price:          price,
		Currency:       r.Currency,
		TradeDate:      tradeDate,
		SettlementDate: settleDate,
		CounterpartyID: r.CounterpartyID,
		Status:         status,
		ReceivedAt:     time.Now().UTC(),
	}, nil
}
