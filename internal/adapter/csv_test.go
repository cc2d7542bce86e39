package adapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate/reconengine/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFetchTrades(t *testing.T) {
	path := writeFile(t, "trades.csv",
		"id,security_id,side,quantity,price,currency,trade_date,settlement_date,counterparty_id,account_id\n"+
			"7b4a1d2e-9c3f-4a5b-8d6e-1f2a3b4c5d6e,US0378331005,BUY,1000,50.00,USD,2026-08-03,2026-08-05,CPTY-1,ACC-1\n")

	trades, err := NewCSVSource().FetchTrades(path)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	tr := trades[0]
	assert.Equal(t, "US0378331005", tr.SecurityID)
	assert.Equal(t, model.SideBuy, tr.Side)
	assert.True(t, tr.Quantity.Equal(decimal.NewFromInt(1000)))
	assert.True(t, tr.Price.Equal(decimal.NewFromFloat(50.00)))
	assert.Equal(t, 2026, tr.TradeDate.Year())
	assert.Equal(t, "CPTY-1", tr.CounterpartyID)
}

func TestFetchTradesRejectsMalformedRow(t *testing.T) {
	path := writeFile(t, "trades.csv",
		"id,security_id,side,quantity,price,currency,trade_date,settlement_date,counterparty_id,account_id\n"+
			"7b4a1d2e-9c3f-4a5b-8d6e-1f2a3b4c5d6e,US0378331005,BUY,not-a-number,50.00,USD,2026-08-03,2026-08-05,CPTY-1,ACC-1\n")

	_, err := NewCSVSource().FetchTrades(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1")
}

func TestFetchConfirmationsDefaultsStatus(t *testing.T) {
	path := writeFile(t, "confs.csv",
		"id,source,trade_ref,security_id,side,quantity,price,currency,trade_date,settlement_date,counterparty_id,status\n"+
			"8c5b2e3f-0d4a-4b6c-9e7f-2a3b4c5d6e7f,COUNTERPARTY,T-1,US0378331005,SELL,500,49.95,USD,2026-08-03,2026-08-05,CPTY-2,\n")

	confs, err := NewCSVSource().FetchConfirmations(path)
	require.NoError(t, err)
	require.Len(t, confs, 1)

	c := confs[0]
	assert.Equal(t, model.SourceCounterparty, c.Source)
	assert.Equal(t, model.ConfirmationPending, c.Status)
	assert.Equal(t, "T-1", c.TradeRef)
	assert.False(t, c.ReceivedAt.IsZero())
}

func TestFetchTradesMissingFile(t *testing.T) {
	_, err := NewCSVSource().FetchTrades(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
