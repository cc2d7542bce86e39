package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-process ledger gateway for development and tests.
// Production deployments point the lifecycle manager at the custodian's
// book-entry API instead.
type MemoryLedger struct {
	mu         sync.Mutex
	securities map[string]decimal.Decimal // accountRef|securityID
	cash       map[string]decimal.Decimal // cashAccountRef|currency
}

// NewMemoryLedger constructs an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		securities: make(map[string]decimal.Decimal),
		cash:       make(map[string]decimal.Decimal),
	}
}

// CreditSecurities seeds a securities position.
func (l *MemoryLedger) CreditSecurities(accountRef, securityID string, qty decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(accountRef, securityID)
	l.securities[k] = l.securities[k].Add(qty)
}

// CreditCash seeds a cash balance.
func (l *MemoryLedger) CreditCash(cashAccountRef, currency string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(cashAccountRef, currency)
	l.cash[k] = l.cash[k].Add(amount)
}

// SecuritiesAvailable reports whether the account holds at least qty.
func (l *MemoryLedger) SecuritiesAvailable(ctx context.Context, accountRef, securityID string, qty decimal.Decimal) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.securities[key(accountRef, securityID)].GreaterThanOrEqual(qty), nil
}

// CashAvailable reports whether the cash account holds at least amount.
func (l *MemoryLedger) CashAvailable(ctx context.Context, cashAccountRef, currency string, amount decimal.Decimal) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash[key(cashAccountRef, currency)].GreaterThanOrEqual(amount), nil
}

// MoveSecurities transfers qty between accounts.
func (l *MemoryLedger) MoveSecurities(ctx context.Context, fromRef, toRef, securityID string, qty decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	from := key(fromRef, securityID)
	if l.securities[from].LessThan(qty) {
		return fmt.Errorf("insufficient securities in %s: have %s, need %s",
			fromRef, l.securities[from], qty)
	}
	to := key(toRef, securityID)
	l.securities[from] = l.securities[from].Sub(qty)
	l.securities[to] = l.securities[to].Add(qty)
	return nil
}

// MoveCash transfers amount between cash accounts.
func (l *MemoryLedger) MoveCash(ctx context.Context, fromRef, toRef, currency string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	from := key(fromRef, currency)
	if l.cash[from].LessThan(amount) {
		return fmt.Errorf("insufficient cash in %s: have %s, need %s",
			fromRef, l.cash[from], amount)
	}
	to := key(toRef, currency)
	l.cash[from] = l.cash[from].Sub(amount)
	l.cash[to] = l.cash[to].Add(amount)
	return nil
}

func key(a, b string) string { return a + "|" + b }
