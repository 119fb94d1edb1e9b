package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Mock is an in-memory fungible-token ledger with balances and allowances.
// It backs tests and local development when no chain is configured.
type Mock struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	allowances map[string]map[string]decimal.Decimal // owner → spender → amount
}

// NewMock creates an empty mock token ledger.
func NewMock() *Mock {
	return &Mock{
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
	}
}

// Mint credits amount to the given account out of thin air.
func (m *Mock) Mint(account string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = m.balances[account].Add(amount)
}

// Balance returns the current balance of an account (0 for unknown).
func (m *Mock) Balance(account string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account]
}

// Bound returns a Ledger view of the mock bound to the given account.
func (m *Mock) Bound(account string) Ledger {
	return &boundMock{mock: m, account: account}
}

func (m *Mock) transfer(from, to string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount.IsNegative() {
		return fmt.Errorf("%w: negative amount %s", ErrTransferFailed, amount)
	}
	if m.balances[from].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s",
			ErrTransferFailed, from, m.balances[from], amount)
	}
	m.balances[from] = m.balances[from].Sub(amount)
	m.balances[to] = m.balances[to].Add(amount)
	return nil
}

// boundMock implements Ledger for one acting account.
type boundMock struct {
	mock    *Mock
	account string
}

func (b *boundMock) Transfer(_ context.Context, to string, amount decimal.Decimal) error {
	return b.mock.transfer(b.account, to, amount)
}

func (b *boundMock) TransferFrom(_ context.Context, from, to string, amount decimal.Decimal) error {
	b.mock.mu.Lock()
	granted := b.mock.allowances[from][b.account]
	if granted.LessThan(amount) {
		b.mock.mu.Unlock()
		return fmt.Errorf("%w: %s approved %s for %s, needs %s",
			ErrInsufficientAllowance, from, granted, b.account, amount)
	}
	b.mock.allowances[from][b.account] = granted.Sub(amount)
	b.mock.mu.Unlock()

	if err := b.mock.transfer(from, to, amount); err != nil {
		// Restore the allowance consumed above.
		b.mock.mu.Lock()
		b.mock.allowances[from][b.account] = granted
		b.mock.mu.Unlock()
		return err
	}
	return nil
}

func (b *boundMock) BalanceOf(_ context.Context, owner string) (decimal.Decimal, error) {
	return b.mock.Balance(owner), nil
}

func (b *boundMock) Approve(_ context.Context, spender string, amount decimal.Decimal) error {
	b.mock.mu.Lock()
	defer b.mock.mu.Unlock()

	if b.mock.allowances[b.account] == nil {
		b.mock.allowances[b.account] = make(map[string]decimal.Decimal)
	}
	b.mock.allowances[b.account][spender] = amount
	return nil
}
