// Package token abstracts the external fungible-token ledger that funds
// deposits and receives withdrawals. The settlement engine never holds
// token state itself; it pulls funds via TransferFrom (callers must approve
// it first) and pushes funds via Transfer.
//
// Implementations: Mock (in-memory, for tests and local development) and
// ERC20 (an on-chain token reached through an Ethereum JSON-RPC endpoint).
package token

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrTransferFailed is returned when the external ledger rejects a
	// transfer (insufficient balance, missing allowance, reverted call).
	ErrTransferFailed = errors.New("token: transfer failed")

	// ErrInsufficientAllowance is returned by TransferFrom when the bound
	// account is not approved to move the requested amount.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Ledger is a view of the external token ledger bound to one account: the
// sending side of Transfer and Approve, and the spender of TransferFrom.
type Ledger interface {
	// Transfer moves amount from the bound account to the given recipient.
	Transfer(ctx context.Context, to string, amount decimal.Decimal) error

	// TransferFrom moves amount between two third-party accounts using the
	// allowance the owner previously granted to the bound account.
	TransferFrom(ctx context.Context, from, to string, amount decimal.Decimal) error

	// BalanceOf returns the token balance of any account.
	BalanceOf(ctx context.Context, owner string) (decimal.Decimal, error)

	// Approve grants the spender the right to move amount from the bound
	// account via TransferFrom.
	Approve(ctx context.Context, spender string, amount decimal.Decimal) error
}
