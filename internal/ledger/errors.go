package ledger

import "errors"

// Every failure is a distinct sentinel so callers and tests can assert on
// the exact cause. They split into input validation (caller-fixable),
// state preconditions, authorization, and collaborator failure.
var (
	// ErrInvalidAmount is returned for zero, negative, or fractional amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be a positive integer")

	// ErrInvalidResolutionTime is returned when a market's resolution time
	// is not strictly in the future.
	ErrInvalidResolutionTime = errors.New("ledger: resolution time must be in the future")

	// ErrInvalidOutcome is returned when an outcome flag is neither A nor B.
	ErrInvalidOutcome = errors.New("ledger: outcome must be A or B")

	// ErrInsufficientBalance is returned when the caller's internal balance
	// cannot cover the requested amount.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrMarketNotFound is returned for unknown market ids.
	ErrMarketNotFound = errors.New("ledger: market not found")

	// ErrMarketNotActive is returned when betting on a resolved market or
	// after the resolution deadline.
	ErrMarketNotActive = errors.New("ledger: market is not active")

	// ErrCannotResolve is returned when resolving an already-resolved
	// market or before the deadline.
	ErrCannotResolve = errors.New("ledger: market cannot be resolved")

	// ErrMarketNotResolved is returned when claiming on an unresolved market.
	ErrMarketNotResolved = errors.New("ledger: market is not resolved")

	// ErrAlreadyClaimed is returned on a second claim for the same market.
	ErrAlreadyClaimed = errors.New("ledger: winnings already claimed")

	// ErrNoWinningBet is returned when the caller has no stake on the
	// winning outcome.
	ErrNoWinningBet = errors.New("ledger: no winning bet to claim")

	// ErrNotOwner is returned for owner-gated operations.
	ErrNotOwner = errors.New("ledger: caller is not the owner")

	// ErrTokenTransfer is returned when the external token ledger rejects
	// a transfer; the whole operation aborts and no state is committed.
	ErrTokenTransfer = errors.New("ledger: external token transfer failed")
)
