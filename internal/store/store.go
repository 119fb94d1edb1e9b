// Package store defines the persistence interface for the settlement
// engine's authoritative state: account balances, markets, bet records,
// outcome totals, claim flags, and the append-only event journal.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every mutation goes through Apply, which commits a staged Changeset
// all-or-nothing. The engine builds the full changeset for an operation
// only after every guard has passed, so a failed operation leaves no
// partial state behind.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/predix/settlement-engine/internal/model"
)

// ErrNotFound is returned by lookups for absent markets.
var ErrNotFound = errors.New("store: not found")

// BetKey identifies one user's cumulative stake on one outcome of a market.
type BetKey struct {
	User     string
	MarketID int64
	Outcome  model.Outcome
}

// TotalKey identifies the aggregate stake on one outcome of a market.
type TotalKey struct {
	MarketID int64
	Outcome  model.Outcome
}

// ClaimKey identifies one user's claim flag for a market.
type ClaimKey struct {
	User     string
	MarketID int64
}

// Changeset is a staged set of mutations committed atomically by Apply.
// Balance, bet, and total entries carry absolute new values, not deltas.
type Changeset struct {
	Balances      map[string]decimal.Decimal
	InsertMarket  *model.Market // also advances the market counter
	UpdateMarket  *model.Market
	Bets          map[BetKey]decimal.Decimal
	OutcomeTotals map[TotalKey]decimal.Decimal
	Claims        []ClaimKey
	Events        []model.Event
}

// NewChangeset returns an empty changeset.
func NewChangeset() *Changeset {
	return &Changeset{
		Balances:      make(map[string]decimal.Decimal),
		Bets:          make(map[BetKey]decimal.Decimal),
		OutcomeTotals: make(map[TotalKey]decimal.Decimal),
	}
}

// SetBalance stages an absolute balance for an account.
func (c *Changeset) SetBalance(account string, amount decimal.Decimal) {
	c.Balances[account] = amount
}

// SetBet stages an absolute cumulative bet amount.
func (c *Changeset) SetBet(k BetKey, amount decimal.Decimal) {
	c.Bets[k] = amount
}

// SetOutcomeTotal stages an absolute outcome total.
func (c *Changeset) SetOutcomeTotal(k TotalKey, amount decimal.Decimal) {
	c.OutcomeTotals[k] = amount
}

// MarkClaimed stages a claim flag; claims are set once and never cleared.
func (c *Changeset) MarkClaimed(k ClaimKey) {
	c.Claims = append(c.Claims, k)
}

// Emit stages an audit event. Seq is assigned by the store at commit.
func (c *Changeset) Emit(ev model.Event) {
	c.Events = append(c.Events, ev)
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Reads ---

	// GetBalance returns an account's internal balance (0 for unknown).
	GetBalance(ctx context.Context, account string) (decimal.Decimal, error)

	// GetMarket retrieves a market by id; ErrNotFound if absent.
	GetMarket(ctx context.Context, id int64) (*model.Market, error)

	// ListMarketIDs returns every market id in ascending order.
	ListMarketIDs(ctx context.Context) ([]int64, error)

	// MarketCount returns the current market counter.
	MarketCount(ctx context.Context) (int64, error)

	// GetBet returns a user's cumulative stake for a key (0 for unknown).
	GetBet(ctx context.Context, k BetKey) (decimal.Decimal, error)

	// GetOutcomeTotal returns the aggregate stake for a key (0 for unknown).
	GetOutcomeTotal(ctx context.Context, k TotalKey) (decimal.Decimal, error)

	// HasClaimed reports whether the user already claimed on a market.
	HasClaimed(ctx context.Context, k ClaimKey) (bool, error)

	// EventsByMarket returns the journal entries for a market in seq order.
	EventsByMarket(ctx context.Context, marketID int64) ([]model.Event, error)

	// EventsByUser returns the journal entries for a user in seq order.
	EventsByUser(ctx context.Context, account string) ([]model.Event, error)

	// --- Mutation ---

	// Apply commits a changeset atomically: either every staged write
	// lands, or none does.
	Apply(ctx context.Context, cs *Changeset) error
}
