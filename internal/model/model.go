// Package model defines the core domain types shared across the settlement
// engine. All monetary values use shopspring/decimal — never float64 for
// money. Amounts are integers in external-token base units.
package model

import "github.com/shopspring/decimal"

// Outcome identifies one of the two resolutions of a binary market.
type Outcome uint8

const (
	// OutcomeUnresolved is the initial state of every market.
	OutcomeUnresolved Outcome = 0
	// OutcomeA is the first outcome.
	OutcomeA Outcome = 1
	// OutcomeB is the second outcome.
	OutcomeB Outcome = 2
)

// String returns the wire name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeA:
		return "A"
	case OutcomeB:
		return "B"
	default:
		return "unresolved"
	}
}

// Valid reports whether o names a bettable outcome (A or B).
func (o Outcome) Valid() bool {
	return o == OutcomeA || o == OutcomeB
}

// Market is the state of one binary prediction market. IDs are assigned
// sequentially starting at 1 and never reused. TotalLiquidity is the sum of
// every bet placed; PercentageA and PercentageB are basis-point shares of
// the pool that sum to 10000 whenever TotalLiquidity is positive, and are
// both zero for an empty pool.
type Market struct {
	ID             int64           `json:"id" db:"id"`
	Creator        string          `json:"creator" db:"creator"`
	ResolutionTime int64           `json:"resolution_time" db:"resolution_time"`
	Resolved       Outcome         `json:"resolved_outcome" db:"resolved_outcome"`
	TotalLiquidity decimal.Decimal `json:"total_liquidity" db:"total_liquidity"`
	PercentageA    int64           `json:"percentage_a" db:"percentage_a"`
	PercentageB    int64           `json:"percentage_b" db:"percentage_b"`
	CreatedAt      int64           `json:"created_at" db:"created_at"`
}

// Active reports whether the market still accepts bets at the given time.
func (m *Market) Active(now int64) bool {
	return m.Resolved == OutcomeUnresolved && now < m.ResolutionTime
}

// EventType names a kind of audit record.
type EventType string

const (
	EventDeposit            EventType = "deposit"
	EventFeeCollected       EventType = "fee_collected"
	EventWithdraw           EventType = "withdraw"
	EventMarketCreated      EventType = "market_created"
	EventBetPlaced          EventType = "bet_placed"
	EventMarketResolved     EventType = "market_resolved"
	EventWinningsClaimed    EventType = "winnings_claimed"
	EventMaintenanceUpdated EventType = "maintenance_contract_updated"
)

// Event is an immutable audit record. Once appended to the journal it is
// never modified or deleted; Seq is assigned by the store in call order.
// Fields not meaningful for a given type are left at their zero values.
type Event struct {
	ID               string          `json:"id" db:"id"`
	Seq              int64           `json:"seq" db:"seq"`
	Type             EventType       `json:"type" db:"type"`
	User             string          `json:"user,omitempty" db:"account"`
	MarketID         int64           `json:"market_id,omitempty" db:"market_id"`
	Outcome          Outcome         `json:"outcome,omitempty" db:"outcome"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Fee              decimal.Decimal `json:"fee" db:"fee"`
	Net              decimal.Decimal `json:"net" db:"net"`
	NewBalance       decimal.Decimal `json:"new_balance" db:"new_balance"`
	PercentageA      int64           `json:"percentage_a,omitempty" db:"percentage_a"`
	PercentageB      int64           `json:"percentage_b,omitempty" db:"percentage_b"`
	TotalLiquidity   decimal.Decimal `json:"total_liquidity" db:"total_liquidity"`
	Winnings         decimal.Decimal `json:"winnings" db:"winnings"`
	ResolutionTime   int64           `json:"resolution_time,omitempty" db:"resolution_time"`
	InitialLiquidity decimal.Decimal `json:"initial_liquidity" db:"initial_liquidity"`
	Sink             string          `json:"sink,omitempty" db:"sink"`
	Timestamp        int64           `json:"timestamp" db:"timestamp"`
}
