// Package ledger implements the accounting and settlement state machine:
// internal balances funded from an external token ledger with a deposit fee
// skim, market lifecycle from creation through betting to owner-gated
// resolution, and proportional floor-divided payout with double-claim
// prevention.
//
// Every mutating operation is serialized by a single mutex and commits its
// staged changeset all-or-nothing: every guard runs before the first write
// is staged, so a failed call leaves no partial state behind. The acting
// identity and the current time are explicit parameters — the engine never
// reads ambient caller context or wall-clock time, which keeps time-boundary
// behavior deterministic under test.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predix/settlement-engine/internal/bps"
	"github.com/predix/settlement-engine/internal/model"
	"github.com/predix/settlement-engine/internal/store"
	"github.com/predix/settlement-engine/internal/token"
)

// Config carries the engine's singleton identities, injected at
// construction. Owner and the fee sink are mutable only through owner-gated
// operations; the token address and custody account are immutable.
type Config struct {
	// Owner may resolve markets and update the maintenance sink.
	Owner string

	// FeeSink receives the deposit fee on the external token ledger.
	FeeSink string

	// TokenAddress identifies the external token ledger.
	TokenAddress string

	// Custody is the engine's own account on the external ledger, where
	// deposited tokens are held until withdrawal or fee forwarding.
	Custody string

	// DepositFeeBps is the deposit fee rate; 100 bps = 1%.
	DepositFeeBps int64
}

// Engine is the settlement engine. It owns the authoritative store and the
// external token view bound to the custody account. A single mutex
// serializes every mutating operation (single-writer; call-level atomicity).
type Engine struct {
	store store.Store
	token token.Ledger

	mu      sync.Mutex
	owner   string
	feeSink string
	cfg     Config
}

// New creates a settlement engine.
func New(st store.Store, tok token.Ledger, cfg Config) *Engine {
	return &Engine{
		store:   st,
		token:   tok,
		owner:   cfg.Owner,
		feeSink: cfg.FeeSink,
		cfg:     cfg,
	}
}

// --- Balance ledger ---

// Deposit pulls amount of the external token from the caller into custody,
// forwards the deposit fee to the maintenance sink, and credits the net to
// the caller's internal balance. Returns the net amount credited.
func (e *Engine) Deposit(ctx context.Context, caller string, amount decimal.Decimal, now int64) (decimal.Decimal, error) {
	if err := validAmount(amount); err != nil {
		return decimal.Zero, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Pull the gross amount; the caller must have approved custody.
	if err := e.token.TransferFrom(ctx, caller, e.cfg.Custody, amount); err != nil {
		return decimal.Zero, fmt.Errorf("%w: pull deposit: %v", ErrTokenTransfer, err)
	}

	fee, net, err := bps.Split(amount, e.cfg.DepositFeeBps)
	if err != nil {
		e.refund(ctx, caller, amount)
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	if fee.IsPositive() && e.feeSink != e.cfg.Custody {
		if err := e.token.Transfer(ctx, e.feeSink, fee); err != nil {
			e.refund(ctx, caller, amount)
			return decimal.Zero, fmt.Errorf("%w: forward fee: %v", ErrTokenTransfer, err)
		}
	}

	balance, err := e.store.GetBalance(ctx, caller)
	if err != nil {
		e.refund(ctx, caller, net)
		return decimal.Zero, err
	}
	newBalance := balance.Add(net)

	cs := store.NewChangeset()
	cs.SetBalance(caller, newBalance)
	cs.Emit(model.Event{
		ID:         uuid.New().String(),
		Type:       model.EventDeposit,
		User:       caller,
		Amount:     amount,
		Net:        net,
		NewBalance: newBalance,
		Timestamp:  now,
	})
	if fee.IsPositive() {
		cs.Emit(model.Event{
			ID:        uuid.New().String(),
			Type:      model.EventFeeCollected,
			User:      caller,
			Amount:    amount,
			Fee:       fee,
			Net:       net,
			Sink:      e.feeSink,
			Timestamp: now,
		})
	}

	if err := e.store.Apply(ctx, cs); err != nil {
		e.refund(ctx, caller, net)
		return decimal.Zero, err
	}

	slog.Info("deposit",
		"user", caller,
		"amount", amount.String(),
		"fee", fee.String(),
		"net", net.String(),
		"balance", newBalance.String(),
	)
	return net, nil
}

// refund returns tokens held in custody to an account after a failure
// partway through a deposit. The external ledger is a collaborator outside
// our commit boundary, so this compensating transfer is the closest
// equivalent of the host rollback; a refund failure is logged and leaves
// the tokens in custody.
func (e *Engine) refund(ctx context.Context, to string, amount decimal.Decimal) {
	if err := e.token.Transfer(ctx, to, amount); err != nil {
		slog.Error("deposit unwind failed; tokens remain in custody",
			"user", to, "amount", amount.String(), "err", err)
	}
}

// Withdraw debits the caller's internal balance and pushes the amount back
// to the caller on the external ledger. The debit commits before the push:
// if the push then fails, the re-credit goes through our own store rather
// than relying on the external ledger to honor a claw-back, so neither
// ordering can leave the user holding both the tokens and the balance.
func (e *Engine) Withdraw(ctx context.Context, caller string, amount decimal.Decimal, now int64) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	balance, err := e.store.GetBalance(ctx, caller)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, amount)
	}
	newBalance := balance.Sub(amount)

	debit := store.NewChangeset()
	debit.SetBalance(caller, newBalance)
	if err := e.store.Apply(ctx, debit); err != nil {
		return err
	}

	if err := e.token.Transfer(ctx, caller, amount); err != nil {
		recredit := store.NewChangeset()
		recredit.SetBalance(caller, balance)
		if applyErr := e.store.Apply(ctx, recredit); applyErr != nil {
			slog.Error("withdraw re-credit failed; balance remains debited",
				"user", caller, "amount", amount.String(), "err", applyErr)
		}
		return fmt.Errorf("%w: push withdrawal: %v", ErrTokenTransfer, err)
	}

	journal := store.NewChangeset()
	journal.Emit(model.Event{
		ID:         uuid.New().String(),
		Type:       model.EventWithdraw,
		User:       caller,
		Amount:     amount,
		NewBalance: newBalance,
		Timestamp:  now,
	})
	if err := e.store.Apply(ctx, journal); err != nil {
		// Funds already moved consistently; only the audit record is lost.
		slog.Error("withdraw journal write failed",
			"user", caller, "amount", amount.String(), "err", err)
	}

	slog.Info("withdraw", "user", caller, "amount", amount.String(), "balance", newBalance.String())
	return nil
}

// GetBalance returns a user's internal balance; 0 for unknown identities.
func (e *Engine) GetBalance(ctx context.Context, user string) (decimal.Decimal, error) {
	return e.store.GetBalance(ctx, user)
}

// --- Market registry ---

// CreateMarket registers a new market resolving strictly after now and
// returns its id. Market creation is open to any caller. The
// initialLiquidity parameter is informational: it is echoed in the
// MarketCreated event but seeds neither the pool nor any balance.
func (e *Engine) CreateMarket(ctx context.Context, caller string, resolutionTime int64, initialLiquidity decimal.Decimal, now int64) (int64, error) {
	if resolutionTime <= now {
		return 0, fmt.Errorf("%w: %d is not after %d", ErrInvalidResolutionTime, resolutionTime, now)
	}
	if initialLiquidity.IsNegative() || !initialLiquidity.IsInteger() {
		return 0, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	count, err := e.store.MarketCount(ctx)
	if err != nil {
		return 0, err
	}
	id := count + 1

	market := &model.Market{
		ID:             id,
		Creator:        caller,
		ResolutionTime: resolutionTime,
		Resolved:       model.OutcomeUnresolved,
		TotalLiquidity: decimal.Zero,
		CreatedAt:      now,
	}

	cs := store.NewChangeset()
	cs.InsertMarket = market
	cs.Emit(model.Event{
		ID:               uuid.New().String(),
		Type:             model.EventMarketCreated,
		User:             caller,
		MarketID:         id,
		ResolutionTime:   resolutionTime,
		InitialLiquidity: initialLiquidity,
		Timestamp:        now,
	})
	if err := e.store.Apply(ctx, cs); err != nil {
		return 0, err
	}

	slog.Info("market created",
		"id", id,
		"creator", caller,
		"resolution_time", resolutionTime,
	)
	return id, nil
}

// GetMarketDetails returns a market by id.
func (e *Engine) GetMarketDetails(ctx context.Context, id int64) (*model.Market, error) {
	return e.getMarket(ctx, id)
}

// GetAllMarketIDs returns every market id in ascending order.
func (e *Engine) GetAllMarketIDs(ctx context.Context) ([]int64, error) {
	return e.store.ListMarketIDs(ctx)
}

// GetMarketCount returns the number of markets created so far.
func (e *Engine) GetMarketCount(ctx context.Context) (int64, error) {
	return e.store.MarketCount(ctx)
}

// --- Betting ---

// PlaceBet debits the caller's internal balance and stakes amount on one
// outcome of an active market, updating the pool totals and basis-point
// percentages. Returns the updated market.
func (e *Engine) PlaceBet(ctx context.Context, caller string, marketID int64, outcome model.Outcome, amount decimal.Decimal, now int64) (*model.Market, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if !outcome.Valid() {
		return nil, ErrInvalidOutcome
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	balance, err := e.store.GetBalance(ctx, caller)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, amount)
	}

	market, err := e.getMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !market.Active(now) {
		return nil, fmt.Errorf("%w: market %d", ErrMarketNotActive, marketID)
	}

	bet, err := e.store.GetBet(ctx, store.BetKey{User: caller, MarketID: marketID, Outcome: outcome})
	if err != nil {
		return nil, err
	}
	total, err := e.store.GetOutcomeTotal(ctx, store.TotalKey{MarketID: marketID, Outcome: outcome})
	if err != nil {
		return nil, err
	}

	newBalance := balance.Sub(amount)
	newBet := bet.Add(amount)
	newTotal := total.Add(amount)
	market.TotalLiquidity = market.TotalLiquidity.Add(amount)

	// Recompute percentages from both outcome totals. Percentage A is
	// floor-divided; B takes the complement so the two always sum to
	// exactly 10000 while liquidity is positive.
	totalA := newTotal
	if outcome == model.OutcomeB {
		totalA, err = e.store.GetOutcomeTotal(ctx, store.TotalKey{MarketID: marketID, Outcome: model.OutcomeA})
		if err != nil {
			return nil, err
		}
	}
	market.PercentageA = bps.Percentage(totalA, market.TotalLiquidity)
	market.PercentageB = bps.Complement(market.PercentageA)

	cs := store.NewChangeset()
	cs.SetBalance(caller, newBalance)
	cs.SetBet(store.BetKey{User: caller, MarketID: marketID, Outcome: outcome}, newBet)
	cs.SetOutcomeTotal(store.TotalKey{MarketID: marketID, Outcome: outcome}, newTotal)
	cs.UpdateMarket = market
	cs.Emit(model.Event{
		ID:             uuid.New().String(),
		Type:           model.EventBetPlaced,
		User:           caller,
		MarketID:       marketID,
		Outcome:        outcome,
		Amount:         amount,
		NewBalance:     newBalance,
		PercentageA:    market.PercentageA,
		PercentageB:    market.PercentageB,
		TotalLiquidity: market.TotalLiquidity,
		Timestamp:      now,
	})
	if err := e.store.Apply(ctx, cs); err != nil {
		return nil, err
	}

	slog.Info("bet placed",
		"user", caller,
		"market", marketID,
		"outcome", outcome.String(),
		"amount", amount.String(),
		"pct_a", market.PercentageA,
		"pct_b", market.PercentageB,
		"liquidity", market.TotalLiquidity.String(),
	)
	return market, nil
}

// GetMarketPercentages returns the basis-point pool shares of both outcomes.
func (e *Engine) GetMarketPercentages(ctx context.Context, marketID int64) (pctA, pctB int64, err error) {
	market, err := e.getMarket(ctx, marketID)
	if err != nil {
		return 0, 0, err
	}
	return market.PercentageA, market.PercentageB, nil
}

// GetUserBet returns a user's cumulative stake on one outcome of a market;
// 0 for unknown keys.
func (e *Engine) GetUserBet(ctx context.Context, user string, marketID int64, outcome model.Outcome) (decimal.Decimal, error) {
	return e.store.GetBet(ctx, store.BetKey{User: user, MarketID: marketID, Outcome: outcome})
}

// GetTotalBetsForOutcome returns the aggregate stake on one outcome of a
// market; 0 for unknown keys.
func (e *Engine) GetTotalBetsForOutcome(ctx context.Context, marketID int64, outcome model.Outcome) (decimal.Decimal, error) {
	return e.store.GetOutcomeTotal(ctx, store.TotalKey{MarketID: marketID, Outcome: outcome})
}

// --- Resolution & settlement ---

// ResolveMarket declares the winning outcome of a market. Only the owner
// may resolve, only at or after the resolution time, and only once; both
// resolved states are terminal.
func (e *Engine) ResolveMarket(ctx context.Context, caller string, marketID int64, winnerIsA bool, now int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return ErrNotOwner
	}

	market, err := e.getMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if market.Resolved != model.OutcomeUnresolved || now < market.ResolutionTime {
		return fmt.Errorf("%w: market %d", ErrCannotResolve, marketID)
	}

	if winnerIsA {
		market.Resolved = model.OutcomeA
	} else {
		market.Resolved = model.OutcomeB
	}

	cs := store.NewChangeset()
	cs.UpdateMarket = market
	cs.Emit(model.Event{
		ID:        uuid.New().String(),
		Type:      model.EventMarketResolved,
		User:      caller,
		MarketID:  marketID,
		Outcome:   market.Resolved,
		Timestamp: now,
	})
	if err := e.store.Apply(ctx, cs); err != nil {
		return err
	}

	slog.Info("market resolved",
		"market", marketID,
		"outcome", market.Resolved.String(),
		"resolver", caller,
	)
	return nil
}

// ClaimWinnings converts the caller's winning stake into a proportional
// share of the market's pooled liquidity, credited to the internal balance.
// Each user claims at most once per market; floor division means the sum of
// all claims never exceeds the pool, with any remainder left as dust.
func (e *Engine) ClaimWinnings(ctx context.Context, caller string, marketID int64, now int64) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	market, err := e.getMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	if market.Resolved == model.OutcomeUnresolved {
		return decimal.Zero, fmt.Errorf("%w: market %d", ErrMarketNotResolved, marketID)
	}

	claimKey := store.ClaimKey{User: caller, MarketID: marketID}
	claimed, err := e.store.HasClaimed(ctx, claimKey)
	if err != nil {
		return decimal.Zero, err
	}
	if claimed {
		return decimal.Zero, fmt.Errorf("%w: market %d", ErrAlreadyClaimed, marketID)
	}

	winning := market.Resolved
	userBet, err := e.store.GetBet(ctx, store.BetKey{User: caller, MarketID: marketID, Outcome: winning})
	if err != nil {
		return decimal.Zero, err
	}
	if userBet.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: market %d", ErrNoWinningBet, marketID)
	}

	totalWinning, err := e.store.GetOutcomeTotal(ctx, store.TotalKey{MarketID: marketID, Outcome: winning})
	if err != nil {
		return decimal.Zero, err
	}

	// winnings = floor(userBet * totalLiquidity / totalWinning)
	winnings, _ := userBet.Mul(market.TotalLiquidity).QuoRem(totalWinning, 0)

	balance, err := e.store.GetBalance(ctx, caller)
	if err != nil {
		return decimal.Zero, err
	}
	newBalance := balance.Add(winnings)

	// The claim flag and the credit land in one changeset; there is no
	// window in which the payout exists without the flag.
	cs := store.NewChangeset()
	cs.MarkClaimed(claimKey)
	cs.SetBalance(caller, newBalance)
	cs.Emit(model.Event{
		ID:         uuid.New().String(),
		Type:       model.EventWinningsClaimed,
		User:       caller,
		MarketID:   marketID,
		Outcome:    winning,
		Amount:     userBet,
		Winnings:   winnings,
		NewBalance: newBalance,
		Timestamp:  now,
	})
	if err := e.store.Apply(ctx, cs); err != nil {
		return decimal.Zero, err
	}

	slog.Info("winnings claimed",
		"user", caller,
		"market", marketID,
		"bet", userBet.String(),
		"winnings", winnings.String(),
	)
	return winnings, nil
}

// --- Access control & configuration ---

// SetMaintenanceContract updates the deposit-fee sink. Owner only.
func (e *Engine) SetMaintenanceContract(ctx context.Context, caller, newSink string, now int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return ErrNotOwner
	}

	cs := store.NewChangeset()
	cs.Emit(model.Event{
		ID:        uuid.New().String(),
		Type:      model.EventMaintenanceUpdated,
		User:      caller,
		Sink:      newSink,
		Timestamp: now,
	})
	if err := e.store.Apply(ctx, cs); err != nil {
		return err
	}

	// The sink changes only once the journal entry is committed; a failed
	// commit leaves fee routing untouched.
	e.feeSink = newSink

	slog.Info("maintenance contract updated", "sink", newSink)
	return nil
}

// Owner returns the current owner identity.
func (e *Engine) Owner() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

// MaintenanceContract returns the current fee-sink identity.
func (e *Engine) MaintenanceContract() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeSink
}

// TokenAddress returns the external token ledger identity.
func (e *Engine) TokenAddress() string {
	return e.cfg.TokenAddress
}

// EventsByMarket returns the audit journal for one market.
func (e *Engine) EventsByMarket(ctx context.Context, marketID int64) ([]model.Event, error) {
	return e.store.EventsByMarket(ctx, marketID)
}

// EventsByUser returns the audit journal for one user.
func (e *Engine) EventsByUser(ctx context.Context, user string) ([]model.Event, error) {
	return e.store.EventsByUser(ctx, user)
}

// --- Helpers ---

func (e *Engine) getMarket(ctx context.Context, id int64) (*model.Market, error) {
	market, err := e.store.GetMarket(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrMarketNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return market, nil
}

// validAmount enforces positive integer token amounts.
func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.IsInteger() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}
