package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/predix/settlement-engine/internal/model"
)

func di(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

func TestMemoryStore_DefaultsToZero(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	bal, err := s.GetBalance(ctx, "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.IsZero() {
		t.Errorf("expected zero balance, got %s", bal)
	}

	bet, _ := s.GetBet(ctx, BetKey{User: "nobody", MarketID: 1, Outcome: model.OutcomeA})
	if !bet.IsZero() {
		t.Errorf("expected zero bet, got %s", bet)
	}

	claimed, _ := s.HasClaimed(ctx, ClaimKey{User: "nobody", MarketID: 1})
	if claimed {
		t.Error("expected unclaimed by default")
	}
}

func TestMemoryStore_GetMarketNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetMarket(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ApplyInsertMarket(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	cs := NewChangeset()
	cs.InsertMarket = &model.Market{ID: 1, Creator: "alice", ResolutionTime: 1500, CreatedAt: 1000}
	if err := s.Apply(ctx, cs); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	m, err := s.GetMarket(ctx, 1)
	if err != nil {
		t.Fatalf("get market failed: %v", err)
	}
	if m.Creator != "alice" || m.ResolutionTime != 1500 {
		t.Errorf("unexpected market: %+v", m)
	}

	count, _ := s.MarketCount(ctx)
	if count != 1 {
		t.Errorf("expected counter 1, got %d", count)
	}

	ids, _ := s.ListMarketIDs(ctx)
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("expected ids [1], got %v", ids)
	}
}

func TestMemoryStore_ApplyRejectsIDGap(t *testing.T) {
	s := NewMemoryStore()

	cs := NewChangeset()
	cs.InsertMarket = &model.Market{ID: 5}
	if err := s.Apply(context.Background(), cs); err == nil {
		t.Error("expected error for non-sequential market id")
	}
}

func TestMemoryStore_ApplyIsIsolatedFromCaller(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	m := &model.Market{ID: 1, ResolutionTime: 1500}
	cs := NewChangeset()
	cs.InsertMarket = m
	if err := s.Apply(ctx, cs); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	// Mutating the caller's struct must not leak into the store.
	m.ResolutionTime = 9999
	got, _ := s.GetMarket(ctx, 1)
	if got.ResolutionTime != 1500 {
		t.Errorf("store aliased caller memory: %d", got.ResolutionTime)
	}
}

func TestMemoryStore_EventSeqAssignment(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	cs := NewChangeset()
	cs.Emit(model.Event{ID: "e1", Type: model.EventDeposit, User: "alice"})
	cs.Emit(model.Event{ID: "e2", Type: model.EventWithdraw, User: "alice"})
	if err := s.Apply(ctx, cs); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	events, _ := s.EventsByUser(ctx, "alice")
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Seq != 1 || events[1].Seq != 2 {
		t.Errorf("expected seq 1,2 got %d,%d", events[0].Seq, events[1].Seq)
	}
}

func TestMemoryStore_ApplyMultipleSections(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	setup := NewChangeset()
	setup.InsertMarket = &model.Market{ID: 1, ResolutionTime: 1500}
	if err := s.Apply(ctx, setup); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	cs := NewChangeset()
	cs.SetBalance("alice", di(700))
	cs.SetBet(BetKey{User: "alice", MarketID: 1, Outcome: model.OutcomeA}, di(300))
	cs.SetOutcomeTotal(TotalKey{MarketID: 1, Outcome: model.OutcomeA}, di(300))
	cs.MarkClaimed(ClaimKey{User: "alice", MarketID: 1})
	cs.Emit(model.Event{ID: "e1", Type: model.EventBetPlaced, User: "alice", MarketID: 1})
	if err := s.Apply(ctx, cs); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	bal, _ := s.GetBalance(ctx, "alice")
	if !bal.Equal(di(700)) {
		t.Errorf("expected balance 700, got %s", bal)
	}
	bet, _ := s.GetBet(ctx, BetKey{User: "alice", MarketID: 1, Outcome: model.OutcomeA})
	if !bet.Equal(di(300)) {
		t.Errorf("expected bet 300, got %s", bet)
	}
	total, _ := s.GetOutcomeTotal(ctx, TotalKey{MarketID: 1, Outcome: model.OutcomeA})
	if !total.Equal(di(300)) {
		t.Errorf("expected total 300, got %s", total)
	}
	claimed, _ := s.HasClaimed(ctx, ClaimKey{User: "alice", MarketID: 1})
	if !claimed {
		t.Error("expected claimed flag set")
	}
	events, _ := s.EventsByMarket(ctx, 1)
	if len(events) != 1 {
		t.Errorf("expected 1 market event, got %d", len(events))
	}
}
