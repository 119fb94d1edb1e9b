package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/predix/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	markets  map[int64]*model.Market
	counter  int64
	bets     map[BetKey]decimal.Decimal
	totals   map[TotalKey]decimal.Decimal
	claims   map[ClaimKey]bool
	events   []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]decimal.Decimal),
		markets:  make(map[int64]*model.Market),
		bets:     make(map[BetKey]decimal.Decimal),
		totals:   make(map[TotalKey]decimal.Decimal),
		claims:   make(map[ClaimKey]bool),
	}
}

func (s *MemoryStore) GetBalance(_ context.Context, account string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[account], nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id int64) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) ListMarketIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, s.counter)
	for id := int64(1); id <= s.counter; id++ {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) MarketCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counter, nil
}

func (s *MemoryStore) GetBet(_ context.Context, k BetKey) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bets[k], nil
}

func (s *MemoryStore) GetOutcomeTotal(_ context.Context, k TotalKey) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals[k], nil
}

func (s *MemoryStore) HasClaimed(_ context.Context, k ClaimKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims[k], nil
}

func (s *MemoryStore) EventsByMarket(_ context.Context, marketID int64) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, e := range s.events {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) EventsByUser(_ context.Context, account string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, e := range s.events {
		if e.User == account {
			result = append(result, e)
		}
	}
	return result, nil
}

// Apply commits the changeset under a single lock. In-memory writes cannot
// fail after validation, so the commit is trivially all-or-nothing.
func (s *MemoryStore) Apply(_ context.Context, cs *Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs.InsertMarket != nil && cs.InsertMarket.ID != s.counter+1 {
		return fmt.Errorf("store: market id %d does not follow counter %d",
			cs.InsertMarket.ID, s.counter)
	}
	if cs.UpdateMarket != nil {
		if _, ok := s.markets[cs.UpdateMarket.ID]; !ok {
			return fmt.Errorf("market %d: %w", cs.UpdateMarket.ID, ErrNotFound)
		}
	}

	for account, amount := range cs.Balances {
		s.balances[account] = amount
	}
	if cs.InsertMarket != nil {
		copy := *cs.InsertMarket
		s.markets[copy.ID] = &copy
		s.counter = copy.ID
	}
	if cs.UpdateMarket != nil {
		copy := *cs.UpdateMarket
		s.markets[copy.ID] = &copy
	}
	for k, amount := range cs.Bets {
		s.bets[k] = amount
	}
	for k, amount := range cs.OutcomeTotals {
		s.totals[k] = amount
	}
	for _, k := range cs.Claims {
		s.claims[k] = true
	}
	for _, ev := range cs.Events {
		ev.Seq = int64(len(s.events) + 1)
		s.events = append(s.events, ev)
	}
	return nil
}
