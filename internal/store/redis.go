package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predix/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: markets and account balances. Apply goes to
// the primary store and invalidates every key the changeset touched; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write path (commit to primary, invalidate touched keys) ---

func (s *CachedStore) Apply(ctx context.Context, cs *Changeset) error {
	if err := s.primary.Apply(ctx, cs); err != nil {
		return err
	}

	for account := range cs.Balances {
		s.rdb.Del(ctx, balanceKey(account))
	}
	if cs.InsertMarket != nil {
		s.rdb.Del(ctx, marketKey(cs.InsertMarket.ID))
	}
	if cs.UpdateMarket != nil {
		s.rdb.Del(ctx, marketKey(cs.UpdateMarket.ID))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id int64) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(id), data, s.ttl)
	}
	return m, nil
}

func (s *CachedStore) GetBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	val, err := s.rdb.Get(ctx, balanceKey(account)).Result()
	if err == nil {
		if d, derr := decimal.NewFromString(val); derr == nil {
			return d, nil
		}
	}

	bal, err := s.primary.GetBalance(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}

	s.rdb.Set(ctx, balanceKey(account), bal.String(), s.ttl)
	return bal, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarketIDs(ctx context.Context) ([]int64, error) {
	return s.primary.ListMarketIDs(ctx)
}

func (s *CachedStore) MarketCount(ctx context.Context) (int64, error) {
	return s.primary.MarketCount(ctx)
}

func (s *CachedStore) GetBet(ctx context.Context, k BetKey) (decimal.Decimal, error) {
	return s.primary.GetBet(ctx, k)
}

func (s *CachedStore) GetOutcomeTotal(ctx context.Context, k TotalKey) (decimal.Decimal, error) {
	return s.primary.GetOutcomeTotal(ctx, k)
}

func (s *CachedStore) HasClaimed(ctx context.Context, k ClaimKey) (bool, error) {
	return s.primary.HasClaimed(ctx, k)
}

func (s *CachedStore) EventsByMarket(ctx context.Context, marketID int64) ([]model.Event, error) {
	return s.primary.EventsByMarket(ctx, marketID)
}

func (s *CachedStore) EventsByUser(ctx context.Context, account string) ([]model.Event, error) {
	return s.primary.EventsByUser(ctx, account)
}

// --- Cache keys ---

func marketKey(id int64) string        { return fmt.Sprintf("market:%d", id) }
func balanceKey(account string) string { return fmt.Sprintf("balance:%s", account) }
