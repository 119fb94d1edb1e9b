package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predix/settlement-engine/internal/model"
)

// Schema creates the settlement tables. Amounts are NUMERIC for exact
// arbitrary-precision integers; timestamps are unix seconds.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account TEXT PRIMARY KEY,
	balance NUMERIC NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS markets (
	id               BIGINT PRIMARY KEY,
	creator          TEXT NOT NULL,
	resolution_time  BIGINT NOT NULL,
	resolved_outcome SMALLINT NOT NULL DEFAULT 0,
	total_liquidity  NUMERIC NOT NULL DEFAULT 0,
	percentage_a     BIGINT NOT NULL DEFAULT 0,
	percentage_b     BIGINT NOT NULL DEFAULT 0,
	created_at       BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS bets (
	account   TEXT NOT NULL,
	market_id BIGINT NOT NULL,
	outcome   SMALLINT NOT NULL,
	amount    NUMERIC NOT NULL DEFAULT 0,
	PRIMARY KEY (account, market_id, outcome)
);
CREATE TABLE IF NOT EXISTS outcome_totals (
	market_id BIGINT NOT NULL,
	outcome   SMALLINT NOT NULL,
	amount    NUMERIC NOT NULL DEFAULT 0,
	PRIMARY KEY (market_id, outcome)
);
CREATE TABLE IF NOT EXISTS claims (
	account   TEXT NOT NULL,
	market_id BIGINT NOT NULL,
	PRIMARY KEY (account, market_id)
);
CREATE TABLE IF NOT EXISTS events (
	seq               BIGSERIAL PRIMARY KEY,
	id                TEXT NOT NULL,
	type              TEXT NOT NULL,
	account           TEXT NOT NULL DEFAULT '',
	market_id         BIGINT NOT NULL DEFAULT 0,
	outcome           SMALLINT NOT NULL DEFAULT 0,
	amount            NUMERIC NOT NULL DEFAULT 0,
	fee               NUMERIC NOT NULL DEFAULT 0,
	net               NUMERIC NOT NULL DEFAULT 0,
	new_balance       NUMERIC NOT NULL DEFAULT 0,
	percentage_a      BIGINT NOT NULL DEFAULT 0,
	percentage_b      BIGINT NOT NULL DEFAULT 0,
	total_liquidity   NUMERIC NOT NULL DEFAULT 0,
	winnings          NUMERIC NOT NULL DEFAULT 0,
	resolution_time   BIGINT NOT NULL DEFAULT 0,
	initial_liquidity NUMERIC NOT NULL DEFAULT 0,
	sink              TEXT NOT NULL DEFAULT '',
	ts                BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_market_idx ON events (market_id, seq);
CREATE INDEX IF NOT EXISTS events_account_idx ON events (account, seq);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Apply runs every staged write inside one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) GetBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	var bal string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE account = $1`, account).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %s: %w", account, err)
	}
	d, _ := decimal.NewFromString(bal)
	return d, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id int64) (*model.Market, error) {
	var m model.Market
	var liquidity string
	var resolved int16

	err := s.pool.QueryRow(ctx,
		`SELECT id, creator, resolution_time, resolved_outcome,
		        total_liquidity::TEXT, percentage_a, percentage_b, created_at
		 FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.Creator, &m.ResolutionTime, &resolved,
			&liquidity, &m.PercentageA, &m.PercentageB, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %d: %w", id, err)
	}

	m.Resolved = model.Outcome(resolved)
	m.TotalLiquidity, _ = decimal.NewFromString(liquidity)
	return &m, nil
}

func (s *PostgresStore) ListMarketIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM markets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) MarketCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM markets`).Scan(&count)
	return count, err
}

func (s *PostgresStore) GetBet(ctx context.Context, k BetKey) (decimal.Decimal, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::TEXT FROM bets
		 WHERE account = $1 AND market_id = $2 AND outcome = $3`,
		k.User, k.MarketID, int16(k.Outcome)).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	d, _ := decimal.NewFromString(amount)
	return d, nil
}

func (s *PostgresStore) GetOutcomeTotal(ctx context.Context, k TotalKey) (decimal.Decimal, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::TEXT FROM outcome_totals
		 WHERE market_id = $1 AND outcome = $2`,
		k.MarketID, int16(k.Outcome)).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	d, _ := decimal.NewFromString(amount)
	return d, nil
}

func (s *PostgresStore) HasClaimed(ctx context.Context, k ClaimKey) (bool, error) {
	var claimed bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM claims WHERE account = $1 AND market_id = $2)`,
		k.User, k.MarketID).Scan(&claimed)
	return claimed, err
}

func (s *PostgresStore) EventsByMarket(ctx context.Context, marketID int64) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, eventSelect+` WHERE market_id = $1 ORDER BY seq`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) EventsByUser(ctx context.Context, account string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, eventSelect+` WHERE account = $1 ORDER BY seq`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Apply commits the full changeset in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, cs *Changeset) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for account, amount := range cs.Balances {
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (account, balance) VALUES ($1, $2::NUMERIC)
			 ON CONFLICT (account) DO UPDATE SET balance = EXCLUDED.balance`,
			account, amount.String()); err != nil {
			return fmt.Errorf("apply balance %s: %w", account, err)
		}
	}

	if m := cs.InsertMarket; m != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO markets (id, creator, resolution_time, resolved_outcome,
			                      total_liquidity, percentage_a, percentage_b, created_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
			m.ID, m.Creator, m.ResolutionTime, int16(m.Resolved),
			m.TotalLiquidity.String(), m.PercentageA, m.PercentageB, m.CreatedAt); err != nil {
			return fmt.Errorf("apply insert market %d: %w", m.ID, err)
		}
	}

	if m := cs.UpdateMarket; m != nil {
		tag, err := tx.Exec(ctx,
			`UPDATE markets
			 SET resolved_outcome = $2, total_liquidity = $3::NUMERIC,
			     percentage_a = $4, percentage_b = $5
			 WHERE id = $1`,
			m.ID, int16(m.Resolved), m.TotalLiquidity.String(),
			m.PercentageA, m.PercentageB)
		if err != nil {
			return fmt.Errorf("apply update market %d: %w", m.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("market %d: %w", m.ID, ErrNotFound)
		}
	}

	for k, amount := range cs.Bets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO bets (account, market_id, outcome, amount)
			 VALUES ($1, $2, $3, $4::NUMERIC)
			 ON CONFLICT (account, market_id, outcome)
			 DO UPDATE SET amount = EXCLUDED.amount`,
			k.User, k.MarketID, int16(k.Outcome), amount.String()); err != nil {
			return fmt.Errorf("apply bet: %w", err)
		}
	}

	for k, amount := range cs.OutcomeTotals {
		if _, err := tx.Exec(ctx,
			`INSERT INTO outcome_totals (market_id, outcome, amount)
			 VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (market_id, outcome)
			 DO UPDATE SET amount = EXCLUDED.amount`,
			k.MarketID, int16(k.Outcome), amount.String()); err != nil {
			return fmt.Errorf("apply outcome total: %w", err)
		}
	}

	for _, k := range cs.Claims {
		if _, err := tx.Exec(ctx,
			`INSERT INTO claims (account, market_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			k.User, k.MarketID); err != nil {
			return fmt.Errorf("apply claim: %w", err)
		}
	}

	for _, e := range cs.Events {
		if _, err := tx.Exec(ctx,
			`INSERT INTO events (id, type, account, market_id, outcome,
			                     amount, fee, net, new_balance,
			                     percentage_a, percentage_b, total_liquidity, winnings,
			                     resolution_time, initial_liquidity, sink, ts)
			 VALUES ($1, $2, $3, $4, $5,
			         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
			         $10, $11, $12::NUMERIC, $13::NUMERIC, $14, $15::NUMERIC, $16, $17)`,
			e.ID, string(e.Type), e.User, e.MarketID, int16(e.Outcome),
			e.Amount.String(), e.Fee.String(), e.Net.String(), e.NewBalance.String(),
			e.PercentageA, e.PercentageB, e.TotalLiquidity.String(), e.Winnings.String(),
			e.ResolutionTime, e.InitialLiquidity.String(), e.Sink, e.Timestamp); err != nil {
			return fmt.Errorf("apply event %s: %w", e.Type, err)
		}
	}

	return tx.Commit(ctx)
}

const eventSelect = `
SELECT seq, id, type, account, market_id, outcome,
       amount::TEXT, fee::TEXT, net::TEXT, new_balance::TEXT,
       percentage_a, percentage_b, total_liquidity::TEXT, winnings::TEXT,
       resolution_time, initial_liquidity::TEXT, sink, ts
FROM events`

func scanEvents(rows pgx.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var typ string
		var outcome int16
		var amount, fee, net, balance, liquidity, winnings, hint string

		if err := rows.Scan(&e.Seq, &e.ID, &typ, &e.User, &e.MarketID, &outcome,
			&amount, &fee, &net, &balance,
			&e.PercentageA, &e.PercentageB, &liquidity, &winnings,
			&e.ResolutionTime, &hint, &e.Sink, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Type = model.EventType(typ)
		e.Outcome = model.Outcome(outcome)
		e.Amount, _ = decimal.NewFromString(amount)
		e.Fee, _ = decimal.NewFromString(fee)
		e.Net, _ = decimal.NewFromString(net)
		e.NewBalance, _ = decimal.NewFromString(balance)
		e.TotalLiquidity, _ = decimal.NewFromString(liquidity)
		e.Winnings, _ = decimal.NewFromString(winnings)
		e.InitialLiquidity, _ = decimal.NewFromString(hint)

		events = append(events, e)
	}
	return events, rows.Err()
}
