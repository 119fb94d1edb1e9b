package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predix/settlement-engine/internal/api"
	"github.com/predix/settlement-engine/internal/bps"
	"github.com/predix/settlement-engine/internal/ledger"
	"github.com/predix/settlement-engine/internal/model"
	"github.com/predix/settlement-engine/internal/store"
	"github.com/predix/settlement-engine/internal/token"
)

const (
	ownerID   = "owner"
	sinkID    = "treasury"
	custodyID = "custody"
)

func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

type testEnv struct {
	svc    *api.Service
	mock   *token.Mock
	router chi.Router
	now    int64
}

// newTestEnv creates an API service over an in-memory engine with a pinned
// clock, plus a chi router with all routes mounted.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mock := token.NewMock()
	ms := store.NewMemoryStore()
	eng := ledger.New(ms, mock.Bound(custodyID), ledger.Config{
		Owner:         ownerID,
		FeeSink:       sinkID,
		TokenAddress:  "token-ledger",
		Custody:       custodyID,
		DepositFeeBps: bps.DepositFeeBps,
	})
	svc := api.NewService(eng, nil)

	env := &testEnv{svc: svc, mock: mock, now: 1000}
	svc.SetClock(func() int64 { return env.now })

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	env.router = r
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// fundUser mints tokens, approves custody, and deposits via the API.
func (env *testEnv) fundUser(t *testing.T, user string, amount int64) {
	t.Helper()
	env.mock.Mint(user, d(amount))
	if err := env.mock.Bound(user).Approve(context.Background(), custodyID, d(amount)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	w := env.do(t, "POST", "/api/v1/deposits", api.DepositRequest{User: user, Amount: d(amount)})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit failed: %d %s", w.Code, w.Body.String())
	}
}

func (env *testEnv) createMarket(t *testing.T, creator string, resolutionTime int64) int64 {
	t.Helper()
	w := env.do(t, "POST", "/api/v1/markets", api.CreateMarketRequest{
		Creator:        creator,
		ResolutionTime: resolutionTime,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create market failed: %d %s", w.Code, w.Body.String())
	}
	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)
	return m.ID
}

func (env *testEnv) placeBet(t *testing.T, user string, marketID int64, outcome string, amount int64) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, "POST", fmt.Sprintf("/api/v1/markets/%d/bets", marketID), api.BetRequest{
		User:    user,
		Outcome: outcome,
		Amount:  d(amount),
	})
}

// --- Balance endpoints ---

func TestDepositEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.mock.Mint("user1", d(1000))
	env.mock.Bound("user1").Approve(context.Background(), custodyID, d(1000))

	w := env.do(t, "POST", "/api/v1/deposits", api.DepositRequest{User: "user1", Amount: d(1000)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.DepositResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Net.Equal(d(990)) || !resp.Fee.Equal(d(10)) {
		t.Errorf("expected net 990 fee 10, got %s/%s", resp.Net, resp.Fee)
	}
	if !resp.NewBalance.Equal(d(990)) {
		t.Errorf("expected balance 990, got %s", resp.NewBalance)
	}
}

func TestDepositEndpoint_Rejections(t *testing.T) {
	env := newTestEnv(t)

	// Missing user.
	w := env.do(t, "POST", "/api/v1/deposits", api.DepositRequest{Amount: d(100)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user: expected 400, got %d", w.Code)
	}

	// Invalid amount.
	w = env.do(t, "POST", "/api/v1/deposits", api.DepositRequest{User: "user1", Amount: d(-5)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative amount: expected 400, got %d", w.Code)
	}

	// No approval on the token ledger → upstream failure.
	env.mock.Mint("user1", d(1000))
	w = env.do(t, "POST", "/api/v1/deposits", api.DepositRequest{User: "user1", Amount: d(1000)})
	if w.Code != http.StatusBadGateway {
		t.Errorf("unapproved pull: expected 502, got %d", w.Code)
	}
}

func TestWithdrawEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.fundUser(t, "user1", 1000)

	w := env.do(t, "POST", "/api/v1/withdrawals", api.WithdrawRequest{User: "user1", Amount: d(400)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "POST", "/api/v1/withdrawals", api.WithdrawRequest{User: "user1", Amount: d(9999)})
	if w.Code != http.StatusConflict {
		t.Errorf("overdraw: expected 409, got %d", w.Code)
	}
}

func TestBalanceEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.fundUser(t, "user1", 1000)

	w := env.do(t, "GET", "/api/v1/balances/user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		User    string          `json:"user"`
		Balance decimal.Decimal `json:"balance"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Balance.Equal(d(990)) {
		t.Errorf("expected 990, got %s", resp.Balance)
	}

	// Unknown identities read as zero, not 404.
	w = env.do(t, "GET", "/api/v1/balances/nobody", nil)
	if w.Code != http.StatusOK {
		t.Errorf("unknown user: expected 200, got %d", w.Code)
	}
}

// --- Market endpoints ---

func TestCreateMarketEndpoint(t *testing.T) {
	env := newTestEnv(t)

	id := env.createMarket(t, "alice", 1500)
	if id != 1 {
		t.Errorf("expected id 1, got %d", id)
	}

	// Past resolution time rejected.
	w := env.do(t, "POST", "/api/v1/markets", api.CreateMarketRequest{
		Creator:        "alice",
		ResolutionTime: 500,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("past deadline: expected 400, got %d", w.Code)
	}
}

func TestGetMarketEndpoint(t *testing.T) {
	env := newTestEnv(t)
	id := env.createMarket(t, "alice", 1500)

	w := env.do(t, "GET", fmt.Sprintf("/api/v1/markets/%d", id), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)
	if m.Creator != "alice" || m.ResolutionTime != 1500 {
		t.Errorf("unexpected market: %+v", m)
	}

	w = env.do(t, "GET", "/api/v1/markets/999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown market: expected 404, got %d", w.Code)
	}

	w = env.do(t, "GET", "/api/v1/markets/bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id: expected 400, got %d", w.Code)
	}
}

func TestListAndCountMarkets(t *testing.T) {
	env := newTestEnv(t)
	env.createMarket(t, "alice", 1500)
	env.createMarket(t, "bob", 2000)

	w := env.do(t, "GET", "/api/v1/markets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var markets []model.Market
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 2 || markets[0].ID != 1 || markets[1].ID != 2 {
		t.Errorf("expected markets [1 2], got %+v", markets)
	}

	w = env.do(t, "GET", "/api/v1/markets/count", nil)
	var count struct {
		Count int64 `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &count)
	if count.Count != 2 {
		t.Errorf("expected count 2, got %d", count.Count)
	}
}

// --- Betting endpoints ---

func TestPlaceBetEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.fundUser(t, "user1", 1000)
	id := env.createMarket(t, "user1", 1500)

	w := env.placeBet(t, "user1", id, "A", 300)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)
	if m.PercentageA != 10000 || m.PercentageB != 0 {
		t.Errorf("expected 10000/0, got %d/%d", m.PercentageA, m.PercentageB)
	}
	if !m.TotalLiquidity.Equal(d(300)) {
		t.Errorf("expected liquidity 300, got %s", m.TotalLiquidity)
	}
}

func TestPlaceBetEndpoint_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.fundUser(t, "user1", 1000)
	id := env.createMarket(t, "user1", 1500)

	// Bad outcome literal.
	w := env.placeBet(t, "user1", id, "C", 100)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad outcome: expected 400, got %d", w.Code)
	}

	// Insufficient funds.
	w = env.placeBet(t, "user1", id, "A", 5000)
	if w.Code != http.StatusConflict {
		t.Errorf("oversized: expected 409, got %d", w.Code)
	}

	// Unknown market.
	w = env.placeBet(t, "user1", 999, "A", 100)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown market: expected 404, got %d", w.Code)
	}

	// Closed market.
	env.now = 1500
	w = env.placeBet(t, "user1", id, "A", 100)
	if w.Code != http.StatusConflict {
		t.Errorf("closed market: expected 409, got %d", w.Code)
	}
}

func TestPercentagesAndTotalsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.fundUser(t, "user1", 2000)
	id := env.createMarket(t, "user1", 1500)
	env.placeBet(t, "user1", id, "A", 300)
	env.placeBet(t, "user1", id, "B", 700)

	w := env.do(t, "GET", fmt.Sprintf("/api/v1/markets/%d/percentages", id), nil)
	var pct struct {
		A int64 `json:"percentage_a"`
		B int64 `json:"percentage_b"`
	}
	json.Unmarshal(w.Body.Bytes(), &pct)
	if pct.A != 3000 || pct.B != 7000 {
		t.Errorf("expected 3000/7000, got %d/%d", pct.A, pct.B)
	}

	w = env.do(t, "GET", fmt.Sprintf("/api/v1/markets/%d/totals/B", id), nil)
	var total struct {
		Total decimal.Decimal `json:"total"`
	}
	json.Unmarshal(w.Body.Bytes(), &total)
	if !total.Total.Equal(d(700)) {
		t.Errorf("expected total 700, got %s", total.Total)
	}

	w = env.do(t, "GET", fmt.Sprintf("/api/v1/markets/%d/bets/user1?outcome=A", id), nil)
	var bet struct {
		Amount decimal.Decimal `json:"amount"`
	}
	json.Unmarshal(w.Body.Bytes(), &bet)
	if !bet.Amount.Equal(d(300)) {
		t.Errorf("expected bet 300, got %s", bet.Amount)
	}
}

// --- Resolution & settlement endpoints ---

func TestResolveEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.fundUser(t, "user1", 1000)
	id := env.createMarket(t, "user1", 1500)
	env.placeBet(t, "user1", id, "A", 300)

	// Non-owner forbidden.
	w := env.do(t, "POST", fmt.Sprintf("/api/v1/markets/%d/resolve", id), api.ResolveRequest{Caller: "user1", Winner: "A"})
	if w.Code != http.StatusForbidden {
		t.Errorf("non-owner: expected 403, got %d", w.Code)
	}

	// Too early.
	w = env.do(t, "POST", fmt.Sprintf("/api/v1/markets/%d/resolve", id), api.ResolveRequest{Caller: ownerID, Winner: "A"})
	if w.Code != http.StatusConflict {
		t.Errorf("early resolve: expected 409, got %d", w.Code)
	}

	// At the deadline it succeeds.
	env.now = 1500
	w = env.do(t, "POST", fmt.Sprintf("/api/v1/markets/%d/resolve", id), api.ResolveRequest{Caller: ownerID, Winner: "A"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var m model.Market
	json.Unmarshal(w.Body.Bytes(), &m)
	if m.Resolved != model.OutcomeA {
		t.Errorf("expected resolved A, got %v", m.Resolved)
	}

	// Second resolution refused.
	w = env.do(t, "POST", fmt.Sprintf("/api/v1/markets/%d/resolve", id), api.ResolveRequest{Caller: ownerID, Winner: "B"})
	if w.Code != http.StatusConflict {
		t.Errorf("double resolve: expected 409, got %d", w.Code)
	}
}

func TestClaimEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.fundUser(t, "user1", 1000)
	id := env.createMarket(t, "user1", 1500)
	env.placeBet(t, "user1", id, "A", 300)
	env.placeBet(t, "user1", id, "B", 600)

	// Unresolved market refuses claims.
	w := env.do(t, "POST", fmt.Sprintf("/api/v1/markets/%d/claims", id), api.ClaimRequest{User: "user1"})
	if w.Code != http.StatusConflict {
		t.Errorf("unresolved: expected 409, got %d", w.Code)
	}

	env.now = 1600
	env.do(t, "POST", fmt.Sprintf("/api/v1/markets/%d/resolve", id), api.ResolveRequest{Caller: ownerID, Winner: "A"})

	w = env.do(t, "POST", fmt.Sprintf("/api/v1/markets/%d/claims", id), api.ClaimRequest{User: "user1"})
	if w.Code != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.ClaimResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Winnings.Equal(d(900)) {
		t.Errorf("expected winnings 900, got %s", resp.Winnings)
	}

	// Double claim refused.
	w = env.do(t, "POST", fmt.Sprintf("/api/v1/markets/%d/claims", id), api.ClaimRequest{User: "user1"})
	if w.Code != http.StatusConflict {
		t.Errorf("double claim: expected 409, got %d", w.Code)
	}
}

// --- Events & admin endpoints ---

func TestEventsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.fundUser(t, "user1", 1000)
	id := env.createMarket(t, "user1", 1500)
	env.placeBet(t, "user1", id, "A", 300)

	w := env.do(t, "GET", fmt.Sprintf("/api/v1/markets/%d/events", id), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var events []model.Event
	json.Unmarshal(w.Body.Bytes(), &events)
	if len(events) != 2 {
		t.Fatalf("expected creation + bet events, got %d", len(events))
	}
	if events[0].Type != model.EventMarketCreated || events[1].Type != model.EventBetPlaced {
		t.Errorf("unexpected event order: %v %v", events[0].Type, events[1].Type)
	}

	w = env.do(t, "GET", "/api/v1/users/user1/events", nil)
	json.Unmarshal(w.Body.Bytes(), &events)
	if len(events) != 4 {
		t.Errorf("expected 4 user events, got %d", len(events))
	}
}

func TestMaintenanceEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/admin/maintenance", api.MaintenanceRequest{Caller: "user1", Sink: "new-sink"})
	if w.Code != http.StatusForbidden {
		t.Errorf("non-owner: expected 403, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/admin/maintenance", api.MaintenanceRequest{Caller: ownerID, Sink: "new-sink"})
	if w.Code != http.StatusOK {
		t.Fatalf("owner update: expected 200, got %d", w.Code)
	}

	w = env.do(t, "GET", "/api/v1/info", nil)
	var info map[string]string
	json.Unmarshal(w.Body.Bytes(), &info)
	if info["fee_sink"] != "new-sink" || info["owner"] != ownerID {
		t.Errorf("unexpected info: %v", info)
	}
}
