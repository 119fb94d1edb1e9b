// Package api provides the HTTP handlers for the settlement engine:
// deposits and withdrawals, market lifecycle, betting, resolution, and
// claim settlement.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predix/settlement-engine/internal/ledger"
	"github.com/predix/settlement-engine/internal/metrics"
	"github.com/predix/settlement-engine/internal/model"
)

// Service exposes the ledger engine over HTTP. The engine serializes
// mutations internally; handlers only translate between JSON and engine
// calls.
type Service struct {
	engine *ledger.Engine
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts

	// clock supplies the current unix time; overridable in tests.
	clock func() int64
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(eng *ledger.Engine, hub *WSHub) *Service {
	return &Service{
		engine: eng,
		wsHub:  hub,
		clock:  func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the service's time source. Tests use this to pin the
// clock around resolution deadlines.
func (s *Service) SetClock(fn func() int64) {
	s.clock = fn
}

// Routes mounts every handler on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/deposits", s.Deposit)
	r.Post("/withdrawals", s.Withdraw)
	r.Get("/balances/{user}", s.GetBalance)

	r.Post("/markets", s.CreateMarket)
	r.Get("/markets", s.ListMarkets)
	r.Get("/markets/count", s.GetMarketCount)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/percentages", s.GetPercentages)
	r.Post("/markets/{marketID}/bets", s.PlaceBet)
	r.Get("/markets/{marketID}/bets/{user}", s.GetUserBet)
	r.Get("/markets/{marketID}/totals/{outcome}", s.GetOutcomeTotal)
	r.Post("/markets/{marketID}/resolve", s.ResolveMarket)
	r.Post("/markets/{marketID}/claims", s.ClaimWinnings)
	r.Get("/markets/{marketID}/events", s.GetMarketEvents)

	r.Get("/users/{user}/events", s.GetUserEvents)

	r.Post("/admin/maintenance", s.SetMaintenance)
	r.Get("/info", s.GetInfo)

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request/Response types ---

// DepositRequest is the JSON body for POST /deposits.
type DepositRequest struct {
	User   string          `json:"user"`
	Amount decimal.Decimal `json:"amount"`
}

// DepositResponse reports the fee split of an accepted deposit.
type DepositResponse struct {
	User       string          `json:"user"`
	Amount     decimal.Decimal `json:"amount"`
	Net        decimal.Decimal `json:"net"`
	Fee        decimal.Decimal `json:"fee"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// WithdrawRequest is the JSON body for POST /withdrawals.
type WithdrawRequest struct {
	User   string          `json:"user"`
	Amount decimal.Decimal `json:"amount"`
}

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest struct {
	Creator          string          `json:"creator"`
	ResolutionTime   int64           `json:"resolution_time"`
	InitialLiquidity decimal.Decimal `json:"initial_liquidity"`
}

// BetRequest is the JSON body for POST /markets/{marketID}/bets.
type BetRequest struct {
	User    string          `json:"user"`
	Outcome string          `json:"outcome"` // "A" or "B"
	Amount  decimal.Decimal `json:"amount"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Caller string `json:"caller"`
	Winner string `json:"winner"` // "A" or "B"
}

// ClaimRequest is the JSON body for POST /markets/{marketID}/claims.
type ClaimRequest struct {
	User string `json:"user"`
}

// ClaimResponse reports a settled claim.
type ClaimResponse struct {
	User     string          `json:"user"`
	MarketID int64           `json:"market_id"`
	Winnings decimal.Decimal `json:"winnings"`
}

// MaintenanceRequest is the JSON body for POST /admin/maintenance.
type MaintenanceRequest struct {
	Caller string `json:"caller"`
	Sink   string `json:"sink"`
}

// --- Balance handlers ---

// Deposit handles POST /api/v1/deposits.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}

	net, err := s.engine.Deposit(r.Context(), req.User, req.Amount, s.clock())
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues("deposit", reason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.DepositsTotal.Inc()

	balance, _ := s.engine.GetBalance(r.Context(), req.User)
	writeJSON(w, http.StatusOK, DepositResponse{
		User:       req.User,
		Amount:     req.Amount,
		Net:        net,
		Fee:        req.Amount.Sub(net),
		NewBalance: balance,
	})
}

// Withdraw handles POST /api/v1/withdrawals.
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}

	if err := s.engine.Withdraw(r.Context(), req.User, req.Amount, s.clock()); err != nil {
		metrics.RejectionsTotal.WithLabelValues("withdraw", reason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.WithdrawalsTotal.Inc()

	balance, _ := s.engine.GetBalance(r.Context(), req.User)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        req.User,
		"amount":      req.Amount,
		"new_balance": balance,
	})
}

// GetBalance handles GET /api/v1/balances/{user}.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	balance, err := s.engine.GetBalance(r.Context(), user)
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "balance": balance})
}

// --- Market handlers ---

// CreateMarket handles POST /api/v1/markets.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Creator == "" {
		writeError(w, "creator is required", http.StatusBadRequest)
		return
	}

	id, err := s.engine.CreateMarket(r.Context(), req.Creator, req.ResolutionTime, req.InitialLiquidity, s.clock())
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues("create_market", reason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.OpenMarkets.Inc()

	market, err := s.engine.GetMarketDetails(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	market, err := s.engine.GetMarketDetails(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ListMarkets handles GET /api/v1/markets.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := s.engine.GetAllMarketIDs(ctx)
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}

	markets := make([]*model.Market, 0, len(ids))
	for _, id := range ids {
		m, err := s.engine.GetMarketDetails(ctx, id)
		if err != nil {
			writeError(w, "failed to list markets", http.StatusInternalServerError)
			return
		}
		markets = append(markets, m)
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarketCount handles GET /api/v1/markets/count.
func (s *Service) GetMarketCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.engine.GetMarketCount(r.Context())
	if err != nil {
		writeError(w, "failed to count markets", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// GetPercentages handles GET /api/v1/markets/{marketID}/percentages.
func (s *Service) GetPercentages(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	pctA, pctB, err := s.engine.GetMarketPercentages(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"percentage_a": pctA,
		"percentage_b": pctB,
	})
}

// --- Betting handlers ---

// PlaceBet handles POST /api/v1/markets/{marketID}/bets.
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}
	outcome, ok := parseOutcome(req.Outcome)
	if !ok {
		writeError(w, "outcome must be A or B", http.StatusBadRequest)
		return
	}

	market, err := s.engine.PlaceBet(r.Context(), req.User, id, outcome, req.Amount, s.clock())
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues("place_bet", reason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.BetsTotal.WithLabelValues(outcome.String()).Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:           "bet_placed",
			MarketID:       id,
			User:           req.User,
			Outcome:        outcome.String(),
			Amount:         req.Amount.String(),
			PercentageA:    market.PercentageA,
			PercentageB:    market.PercentageB,
			TotalLiquidity: market.TotalLiquidity.String(),
		})
	}

	writeJSON(w, http.StatusOK, market)
}

// GetUserBet handles GET /api/v1/markets/{marketID}/bets/{user}?outcome=A.
func (s *Service) GetUserBet(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	user := chi.URLParam(r, "user")
	outcome, ok := parseOutcome(r.URL.Query().Get("outcome"))
	if !ok {
		writeError(w, "outcome must be A or B", http.StatusBadRequest)
		return
	}

	bet, err := s.engine.GetUserBet(r.Context(), user, id, outcome)
	if err != nil {
		writeError(w, "failed to load bet", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      user,
		"market_id": id,
		"outcome":   outcome.String(),
		"amount":    bet,
	})
}

// GetOutcomeTotal handles GET /api/v1/markets/{marketID}/totals/{outcome}.
func (s *Service) GetOutcomeTotal(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	outcome, ok := parseOutcome(chi.URLParam(r, "outcome"))
	if !ok {
		writeError(w, "outcome must be A or B", http.StatusBadRequest)
		return
	}

	total, err := s.engine.GetTotalBetsForOutcome(r.Context(), id, outcome)
	if err != nil {
		writeError(w, "failed to load total", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"outcome":   outcome.String(),
		"total":     total,
	})
}

// --- Resolution & settlement handlers ---

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve.
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	winner, ok := parseOutcome(req.Winner)
	if !ok {
		writeError(w, "winner must be A or B", http.StatusBadRequest)
		return
	}

	if err := s.engine.ResolveMarket(r.Context(), req.Caller, id, winner == model.OutcomeA, s.clock()); err != nil {
		metrics.RejectionsTotal.WithLabelValues("resolve", reason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.ResolutionsTotal.WithLabelValues(winner.String()).Inc()
	metrics.OpenMarkets.Dec()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_resolved",
			MarketID: id,
			Outcome:  winner.String(),
		})
	}

	market, err := s.engine.GetMarketDetails(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ClaimWinnings handles POST /api/v1/markets/{marketID}/claims.
func (s *Service) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}

	winnings, err := s.engine.ClaimWinnings(r.Context(), req.User, id, s.clock())
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues("claim", reason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.ClaimsTotal.Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "winnings_claimed",
			MarketID: id,
			User:     req.User,
			Amount:   winnings.String(),
		})
	}

	writeJSON(w, http.StatusOK, ClaimResponse{
		User:     req.User,
		MarketID: id,
		Winnings: winnings,
	})
}

// --- Events & admin ---

// GetMarketEvents handles GET /api/v1/markets/{marketID}/events.
func (s *Service) GetMarketEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	events, err := s.engine.EventsByMarket(r.Context(), id)
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetUserEvents handles GET /api/v1/users/{user}/events.
func (s *Service) GetUserEvents(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	events, err := s.engine.EventsByUser(r.Context(), user)
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// SetMaintenance handles POST /api/v1/admin/maintenance.
func (s *Service) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	var req MaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Sink == "" {
		writeError(w, "sink is required", http.StatusBadRequest)
		return
	}

	if err := s.engine.SetMaintenanceContract(r.Context(), req.Caller, req.Sink, s.clock()); err != nil {
		metrics.RejectionsTotal.WithLabelValues("set_maintenance", reason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sink": req.Sink})
}

// GetInfo handles GET /api/v1/info.
func (s *Service) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":         s.engine.Owner(),
		"fee_sink":      s.engine.MaintenanceContract(),
		"token_address": s.engine.TokenAddress(),
	})
}

// --- Helpers ---

func marketID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "marketID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, "invalid market id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func parseOutcome(s string) (model.Outcome, bool) {
	switch s {
	case "A", "a":
		return model.OutcomeA, true
	case "B", "b":
		return model.OutcomeB, true
	default:
		return model.OutcomeUnresolved, false
	}
}

// writeEngineError maps engine sentinels to HTTP statuses: validation
// failures to 400, missing entities to 404, authorization to 403, state
// preconditions to 409, external token failures to 502.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidResolutionTime),
		errors.Is(err, ledger.ErrInvalidOutcome):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrMarketNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrMarketNotActive),
		errors.Is(err, ledger.ErrCannotResolve),
		errors.Is(err, ledger.ErrMarketNotResolved),
		errors.Is(err, ledger.ErrAlreadyClaimed),
		errors.Is(err, ledger.ErrNoWinningBet):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrTokenTransfer):
		status = http.StatusBadGateway
	}
	writeError(w, err.Error(), status)
}

// reason produces a short label for rejection metrics.
func reason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidResolutionTime):
		return "invalid_resolution_time"
	case errors.Is(err, ledger.ErrInvalidOutcome):
		return "invalid_outcome"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrMarketNotFound):
		return "market_not_found"
	case errors.Is(err, ledger.ErrMarketNotActive):
		return "market_not_active"
	case errors.Is(err, ledger.ErrCannotResolve):
		return "cannot_resolve"
	case errors.Is(err, ledger.ErrMarketNotResolved):
		return "market_not_resolved"
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ledger.ErrNoWinningBet):
		return "no_winning_bet"
	case errors.Is(err, ledger.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ledger.ErrTokenTransfer):
		return "token_transfer"
	default:
		return "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
