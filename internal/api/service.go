// Package api exposes the ledger core to the admin and user surfaces:
// user-initiated submissions (deposits, withdrawals, KYC, IPO
// applications, trades) and admin-initiated decisions (approve, reject,
// allot, set-result), plus read-only account and portfolio projections.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/TheophilusAidoo/Stock-sub001/internal/ipo"
	"github.com/TheophilusAidoo/Stock-sub001/internal/ledger"
	"github.com/TheophilusAidoo/Stock-sub001/internal/limits"
	"github.com/TheophilusAidoo/Stock-sub001/internal/model"
	"github.com/TheophilusAidoo/Stock-sub001/internal/position"
	"github.com/TheophilusAidoo/Stock-sub001/internal/store"
	"github.com/TheophilusAidoo/Stock-sub001/internal/timedtrade"
	"github.com/TheophilusAidoo/Stock-sub001/internal/workflow"
)

// symbolRegex validates trade and offering symbols: uppercase ticker,
// optionally dotted (e.g. BRK.B).
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,9}$`)

// Service wires the engines to HTTP handlers.
type Service struct {
	store     store.Store
	ledger    *ledger.Ledger
	workflows *workflow.Engine
	positions *position.Engine
	trades    *timedtrade.Engine
	ipos      *ipo.Engine
	quote     position.QuoteFunc
}

// NewService creates the HTTP service. quote may be nil when no market
// data source is configured; portfolios then carry zero market values.
func NewService(st store.Store, l *ledger.Ledger, wf *workflow.Engine, pos *position.Engine, tt *timedtrade.Engine, ip *ipo.Engine, quote position.QuoteFunc) *Service {
	return &Service{
		store:     st,
		ledger:    l,
		workflows: wf,
		positions: pos,
		trades:    tt,
		ipos:      ip,
		quote:     quote,
	}
}

// Routes mounts all handlers under the given router.
func (s *Service) Routes(r chi.Router) {
	// Accounts.
	r.Post("/accounts", s.CreateAccount)
	r.Get("/accounts/{accountID}", s.GetAccount)
	r.Get("/accounts/{accountID}/ledger", s.GetAccountLedger)
	r.Get("/accounts/{accountID}/portfolio", s.GetPortfolio)
	r.Post("/accounts/{accountID}/disable", s.DisableAccount)
	r.Post("/accounts/{accountID}/enable", s.EnableAccount)

	// User-initiated workflow submissions.
	r.Post("/deposits", s.SubmitDeposit)
	r.Post("/withdrawals", s.SubmitWithdrawal)
	r.Post("/kyc", s.SubmitKYC)

	// Admin decisions on workflow requests.
	r.Post("/requests/{requestID}/approve", s.ApproveRequest)
	r.Post("/requests/{requestID}/reject", s.RejectRequest)

	// Trade execution.
	r.Post("/trades/buy", s.Buy)
	r.Post("/trades/sell", s.Sell)

	// IPO offerings and applications.
	r.Post("/ipos", s.CreateIPO)
	r.Get("/ipos", s.ListIPOs)
	r.Post("/ipos/{ipoID}/close", s.CloseIPO)
	r.Post("/ipos/{ipoID}/applications", s.ApplyIPO)
	r.Post("/ipo-applications/{applicationID}/allot", s.AllotApplication)
	r.Post("/ipo-applications/{applicationID}/reject", s.RejectApplication)

	// Timed trades.
	r.Post("/timed-trades", s.OpenTimedTrade)
	r.Post("/timed-trades/{tradeID}/result", s.SetTradeResult)
}

// --- Accounts ---

// CreateAccountRequest is the JSON body for POST /accounts.
type CreateAccountRequest struct {
	ID string `json:"id"` // optional; generated when empty
}

// CreateAccount handles POST /api/v1/accounts
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	account := &model.Account{
		ID:        id,
		Balance:   decimal.Zero,
		Blocked:   decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("account created", "account", id)
	writeJSON(w, http.StatusCreated, account)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// GetAccountLedger handles GET /api/v1/accounts/{accountID}/ledger
// Returns the account's append-only audit trail.
func (s *Service) GetAccountLedger(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if _, err := s.store.GetAccount(r.Context(), accountID); err != nil {
		writeFailure(w, err)
		return
	}

	entries, err := s.store.ListEntriesByAccount(r.Context(), accountID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetPortfolio handles GET /api/v1/accounts/{accountID}/portfolio
// Purely derived projection; no side effects.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if _, err := s.store.GetAccount(r.Context(), accountID); err != nil {
		writeFailure(w, err)
		return
	}

	portfolio, err := s.positions.Portfolio(r.Context(), accountID, s.quote)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// DisableAccount handles POST /api/v1/accounts/{accountID}/disable
func (s *Service) DisableAccount(w http.ResponseWriter, r *http.Request) {
	s.setDisabled(w, r, true)
}

// EnableAccount handles POST /api/v1/accounts/{accountID}/enable
func (s *Service) EnableAccount(w http.ResponseWriter, r *http.Request) {
	s.setDisabled(w, r, false)
}

func (s *Service) setDisabled(w http.ResponseWriter, r *http.Request, disabled bool) {
	accountID := chi.URLParam(r, "accountID")
	if err := s.ledger.SetDisabled(r.Context(), accountID, disabled); err != nil {
		writeFailure(w, err)
		return
	}

	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	slog.Info("account flag updated", "account", accountID, "disabled", disabled)
	writeJSON(w, http.StatusOK, account)
}

// --- Workflow submissions ---

// MoneyRequest is the JSON body for deposit and withdrawal submissions.
type MoneyRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"` // e.g. "bank", "card"
}

// SubmitDeposit handles POST /api/v1/deposits
func (s *Service) SubmitDeposit(w http.ResponseWriter, r *http.Request) {
	var req MoneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	created, err := s.workflows.SubmitDeposit(r.Context(), req.AccountID, req.Amount, req.Method)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// SubmitWithdrawal handles POST /api/v1/withdrawals
// Blocks the amount immediately; the hold is refunded on rejection.
func (s *Service) SubmitWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req MoneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	created, err := s.workflows.SubmitWithdrawal(r.Context(), req.AccountID, req.Amount, req.Method)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// KycRequest is the JSON body for POST /kyc.
type KycRequest struct {
	AccountID   string `json:"account_id"`
	DocumentRef string `json:"document_ref"`
}

// SubmitKYC handles POST /api/v1/kyc
func (s *Service) SubmitKYC(w http.ResponseWriter, r *http.Request) {
	var req KycRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	created, err := s.workflows.SubmitKYC(r.Context(), req.AccountID, req.DocumentRef)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// --- Admin decisions ---

// ApproveRequest handles POST /api/v1/requests/{requestID}/approve
func (s *Service) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	decided, err := s.workflows.Approve(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

// RejectRequestBody is the JSON body for request rejection. The reason is
// mandatory for withdrawals.
type RejectRequestBody struct {
	Reason string `json:"reason"`
}

// RejectRequest handles POST /api/v1/requests/{requestID}/reject
func (s *Service) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body RejectRequestBody
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body) // empty body → empty reason
	}

	decided, err := s.workflows.Reject(r.Context(), chi.URLParam(r, "requestID"), body.Reason)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

// --- Trades ---

// TradeRequest is the JSON body for POST /trades/buy and /trades/sell.
type TradeRequest struct {
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (t *TradeRequest) validate() string {
	if t.AccountID == "" {
		return "account_id is required"
	}
	if !symbolRegex.MatchString(t.Symbol) {
		return "invalid symbol"
	}
	return ""
}

// TradeResponse is returned from buy and sell executions.
type TradeResponse struct {
	Position *model.Position    `json:"position"`
	Realized *model.RealizedPnl `json:"realized_pnl,omitempty"`
}

// Buy handles POST /api/v1/trades/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	pos, err := s.positions.Buy(r.Context(), req.AccountID, req.Symbol, req.Quantity, req.Price)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TradeResponse{Position: pos})
}

// Sell handles POST /api/v1/trades/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	pos, rec, err := s.positions.Sell(r.Context(), req.AccountID, req.Symbol, req.Quantity, req.Price)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TradeResponse{Position: pos, Realized: rec})
}

// --- IPOs ---

// CreateIPORequest is the JSON body for POST /ipos.
type CreateIPORequest struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
	DiscountPrice decimal.Decimal `json:"discount_price"`
	LotSize       int64           `json:"lot_size"`
	MinInvestment decimal.Decimal `json:"min_investment"`
}

// CreateIPO handles POST /api/v1/ipos
func (s *Service) CreateIPO(w http.ResponseWriter, r *http.Request) {
	var req CreateIPORequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !symbolRegex.MatchString(req.Symbol) {
		writeError(w, "invalid symbol", http.StatusBadRequest)
		return
	}

	offering, err := s.ipos.CreateOffering(r.Context(), req.Symbol, req.Name,
		req.PricePerShare, req.DiscountPrice, req.LotSize, req.MinInvestment)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offering)
}

// ListIPOs handles GET /api/v1/ipos
func (s *Service) ListIPOs(w http.ResponseWriter, r *http.Request) {
	ipos, err := s.store.ListIPOs(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	if ipos == nil {
		ipos = []model.IPO{}
	}
	writeJSON(w, http.StatusOK, ipos)
}

// CloseIPO handles POST /api/v1/ipos/{ipoID}/close
// Stops new applications; pending ones are still decided individually.
func (s *Service) CloseIPO(w http.ResponseWriter, r *http.Request) {
	offering, err := s.ipos.Close(r.Context(), chi.URLParam(r, "ipoID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offering)
}

// ApplyIPORequest is the JSON body for IPO applications.
type ApplyIPORequest struct {
	AccountID string `json:"account_id"`
	Lots      int64  `json:"lots"`
}

// ApplyIPO handles POST /api/v1/ipos/{ipoID}/applications
func (s *Service) ApplyIPO(w http.ResponseWriter, r *http.Request) {
	var req ApplyIPORequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	app, err := s.ipos.Apply(r.Context(), req.AccountID, chi.URLParam(r, "ipoID"), req.Lots)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// AllotApplication handles POST /api/v1/ipo-applications/{applicationID}/allot
func (s *Service) AllotApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.ipos.Allot(r.Context(), chi.URLParam(r, "applicationID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// RejectApplication handles POST /api/v1/ipo-applications/{applicationID}/reject
func (s *Service) RejectApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.ipos.Reject(r.Context(), chi.URLParam(r, "applicationID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// --- Timed trades ---

// OpenTimedTradeRequest is the JSON body for POST /timed-trades.
type OpenTimedTradeRequest struct {
	AccountID       string          `json:"account_id"`
	Stake           decimal.Decimal `json:"stake"`
	DurationSeconds int64           `json:"duration_seconds"`
	ProfitRate      decimal.Decimal `json:"profit_rate"`
}

// OpenTimedTrade handles POST /api/v1/timed-trades
func (s *Service) OpenTimedTrade(w http.ResponseWriter, r *http.Request) {
	var req OpenTimedTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	trade, err := s.trades.Open(r.Context(), req.AccountID, req.Stake,
		time.Duration(req.DurationSeconds)*time.Second, req.ProfitRate)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

// SetTradeResultRequest is the JSON body for settlement.
type SetTradeResultRequest struct {
	Result string `json:"result"` // "win", "lose", or "draw"
}

// SetTradeResult handles POST /api/v1/timed-trades/{tradeID}/result
func (s *Service) SetTradeResult(w http.ResponseWriter, r *http.Request) {
	var req SetTradeResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trade, err := s.trades.SetResult(r.Context(), chi.URLParam(r, "tradeID"), model.TradeResult(req.Result))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// --- Response helpers ---

// writeFailure maps error kinds to HTTP statuses. AlreadyDecided is
// idempotency protection, not a fault: it maps to 409 and logs at Info.
// InvariantViolation signals a bug and is logged at Error before the 500.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, limits.ErrBelowMinimum),
		errors.Is(err, limits.ErrFeeExceedsAmount),
		errors.Is(err, ipo.ErrBelowMinimumInvestment),
		errors.Is(err, ipo.ErrInvalidOffering),
		errors.Is(err, timedtrade.ErrInvalidResult),
		errors.Is(err, workflow.ErrReasonRequired):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, workflow.ErrAccountDisabled):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, position.ErrInsufficientPosition),
		errors.Is(err, ipo.ErrOfferingClosed):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, workflow.ErrAlreadyDecided),
		errors.Is(err, timedtrade.ErrAlreadyDecided),
		errors.Is(err, ipo.ErrAlreadyDecided):
		slog.Info("decision replayed", "err", err)
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrInvariantViolation):
		slog.Error("invariant violation", "err", err)
		writeError(w, err.Error(), http.StatusInternalServerError)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
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
