// Package model defines the core domain types shared across the ledger core.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a user's cash account. Balance is the total cash held;
// Blocked is the portion reserved against pending withdrawals, IPO
// applications, and timed trades. Accounts are never deleted — a rejected
// registration soft-disables the account instead.
type Account struct {
	ID        string          `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Blocked   decimal.Decimal `json:"blocked" db:"blocked"`
	Verified  bool            `json:"verified" db:"verified"` // KYC approved
	Disabled  bool            `json:"disabled" db:"disabled"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Spendable is the amount the account may actually debit against:
// balance minus blocked.
func (a *Account) Spendable() decimal.Decimal {
	return a.Balance.Sub(a.Blocked)
}

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	KindDeposit           EntryKind = "deposit"
	KindWithdrawal        EntryKind = "withdrawal"
	KindWithdrawalBlock   EntryKind = "withdrawal_block"
	KindWithdrawalRelease EntryKind = "withdrawal_release"
	KindIPOBlock          EntryKind = "ipo_block"
	KindIPORelease        EntryKind = "ipo_release"
	KindIPODebit          EntryKind = "ipo_debit"
	KindTradeDebit        EntryKind = "trade_debit"
	KindTradeCredit       EntryKind = "trade_credit"
	KindTradeBlock        EntryKind = "trade_block"
	KindTradeRelease      EntryKind = "trade_release"
	KindFee               EntryKind = "fee"
)

// LedgerEntry is an immutable record of a balance or hold mutation.
// Once created, these are never modified or deleted. Amount is the signed
// balance delta (zero for block/release entries, which only move the
// blocked counter); Balance and Blocked are snapshots taken after the
// mutation. Summing Amount over all entries for an account reproduces its
// current balance exactly.
type LedgerEntry struct {
	ID            string          `json:"id" db:"id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	Kind          EntryKind       `json:"kind" db:"kind"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	Blocked       decimal.Decimal `json:"blocked" db:"blocked"`
	CorrelationID string          `json:"correlation_id" db:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}

// RequestKind identifies the workflow a request belongs to.
type RequestKind string

const (
	RequestDeposit    RequestKind = "deposit"
	RequestWithdrawal RequestKind = "withdrawal"
	RequestKYC        RequestKind = "kyc"
)

// RequestStatus is the lifecycle state of a workflow request.
// Pending transitions to exactly one of Approved or Rejected; terminal
// states are final.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// WorkflowRequest is a pending user action awaiting an admin decision.
// Amount and Method apply to deposits and withdrawals; DocumentRef to KYC.
// Fee is fixed at submission time for withdrawals.
type WorkflowRequest struct {
	ID          string          `json:"id" db:"id"`
	AccountID   string          `json:"account_id" db:"account_id"`
	Kind        RequestKind     `json:"kind" db:"kind"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Method      string          `json:"method,omitempty" db:"method"`
	DocumentRef string          `json:"document_ref,omitempty" db:"document_ref"`
	Fee         decimal.Decimal `json:"fee" db:"fee"`
	Status      RequestStatus   `json:"status" db:"status"`
	Reason      string          `json:"reason,omitempty" db:"reason"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty" db:"decided_at"`
}

// Position is a user's holding in one symbol. Quantity increases via the
// weighted-average rule on buy (or IPO allotment) and only decreases on
// sell; it never goes negative. AvgCost is unchanged by sells. RealizedPnL
// accumulates P&L recognized on each sell.
type Position struct {
	AccountID   string          `json:"account_id" db:"account_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	AvgCost     decimal.Decimal `json:"avg_cost" db:"avg_cost"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// RealizedPnl records the P&L recognized by one sell execution.
type RealizedPnl struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	AvgCost   decimal.Decimal `json:"avg_cost" db:"avg_cost"`
	Pnl       decimal.Decimal `json:"pnl" db:"pnl"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TradeResult is the admin-set outcome of a timed trade.
type TradeResult string

const (
	ResultPending TradeResult = "pending"
	ResultWin     TradeResult = "win"
	ResultLose    TradeResult = "lose"
	ResultDraw    TradeResult = "draw"
)

// TimedTrade is a short-lived wager contract. The stake is blocked while
// the trade is pending and settled into the ledger exactly once when an
// admin sets the result. Expiry does not auto-settle; an explicit decision
// is required even after ExpiresAt.
type TimedTrade struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Stake      decimal.Decimal `json:"stake" db:"stake"`
	ProfitRate decimal.Decimal `json:"profit_rate" db:"profit_rate"`
	Result     TradeResult     `json:"result" db:"result"`
	ExpiresAt  time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	DecidedAt  *time.Time      `json:"decided_at,omitempty" db:"decided_at"`
}

// Expired reports whether the trade is past its expiry at the given time.
func (t *TimedTrade) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IPOStatus is the subscription state of an offering.
type IPOStatus string

const (
	IPOOpen   IPOStatus = "open"
	IPOClosed IPOStatus = "closed"
)

// IPO is an offering users can apply to. DiscountPrice, when positive,
// replaces PricePerShare when computing application amounts. Closing an
// offering stops new applications; pending applications are still decided.
type IPO struct {
	ID            string          `json:"id" db:"id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Name          string          `json:"name" db:"name"`
	PricePerShare decimal.Decimal `json:"price_per_share" db:"price_per_share"`
	DiscountPrice decimal.Decimal `json:"discount_price" db:"discount_price"`
	LotSize       int64           `json:"lot_size" db:"lot_size"`
	MinInvestment decimal.Decimal `json:"min_investment" db:"min_investment"`
	Status        IPOStatus       `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// EffectivePrice returns the discounted price when configured, otherwise
// the offer price.
func (i *IPO) EffectivePrice() decimal.Decimal {
	if i.DiscountPrice.IsPositive() {
		return i.DiscountPrice
	}
	return i.PricePerShare
}

// ApplicationStatus is the lifecycle state of an IPO application.
type ApplicationStatus string

const (
	AppPendingAllotment ApplicationStatus = "pending_allotment"
	AppAllotted         ApplicationStatus = "allotted"
	AppNotAllotted      ApplicationStatus = "not_allotted"
)

// IpoApplication holds a user's blocked funds against an offering until an
// admin allots (debit) or rejects (release) — exactly one of the two,
// exactly once.
type IpoApplication struct {
	ID        string            `json:"id" db:"id"`
	AccountID string            `json:"account_id" db:"account_id"`
	IpoID     string            `json:"ipo_id" db:"ipo_id"`
	Lots      int64             `json:"lots" db:"lots"`
	Amount    decimal.Decimal   `json:"amount" db:"amount"`
	Status    ApplicationStatus `json:"status" db:"status"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	DecidedAt *time.Time        `json:"decided_at,omitempty" db:"decided_at"`
}

// PositionView is a position marked to the current market price for
// portfolio display. MarketPrice is zero when no quote is available.
type PositionView struct {
	Position
	MarketPrice   decimal.Decimal `json:"market_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio aggregates an account's positions and realized P&L history.
type Portfolio struct {
	AccountID          string          `json:"account_id"`
	Positions          []PositionView  `json:"positions"`
	Realized           []RealizedPnl   `json:"realized_pnl"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
	TotalMarketValue   decimal.Decimal `json:"total_market_value"`
}
