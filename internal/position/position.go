// Package position maintains per-account, per-symbol holdings with
// weighted-average cost, and recognizes realized P&L on sells. Cash legs
// go through the Ledger; this package owns only the position book.
package position

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/TheophilusAidoo/Stock-sub001/internal/ledger"
	"github.com/TheophilusAidoo/Stock-sub001/internal/metrics"
	"github.com/TheophilusAidoo/Stock-sub001/internal/model"
	"github.com/TheophilusAidoo/Stock-sub001/internal/store"
)

// ErrInsufficientPosition is returned when a sell exceeds the held
// quantity. The position and the ledger are left unchanged.
var ErrInsufficientPosition = errors.New("position: insufficient quantity")

// QuoteFunc supplies the current market price for a symbol. It is
// injected by the caller; the engine treats it as an opaque read-only
// lookup used only to value open positions.
type QuoteFunc func(symbol string) (decimal.Decimal, bool)

// Engine executes buys and sells against the position book. The
// {check → cash leg → book write} sequence is serialized per account, so
// two concurrent sells cannot both pass the quantity check.
type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	locks  ledger.KeyedMutex
}

// NewEngine creates a position engine.
func NewEngine(st store.Store, l *ledger.Ledger) *Engine {
	return &Engine{store: st, ledger: l}
}

// pricePlaces returns the decimal places of price; average cost is
// rounded to the same precision after each buy.
func pricePlaces(price decimal.Decimal) int32 {
	if price.Exponent() < 0 {
		return -price.Exponent()
	}
	return 0
}

// Buy debits quantity × price from cash and folds the lot into the
// weighted-average cost. All-or-nothing: if the debit fails, the position
// is untouched.
func (e *Engine) Buy(ctx context.Context, accountID, symbol string, quantity int64, price decimal.Decimal) (*model.Position, error) {
	if quantity <= 0 || price.Sign() <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	unlock := e.locks.Lock(accountID)
	defer unlock()

	pos, err := e.loadOrInit(ctx, accountID, symbol)
	if err != nil {
		return nil, err
	}

	qty := decimal.NewFromInt(quantity)
	cost := price.Mul(qty)
	tradeID := uuid.New().String()

	if _, err := e.ledger.Debit(ctx, accountID, cost, model.KindTradeDebit, tradeID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			metrics.RejectedOperations.WithLabelValues("insufficient_funds").Inc()
		}
		return nil, err
	}

	held := decimal.NewFromInt(pos.Quantity)
	totalCost := pos.AvgCost.Mul(held).Add(cost)
	pos.Quantity += quantity
	pos.AvgCost = totalCost.Div(decimal.NewFromInt(pos.Quantity)).Round(pricePlaces(price))
	pos.UpdatedAt = time.Now().UTC()

	if err := e.store.SavePosition(ctx, pos); err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues("buy").Inc()
	slog.Info("buy executed",
		"trade_id", tradeID,
		"account", accountID,
		"symbol", symbol,
		"qty", quantity,
		"price", price.String(),
		"avg_cost", pos.AvgCost.String(),
	)
	return pos, nil
}

// Sell credits quantity × price to cash, decrements the position, and
// appends a RealizedPnl record. The average cost of the remaining lot is
// unchanged. Fails with ErrInsufficientPosition if quantity exceeds the
// holding, leaving all state untouched.
func (e *Engine) Sell(ctx context.Context, accountID, symbol string, quantity int64, price decimal.Decimal) (*model.Position, *model.RealizedPnl, error) {
	if quantity <= 0 || price.Sign() <= 0 {
		return nil, nil, ledger.ErrInvalidAmount
	}

	unlock := e.locks.Lock(accountID)
	defer unlock()

	// Sells only credit cash, so the ledger alone would let a disabled
	// account keep trading; gate here like the debit side does.
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if acct.Disabled {
		return nil, nil, ledger.ErrAccountDisabled
	}

	pos, err := e.store.GetPosition(ctx, accountID, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrInsufficientPosition
		}
		return nil, nil, err
	}
	if quantity > pos.Quantity {
		metrics.RejectedOperations.WithLabelValues("insufficient_position").Inc()
		return nil, nil, ErrInsufficientPosition
	}

	qty := decimal.NewFromInt(quantity)
	proceeds := price.Mul(qty)
	tradeID := uuid.New().String()

	if _, err := e.ledger.Credit(ctx, accountID, proceeds, model.KindTradeCredit, tradeID); err != nil {
		return nil, nil, err
	}

	pnl := price.Sub(pos.AvgCost).Mul(qty)
	now := time.Now().UTC()

	rec := &model.RealizedPnl{
		ID:        tradeID,
		AccountID: accountID,
		Symbol:    symbol,
		Quantity:  quantity,
		Price:     price,
		AvgCost:   pos.AvgCost,
		Pnl:       pnl,
		Timestamp: now,
	}
	if err := e.store.InsertRealizedPnl(ctx, rec); err != nil {
		return nil, nil, err
	}

	pos.Quantity -= quantity
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	pos.UpdatedAt = now
	if err := e.store.SavePosition(ctx, pos); err != nil {
		return nil, nil, err
	}

	metrics.TradesTotal.WithLabelValues("sell").Inc()
	slog.Info("sell executed",
		"trade_id", tradeID,
		"account", accountID,
		"symbol", symbol,
		"qty", quantity,
		"price", price.String(),
		"realized_pnl", pnl.String(),
	)
	return pos, rec, nil
}

// Grant folds shares into the position book without a cash leg. Used by
// IPO allotment, where the cash was already consumed from the blocked
// amount.
func (e *Engine) Grant(ctx context.Context, accountID, symbol string, quantity int64, price decimal.Decimal) (*model.Position, error) {
	if quantity <= 0 || price.Sign() <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	unlock := e.locks.Lock(accountID)
	defer unlock()

	pos, err := e.loadOrInit(ctx, accountID, symbol)
	if err != nil {
		return nil, err
	}

	held := decimal.NewFromInt(pos.Quantity)
	totalCost := pos.AvgCost.Mul(held).Add(price.Mul(decimal.NewFromInt(quantity)))
	pos.Quantity += quantity
	pos.AvgCost = totalCost.Div(decimal.NewFromInt(pos.Quantity)).Round(pricePlaces(price))
	pos.UpdatedAt = time.Now().UTC()

	if err := e.store.SavePosition(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// Portfolio returns the account's positions marked to the injected quote
// function, its realized P&L history, and totals. Read-only.
func (e *Engine) Portfolio(ctx context.Context, accountID string, quote QuoteFunc) (*model.Portfolio, error) {
	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	realized, err := e.store.ListRealizedPnl(ctx, accountID)
	if err != nil {
		return nil, err
	}

	p := &model.Portfolio{
		AccountID: accountID,
		Positions: make([]model.PositionView, 0, len(positions)),
		Realized:  realized,
	}
	if p.Realized == nil {
		p.Realized = []model.RealizedPnl{}
	}

	for _, pos := range positions {
		view := model.PositionView{Position: pos}
		qty := decimal.NewFromInt(pos.Quantity)

		if quote != nil {
			if price, ok := quote(pos.Symbol); ok {
				view.MarketPrice = price
				view.MarketValue = price.Mul(qty)
				view.UnrealizedPnL = price.Sub(pos.AvgCost).Mul(qty)
			}
		}

		p.TotalMarketValue = p.TotalMarketValue.Add(view.MarketValue)
		p.TotalUnrealizedPnL = p.TotalUnrealizedPnL.Add(view.UnrealizedPnL)
		p.Positions = append(p.Positions, view)
	}
	for _, r := range realized {
		p.TotalRealizedPnL = p.TotalRealizedPnL.Add(r.Pnl)
	}
	return p, nil
}

func (e *Engine) loadOrInit(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	pos, err := e.store.GetPosition(ctx, accountID, symbol)
	if err == nil {
		return pos, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return &model.Position{AccountID: accountID, Symbol: symbol}, nil
	}
	return nil, err
}
