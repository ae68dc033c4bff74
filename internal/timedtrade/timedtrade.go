// Package timedtrade runs short-lived wager contracts: a stake is blocked
// at open and settled into the ledger exactly once when an administrator
// sets the result. Expiry does not settle a trade — an explicit decision
// is required even after the expiry has passed.
package timedtrade

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
	"github.com/TheophilusAidoo/Stock-sub001/internal/notify"
	"github.com/TheophilusAidoo/Stock-sub001/internal/store"
)

var (
	// ErrAlreadyDecided is returned when setting a result on a trade that
	// is no longer pending.
	ErrAlreadyDecided = errors.New("timedtrade: trade already settled")

	// ErrInvalidResult is returned for results other than win/lose/draw.
	ErrInvalidResult = errors.New("timedtrade: result must be win, lose, or draw")
)

// Engine opens and settles timed trades. Stake moves are delegated to the
// Ledger; settlement is claimed through the store's conditional update so
// at most one caller applies the effect.
type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	sink   notify.Sink
}

// NewEngine creates a timed-trade engine.
func NewEngine(st store.Store, l *ledger.Ledger, sink notify.Sink) *Engine {
	return &Engine{store: st, ledger: l, sink: sink}
}

// Open blocks the stake and records a pending trade expiring after
// duration. The stake is reserved, not debited: a losing trade consumes
// it at settlement, any other outcome returns it.
func (e *Engine) Open(ctx context.Context, accountID string, stake decimal.Decimal, duration time.Duration, profitRate decimal.Decimal) (*model.TimedTrade, error) {
	if stake.Sign() <= 0 || profitRate.Sign() <= 0 || duration <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	now := time.Now().UTC()
	trade := &model.TimedTrade{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Stake:      stake,
		ProfitRate: profitRate,
		Result:     model.ResultPending,
		ExpiresAt:  now.Add(duration),
		CreatedAt:  now,
	}

	if _, err := e.ledger.Block(ctx, accountID, stake, model.KindTradeBlock, trade.ID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			metrics.RejectedOperations.WithLabelValues("insufficient_funds").Inc()
		}
		return nil, err
	}
	if err := e.store.InsertTimedTrade(ctx, trade); err != nil {
		return nil, err
	}

	slog.Info("timed trade opened",
		"trade_id", trade.ID,
		"account", accountID,
		"stake", stake.String(),
		"profit_rate", profitRate.String(),
		"expires_at", trade.ExpiresAt,
	)
	e.sink.Emit(notify.Event{
		Type:      "timed_trade_opened",
		AccountID: accountID,
		RefID:     trade.ID,
		Amount:    stake.String(),
		Status:    string(model.ResultPending),
	})
	return trade, nil
}

// SetResult settles a pending trade. Win releases the stake and credits
// stake × profitRate; Lose releases then consumes the stake; Draw only
// releases. The ledger effect is applied exactly once per trade id.
func (e *Engine) SetResult(ctx context.Context, tradeID string, result model.TradeResult) (*model.TimedTrade, error) {
	switch result {
	case model.ResultWin, model.ResultLose, model.ResultDraw:
	default:
		return nil, ErrInvalidResult
	}

	trade, err := e.store.GetTimedTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Result != model.ResultPending {
		return nil, ErrAlreadyDecided
	}

	now := time.Now().UTC()
	claimed, err := e.store.SettleTimedTrade(ctx, tradeID, result, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadyDecided
	}

	switch result {
	case model.ResultWin:
		profit := trade.Stake.Mul(trade.ProfitRate)
		_, err = e.ledger.SettleCredit(ctx, trade.AccountID,
			trade.Stake, profit,
			model.KindTradeRelease, model.KindTradeCredit, trade.ID)
	case model.ResultLose:
		_, err = e.ledger.SettleDebit(ctx, trade.AccountID,
			trade.Stake, trade.Stake, decimal.Zero,
			model.KindTradeRelease, model.KindTradeDebit, trade.ID)
	case model.ResultDraw:
		_, err = e.ledger.Release(ctx, trade.AccountID, trade.Stake,
			model.KindTradeRelease, trade.ID)
	}
	if err != nil {
		return nil, err
	}

	trade.Result = result
	trade.DecidedAt = &now

	metrics.TimedTradeSettlements.WithLabelValues(string(result)).Inc()
	slog.Info("timed trade settled",
		"trade_id", trade.ID,
		"account", trade.AccountID,
		"result", string(result),
		"stake", trade.Stake.String(),
		"overdue", trade.Expired(now),
	)
	e.sink.Emit(notify.Event{
		Type:      "timed_trade_settled",
		AccountID: trade.AccountID,
		RefID:     trade.ID,
		Amount:    trade.Stake.String(),
		Status:    string(result),
	})
	return trade, nil
}
