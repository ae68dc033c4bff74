// Package ipo manages offerings and the application lifecycle: funds are
// blocked at application and exactly one of {debited on allotment,
// released on rejection} happens, exactly once. Allotment also credits
// the shares into the position book at the effective price.
package ipo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/TheophilusAidoo/Stock-sub001/internal/ledger"
	"github.com/TheophilusAidoo/Stock-sub001/internal/metrics"
	"github.com/TheophilusAidoo/Stock-sub001/internal/model"
	"github.com/TheophilusAidoo/Stock-sub001/internal/notify"
	"github.com/TheophilusAidoo/Stock-sub001/internal/position"
	"github.com/TheophilusAidoo/Stock-sub001/internal/store"
)

var (
	// ErrBelowMinimumInvestment is returned when the application amount is
	// under the offering's minimum.
	ErrBelowMinimumInvestment = errors.New("ipo: amount below minimum investment")

	// ErrAlreadyDecided is returned when deciding an application that is
	// no longer pending allotment.
	ErrAlreadyDecided = errors.New("ipo: application already decided")

	// ErrInvalidOffering is returned for offerings with non-positive
	// price or lot size, or a discount at or above the offer price.
	ErrInvalidOffering = errors.New("ipo: invalid offering parameters")

	// ErrOfferingClosed is returned when applying to a closed offering,
	// or closing one twice.
	ErrOfferingClosed = errors.New("ipo: offering closed")
)

// Engine manages IPO offerings and applications.
type Engine struct {
	store     store.Store
	ledger    *ledger.Ledger
	positions *position.Engine
	sink      notify.Sink
}

// NewEngine creates an IPO engine.
func NewEngine(st store.Store, l *ledger.Ledger, pos *position.Engine, sink notify.Sink) *Engine {
	return &Engine{store: st, ledger: l, positions: pos, sink: sink}
}

// CreateOffering registers a new offering. Admin-initiated.
func (e *Engine) CreateOffering(ctx context.Context, symbol, name string, pricePerShare, discountPrice decimal.Decimal, lotSize int64, minInvestment decimal.Decimal) (*model.IPO, error) {
	if pricePerShare.Sign() <= 0 || lotSize <= 0 || minInvestment.Sign() < 0 {
		return nil, ErrInvalidOffering
	}
	if discountPrice.Sign() < 0 || (discountPrice.Sign() > 0 && discountPrice.GreaterThanOrEqual(pricePerShare)) {
		return nil, fmt.Errorf("%w: discount %s against price %s", ErrInvalidOffering, discountPrice, pricePerShare)
	}

	offering := &model.IPO{
		ID:            uuid.New().String(),
		Symbol:        symbol,
		Name:          name,
		PricePerShare: pricePerShare,
		DiscountPrice: discountPrice,
		LotSize:       lotSize,
		MinInvestment: minInvestment,
		Status:        model.IPOOpen,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.store.CreateIPO(ctx, offering); err != nil {
		return nil, err
	}

	slog.Info("ipo offering created",
		"ipo_id", offering.ID,
		"symbol", symbol,
		"price", pricePerShare.String(),
		"lot_size", lotSize,
	)
	return offering, nil
}

// Apply blocks lots × effectivePrice × lotSize against the account and
// records a pending application.
func (e *Engine) Apply(ctx context.Context, accountID, ipoID string, lots int64) (*model.IpoApplication, error) {
	if lots <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	offering, err := e.store.GetIPO(ctx, ipoID)
	if err != nil {
		return nil, err
	}
	if offering.Status != model.IPOOpen {
		return nil, fmt.Errorf("%w: %s", ErrOfferingClosed, offering.Symbol)
	}

	amount := offering.EffectivePrice().
		Mul(decimal.NewFromInt(offering.LotSize)).
		Mul(decimal.NewFromInt(lots))
	if amount.LessThan(offering.MinInvestment) {
		metrics.RejectedOperations.WithLabelValues("below_minimum").Inc()
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimumInvestment, amount, offering.MinInvestment)
	}

	app := &model.IpoApplication{
		ID:        uuid.New().String(),
		AccountID: accountID,
		IpoID:     ipoID,
		Lots:      lots,
		Amount:    amount,
		Status:    model.AppPendingAllotment,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := e.ledger.Block(ctx, accountID, amount, model.KindIPOBlock, app.ID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			metrics.RejectedOperations.WithLabelValues("insufficient_funds").Inc()
		}
		return nil, err
	}
	if err := e.store.InsertApplication(ctx, app); err != nil {
		return nil, err
	}

	slog.Info("ipo application submitted",
		"application_id", app.ID,
		"account", accountID,
		"ipo_id", ipoID,
		"lots", lots,
		"amount", amount.String(),
	)
	e.sink.Emit(notify.Event{
		Type:      "ipo_applied",
		AccountID: accountID,
		RefID:     app.ID,
		Amount:    amount.String(),
		Status:    string(app.Status),
	})
	return app, nil
}

// Close stops new applications for the offering. Pending applications
// are unaffected and are still decided individually.
func (e *Engine) Close(ctx context.Context, ipoID string) (*model.IPO, error) {
	closed, err := e.store.CloseIPO(ctx, ipoID)
	if err != nil {
		return nil, err
	}
	if !closed {
		if _, err := e.store.GetIPO(ctx, ipoID); err != nil {
			return nil, err
		}
		return nil, ErrOfferingClosed
	}

	offering, err := e.store.GetIPO(ctx, ipoID)
	if err != nil {
		return nil, err
	}
	slog.Info("ipo offering closed", "ipo_id", ipoID, "symbol", offering.Symbol)
	return offering, nil
}

// Allot consumes the blocked amount (release + debit in one serialized
// ledger step) and credits the shares into the position book.
func (e *Engine) Allot(ctx context.Context, applicationID string) (*model.IpoApplication, error) {
	app, offering, err := e.claim(ctx, applicationID, model.AppAllotted)
	if err != nil {
		return nil, err
	}

	if _, err := e.ledger.SettleDebit(ctx, app.AccountID,
		app.Amount, app.Amount, decimal.Zero,
		model.KindIPORelease, model.KindIPODebit, app.ID); err != nil {
		return nil, err
	}

	shares := app.Lots * offering.LotSize
	if _, err := e.positions.Grant(ctx, app.AccountID, offering.Symbol, shares, offering.EffectivePrice()); err != nil {
		return nil, err
	}

	e.finish(app, "ipo_allotted")
	return app, nil
}

// Reject releases the blocked amount in full.
func (e *Engine) Reject(ctx context.Context, applicationID string) (*model.IpoApplication, error) {
	app, _, err := e.claim(ctx, applicationID, model.AppNotAllotted)
	if err != nil {
		return nil, err
	}

	if _, err := e.ledger.Release(ctx, app.AccountID, app.Amount,
		model.KindIPORelease, app.ID); err != nil {
		return nil, err
	}

	e.finish(app, "ipo_not_allotted")
	return app, nil
}

// claim atomically transitions the application out of PendingAllotment.
// At most one caller wins; everyone else gets ErrAlreadyDecided.
func (e *Engine) claim(ctx context.Context, applicationID string, status model.ApplicationStatus) (*model.IpoApplication, *model.IPO, error) {
	app, err := e.store.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, nil, err
	}
	if app.Status != model.AppPendingAllotment {
		return nil, nil, ErrAlreadyDecided
	}

	offering, err := e.store.GetIPO(ctx, app.IpoID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	claimed, err := e.store.DecideApplication(ctx, applicationID, status, now)
	if err != nil {
		return nil, nil, err
	}
	if !claimed {
		return nil, nil, ErrAlreadyDecided
	}

	app.Status = status
	app.DecidedAt = &now
	return app, offering, nil
}

func (e *Engine) finish(app *model.IpoApplication, eventType string) {
	metrics.IpoDecisionsTotal.WithLabelValues(string(app.Status)).Inc()
	slog.Info("ipo application decided",
		"application_id", app.ID,
		"account", app.AccountID,
		"status", string(app.Status),
		"amount", app.Amount.String(),
	)
	e.sink.Emit(notify.Event{
		Type:      eventType,
		AccountID: app.AccountID,
		RefID:     app.ID,
		Amount:    app.Amount.String(),
		Status:    string(app.Status),
	})
}
