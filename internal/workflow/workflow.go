// Package workflow runs the pending → approved/rejected state machine
// shared by deposits, withdrawals, and KYC submissions. The three kinds
// differ only in their decision effects, which are captured in one
// per-kind table consumed by a single decide path — the state transition
// logic itself exists exactly once.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/TheophilusAidoo/Stock-sub001/internal/ledger"
	"github.com/TheophilusAidoo/Stock-sub001/internal/limits"
	"github.com/TheophilusAidoo/Stock-sub001/internal/metrics"
	"github.com/TheophilusAidoo/Stock-sub001/internal/model"
	"github.com/TheophilusAidoo/Stock-sub001/internal/notify"
	"github.com/TheophilusAidoo/Stock-sub001/internal/store"
)

var (
	// ErrAlreadyDecided is returned when deciding a request that is no
	// longer pending. Callers should treat it as "no-op, already handled".
	ErrAlreadyDecided = errors.New("workflow: request already decided")

	// ErrReasonRequired is returned when rejecting a withdrawal without a
	// reason.
	ErrReasonRequired = errors.New("workflow: rejection reason required")

	// ErrAccountDisabled is returned when submitting on a disabled
	// account. Aliased from the ledger so every engine surfaces the same
	// value for the disabled gate.
	ErrAccountDisabled = ledger.ErrAccountDisabled
)

// Engine drives the approval workflows. All balance effects delegate to
// the Ledger; the engine never touches balances directly.
type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	limits *limits.Schedule
	sink   notify.Sink
}

// NewEngine creates a workflow engine.
func NewEngine(st store.Store, l *ledger.Ledger, sched *limits.Schedule, sink notify.Sink) *Engine {
	return &Engine{store: st, ledger: l, limits: sched, sink: sink}
}

// SubmitDeposit records a pending deposit request. No ledger effect until
// approval.
func (e *Engine) SubmitDeposit(ctx context.Context, accountID string, amount decimal.Decimal, method string) (*model.WorkflowRequest, error) {
	if amount.Sign() <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if err := e.checkAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if err := e.limits.CheckDeposit(method, amount); err != nil {
		metrics.RejectedOperations.WithLabelValues("below_minimum").Inc()
		return nil, err
	}

	req := &model.WorkflowRequest{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Kind:      model.RequestDeposit,
		Amount:    amount,
		Method:    method,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	return e.submit(ctx, req)
}

// SubmitWithdrawal records a pending withdrawal and immediately blocks the
// amount, so funds earmarked for payout cannot be spent while the request
// is pending. The fee is fixed from the schedule at submission time.
func (e *Engine) SubmitWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal, method string) (*model.WorkflowRequest, error) {
	if amount.Sign() <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if err := e.checkAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if err := e.limits.CheckWithdrawal(method, amount); err != nil {
		metrics.RejectedOperations.WithLabelValues("below_minimum").Inc()
		return nil, err
	}

	req := &model.WorkflowRequest{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Kind:      model.RequestWithdrawal,
		Amount:    amount,
		Method:    method,
		Fee:       e.limits.WithdrawalFee(method),
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := e.ledger.Block(ctx, accountID, amount, model.KindWithdrawalBlock, req.ID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			metrics.RejectedOperations.WithLabelValues("insufficient_funds").Inc()
		}
		return nil, err
	}
	return e.submit(ctx, req)
}

// SubmitKYC records a pending KYC submission. No ledger effect; approval
// flips the account's verification flag.
func (e *Engine) SubmitKYC(ctx context.Context, accountID, documentRef string) (*model.WorkflowRequest, error) {
	if err := e.checkAccount(ctx, accountID); err != nil {
		return nil, err
	}

	req := &model.WorkflowRequest{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Kind:        model.RequestKYC,
		DocumentRef: documentRef,
		Status:      model.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	return e.submit(ctx, req)
}

// Approve transitions a pending request to Approved and applies its
// effect. Returns ErrAlreadyDecided if the request is terminal.
func (e *Engine) Approve(ctx context.Context, requestID string) (*model.WorkflowRequest, error) {
	return e.decide(ctx, requestID, model.StatusApproved, "")
}

// Reject transitions a pending request to Rejected and applies its
// effect (a full refund of the block, for withdrawals). The reason is
// mandatory for withdrawals, optional otherwise.
func (e *Engine) Reject(ctx context.Context, requestID, reason string) (*model.WorkflowRequest, error) {
	return e.decide(ctx, requestID, model.StatusRejected, reason)
}

// --- Internals ---

func (e *Engine) checkAccount(ctx context.Context, accountID string) error {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.Disabled {
		return ErrAccountDisabled
	}
	return nil
}

func (e *Engine) submit(ctx context.Context, req *model.WorkflowRequest) (*model.WorkflowRequest, error) {
	if err := e.store.InsertRequest(ctx, req); err != nil {
		return nil, err
	}

	slog.Info("request submitted",
		"request_id", req.ID,
		"account", req.AccountID,
		"kind", string(req.Kind),
		"amount", req.Amount.String(),
	)
	e.sink.Emit(notify.Event{
		Type:      string(req.Kind) + "_submitted",
		AccountID: req.AccountID,
		RefID:     req.ID,
		Amount:    req.Amount.String(),
		Status:    string(req.Status),
	})
	return req, nil
}

// decisionEffects are the per-kind ledger/account consequences of a
// decision. A nil effect means the transition itself is the whole effect.
type decisionEffects struct {
	onApprove func(context.Context, *model.WorkflowRequest) error
	onReject  func(context.Context, *model.WorkflowRequest) error
}

func (e *Engine) effectsFor(kind model.RequestKind) decisionEffects {
	switch kind {
	case model.RequestDeposit:
		return decisionEffects{
			onApprove: func(ctx context.Context, req *model.WorkflowRequest) error {
				_, err := e.ledger.Credit(ctx, req.AccountID, req.Amount, model.KindDeposit, req.ID)
				return err
			},
		}
	case model.RequestWithdrawal:
		return decisionEffects{
			onApprove: func(ctx context.Context, req *model.WorkflowRequest) error {
				// Release the hold and pay out amount − fee; the fee is a
				// separate ledger entry. Total balance reduction = amount.
				_, err := e.ledger.SettleDebit(ctx, req.AccountID,
					req.Amount, req.Amount.Sub(req.Fee), req.Fee,
					model.KindWithdrawalRelease, model.KindWithdrawal, req.ID)
				return err
			},
			onReject: func(ctx context.Context, req *model.WorkflowRequest) error {
				// Full refund of the hold.
				_, err := e.ledger.Release(ctx, req.AccountID, req.Amount,
					model.KindWithdrawalRelease, req.ID)
				return err
			},
		}
	case model.RequestKYC:
		return decisionEffects{
			onApprove: func(ctx context.Context, req *model.WorkflowRequest) error {
				return e.ledger.SetVerified(ctx, req.AccountID, true)
			},
		}
	}
	return decisionEffects{}
}

func (e *Engine) decide(ctx context.Context, requestID string, status model.RequestStatus, reason string) (*model.WorkflowRequest, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.StatusPending {
		return nil, ErrAlreadyDecided
	}
	if status == model.StatusRejected && req.Kind == model.RequestWithdrawal && reason == "" {
		return nil, ErrReasonRequired
	}

	// Claim the transition first: the store update succeeds for exactly
	// one decider. Effects run after the claim and are idempotent per
	// correlation id, so a crash-and-retry cannot double-apply them.
	now := time.Now().UTC()
	claimed, err := e.store.DecideRequest(ctx, requestID, status, reason, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadyDecided
	}

	eff := e.effectsFor(req.Kind)
	apply := eff.onApprove
	if status == model.StatusRejected {
		apply = eff.onReject
	}
	if apply != nil {
		if err := apply(ctx, req); err != nil {
			return nil, err
		}
	}

	req.Status = status
	req.Reason = reason
	req.DecidedAt = &now

	metrics.DecisionsTotal.WithLabelValues(string(req.Kind), string(status)).Inc()
	slog.Info("request decided",
		"request_id", req.ID,
		"account", req.AccountID,
		"kind", string(req.Kind),
		"status", string(status),
		"amount", req.Amount.String(),
		"fee", req.Fee.String(),
	)
	e.sink.Emit(notify.Event{
		Type:      string(req.Kind) + "_" + string(status),
		AccountID: req.AccountID,
		RefID:     req.ID,
		Amount:    req.Amount.String(),
		Status:    string(status),
	})
	return req, nil
}
