package workflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TheophilusAidoo/Stock-sub001/internal/ledger"
	"github.com/TheophilusAidoo/Stock-sub001/internal/limits"
	"github.com/TheophilusAidoo/Stock-sub001/internal/model"
	"github.com/TheophilusAidoo/Stock-sub001/internal/notify"
	"github.com/TheophilusAidoo/Stock-sub001/internal/store"
	"github.com/TheophilusAidoo/Stock-sub001/internal/workflow"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a workflow engine over an in-memory store with a
// 10/10 minimum schedule and a flat withdrawal fee of 2.
func newTestEnv(t *testing.T) (*workflow.Engine, *ledger.Ledger, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	l := ledger.New(ms)
	sched := limits.NewSchedule(limits.Method{
		MinDeposit:    d(10),
		MinWithdrawal: d(10),
		WithdrawalFee: d(2),
	})
	eng := workflow.NewEngine(ms, l, sched, notify.Nop{})
	return eng, l, ms
}

func seedAccount(t *testing.T, ms *store.MemoryStore, l *ledger.Ledger, id string, balance float64) {
	t.Helper()
	acct := &model.Account{
		ID:        id,
		Balance:   decimal.Zero,
		Blocked:   decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreateAccount(context.Background(), acct); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	if balance > 0 {
		if _, err := l.Credit(context.Background(), id, d(balance), model.KindDeposit, "seed-"+id); err != nil {
			t.Fatalf("failed to fund account: %v", err)
		}
	}
}

func accountBalance(t *testing.T, ms *store.MemoryStore, id string) *model.Account {
	t.Helper()
	acct, err := ms.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get account: %v", err)
	}
	return acct
}

// --- Deposits ---

func TestDeposit_SubmitHasNoLedgerEffect(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 0)

	req, err := eng.SubmitDeposit(context.Background(), "user1", d(100), "bank")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if req.Status != model.StatusPending {
		t.Errorf("expected pending, got %s", req.Status)
	}

	acct := accountBalance(t, ms, "user1")
	if !acct.Balance.IsZero() {
		t.Errorf("submission must not move funds, balance=%s", acct.Balance)
	}
}

func TestDeposit_ApproveCredits(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 0)

	req, _ := eng.SubmitDeposit(context.Background(), "user1", d(100), "bank")

	decided, err := eng.Approve(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if decided.Status != model.StatusApproved {
		t.Errorf("expected approved, got %s", decided.Status)
	}
	if decided.DecidedAt == nil {
		t.Error("expected decided_at to be set")
	}

	acct := accountBalance(t, ms, "user1")
	if !acct.Balance.Equal(d(100)) {
		t.Errorf("expected balance=100, got %s", acct.Balance)
	}
}

func TestDeposit_RejectHasNoLedgerEffect(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 0)

	req, _ := eng.SubmitDeposit(context.Background(), "user1", d(100), "bank")

	if _, err := eng.Reject(context.Background(), req.ID, "suspicious source"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	acct := accountBalance(t, ms, "user1")
	if !acct.Balance.IsZero() {
		t.Errorf("rejected deposit must not credit, balance=%s", acct.Balance)
	}
}

func TestDeposit_BelowMinimum(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 0)

	_, err := eng.SubmitDeposit(context.Background(), "user1", d(5), "bank")
	if !errors.Is(err, limits.ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}

// --- Withdrawals ---

func TestWithdrawal_SubmitBlocksFunds(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 500)

	req, err := eng.SubmitWithdrawal(context.Background(), "user1", d(200), "bank")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !req.Fee.Equal(d(2)) {
		t.Errorf("expected fee=2 fixed at submission, got %s", req.Fee)
	}

	acct := accountBalance(t, ms, "user1")
	if !acct.Balance.Equal(d(500)) {
		t.Errorf("balance must be unchanged until approval, got %s", acct.Balance)
	}
	if !acct.Blocked.Equal(d(200)) {
		t.Errorf("expected blocked=200, got %s", acct.Blocked)
	}
}

func TestWithdrawal_SubmitInsufficientSpendable(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 100)

	_, err := eng.SubmitWithdrawal(context.Background(), "user1", d(150), "bank")
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestWithdrawal_ApproveDebitsAmountWithFeeEntry(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 500)

	req, _ := eng.SubmitWithdrawal(context.Background(), "user1", d(200), "bank")

	if _, err := eng.Approve(context.Background(), req.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	// Total balance reduction equals the requested amount: 198 paid out,
	// 2 retained as fee.
	acct := accountBalance(t, ms, "user1")
	if !acct.Balance.Equal(d(300)) {
		t.Errorf("expected balance=300, got %s", acct.Balance)
	}
	if !acct.Blocked.IsZero() {
		t.Errorf("expected blocked=0, got %s", acct.Blocked)
	}

	entries, _ := ms.ListEntriesByCorrelation(context.Background(), req.ID)
	var feeSeen, payoutSeen bool
	for _, e := range entries {
		switch e.Kind {
		case model.KindFee:
			feeSeen = true
			if !e.Amount.Equal(d(-2)) {
				t.Errorf("expected fee entry=-2, got %s", e.Amount)
			}
		case model.KindWithdrawal:
			payoutSeen = true
			if !e.Amount.Equal(d(-198)) {
				t.Errorf("expected payout entry=-198, got %s", e.Amount)
			}
		}
	}
	if !feeSeen || !payoutSeen {
		t.Errorf("expected fee and payout entries, got %d entries", len(entries))
	}
}

func TestWithdrawal_RejectRefundsHold(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 500)

	req, _ := eng.SubmitWithdrawal(context.Background(), "user1", d(200), "bank")

	decided, err := eng.Reject(context.Background(), req.ID, "bank details mismatch")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if decided.Reason != "bank details mismatch" {
		t.Errorf("expected reason recorded, got %q", decided.Reason)
	}

	// Full refund, no fee on rejection.
	acct := accountBalance(t, ms, "user1")
	if !acct.Balance.Equal(d(500)) {
		t.Errorf("expected balance=500, got %s", acct.Balance)
	}
	if !acct.Spendable().Equal(d(500)) {
		t.Errorf("expected spendable=500, got %s", acct.Spendable())
	}
}

func TestWithdrawal_RejectRequiresReason(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 500)

	req, _ := eng.SubmitWithdrawal(context.Background(), "user1", d(200), "bank")

	_, err := eng.Reject(context.Background(), req.ID, "")
	if !errors.Is(err, workflow.ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}

	// Request still pending, hold still in place.
	got, _ := ms.GetRequest(context.Background(), req.ID)
	if got.Status != model.StatusPending {
		t.Errorf("request should remain pending, got %s", got.Status)
	}
	acct := accountBalance(t, ms, "user1")
	if !acct.Blocked.Equal(d(200)) {
		t.Errorf("hold should remain, blocked=%s", acct.Blocked)
	}
}

// --- Terminal immutability ---

func TestDecide_TerminalIsImmutable(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 500)

	req, _ := eng.SubmitDeposit(context.Background(), "user1", d(100), "bank")
	eng.Approve(context.Background(), req.ID)

	if _, err := eng.Approve(context.Background(), req.ID); !errors.Is(err, workflow.ErrAlreadyDecided) {
		t.Errorf("expected ErrAlreadyDecided on double approve, got %v", err)
	}
	if _, err := eng.Reject(context.Background(), req.ID, "too late"); !errors.Is(err, workflow.ErrAlreadyDecided) {
		t.Errorf("expected ErrAlreadyDecided on reject after approve, got %v", err)
	}

	// Balance credited exactly once.
	acct := accountBalance(t, ms, "user1")
	if !acct.Balance.Equal(d(600)) {
		t.Errorf("expected balance=600, got %s", acct.Balance)
	}
}

// --- KYC ---

func TestKYC_ApproveSetsVerified(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 0)

	req, err := eng.SubmitKYC(context.Background(), "user1", "doc-123")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if _, err := eng.Approve(context.Background(), req.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	acct := accountBalance(t, ms, "user1")
	if !acct.Verified {
		t.Error("expected account verified after KYC approval")
	}
}

func TestKYC_RejectWithoutReasonAllowed(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 0)

	req, _ := eng.SubmitKYC(context.Background(), "user1", "doc-123")

	// Reason is only mandatory for withdrawals.
	decided, err := eng.Reject(context.Background(), req.ID, "")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if decided.Status != model.StatusRejected {
		t.Errorf("expected rejected, got %s", decided.Status)
	}

	acct := accountBalance(t, ms, "user1")
	if acct.Verified {
		t.Error("rejected KYC must not verify the account")
	}
}

// --- Disabled accounts ---

func TestSubmit_DisabledAccount(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 500)
	if err := l.SetDisabled(context.Background(), "user1", true); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	if _, err := eng.SubmitDeposit(context.Background(), "user1", d(100), "bank"); !errors.Is(err, workflow.ErrAccountDisabled) {
		t.Errorf("expected ErrAccountDisabled for deposit, got %v", err)
	}
	if _, err := eng.SubmitWithdrawal(context.Background(), "user1", d(100), "bank"); !errors.Is(err, workflow.ErrAccountDisabled) {
		t.Errorf("expected ErrAccountDisabled for withdrawal, got %v", err)
	}
	if _, err := eng.SubmitKYC(context.Background(), "user1", "doc-1"); !errors.Is(err, workflow.ErrAccountDisabled) {
		t.Errorf("expected ErrAccountDisabled for kyc, got %v", err)
	}
}

func TestSubmit_UnknownAccount(t *testing.T) {
	eng, _, _ := newTestEnv(t)

	_, err := eng.SubmitDeposit(context.Background(), "ghost", d(100), "bank")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Racing deciders must claim the transition exactly once: one approval
// wins, the rest see AlreadyDecided, and the credit lands a single time.
func TestDecide_ConcurrentApprovalsClaimOnce(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 0)
	ctx := context.Background()

	req, err := eng.SubmitDeposit(ctx, "user1", d(100), "bank")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	const deciders = 20
	var wg sync.WaitGroup
	var approved atomic.Int64
	for i := 0; i < deciders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Approve(ctx, req.ID)
			switch {
			case err == nil:
				approved.Add(1)
			case errors.Is(err, workflow.ErrAlreadyDecided):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if approved.Load() != 1 {
		t.Errorf("expected exactly 1 winning approval, got %d", approved.Load())
	}
	acct := accountBalance(t, ms, "user1")
	if !acct.Balance.Equal(d(100)) {
		t.Errorf("expected balance=100 after one credit, got %s", acct.Balance)
	}
}

// An approve racing a reject on the same withdrawal must produce exactly
// one outcome: either the payout or the refund, never both.
func TestDecide_ApproveRejectRaceIsExclusive(t *testing.T) {
	eng, l, ms := newTestEnv(t)
	seedAccount(t, ms, l, "user1", 500)
	ctx := context.Background()

	req, err := eng.SubmitWithdrawal(ctx, "user1", d(200), "bank")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	var wg sync.WaitGroup
	outcomes := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, outcomes[0] = eng.Approve(ctx, req.ID)
	}()
	go func() {
		defer wg.Done()
		_, outcomes[1] = eng.Reject(ctx, req.ID, "manual review")
	}()
	wg.Wait()

	var wins int
	for _, err := range outcomes {
		if err == nil {
			wins++
		} else if !errors.Is(err, workflow.ErrAlreadyDecided) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning decision, got %d", wins)
	}

	acct := accountBalance(t, ms, "user1")
	if !acct.Blocked.IsZero() {
		t.Errorf("expected hold fully resolved, got blocked=%s", acct.Blocked)
	}
	// Approve leaves 300 (amount + fee consumed); reject refunds to 500.
	if !acct.Balance.Equal(d(300)) && !acct.Balance.Equal(d(500)) {
		t.Errorf("balance %s matches neither outcome", acct.Balance)
	}
}
