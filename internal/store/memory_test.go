package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TheophilusAidoo/Stock-sub001/internal/model"
	"github.com/TheophilusAidoo/Stock-sub001/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestAccountCRUD(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	acct := &model.Account{ID: "a1", Balance: d(100), Blocked: decimal.Zero, CreatedAt: time.Now().UTC()}
	if err := ms.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := ms.CreateAccount(ctx, acct); err == nil {
		t.Error("duplicate create should fail")
	}

	got, err := ms.GetAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Balance.Equal(d(100)) {
		t.Errorf("expected balance=100, got %s", got.Balance)
	}

	// Reads return copies: mutating the result must not affect the store.
	got.Balance = d(999)
	again, _ := ms.GetAccount(ctx, "a1")
	if !again.Balance.Equal(d(100)) {
		t.Errorf("store mutated through a read copy, balance=%s", again.Balance)
	}

	if _, err := ms.GetAccount(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLedgerCorrelationLookup(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	block := &model.LedgerEntry{ID: "e1", AccountID: "a1", Kind: model.KindWithdrawalBlock, CorrelationID: "req-1"}
	release := &model.LedgerEntry{ID: "e2", AccountID: "a1", Kind: model.KindWithdrawalRelease, CorrelationID: "req-1"}
	ms.InsertLedgerEntry(ctx, block)
	ms.InsertLedgerEntry(ctx, release)

	// Lookup is keyed by (correlation, kind), so block and release under
	// the same correlation resolve independently.
	got, err := ms.GetEntryByCorrelation(ctx, "req-1", model.KindWithdrawalBlock)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.ID != "e1" {
		t.Errorf("expected e1, got %s", got.ID)
	}

	if _, err := ms.GetEntryByCorrelation(ctx, "req-1", model.KindDeposit); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for absent kind, got %v", err)
	}

	group, _ := ms.ListEntriesByCorrelation(ctx, "req-1")
	if len(group) != 2 {
		t.Errorf("expected 2 entries for correlation, got %d", len(group))
	}
}

func TestDecideRequest_ClaimsOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	req := &model.WorkflowRequest{ID: "r1", AccountID: "a1", Kind: model.RequestDeposit, Status: model.StatusPending}
	ms.InsertRequest(ctx, req)

	now := time.Now().UTC()
	claimed, err := ms.DecideRequest(ctx, "r1", model.StatusApproved, "", now)
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if !claimed {
		t.Fatal("first decide should claim")
	}

	// Second decider loses the claim without error.
	claimed, err = ms.DecideRequest(ctx, "r1", model.StatusRejected, "late", now)
	if err != nil {
		t.Fatalf("second decide errored: %v", err)
	}
	if claimed {
		t.Error("second decide must not claim")
	}

	got, _ := ms.GetRequest(ctx, "r1")
	if got.Status != model.StatusApproved {
		t.Errorf("expected approved to stick, got %s", got.Status)
	}

	if _, err := ms.DecideRequest(ctx, "ghost", model.StatusApproved, "", now); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSettleTimedTrade_ClaimsOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	trade := &model.TimedTrade{ID: "t1", AccountID: "a1", Stake: d(100), Result: model.ResultPending}
	ms.InsertTimedTrade(ctx, trade)

	now := time.Now().UTC()
	claimed, _ := ms.SettleTimedTrade(ctx, "t1", model.ResultWin, now)
	if !claimed {
		t.Fatal("first settle should claim")
	}
	claimed, _ = ms.SettleTimedTrade(ctx, "t1", model.ResultLose, now)
	if claimed {
		t.Error("second settle must not claim")
	}

	got, _ := ms.GetTimedTrade(ctx, "t1")
	if got.Result != model.ResultWin {
		t.Errorf("expected win to stick, got %s", got.Result)
	}
}

func TestDecideApplication_ClaimsOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	app := &model.IpoApplication{ID: "ap1", AccountID: "a1", Status: model.AppPendingAllotment}
	ms.InsertApplication(ctx, app)

	now := time.Now().UTC()
	claimed, _ := ms.DecideApplication(ctx, "ap1", model.AppAllotted, now)
	if !claimed {
		t.Fatal("first decide should claim")
	}
	claimed, _ = ms.DecideApplication(ctx, "ap1", model.AppNotAllotted, now)
	if claimed {
		t.Error("second decide must not claim")
	}
}

func TestListIPOs_PreservesCreationOrder(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"i1", "i2", "i3"} {
		if err := ms.CreateIPO(ctx, &model.IPO{ID: id, Symbol: "S" + id, PricePerShare: d(10), LotSize: 1}); err != nil {
			t.Fatalf("create ipo failed: %v", err)
		}
	}

	ipos, err := ms.ListIPOs(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ipos) != 3 {
		t.Fatalf("expected 3 ipos, got %d", len(ipos))
	}
	for i, want := range []string{"i1", "i2", "i3"} {
		if ipos[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, ipos[i].ID)
		}
	}
}

func TestCloseIPO_ClaimsOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreateIPO(ctx, &model.IPO{ID: "i1", Symbol: "NEWCO", PricePerShare: d(10), LotSize: 1, Status: model.IPOOpen}); err != nil {
		t.Fatalf("create ipo failed: %v", err)
	}

	closed, err := ms.CloseIPO(ctx, "i1")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !closed {
		t.Fatal("expected first close to claim")
	}

	closed, err = ms.CloseIPO(ctx, "i1")
	if err != nil {
		t.Fatalf("second close errored: %v", err)
	}
	if closed {
		t.Error("expected second close to be a no-op")
	}

	offering, _ := ms.GetIPO(ctx, "i1")
	if offering.Status != model.IPOClosed {
		t.Errorf("expected closed status, got %s", offering.Status)
	}

	if _, err := ms.CloseIPO(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPositionsIsolatedByAccount(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.SavePosition(ctx, &model.Position{AccountID: "a1", Symbol: "AAPL", Quantity: 10, AvgCost: d(100)})
	ms.SavePosition(ctx, &model.Position{AccountID: "a1", Symbol: "MSFT", Quantity: 5, AvgCost: d(200)})
	ms.SavePosition(ctx, &model.Position{AccountID: "a2", Symbol: "AAPL", Quantity: 7, AvgCost: d(90)})

	list, err := ms.ListPositions(ctx, "a1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 positions for a1, got %d", len(list))
	}

	pos, err := ms.GetPosition(ctx, "a2", "AAPL")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if pos.Quantity != 7 {
		t.Errorf("expected quantity=7, got %d", pos.Quantity)
	}
}
