// Package ledger implements the balance mutation core. It is the sole
// writer of account balances and blocked amounts: every credit, debit,
// block, and release funnels through here, appends an immutable ledger
// entry, and is serialized per account.
//
// Operations are idempotent per (correlation id, kind): replaying an
// operation with a correlation id it has already applied returns the
// original entry and mutates nothing.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/TheophilusAidoo/Stock-sub001/internal/metrics"
	"github.com/TheophilusAidoo/Stock-sub001/internal/model"
	"github.com/TheophilusAidoo/Stock-sub001/internal/store"
)

var (
	// ErrInvalidAmount is returned when an operation amount is not positive.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInsufficientFunds is returned when a debit or block exceeds the
	// account's spendable balance (balance minus blocked).
	ErrInsufficientFunds = errors.New("ledger: insufficient spendable balance")

	// ErrInvariantViolation signals a bug, not user error: an operation
	// that would drive the blocked counter negative.
	ErrInvariantViolation = errors.New("ledger: invariant violation")

	// ErrAccountDisabled is returned when a debit or block is attempted
	// on a soft-disabled account. Credits and settlements of holds taken
	// before the disable still apply.
	ErrAccountDisabled = errors.New("ledger: account is disabled")
)

// Ledger mutates account balances against a Store. All public operations
// acquire the per-account lock around {read → validate → mutate → append},
// so two concurrent approvals cannot both read a stale spendable balance.
type Ledger struct {
	store store.Store
	locks KeyedMutex
}

// New creates a ledger over the given store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Credit increases the account balance by amount and appends an entry.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount decimal.Decimal, kind model.EntryKind, correlationID string) (*model.LedgerEntry, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	if prior, ok, err := l.replayed(ctx, correlationID, kind); err != nil {
		return nil, err
	} else if ok {
		return prior, nil
	}

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	acct.Balance = acct.Balance.Add(amount)
	entry := l.newEntry(acct, kind, amount, correlationID)
	return entry, l.write(ctx, acct, entry)
}

// Debit decreases the account balance by amount. Fails with
// ErrInsufficientFunds when amount exceeds the spendable balance.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount decimal.Decimal, kind model.EntryKind, correlationID string) (*model.LedgerEntry, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	if prior, ok, err := l.replayed(ctx, correlationID, kind); err != nil {
		return nil, err
	} else if ok {
		return prior, nil
	}

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Disabled {
		return nil, ErrAccountDisabled
	}
	if acct.Spendable().LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	acct.Balance = acct.Balance.Sub(amount)
	entry := l.newEntry(acct, kind, amount.Neg(), correlationID)
	return entry, l.write(ctx, acct, entry)
}

// Block reserves amount against the account. The balance is unchanged;
// the spendable balance drops by amount. Appends a zero-amount hold entry.
func (l *Ledger) Block(ctx context.Context, accountID string, amount decimal.Decimal, kind model.EntryKind, correlationID string) (*model.LedgerEntry, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	if prior, ok, err := l.replayed(ctx, correlationID, kind); err != nil {
		return nil, err
	} else if ok {
		return prior, nil
	}

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Disabled {
		return nil, ErrAccountDisabled
	}
	if acct.Spendable().LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	acct.Blocked = acct.Blocked.Add(amount)
	entry := l.newEntry(acct, kind, decimal.Zero, correlationID)
	return entry, l.write(ctx, acct, entry)
}

// Release returns a previously blocked amount to the spendable balance.
// Fails with ErrInvariantViolation if it would drive blocked negative.
func (l *Ledger) Release(ctx context.Context, accountID string, amount decimal.Decimal, kind model.EntryKind, correlationID string) (*model.LedgerEntry, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	if prior, ok, err := l.replayed(ctx, correlationID, kind); err != nil {
		return nil, err
	} else if ok {
		return prior, nil
	}

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Blocked.LessThan(amount) {
		slog.Error("release exceeds blocked amount",
			"account", accountID,
			"blocked", acct.Blocked.String(),
			"amount", amount.String(),
			"correlation_id", correlationID,
		)
		return nil, fmt.Errorf("%w: release %s exceeds blocked %s",
			ErrInvariantViolation, amount, acct.Blocked)
	}

	acct.Blocked = acct.Blocked.Sub(amount)
	entry := l.newEntry(acct, kind, decimal.Zero, correlationID)
	return entry, l.write(ctx, acct, entry)
}

// SettleDebit consumes a hold: it releases the blocked amount and debits
// debit (plus an optional fee entry) in one serialized step, so no other
// operation can spend the released funds in between. Used by withdrawal
// approval, IPO allotment, and losing timed trades.
func (l *Ledger) SettleDebit(ctx context.Context, accountID string, hold, debit, fee decimal.Decimal, releaseKind, debitKind model.EntryKind, correlationID string) ([]model.LedgerEntry, error) {
	if hold.Sign() <= 0 || debit.Sign() <= 0 || fee.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	if prior, ok, err := l.replayedGroup(ctx, correlationID, releaseKind); err != nil {
		return nil, err
	} else if ok {
		return prior, nil
	}

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Blocked.LessThan(hold) {
		slog.Error("settlement release exceeds blocked amount",
			"account", accountID,
			"blocked", acct.Blocked.String(),
			"hold", hold.String(),
			"correlation_id", correlationID,
		)
		return nil, fmt.Errorf("%w: release %s exceeds blocked %s",
			ErrInvariantViolation, hold, acct.Blocked)
	}

	total := debit.Add(fee)
	if acct.Balance.Sub(acct.Blocked.Sub(hold)).LessThan(total) {
		return nil, ErrInsufficientFunds
	}

	acct.Blocked = acct.Blocked.Sub(hold)
	entries := []*model.LedgerEntry{l.newEntry(acct, releaseKind, decimal.Zero, correlationID)}

	acct.Balance = acct.Balance.Sub(debit)
	entries = append(entries, l.newEntry(acct, debitKind, debit.Neg(), correlationID))

	if fee.Sign() > 0 {
		acct.Balance = acct.Balance.Sub(fee)
		entries = append(entries, l.newEntry(acct, model.KindFee, fee.Neg(), correlationID))
	}

	return l.writeAll(ctx, acct, entries)
}

// SettleCredit releases a hold and credits an amount in one serialized
// step. Used by winning timed trades (release stake, credit profit).
func (l *Ledger) SettleCredit(ctx context.Context, accountID string, hold, credit decimal.Decimal, releaseKind, creditKind model.EntryKind, correlationID string) ([]model.LedgerEntry, error) {
	if hold.Sign() <= 0 || credit.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	if prior, ok, err := l.replayedGroup(ctx, correlationID, releaseKind); err != nil {
		return nil, err
	} else if ok {
		return prior, nil
	}

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Blocked.LessThan(hold) {
		slog.Error("settlement release exceeds blocked amount",
			"account", accountID,
			"blocked", acct.Blocked.String(),
			"hold", hold.String(),
			"correlation_id", correlationID,
		)
		return nil, fmt.Errorf("%w: release %s exceeds blocked %s",
			ErrInvariantViolation, hold, acct.Blocked)
	}

	acct.Blocked = acct.Blocked.Sub(hold)
	entries := []*model.LedgerEntry{l.newEntry(acct, releaseKind, decimal.Zero, correlationID)}

	acct.Balance = acct.Balance.Add(credit)
	entries = append(entries, l.newEntry(acct, creditKind, credit, correlationID))

	return l.writeAll(ctx, acct, entries)
}

// SetVerified flips the account's KYC flag under the account lock, so the
// write cannot clobber a concurrent balance mutation.
func (l *Ledger) SetVerified(ctx context.Context, accountID string, verified bool) error {
	unlock := l.locks.Lock(accountID)
	defer unlock()

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	acct.Verified = verified
	return l.store.UpdateAccount(ctx, acct)
}

// SetDisabled soft-disables (or re-enables) the account.
func (l *Ledger) SetDisabled(ctx context.Context, accountID string, disabled bool) error {
	unlock := l.locks.Lock(accountID)
	defer unlock()

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	acct.Disabled = disabled
	return l.store.UpdateAccount(ctx, acct)
}

// --- Internals ---

// replayed reports whether (correlationID, kind) was already applied and
// returns the original entry when it was.
func (l *Ledger) replayed(ctx context.Context, correlationID string, kind model.EntryKind) (*model.LedgerEntry, bool, error) {
	entry, err := l.store.GetEntryByCorrelation(ctx, correlationID, kind)
	if err == nil {
		return entry, true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	return nil, false, err
}

// replayedGroup is the composite-operation variant: if the leading entry
// kind was applied, the whole group was, and all its entries are returned.
func (l *Ledger) replayedGroup(ctx context.Context, correlationID string, leadKind model.EntryKind) ([]model.LedgerEntry, bool, error) {
	if _, ok, err := l.replayed(ctx, correlationID, leadKind); err != nil || !ok {
		return nil, false, err
	}
	entries, err := l.store.ListEntriesByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

func (l *Ledger) newEntry(acct *model.Account, kind model.EntryKind, amount decimal.Decimal, correlationID string) *model.LedgerEntry {
	return &model.LedgerEntry{
		ID:            uuid.New().String(),
		AccountID:     acct.ID,
		Kind:          kind,
		Amount:        amount,
		Balance:       acct.Balance,
		Blocked:       acct.Blocked,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
}

func (l *Ledger) write(ctx context.Context, acct *model.Account, entry *model.LedgerEntry) error {
	if err := l.store.UpdateAccount(ctx, acct); err != nil {
		return err
	}
	if err := l.store.InsertLedgerEntry(ctx, entry); err != nil {
		return err
	}
	metrics.LedgerEntriesTotal.WithLabelValues(string(entry.Kind)).Inc()
	return nil
}

func (l *Ledger) writeAll(ctx context.Context, acct *model.Account, entries []*model.LedgerEntry) ([]model.LedgerEntry, error) {
	if err := l.store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	out := make([]model.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if err := l.store.InsertLedgerEntry(ctx, e); err != nil {
			return nil, err
		}
		metrics.LedgerEntriesTotal.WithLabelValues(string(e.Kind)).Inc()
		out = append(out, *e)
	}
	return out, nil
}
