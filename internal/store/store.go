// Package store defines the persistence interface for the ledger core.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/TheophilusAidoo/Stock-sub001/internal/model"
)

// ErrNotFound is returned by lookups when no record exists.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// The conditional transition methods (DecideRequest, SettleTimedTrade,
// DecideApplication) claim a pending record atomically: they return false
// without modifying anything when the record is no longer pending. This is
// the store-side half of the exactly-once decision guarantee.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, account *model.Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// UpdateAccount writes an account's balance, blocked amount, and flags.
	// Callers serialize per account; the store does not.
	UpdateAccount(ctx context.Context, account *model.Account) error

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable balance mutation record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetEntryByCorrelation returns the entry previously applied for the
	// given correlation id and kind, or ErrNotFound.
	GetEntryByCorrelation(ctx context.Context, correlationID string, kind model.EntryKind) (*model.LedgerEntry, error)

	// ListEntriesByCorrelation returns all entries applied for a
	// correlation id, in application order.
	ListEntriesByCorrelation(ctx context.Context, correlationID string) ([]model.LedgerEntry, error)

	// ListEntriesByAccount returns the account's audit trail in
	// application order.
	ListEntriesByAccount(ctx context.Context, accountID string) ([]model.LedgerEntry, error)

	// --- Workflow requests ---

	// InsertRequest persists a new pending request.
	InsertRequest(ctx context.Context, req *model.WorkflowRequest) error

	// GetRequest retrieves a request by ID.
	GetRequest(ctx context.Context, id string) (*model.WorkflowRequest, error)

	// DecideRequest transitions a pending request to a terminal status.
	// Returns false if the request was not pending.
	DecideRequest(ctx context.Context, id string, status model.RequestStatus, reason string, decidedAt time.Time) (bool, error)

	// --- Positions ---

	// GetPosition retrieves the position for (account, symbol), or ErrNotFound.
	GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error)

	// SavePosition inserts or replaces a position row.
	SavePosition(ctx context.Context, pos *model.Position) error

	// ListPositions returns all positions for an account.
	ListPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// InsertRealizedPnl appends a realized P&L record.
	InsertRealizedPnl(ctx context.Context, rec *model.RealizedPnl) error

	// ListRealizedPnl returns an account's realized P&L history.
	ListRealizedPnl(ctx context.Context, accountID string) ([]model.RealizedPnl, error)

	// --- Timed trades ---

	// InsertTimedTrade persists a new pending trade.
	InsertTimedTrade(ctx context.Context, trade *model.TimedTrade) error

	// GetTimedTrade retrieves a trade by ID.
	GetTimedTrade(ctx context.Context, id string) (*model.TimedTrade, error)

	// SettleTimedTrade transitions a pending trade to a terminal result.
	// Returns false if the trade was not pending.
	SettleTimedTrade(ctx context.Context, id string, result model.TradeResult, decidedAt time.Time) (bool, error)

	// --- IPOs ---

	// CreateIPO persists a new offering.
	CreateIPO(ctx context.Context, ipo *model.IPO) error

	// GetIPO retrieves an offering by ID.
	GetIPO(ctx context.Context, id string) (*model.IPO, error)

	// ListIPOs returns all offerings.
	ListIPOs(ctx context.Context) ([]model.IPO, error)

	// CloseIPO transitions an open offering to closed. Returns false
	// without error when the offering is already closed.
	CloseIPO(ctx context.Context, id string) (bool, error)

	// InsertApplication persists a new IPO application.
	InsertApplication(ctx context.Context, app *model.IpoApplication) error

	// GetApplication retrieves an application by ID.
	GetApplication(ctx context.Context, id string) (*model.IpoApplication, error)

	// DecideApplication transitions a pending application to a terminal
	// status. Returns false if the application was not pending.
	DecideApplication(ctx context.Context, id string, status model.ApplicationStatus, decidedAt time.Time) (bool, error)
}
