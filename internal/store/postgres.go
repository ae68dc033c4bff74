package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/TheophilusAidoo/Stock-sub001/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// A unique index on ledger_entries (correlation_id, kind) backs the
// at-most-once replay guarantee at the database level.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func mustDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, balance, blocked, verified, disabled, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5, $6)`,
		a.ID, a.Balance.String(), a.Blocked.String(), a.Verified, a.Disabled, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	var balance, blocked string

	err := s.pool.QueryRow(ctx,
		`SELECT id, balance::TEXT, blocked::TEXT, verified, disabled, created_at
		 FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &balance, &blocked, &a.Verified, &a.Disabled, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}

	a.Balance = mustDecimal(balance)
	a.Blocked = mustDecimal(blocked)
	return &a, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts
		 SET balance = $2::NUMERIC, blocked = $3::NUMERIC, verified = $4, disabled = $5
		 WHERE id = $1`,
		a.ID, a.Balance.String(), a.Blocked.String(), a.Verified, a.Disabled,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// --- Immutable ledger ---

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, kind, amount, balance, blocked, correlation_id, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		e.ID, e.AccountID, string(e.Kind),
		e.Amount.String(), e.Balance.String(), e.Blocked.String(),
		e.CorrelationID, e.Timestamp,
	)
	return err
}

const ledgerEntryColumns = `id, account_id, kind, amount::TEXT, balance::TEXT, blocked::TEXT, correlation_id, timestamp`

func (s *PostgresStore) GetEntryByCorrelation(ctx context.Context, correlationID string, kind model.EntryKind) (*model.LedgerEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ledgerEntryColumns+`
		 FROM ledger_entries WHERE correlation_id = $1 AND kind = $2`,
		correlationID, string(kind))

	e, err := scanLedgerEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entry %s/%s: %w", correlationID, kind, ErrNotFound)
	}
	return e, err
}

func (s *PostgresStore) ListEntriesByCorrelation(ctx context.Context, correlationID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerEntryColumns+`
		 FROM ledger_entries WHERE correlation_id = $1 ORDER BY timestamp, id`,
		correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) ListEntriesByAccount(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerEntryColumns+`
		 FROM ledger_entries WHERE account_id = $1 ORDER BY timestamp, id`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanLedgerEntry(row pgxRow) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var kind, amount, balance, blocked string

	if err := row.Scan(&e.ID, &e.AccountID, &kind,
		&amount, &balance, &blocked,
		&e.CorrelationID, &e.Timestamp); err != nil {
		return nil, err
	}

	e.Kind = model.EntryKind(kind)
	e.Amount = mustDecimal(amount)
	e.Balance = mustDecimal(balance)
	e.Blocked = mustDecimal(blocked)
	return &e, nil
}

func scanLedgerEntries(rows pgx.Rows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// --- Workflow requests ---

func (s *PostgresStore) InsertRequest(ctx context.Context, r *model.WorkflowRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_requests (id, account_id, kind, amount, method, document_ref, fee, status, reason, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7::NUMERIC, $8, $9, $10)`,
		r.ID, r.AccountID, string(r.Kind),
		r.Amount.String(), r.Method, r.DocumentRef, r.Fee.String(),
		string(r.Status), r.Reason, r.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.WorkflowRequest, error) {
	var r model.WorkflowRequest
	var kind, status, amount, fee string

	err := s.pool.QueryRow(ctx,
		`SELECT id, account_id, kind, amount::TEXT, method, document_ref, fee::TEXT, status, reason, created_at, decided_at
		 FROM workflow_requests WHERE id = $1`, id).
		Scan(&r.ID, &r.AccountID, &kind, &amount, &r.Method, &r.DocumentRef,
			&fee, &status, &r.Reason, &r.CreatedAt, &r.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}

	r.Kind = model.RequestKind(kind)
	r.Status = model.RequestStatus(status)
	r.Amount = mustDecimal(amount)
	r.Fee = mustDecimal(fee)
	return &r, nil
}

func (s *PostgresStore) DecideRequest(ctx context.Context, id string, status model.RequestStatus, reason string, decidedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_requests
		 SET status = $2, reason = $3, decided_at = $4
		 WHERE id = $1 AND status = 'pending'`,
		id, string(status), reason, decidedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- Positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	var p model.Position
	var avgCost, realized string

	err := s.pool.QueryRow(ctx,
		`SELECT account_id, symbol, quantity, avg_cost::TEXT, realized_pnl::TEXT, updated_at
		 FROM positions WHERE account_id = $1 AND symbol = $2`, accountID, symbol).
		Scan(&p.AccountID, &p.Symbol, &p.Quantity, &avgCost, &realized, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s/%s: %w", accountID, symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", accountID, symbol, err)
	}

	p.AvgCost = mustDecimal(avgCost)
	p.RealizedPnL = mustDecimal(realized)
	return &p, nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (account_id, symbol, quantity, avg_cost, realized_pnl, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (account_id, symbol) DO UPDATE
		 SET quantity = EXCLUDED.quantity,
		     avg_cost = EXCLUDED.avg_cost,
		     realized_pnl = EXCLUDED.realized_pnl,
		     updated_at = EXCLUDED.updated_at`,
		p.AccountID, p.Symbol, p.Quantity,
		p.AvgCost.String(), p.RealizedPnL.String(), p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, symbol, quantity, avg_cost::TEXT, realized_pnl::TEXT, updated_at
		 FROM positions WHERE account_id = $1 ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avgCost, realized string
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Quantity,
			&avgCost, &realized, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.AvgCost = mustDecimal(avgCost)
		p.RealizedPnL = mustDecimal(realized)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertRealizedPnl(ctx context.Context, r *model.RealizedPnl) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO realized_pnl (id, account_id, symbol, quantity, price, avg_cost, pnl, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		r.ID, r.AccountID, r.Symbol, r.Quantity,
		r.Price.String(), r.AvgCost.String(), r.Pnl.String(), r.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListRealizedPnl(ctx context.Context, accountID string) ([]model.RealizedPnl, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, symbol, quantity, price::TEXT, avg_cost::TEXT, pnl::TEXT, timestamp
		 FROM realized_pnl WHERE account_id = $1 ORDER BY timestamp, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.RealizedPnl
	for rows.Next() {
		var r model.RealizedPnl
		var price, avgCost, pnl string
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Symbol, &r.Quantity,
			&price, &avgCost, &pnl, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Price = mustDecimal(price)
		r.AvgCost = mustDecimal(avgCost)
		r.Pnl = mustDecimal(pnl)
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Timed trades ---

func (s *PostgresStore) InsertTimedTrade(ctx context.Context, t *model.TimedTrade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO timed_trades (id, account_id, stake, profit_rate, result, expires_at, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)`,
		t.ID, t.AccountID, t.Stake.String(), t.ProfitRate.String(),
		string(t.Result), t.ExpiresAt, t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetTimedTrade(ctx context.Context, id string) (*model.TimedTrade, error) {
	var t model.TimedTrade
	var stake, rate, result string

	err := s.pool.QueryRow(ctx,
		`SELECT id, account_id, stake::TEXT, profit_rate::TEXT, result, expires_at, created_at, decided_at
		 FROM timed_trades WHERE id = $1`, id).
		Scan(&t.ID, &t.AccountID, &stake, &rate, &result,
			&t.ExpiresAt, &t.CreatedAt, &t.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("timed trade %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get timed trade %s: %w", id, err)
	}

	t.Stake = mustDecimal(stake)
	t.ProfitRate = mustDecimal(rate)
	t.Result = model.TradeResult(result)
	return &t, nil
}

func (s *PostgresStore) SettleTimedTrade(ctx context.Context, id string, result model.TradeResult, decidedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE timed_trades
		 SET result = $2, decided_at = $3
		 WHERE id = $1 AND result = 'pending'`,
		id, string(result), decidedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- IPOs ---

func (s *PostgresStore) CreateIPO(ctx context.Context, i *model.IPO) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ipos (id, symbol, name, price_per_share, discount_price, lot_size, min_investment, status, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7::NUMERIC, $8, $9)`,
		i.ID, i.Symbol, i.Name,
		i.PricePerShare.String(), i.DiscountPrice.String(),
		i.LotSize, i.MinInvestment.String(), string(i.Status), i.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetIPO(ctx context.Context, id string) (*model.IPO, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, symbol, name, price_per_share::TEXT, discount_price::TEXT, lot_size, min_investment::TEXT, status, created_at
		 FROM ipos WHERE id = $1`, id)

	i, err := scanIPO(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ipo %s: %w", id, ErrNotFound)
	}
	return i, err
}

func (s *PostgresStore) ListIPOs(ctx context.Context) ([]model.IPO, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, name, price_per_share::TEXT, discount_price::TEXT, lot_size, min_investment::TEXT, status, created_at
		 FROM ipos ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ipos []model.IPO
	for rows.Next() {
		i, err := scanIPO(rows)
		if err != nil {
			return nil, err
		}
		ipos = append(ipos, *i)
	}
	return ipos, rows.Err()
}

func scanIPO(row pgxRow) (*model.IPO, error) {
	var i model.IPO
	var price, discount, minInvest, status string

	if err := row.Scan(&i.ID, &i.Symbol, &i.Name,
		&price, &discount, &i.LotSize, &minInvest, &status, &i.CreatedAt); err != nil {
		return nil, err
	}

	i.PricePerShare = mustDecimal(price)
	i.DiscountPrice = mustDecimal(discount)
	i.MinInvestment = mustDecimal(minInvest)
	i.Status = model.IPOStatus(status)
	return &i, nil
}

func (s *PostgresStore) CloseIPO(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ipos SET status = 'closed' WHERE id = $1 AND status = 'open'`,
		id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) InsertApplication(ctx context.Context, a *model.IpoApplication) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ipo_applications (id, account_id, ipo_id, lots, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		a.ID, a.AccountID, a.IpoID, a.Lots, a.Amount.String(),
		string(a.Status), a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetApplication(ctx context.Context, id string) (*model.IpoApplication, error) {
	var a model.IpoApplication
	var amount, status string

	err := s.pool.QueryRow(ctx,
		`SELECT id, account_id, ipo_id, lots, amount::TEXT, status, created_at, decided_at
		 FROM ipo_applications WHERE id = $1`, id).
		Scan(&a.ID, &a.AccountID, &a.IpoID, &a.Lots, &amount, &status,
			&a.CreatedAt, &a.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get application %s: %w", id, err)
	}

	a.Amount = mustDecimal(amount)
	a.Status = model.ApplicationStatus(status)
	return &a, nil
}

func (s *PostgresStore) DecideApplication(ctx context.Context, id string, status model.ApplicationStatus, decidedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ipo_applications
		 SET status = $2, decided_at = $3
		 WHERE id = $1 AND status = 'pending_allotment'`,
		id, string(status), decidedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
