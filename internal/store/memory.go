package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheophilusAidoo/Stock-sub001/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account
	ledger       []model.LedgerEntry
	byCorr       map[string]int // correlationID|kind → ledger index
	requests     map[string]*model.WorkflowRequest
	positions    map[string]*model.Position // accountID|symbol
	realized     []model.RealizedPnl
	trades       map[string]*model.TimedTrade
	ipos         map[string]*model.IPO
	ipoOrder     []string
	applications map[string]*model.IpoApplication
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*model.Account),
		byCorr:       make(map[string]int),
		requests:     make(map[string]*model.WorkflowRequest),
		positions:    make(map[string]*model.Position),
		trades:       make(map[string]*model.TimedTrade),
		ipos:         make(map[string]*model.IPO),
		applications: make(map[string]*model.IpoApplication),
	}
}

func corrKey(correlationID string, kind model.EntryKind) string {
	return correlationID + "|" + string(kind)
}

func posKey(accountID, symbol string) string {
	return accountID + "|" + symbol
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) UpdateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; !ok {
		return fmt.Errorf("account %s: %w", a.ID, ErrNotFound)
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

// --- Immutable ledger ---

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *entry)
	s.byCorr[corrKey(entry.CorrelationID, entry.Kind)] = len(s.ledger) - 1
	return nil
}

func (s *MemoryStore) GetEntryByCorrelation(_ context.Context, correlationID string, kind model.EntryKind) (*model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byCorr[corrKey(correlationID, kind)]
	if !ok {
		return nil, fmt.Errorf("entry %s/%s: %w", correlationID, kind, ErrNotFound)
	}
	cp := s.ledger[i]
	return &cp, nil
}

func (s *MemoryStore) ListEntriesByCorrelation(_ context.Context, correlationID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.CorrelationID == correlationID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListEntriesByAccount(_ context.Context, accountID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

// --- Workflow requests ---

func (s *MemoryStore) InsertRequest(_ context.Context, req *model.WorkflowRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (*model.WorkflowRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) DecideRequest(_ context.Context, id string, status model.RequestStatus, reason string, decidedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return false, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	if r.Status != model.StatusPending {
		return false, nil
	}
	r.Status = status
	r.Reason = reason
	t := decidedAt
	r.DecidedAt = &t
	return true, nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, accountID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey(accountID, symbol)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", accountID, symbol, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SavePosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pos
	s.positions[posKey(pos.AccountID, pos.Symbol)] = &cp
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.AccountID == accountID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertRealizedPnl(_ context.Context, rec *model.RealizedPnl) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.realized = append(s.realized, *rec)
	return nil
}

func (s *MemoryStore) ListRealizedPnl(_ context.Context, accountID string) ([]model.RealizedPnl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.RealizedPnl
	for _, r := range s.realized {
		if r.AccountID == accountID {
			result = append(result, r)
		}
	}
	return result, nil
}

// --- Timed trades ---

func (s *MemoryStore) InsertTimedTrade(_ context.Context, trade *model.TimedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *trade
	s.trades[trade.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTimedTrade(_ context.Context, id string) (*model.TimedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, fmt.Errorf("timed trade %s: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) SettleTimedTrade(_ context.Context, id string, result model.TradeResult, decidedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return false, fmt.Errorf("timed trade %s: %w", id, ErrNotFound)
	}
	if t.Result != model.ResultPending {
		return false, nil
	}
	t.Result = result
	at := decidedAt
	t.DecidedAt = &at
	return true, nil
}

// --- IPOs ---

func (s *MemoryStore) CreateIPO(_ context.Context, ipo *model.IPO) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ipos[ipo.ID]; ok {
		return fmt.Errorf("ipo %s already exists", ipo.ID)
	}
	cp := *ipo
	s.ipos[ipo.ID] = &cp
	s.ipoOrder = append(s.ipoOrder, ipo.ID)
	return nil
}

func (s *MemoryStore) GetIPO(_ context.Context, id string) (*model.IPO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.ipos[id]
	if !ok {
		return nil, fmt.Errorf("ipo %s: %w", id, ErrNotFound)
	}
	cp := *i
	return &cp, nil
}

func (s *MemoryStore) ListIPOs(_ context.Context) ([]model.IPO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ipos := make([]model.IPO, 0, len(s.ipoOrder))
	for _, id := range s.ipoOrder {
		ipos = append(ipos, *s.ipos[id])
	}
	return ipos, nil
}

func (s *MemoryStore) CloseIPO(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.ipos[id]
	if !ok {
		return false, fmt.Errorf("ipo %s: %w", id, ErrNotFound)
	}
	if i.Status != model.IPOOpen {
		return false, nil
	}
	i.Status = model.IPOClosed
	return true, nil
}

func (s *MemoryStore) InsertApplication(_ context.Context, app *model.IpoApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *app
	s.applications[app.ID] = &cp
	return nil
}

func (s *MemoryStore) GetApplication(_ context.Context, id string) (*model.IpoApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.applications[id]
	if !ok {
		return nil, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) DecideApplication(_ context.Context, id string, status model.ApplicationStatus, decidedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.applications[id]
	if !ok {
		return false, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	if a.Status != model.AppPendingAllotment {
		return false, nil
	}
	a.Status = status
	at := decidedAt
	a.DecidedAt = &at
	return true, nil
}
