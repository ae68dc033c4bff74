package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TheophilusAidoo/Stock-sub001/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: position lists and offerings. Writes go to
// the primary store and invalidate the cache; reads check Redis first then
// fall back to the primary. Accounts, ledger entries, and workflow records
// are never cached — the ledger mutates accounts under per-account locks
// the cache knows nothing about, and a concurrent cache fill could pin a
// stale balance for the TTL. Decisions must always see the primary state.
type CachedStore struct {
	Store // primary; uncached methods pass through

	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SavePosition(ctx context.Context, p *model.Position) error {
	if err := s.Store.SavePosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.AccountID))
	return nil
}

func (s *CachedStore) CreateIPO(ctx context.Context, i *model.IPO) error {
	if err := s.Store.CreateIPO(ctx, i); err != nil {
		return err
	}
	s.cacheJSON(ctx, ipoKey(i.ID), i)
	return nil
}

func (s *CachedStore) CloseIPO(ctx context.Context, id string) (bool, error) {
	closed, err := s.Store.CloseIPO(ctx, id)
	if err != nil {
		return false, err
	}
	if closed {
		s.rdb.Del(ctx, ipoKey(id))
	}
	return closed, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.Store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, positionsKey(accountID), positions)
	return positions, nil
}

func (s *CachedStore) GetIPO(ctx context.Context, id string) (*model.IPO, error) {
	data, err := s.rdb.Get(ctx, ipoKey(id)).Bytes()
	if err == nil {
		var i model.IPO
		if json.Unmarshal(data, &i) == nil {
			return &i, nil
		}
	}

	i, err := s.Store.GetIPO(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, ipoKey(id), i)
	return i, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func positionsKey(id string) string { return fmt.Sprintf("positions:%s", id) }
func ipoKey(id string) string       { return fmt.Sprintf("ipo:%s", id) }
