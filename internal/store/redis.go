package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for display reads. Writes go to the primary store and then replace
// the cached aggregate. Every cache write is guarded by the aggregate's
// Version, so a reader that loaded the row before a commit can never
// overwrite the committed state. Mutate always reads the primary under its
// lock, so bid validation never sees cached state.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
// setIfNewer stores ARGV[2] under KEYS[1] unless the cached version is at
// least ARGV[1]. Returns 1 when written.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then cache the committed version) ---

func (s *CachedStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	if err := s.primary.CreateAuction(ctx, a); err != nil {
		return err
	}
	s.cacheAuction(ctx, a)
	return nil
}

func (s *CachedStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*model.Auction, error) {
	a, err := s.primary.Mutate(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	s.cacheAuction(ctx, a)
	return a, nil
}

func (s *CachedStore) CompareAndSettle(ctx context.Context, id string, now time.Time) (*model.Auction, bool, error) {
	a, settled, err := s.primary.CompareAndSettle(ctx, id, now)
	if err != nil {
		return nil, false, err
	}
	if settled {
		s.cacheAuction(ctx, a)
	}
	return a, settled, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	data, err := s.rdb.HGet(ctx, auctionKey(id), "data").Bytes()
	if err == nil {
		var a model.Auction
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheAuction(ctx, a)
	return a, nil
}

func (s *CachedStore) GetAuctionByListing(ctx context.Context, listingID string) (*model.Auction, error) {
	// Listing → auction ID never changes once written.
	auctionID, err := s.rdb.Get(ctx, listingKey(listingID)).Result()
	if err == nil {
		return s.GetAuction(ctx, auctionID)
	}

	a, err := s.primary.GetAuctionByListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	s.cacheAuction(ctx, a)
	s.rdb.Set(ctx, listingKey(listingID), a.ID, s.ttl)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAuctions(ctx context.Context, status model.Status) ([]model.Auction, error) {
	return s.primary.ListAuctions(ctx, status)
}

func (s *CachedStore) ListBids(ctx context.Context, auctionID string, limit int) ([]model.Bid, error) {
	return s.primary.ListBids(ctx, auctionID, limit)
}

func (s *CachedStore) CountBids(ctx context.Context, auctionID string) (int64, error) {
	return s.primary.CountBids(ctx, auctionID)
}

func (s *CachedStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Auction, error) {
	return s.primary.ListExpired(ctx, now, limit)
}

// --- Cache helpers ---

// cacheAuction writes a unless a newer version is already cached. When the
// write fails the entry is dropped so readers fall back to the primary.
func (s *CachedStore) cacheAuction(ctx context.Context, a *model.Auction) {
	data, err := json.Marshal(a)
	if err == nil {
		err = setIfNewer.Run(ctx, s.rdb, []string{auctionKey(a.ID)},
			a.Version, data, s.ttl.Milliseconds()).Err()
	}
	if err != nil {
		s.invalidate(ctx, a.ID)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, id string) {
	s.rdb.Del(ctx, auctionKey(id))
}

func auctionKey(id string) string        { return fmt.Sprintf("auction:%s", id) }
func listingKey(listingID string) string { return fmt.Sprintf("auction:listing:%s", listingID) }
