package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Each auction owns a one-slot semaphore that plays the role of the row
// lock: Mutate and CompareAndSettle both hold it while they read, decide
// and write.
type MemoryStore struct {
	mu          sync.RWMutex
	auctions    map[string]*model.Auction
	byListing   map[string]string
	ledger      map[string][]model.Bid
	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions:    make(map[string]*model.Auction),
		byListing:   make(map[string]string),
		ledger:      make(map[string][]model.Bid),
		locks:       make(map[string]chan struct{}),
		lockTimeout: 2 * time.Second,
	}
}

// WithLockTimeout sets how long Mutate waits for an auction's lock.
func (s *MemoryStore) WithLockTimeout(d time.Duration) *MemoryStore {
	s.lockTimeout = d
	return s
}

func (s *MemoryStore) CreateAuction(_ context.Context, a *model.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byListing[a.ListingID]; ok {
		return fmt.Errorf("%w: %s", ErrAuctionExists, a.ListingID)
	}
	if _, ok := s.auctions[a.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", ErrAuctionExists, a.ID)
	}

	s.auctions[a.ID] = a.Clone()
	s.byListing[a.ListingID] = a.ID
	s.locks[a.ID] = make(chan struct{}, 1)
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, id string) (*model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetAuctionByListing(_ context.Context, listingID string) (*model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byListing[listingID]
	if !ok {
		return nil, fmt.Errorf("%w: listing %s", ErrNotFound, listingID)
	}
	return s.auctions[id].Clone(), nil
}

func (s *MemoryStore) ListAuctions(_ context.Context, status model.Status) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*model.Auction, error) {
	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.RLock()
	cur := s.auctions[id].Clone()
	s.mu.RUnlock()

	bid, err := fn(ctx, memoryTx{s: s, auctionID: id}, cur)
	if errors.Is(err, ErrNoop) {
		return s.GetAuction(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored := s.auctions[id]; stored.Version != cur.Version {
		return nil, ErrConflict
	}
	if bid != nil {
		if bid.Sequence != int64(len(s.ledger[id]))+1 {
			return nil, fmt.Errorf("%w: bid sequence %d out of order", ErrConflict, bid.Sequence)
		}
		s.ledger[id] = append(s.ledger[id], *bid)
	}
	cur.Version++
	s.auctions[id] = cur.Clone()
	return cur, nil
}

func (s *MemoryStore) ListBids(_ context.Context, auctionID string, limit int) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := s.ledger[auctionID]
	n := len(bids)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.Bid, 0, n)
	for i := len(bids) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, bids[i])
	}
	return out, nil
}

func (s *MemoryStore) CountBids(_ context.Context, auctionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.ledger[auctionID])), nil
}

func (s *MemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Auction
	for _, a := range s.auctions {
		if a.Status == model.StatusActive && !a.EndsAt.After(now) {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndsAt.Before(out[j].EndsAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CompareAndSettle(ctx context.Context, id string, now time.Time) (*model.Auction, bool, error) {
	unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.auctions[id]
	if a.Status != model.StatusActive || a.EndsAt.After(now) {
		return a.Clone(), false, nil
	}
	settle(a, now)
	return a.Clone(), true, nil
}

// acquire takes the auction's lock, giving up after lockTimeout.
func (s *MemoryStore) acquire(ctx context.Context, id string) (func(), error) {
	s.mu.RLock()
	lock, ok := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryTx struct {
	s         *MemoryStore
	auctionID string
}

func (tx memoryTx) BidByKey(_ context.Context, key string) (*model.Bid, error) {
	if key == "" {
		return nil, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	bids := tx.s.ledger[tx.auctionID]
	for i := len(bids) - 1; i >= 0; i-- {
		if bids[i].IdempotencyKey == key {
			b := bids[i]
			return &b, nil
		}
	}
	return nil, nil
}

// settle applies the terminal transition of an expired auction.
func settle(a *model.Auction, now time.Time) {
	if a.HasBids() {
		a.Status = model.StatusEndedWinner
		a.WinnerID = a.HighestBidder
	} else {
		a.Status = model.StatusEndedNoBids
		a.WinnerID = ""
	}
	closed := now
	a.ClosedAt = &closed
	a.UpdatedAt = now
	a.Version++
}
