// Package store defines the persistence interface for the auction engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
)

var (
	// ErrNotFound is returned when no auction matches the lookup.
	ErrNotFound = errors.New("store: auction not found")

	// ErrAuctionExists is returned when a listing already has an auction.
	ErrAuctionExists = errors.New("store: auction already exists for listing")

	// ErrLockTimeout is returned when the exclusive per-auction scope could
	// not be acquired in time. Safe to retry.
	ErrLockTimeout = errors.New("store: timed out waiting for auction lock")

	// ErrConflict is returned when a concurrent writer invalidated the
	// mutation (serialization failure, duplicate ledger sequence). Safe to retry.
	ErrConflict = errors.New("store: concurrent modification")

	// ErrNoop may be returned by a MutateFunc to release the scope without
	// writing anything.
	ErrNoop = errors.New("store: no change")
)

// Tx exposes reads that are consistent with the exclusive scope a
// MutateFunc runs in.
type Tx interface {
	// BidByKey returns the bid placed with the given idempotency key on the
	// locked auction, or nil when none exists.
	BidByKey(ctx context.Context, key string) (*model.Bid, error)
}

// MutateFunc runs while the caller holds exclusive access to one auction.
// It receives a private copy of the freshest aggregate, may modify it in
// place and may return one bid to append to the ledger. Returning an error
// discards every change.
type MutateFunc func(ctx context.Context, tx Tx, a *model.Auction) (*model.Bid, error)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Auction aggregate ---

	// CreateAuction persists a new auction. Fails with ErrAuctionExists if
	// the listing already has one.
	CreateAuction(ctx context.Context, a *model.Auction) error

	// GetAuction retrieves an auction by its ID.
	GetAuction(ctx context.Context, id string) (*model.Auction, error)

	// GetAuctionByListing retrieves the auction for a listing.
	GetAuctionByListing(ctx context.Context, listingID string) (*model.Auction, error)

	// ListAuctions returns auctions, newest first. An empty status lists all.
	ListAuctions(ctx context.Context, status model.Status) ([]model.Auction, error)

	// Mutate serializes writers of one auction. fn observes the state left by
	// the previous committed mutation. On success the updated aggregate is
	// persisted together with the returned bid and Version is incremented.
	Mutate(ctx context.Context, id string, fn MutateFunc) (*model.Auction, error)

	// --- Immutable ledger ---

	// ListBids returns up to limit bids of an auction, newest first.
	// limit <= 0 returns the whole ledger.
	ListBids(ctx context.Context, auctionID string, limit int) ([]model.Bid, error)

	// CountBids returns the number of ledger rows for an auction.
	CountBids(ctx context.Context, auctionID string) (int64, error)

	// --- Settlement ---

	// ListExpired returns active auctions whose EndsAt is at or before now,
	// oldest deadline first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Auction, error)

	// CompareAndSettle atomically moves an auction from active to
	// ended_winner or ended_no_bids, guarded by status = active and
	// ends_at <= now. settled is false when the guard did not match.
	CompareAndSettle(ctx context.Context, id string, now time.Time) (a *model.Auction, settled bool, err error)
}
