package auction

import (
	"errors"
	"fmt"

	"github.com/AiSchool-Admin/maksab-sub003/internal/store"
)

var (
	ErrNotFound = errors.New("auction: not found")

	// ErrConcurrencyConflict is transient: the whole call may be retried
	// from scratch because every attempt re-reads fresh state.
	ErrConcurrencyConflict = errors.New("auction: concurrent modification, retry")

	ErrNotSeller       = errors.New("auction: caller is not the seller")
	ErrHasBids         = errors.New("auction: cannot cancel an auction that has bids")
	ErrAuctionExists   = errors.New("auction: listing already has an auction")
	ErrListingNotFound = errors.New("auction: listing not found")

	// ErrIdempotencyKeyReused is returned when a key already used by one
	// bidder on an auction is presented by another.
	ErrIdempotencyKeyReused = errors.New("auction: idempotency key belongs to another bid")
)

// storeError translates persistence failures into the engine's error kinds.
// Rule violations returned from inside a mutation pass through unchanged.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrLockTimeout), errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	case errors.Is(err, store.ErrAuctionExists):
		return fmt.Errorf("%w: %w", ErrAuctionExists, err)
	}
	return err
}
