// Package listing is the engine's view of the product's listing store: it
// reads auction terms when an auction is created and records the terminal
// outcome for display elsewhere in the product.
package listing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
)

// SaleTypeAuction marks a listing that is sold by auction.
const SaleTypeAuction = "auction"

var (
	ErrNotFound = errors.New("listing: not found")

	// ErrInvalidTerms is returned when a listing cannot back an auction.
	ErrInvalidTerms = errors.New("listing: invalid auction terms")
)

// Terms are the auction parameters a seller chose when publishing a listing.
type Terms struct {
	ListingID   string
	SellerID    string
	SaleType    string
	StartPrice  decimal.Decimal
	BuyNowPrice *decimal.Decimal
	Duration    time.Duration
}

// Validate checks the terms against the auction creation rules. checkAmount
// applies the currency bounds to both prices.
func (t *Terms) Validate(checkAmount func(decimal.Decimal) error) error {
	switch {
	case t.SaleType != SaleTypeAuction:
		return fmt.Errorf("%w: sale type is %q", ErrInvalidTerms, t.SaleType)
	case !t.StartPrice.IsPositive():
		return fmt.Errorf("%w: start price must be positive", ErrInvalidTerms)
	case t.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidTerms)
	}
	if err := checkAmount(t.StartPrice); err != nil {
		return fmt.Errorf("%w: start price: %v", ErrInvalidTerms, err)
	}
	if t.BuyNowPrice == nil {
		return nil
	}
	if err := checkAmount(*t.BuyNowPrice); err != nil {
		return fmt.Errorf("%w: buy-now price: %v", ErrInvalidTerms, err)
	}
	if !t.BuyNowPrice.GreaterThan(t.StartPrice) {
		return fmt.Errorf("%w: buy-now price must exceed start price", ErrInvalidTerms)
	}
	return nil
}

// Store is implemented by the product's listing backend.
type Store interface {
	// AuctionTerms reads the auction parameters of a listing.
	AuctionTerms(ctx context.Context, listingID string) (*Terms, error)

	// RecordOutcome writes back the terminal status and winner of the
	// listing's auction. winnerID is empty when there is none.
	RecordOutcome(ctx context.Context, listingID string, status model.Status, winnerID string) error
}
