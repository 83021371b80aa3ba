package bidding

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAuctionNotActive is returned when the auction has already reached a
	// terminal state other than a buy-now purchase.
	ErrAuctionNotActive = errors.New("bidding: auction is not active")

	// ErrAuctionExpired is returned when the server clock has passed EndsAt
	// but the settlement sweep has not closed the auction yet.
	ErrAuctionExpired = errors.New("bidding: auction has expired")

	// ErrAuctionAlreadyPurchased is returned to a bid that lost a race
	// against a buy-now purchase.
	ErrAuctionAlreadyPurchased = errors.New("bidding: auction was already purchased")

	// ErrBidTooLow matches every *BidTooLowError.
	ErrBidTooLow = errors.New("bidding: bid is below the minimum next bid")

	// ErrSelfOutbid is returned when the bidder already holds the highest bid.
	ErrSelfOutbid = errors.New("bidding: bidder already holds the highest bid")

	ErrSellerCannotBid   = errors.New("bidding: seller cannot bid on or buy own auction")
	ErrInvalidAmount     = errors.New("bidding: invalid amount")
	ErrBuyNowUnavailable = errors.New("bidding: buy-now is not available for this auction")
)

// BidTooLowError carries the minimum acceptable amount so the caller can
// retry with a corrected bid.
type BidTooLowError struct {
	Amount     decimal.Decimal
	MinNextBid decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("%s: got %s, minimum is %s", ErrBidTooLow, e.Amount, e.MinNextBid)
}

// Is lets errors.Is(err, ErrBidTooLow) match.
func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}
