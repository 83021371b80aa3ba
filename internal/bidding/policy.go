// Package bidding implements the pure auction rules: the minimum-increment
// bid validator, buy-now eligibility and the anti-snipe extension policy.
//
// Nothing in this package performs I/O or reads the clock; callers pass the
// server time in. All monetary values use shopspring/decimal.
package bidding

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
)

// Policy holds the configurable business constants of the auction rules.
type Policy struct {
	// IncrementRate is the fraction of the current price a raise must add,
	// e.g. 0.02 for 2%.
	IncrementRate decimal.Decimal

	// IncrementFloor is the smallest absolute raise, in listing currency.
	IncrementFloor decimal.Decimal

	// SnipeWindow: a bid accepted with less than this much time remaining
	// extends the auction.
	SnipeWindow time.Duration

	// SnipeExtension is how far past the acceptance time EndsAt moves.
	SnipeExtension time.Duration

	// Scale is the number of decimal places of the listing currency.
	// Amounts with finer precision are rejected and computed minimums are
	// rounded up to it.
	Scale int32

	// MaxAmount bounds every amount accepted from a caller.
	MaxAmount decimal.Decimal
}

// maxExponent rejects amounts like 1e50000000 before any comparison has to
// expand them.
const maxExponent = 18

// DefaultPolicy returns 2% / 50 increments, a 5 minute anti-snipe window
// and extension, and amounts of at most 999999999999.99 with two decimals.
func DefaultPolicy() Policy {
	return Policy{
		IncrementRate:  decimal.RequireFromString("0.02"),
		IncrementFloor: decimal.NewFromInt(50),
		SnipeWindow:    5 * time.Minute,
		SnipeExtension: 5 * time.Minute,
		Scale:          2,
		MaxAmount:      decimal.RequireFromString("999999999999.99"),
	}
}

// Validate checks that the policy constants are usable.
func (p Policy) Validate() error {
	var errs []error
	if !p.IncrementRate.IsPositive() || p.IncrementRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("bidding: increment rate must be in (0,1), got %s", p.IncrementRate))
	}
	if p.IncrementFloor.IsNegative() {
		errs = append(errs, fmt.Errorf("bidding: increment floor must not be negative, got %s", p.IncrementFloor))
	}
	if p.SnipeWindow < 0 || p.SnipeExtension < 0 {
		errs = append(errs, errors.New("bidding: anti-snipe durations must not be negative"))
	}
	if p.Scale < 0 || p.Scale > 8 {
		errs = append(errs, fmt.Errorf("bidding: currency scale must be in [0,8], got %d", p.Scale))
	}
	if !p.MaxAmount.IsPositive() || p.MaxAmount.Exponent() > maxExponent {
		errs = append(errs, fmt.Errorf("bidding: max amount must be positive and finite, got %s", p.MaxAmount))
	} else if p.MaxAmount.LessThanOrEqual(p.IncrementFloor) {
		errs = append(errs, fmt.Errorf("bidding: max amount %s must exceed the increment floor", p.MaxAmount))
	}
	return errors.Join(errs...)
}

// CheckAmount rejects amounts that are not positive, carry more decimal
// places than Scale, or exceed MaxAmount. Every error matches
// ErrInvalidAmount.
func (p Policy) CheckAmount(v decimal.Decimal) error {
	if !v.IsPositive() {
		return ErrInvalidAmount
	}
	if v.Exponent() < -p.Scale {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, p.Scale)
	}
	if v.Exponent() > maxExponent || v.GreaterThan(p.MaxAmount) {
		return fmt.Errorf("%w: above the maximum of %s", ErrInvalidAmount, p.MaxAmount)
	}
	return nil
}

// MinIncrement returns max(price * IncrementRate, IncrementFloor), rounded
// up to the currency scale.
func (p Policy) MinIncrement(price decimal.Decimal) decimal.Decimal {
	inc := price.Mul(p.IncrementRate).RoundCeil(p.Scale)
	if inc.LessThan(p.IncrementFloor) {
		return p.IncrementFloor
	}
	return inc
}

// MinNextBid is the lowest amount the next bid may carry. Before the first
// bid this is the start price itself; afterwards it is the standing bid
// plus the minimum increment.
func (p Policy) MinNextBid(a *model.Auction) decimal.Decimal {
	if a.CurrentHighest == nil {
		return a.StartPrice
	}
	return a.CurrentHighest.Add(p.MinIncrement(*a.CurrentHighest))
}

// ValidateBid decides whether bidderID may bid amount against snapshot a at
// server time now. It returns nil when the bid is acceptable.
func (p Policy) ValidateBid(a *model.Auction, bidderID string, amount decimal.Decimal, now time.Time) error {
	if err := checkOpenForBids(a, now); err != nil {
		return err
	}
	if err := p.CheckAmount(amount); err != nil {
		return err
	}
	if bidderID == a.SellerID {
		return ErrSellerCannotBid
	}
	if next := p.MinNextBid(a); amount.LessThan(next) {
		return &BidTooLowError{Amount: amount, MinNextBid: next}
	}
	if a.HighestBidder != "" && bidderID == a.HighestBidder {
		return ErrSelfOutbid
	}
	return nil
}

// ValidateBuyNow decides whether buyerID may purchase a outright and
// returns the purchase price.
func (p Policy) ValidateBuyNow(a *model.Auction, buyerID string, now time.Time) (decimal.Decimal, error) {
	if a.Status != model.StatusActive {
		return decimal.Zero, ErrAuctionNotActive
	}
	if !now.Before(a.EndsAt) {
		return decimal.Zero, ErrAuctionExpired
	}
	if a.BuyNowPrice == nil {
		return decimal.Zero, ErrBuyNowUnavailable
	}
	if buyerID == a.SellerID {
		return decimal.Zero, ErrSellerCannotBid
	}
	if a.CurrentHighest != nil && a.CurrentHighest.GreaterThanOrEqual(*a.BuyNowPrice) {
		return decimal.Zero, ErrBuyNowUnavailable
	}
	return *a.BuyNowPrice, nil
}

// BuyNowAvailable reports whether a buy-now purchase would currently be
// accepted from a buyer other than the seller.
func (p Policy) BuyNowAvailable(a *model.Auction, now time.Time) bool {
	_, err := p.ValidateBuyNow(a, "", now)
	return err == nil || errors.Is(err, ErrSellerCannotBid)
}

// Extend applies the anti-snipe rule to a freshly accepted bid. When less
// than SnipeWindow remains before EndsAt, EndsAt becomes now+SnipeExtension.
// EndsAt never moves backward and the number of extensions is not capped.
// Reports whether EndsAt changed.
func (p Policy) Extend(a *model.Auction, now time.Time) bool {
	if a.EndsAt.Sub(now) >= p.SnipeWindow {
		return false
	}
	next := now.Add(p.SnipeExtension)
	if !next.After(a.EndsAt) {
		return false
	}
	a.EndsAt = next
	a.WasExtended = true
	a.Extensions++
	return true
}

func checkOpenForBids(a *model.Auction, now time.Time) error {
	switch a.Status {
	case model.StatusActive:
	case model.StatusBoughtNow:
		return ErrAuctionAlreadyPurchased
	case model.StatusEndedWinner, model.StatusEndedNoBids, model.StatusCancelled:
		return ErrAuctionNotActive
	default:
		return fmt.Errorf("%w: unknown status %q", ErrAuctionNotActive, a.Status)
	}
	if !now.Before(a.EndsAt) {
		return ErrAuctionExpired
	}
	return nil
}
