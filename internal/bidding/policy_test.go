package bidding

import (
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func activeAuction(start string) *model.Auction {
	return &model.Auction{
		ID:             "a1",
		ListingID:      "l1",
		SellerID:       "seller",
		StartPrice:     d(start),
		OriginalEndsAt: now.Add(time.Hour),
		EndsAt:         now.Add(time.Hour),
		Status:         model.StatusActive,
	}
}

func withHighest(a *model.Auction, amount, bidder string) *model.Auction {
	a.CurrentHighest = dp(amount)
	a.HighestBidder = bidder
	a.BidsCount++
	return a
}

func TestMinNextBid(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name    string
		auction *model.Auction
		want    string
	}{
		{"no bids uses start price", activeAuction("10000"), "10000"},
		{"percentage dominates", withHighest(activeAuction("10000"), "100000", "b1"), "102000"},
		{"floor dominates", withHighest(activeAuction("500"), "1000", "b1"), "1050"},
		{"two percent of start", withHighest(activeAuction("10000"), "10000", "b1"), "10200"},
		{"break-even at 2500", withHighest(activeAuction("100"), "2500", "b1"), "2550"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.want, p.MinNextBid(tt.auction).String())
		})
	}
}

func TestValidateBid_FirstBidAtStartPrice(t *testing.T) {
	p := DefaultPolicy()
	a := activeAuction("10000")

	check.NoError(t, p.ValidateBid(a, "b1", d("10000"), now))

	err := p.ValidateBid(a, "b1", d("9999.99"), now)
	var tooLow *BidTooLowError
	check.True(t, errors.As(err, &tooLow))
	check.True(t, errors.Is(err, ErrBidTooLow))
	check.Equal(t, "10000", tooLow.MinNextBid.String())
}

func TestValidateBid_IncrementAfterFirstBid(t *testing.T) {
	p := DefaultPolicy()
	a := withHighest(activeAuction("10000"), "10000", "b1")

	err := p.ValidateBid(a, "b2", d("10199"), now)
	check.True(t, errors.Is(err, ErrBidTooLow))

	check.NoError(t, p.ValidateBid(a, "b2", d("10200"), now))
	check.NoError(t, p.ValidateBid(a, "b2", d("10300"), now))
}

func TestValidateBid_TieIsTooLow(t *testing.T) {
	p := DefaultPolicy()
	a := withHighest(activeAuction("10000"), "10200", "b1")

	err := p.ValidateBid(a, "b2", d("10200"), now)
	check.True(t, errors.Is(err, ErrBidTooLow))
}

func TestValidateBid_SelfOutbid(t *testing.T) {
	p := DefaultPolicy()
	a := withHighest(activeAuction("10000"), "10000", "b1")

	err := p.ValidateBid(a, "b1", d("20000"), now)
	check.True(t, errors.Is(err, ErrSelfOutbid))
}

func TestValidateBid_StatusAndClock(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name   string
		mutate func(a *model.Auction)
		want   error
	}{
		{"bought now", func(a *model.Auction) { a.Status = model.StatusBoughtNow }, ErrAuctionAlreadyPurchased},
		{"ended winner", func(a *model.Auction) { a.Status = model.StatusEndedWinner }, ErrAuctionNotActive},
		{"ended no bids", func(a *model.Auction) { a.Status = model.StatusEndedNoBids }, ErrAuctionNotActive},
		{"cancelled", func(a *model.Auction) { a.Status = model.StatusCancelled }, ErrAuctionNotActive},
		{"exactly at ends_at", func(a *model.Auction) { a.EndsAt = now }, ErrAuctionExpired},
		{"past ends_at", func(a *model.Auction) { a.EndsAt = now.Add(-time.Second) }, ErrAuctionExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := activeAuction("100")
			tt.mutate(a)
			err := p.ValidateBid(a, "b1", d("1000"), now)
			check.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestValidateBid_InputRules(t *testing.T) {
	p := DefaultPolicy()
	a := activeAuction("100")

	check.True(t, errors.Is(p.ValidateBid(a, "b1", d("0"), now), ErrInvalidAmount))
	check.True(t, errors.Is(p.ValidateBid(a, "b1", d("-5"), now), ErrInvalidAmount))
	check.True(t, errors.Is(p.ValidateBid(a, "seller", d("500"), now), ErrSellerCannotBid))
}

func TestCheckAmount(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		amount string
		valid  bool
	}{
		{"10000", true},
		{"10000.5", true},
		{"10000.55", true},
		{"999999999999.99", true},
		{"0.01", true},
		{"10000.000000001", false},
		{"10000.555", false},
		{"1000000000000", false},
		{"1e50000000", false},
		{"1e-50000000", false},
		{"0", false},
		{"-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			err := p.CheckAmount(d(tt.amount))
			if tt.valid {
				check.NoError(t, err)
				return
			}
			check.True(t, errors.Is(err, ErrInvalidAmount))
		})
	}
}

func TestValidateBid_RejectsUnboundedAmounts(t *testing.T) {
	p := DefaultPolicy()
	a := activeAuction("10000")

	for _, amount := range []string{"1e50000000", "10000.000000001"} {
		err := p.ValidateBid(a, "b1", d(amount), now)
		check.True(t, errors.Is(err, ErrInvalidAmount))
	}
}

func TestMinNextBid_RoundsUpToCurrencyScale(t *testing.T) {
	p := DefaultPolicy()
	a := withHighest(activeAuction("10000"), "10000.55", "b1")

	next := p.MinNextBid(a)
	check.Equal(t, "10200.57", next.String())
	check.NoError(t, p.CheckAmount(next))

	p.Scale = 0
	check.Equal(t, "10201.55", p.MinNextBid(a).String())
}

func TestValidateBuyNow(t *testing.T) {
	p := DefaultPolicy()

	a := activeAuction("1000")
	_, err := p.ValidateBuyNow(a, "b1", now)
	check.True(t, errors.Is(err, ErrBuyNowUnavailable))

	a.BuyNowPrice = dp("5000")
	price, err := p.ValidateBuyNow(a, "b1", now)
	check.NoError(t, err)
	check.Equal(t, "5000", price.String())
	check.True(t, p.BuyNowAvailable(a, now))

	_, err = p.ValidateBuyNow(a, "seller", now)
	check.True(t, errors.Is(err, ErrSellerCannotBid))

	withHighest(a, "5000", "b2")
	_, err = p.ValidateBuyNow(a, "b1", now)
	check.True(t, errors.Is(err, ErrBuyNowUnavailable))
	check.False(t, p.BuyNowAvailable(a, now))
}

func TestValidateBuyNow_TerminalIsNotActive(t *testing.T) {
	p := DefaultPolicy()
	a := activeAuction("1000")
	a.BuyNowPrice = dp("5000")
	a.Status = model.StatusBoughtNow

	_, err := p.ValidateBuyNow(a, "b1", now)
	check.True(t, errors.Is(err, ErrAuctionNotActive))

	a.Status = model.StatusActive
	a.EndsAt = now
	_, err = p.ValidateBuyNow(a, "b1", now)
	check.True(t, errors.Is(err, ErrAuctionExpired))
}

func TestExtend_InsideWindow(t *testing.T) {
	p := DefaultPolicy()
	a := activeAuction("100")
	a.EndsAt = now.Add(3 * time.Minute)
	original := a.OriginalEndsAt

	check.True(t, p.Extend(a, now))
	check.True(t, a.EndsAt.Equal(now.Add(5*time.Minute)))
	check.True(t, a.WasExtended)
	check.Equal(t, 1, a.Extensions)
	check.True(t, a.OriginalEndsAt.Equal(original))
}

func TestExtend_OutsideWindow(t *testing.T) {
	p := DefaultPolicy()
	a := activeAuction("100")
	a.EndsAt = now.Add(30 * time.Minute)

	check.False(t, p.Extend(a, now))
	check.True(t, a.EndsAt.Equal(now.Add(30*time.Minute)))
	check.False(t, a.WasExtended)
}

func TestExtend_RepeatedLateBidsKeepExtending(t *testing.T) {
	p := DefaultPolicy()
	a := activeAuction("100")
	a.EndsAt = now.Add(time.Minute)

	at := now
	for i := 0; i < 10; i++ {
		check.True(t, p.Extend(a, at))
		at = a.EndsAt.Add(-30 * time.Second)
	}
	check.Equal(t, 10, a.Extensions)
}

func TestExtend_NeverMovesBackward(t *testing.T) {
	p := Policy{
		IncrementRate:  d("0.02"),
		IncrementFloor: d("50"),
		SnipeWindow:    10 * time.Minute,
		SnipeExtension: time.Minute,
	}
	a := activeAuction("100")
	a.EndsAt = now.Add(4 * time.Minute)

	check.False(t, p.Extend(a, now))
	check.True(t, a.EndsAt.Equal(now.Add(4*time.Minute)))
}

func TestPolicyValidate(t *testing.T) {
	check.NoError(t, DefaultPolicy().Validate())

	bad := DefaultPolicy()
	bad.IncrementRate = d("1.5")
	bad.IncrementFloor = d("-1")
	check.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.Scale = -1
	check.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.MaxAmount = decimal.Zero
	check.Error(t, bad.Validate())
}
