package listing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/AiSchool-Admin/maksab-sub003/internal/bidding"
	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
)

var checkAmount = bidding.DefaultPolicy().CheckAmount

func validTerms() Terms {
	buyNow := decimal.NewFromInt(20000)
	return Terms{
		ListingID:   "l1",
		SellerID:    "seller",
		SaleType:    SaleTypeAuction,
		StartPrice:  decimal.NewFromInt(10000),
		BuyNowPrice: &buyNow,
		Duration:    24 * time.Hour,
	}
}

func TestTermsValidate(t *testing.T) {
	check.NoError(t, (&Terms{
		ListingID: "l", SaleType: SaleTypeAuction,
		StartPrice: decimal.NewFromInt(1), Duration: time.Hour,
	}).Validate(checkAmount))

	tests := []struct {
		name   string
		mutate func(*Terms)
	}{
		{"cash listing", func(t *Terms) { t.SaleType = "cash" }},
		{"zero start price", func(t *Terms) { t.StartPrice = decimal.Zero }},
		{"buy-now equal to start", func(t *Terms) { p := t.StartPrice; t.BuyNowPrice = &p }},
		{"no duration", func(t *Terms) { t.Duration = 0 }},
		{"sub-cent start price", func(t *Terms) { t.StartPrice = decimal.RequireFromString("10000.001") }},
		{"huge start price", func(t *Terms) { t.StartPrice = decimal.RequireFromString("1e50000000") }},
		{"sub-cent buy-now", func(t *Terms) { p := decimal.RequireFromString("20000.999"); t.BuyNowPrice = &p }},
		{"buy-now above maximum", func(t *Terms) { p := decimal.RequireFromString("1000000000000"); t.BuyNowPrice = &p }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := validTerms()
			tt.mutate(&terms)
			check.True(t, errors.Is(terms.Validate(checkAmount), ErrInvalidTerms))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put(validTerms())

	got, err := s.AuctionTerms(ctx, "l1")
	check.NoError(t, err)
	check.Equal(t, "seller", got.SellerID)

	_, err = s.AuctionTerms(ctx, "missing")
	check.True(t, errors.Is(err, ErrNotFound))

	check.NoError(t, s.RecordOutcome(ctx, "l1", model.StatusEndedWinner, "b1"))
	o, ok := s.Outcome("l1")
	check.True(t, ok)
	check.Equal(t, Outcome{Status: model.StatusEndedWinner, WinnerID: "b1"}, o)

	check.True(t, errors.Is(s.RecordOutcome(ctx, "missing", model.StatusCancelled, ""), ErrNotFound))
}
