// Package model defines the core domain types shared across the auction engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an auction. Every state other than
// StatusActive is terminal.
type Status string

const (
	StatusActive      Status = "active"
	StatusEndedWinner Status = "ended_winner"
	StatusEndedNoBids Status = "ended_no_bids"
	StatusBoughtNow   Status = "bought_now"
	StatusCancelled   Status = "cancelled"
)

// ParseStatus converts a stored or user-supplied string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("model: unknown auction status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusEndedWinner, StatusEndedNoBids, StatusBoughtNow, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the auction has left the active state. Unknown
// values count as terminal so no write path treats them as open.
func (s Status) IsTerminal() bool {
	return s != StatusActive
}

// Auction is the mutable aggregate for one listing sold by auction.
// Identity, prices and OriginalEndsAt never change after creation.
type Auction struct {
	ID             string           `json:"id"`
	ListingID      string           `json:"listing_id"`
	SellerID       string           `json:"seller_id"`
	StartPrice     decimal.Decimal  `json:"start_price"`
	BuyNowPrice    *decimal.Decimal `json:"buy_now_price,omitempty"`
	CurrentHighest *decimal.Decimal `json:"current_highest_bid,omitempty"`
	HighestBidder  string           `json:"highest_bidder_id,omitempty"`
	BidsCount      int64            `json:"bids_count"`
	OriginalEndsAt time.Time        `json:"original_ends_at"`
	EndsAt         time.Time        `json:"ends_at"`
	WasExtended    bool             `json:"was_extended"`
	Extensions     int              `json:"extensions"`
	Status         Status           `json:"status"`
	WinnerID       string           `json:"winner_id,omitempty"`
	PurchasePrice  *decimal.Decimal `json:"purchase_price,omitempty"`
	Version        int64            `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
}

// CurrentPrice is the standing highest bid, or the start price before the
// first bid.
func (a *Auction) CurrentPrice() decimal.Decimal {
	if a.CurrentHighest != nil {
		return *a.CurrentHighest
	}
	return a.StartPrice
}

// HasBids reports whether at least one bid has been accepted.
func (a *Auction) HasBids() bool {
	return a.BidsCount > 0
}

// Clone returns a deep copy so callers can mutate it without sharing
// pointer fields with the original.
func (a *Auction) Clone() *Auction {
	c := *a
	c.BuyNowPrice = cloneDecimal(a.BuyNowPrice)
	c.CurrentHighest = cloneDecimal(a.CurrentHighest)
	c.PurchasePrice = cloneDecimal(a.PurchasePrice)
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// Bid is an immutable ledger row. Sequence is strictly increasing per
// auction and starts at 1.
type Bid struct {
	ID             string          `json:"id"`
	AuctionID      string          `json:"auction_id"`
	BidderID       string          `json:"bidder_id"`
	Amount         decimal.Decimal `json:"amount"`
	Sequence       int64           `json:"sequence"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AuctionState is the read-only display view of an auction.
type AuctionState struct {
	Auction         *Auction        `json:"auction"`
	RecentBids      []Bid           `json:"recent_bids"`
	MinNextBid      decimal.Decimal `json:"min_next_bid"`
	BuyNowAvailable bool            `json:"buy_now_available"`
	ServerTime      time.Time       `json:"server_time"`
}
