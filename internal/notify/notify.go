// Package notify delivers committed auction transitions to the outside
// world: the live websocket feed, Redis Pub/Sub and a JetStream stream.
//
// Nothing here may block or fail an auction operation. The engine hands
// events to a Notifier, which queues them; delivery errors are logged.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies what happened to an auction.
type Kind string

const (
	KindBidPlaced   Kind = "bid_placed"
	KindOutbid      Kind = "outbid"
	KindExtended    Kind = "extended"
	KindBoughtNow   Kind = "bought_now"
	KindWon         Kind = "won"
	KindEndedNoBids Kind = "ended_no_bids"
	KindCancelled   Kind = "cancelled"
)

// Event is one committed auction transition. UserID is the user the event
// concerns: the outbid bidder for KindOutbid, the winner for KindWon and
// KindBoughtNow, the bidder for KindBidPlaced.
type Event struct {
	AuctionID  string           `json:"auction_id"`
	ListingID  string           `json:"listing_id"`
	Kind       Kind             `json:"kind"`
	UserID     string           `json:"user_id,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	EndsAt     time.Time        `json:"ends_at"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Dispatcher delivers an event to one destination.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
}

// Notifier accepts events without blocking the caller.
type Notifier interface {
	Notify(e Event)
}

// Discard is a Notifier that drops every event.
type Discard struct{}

func (Discard) Notify(Event) {}

// Multi fans an event out to every dispatcher. A failing destination does
// not stop delivery to the others.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, e Event) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
