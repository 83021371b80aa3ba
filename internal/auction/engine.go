// Package auction is the arbitration core of the auction engine. Every
// bid, buy-now purchase and cancellation runs inside the store's exclusive
// per-auction scope, re-validated against the freshest aggregate, so that
// exactly one request wins any race.
//
// All monetary values use shopspring/decimal.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AiSchool-Admin/maksab-sub003/internal/bidding"
	"github.com/AiSchool-Admin/maksab-sub003/internal/listing"
	"github.com/AiSchool-Admin/maksab-sub003/internal/metrics"
	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
	"github.com/AiSchool-Admin/maksab-sub003/internal/notify"
	"github.com/AiSchool-Admin/maksab-sub003/internal/store"
)

// Engine coordinates all writes to auctions.
type Engine struct {
	store      store.Store
	listings   listing.Store
	notifier   notify.Notifier
	policy     bidding.Policy
	recentBids int
	now        func() time.Time
	logger     *slog.Logger

	writeBackTimeout time.Duration
	pending          sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy overrides the default bidding rules.
func WithPolicy(p bidding.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithNotifier sets where committed transitions are announced.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock replaces the server clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRecentBids sets how many ledger entries GetAuctionState returns.
func WithRecentBids(n int) Option {
	return func(e *Engine) { e.recentBids = n }
}

// NewEngine creates an engine over st. listings is consulted on creation
// and receives the outcome of every terminal transition.
func NewEngine(st store.Store, listings listing.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            st,
		listings:         listings,
		notifier:         notify.Discard{},
		policy:           bidding.DefaultPolicy(),
		recentBids:       20,
		now:              func() time.Time { return time.Now().UTC() },
		logger:           slog.Default(),
		writeBackTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the bidding rules in effect.
func (e *Engine) Policy() bidding.Policy {
	return e.policy
}

// BidResult is returned for an accepted bid.
type BidResult struct {
	BidID          string          `json:"bid_id"`
	AuctionID      string          `json:"auction_id"`
	AcceptedAmount decimal.Decimal `json:"accepted_amount"`
	NewMinNextBid  decimal.Decimal `json:"new_min_next_bid"`
	NewEndsAt      time.Time       `json:"new_ends_at"`
	WasExtended    bool            `json:"was_extended"`

	// Replayed is set when the result belongs to an earlier submission
	// with the same idempotency key.
	Replayed bool `json:"replayed,omitempty"`
}

// BuyNowResult is returned for a successful purchase.
type BuyNowResult struct {
	AuctionID     string          `json:"auction_id"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
}

// CreateAuction opens an auction for a listing with sale type "auction".
// The caller must be the listing's seller.
func (e *Engine) CreateAuction(ctx context.Context, listingID, sellerID string) (*model.Auction, error) {
	terms, err := e.listings.AuctionTerms(ctx, listingID)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrListingNotFound, err)
		}
		return nil, err
	}
	if terms.SellerID != sellerID {
		return nil, ErrNotSeller
	}
	if err := terms.Validate(e.policy.CheckAmount); err != nil {
		return nil, err
	}

	now := e.now()
	endsAt := now.Add(terms.Duration)
	a := &model.Auction{
		ID:             uuid.New().String(),
		ListingID:      terms.ListingID,
		SellerID:       terms.SellerID,
		StartPrice:     terms.StartPrice,
		BuyNowPrice:    terms.BuyNowPrice,
		OriginalEndsAt: endsAt,
		EndsAt:         endsAt,
		Status:         model.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateAuction(ctx, a); err != nil {
		return nil, storeError(err)
	}

	e.logger.Info("auction created",
		"auction_id", a.ID,
		"listing_id", a.ListingID,
		"start_price", a.StartPrice.String(),
		"ends_at", a.EndsAt,
	)
	return a, nil
}

// PlaceBid submits a bid. idempotencyKey is optional; a retried submission
// carrying the key of an accepted bid returns that bid's result.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, idempotencyKey string) (*BidResult, error) {
	start := time.Now()
	var (
		res        BidResult
		prevBidder string
	)

	a, err := e.store.Mutate(ctx, auctionID, func(ctx context.Context, tx store.Tx, a *model.Auction) (*model.Bid, error) {
		if idempotencyKey != "" {
			prior, err := tx.BidByKey(ctx, idempotencyKey)
			if err != nil {
				return nil, err
			}
			if prior != nil {
				if prior.BidderID != bidderID {
					return nil, ErrIdempotencyKeyReused
				}
				res = BidResult{
					BidID:          prior.ID,
					AcceptedAmount: prior.Amount,
					Replayed:       true,
				}
				return nil, store.ErrNoop
			}
		}

		now := e.now()
		if err := e.policy.ValidateBid(a, bidderID, amount, now); err != nil {
			return nil, err
		}

		prevBidder = a.HighestBidder
		accepted := amount
		a.CurrentHighest = &accepted
		a.HighestBidder = bidderID
		a.BidsCount++
		a.UpdatedAt = now
		res.WasExtended = e.policy.Extend(a, now)

		bid := &model.Bid{
			ID:             uuid.New().String(),
			AuctionID:      a.ID,
			BidderID:       bidderID,
			Amount:         accepted,
			Sequence:       a.BidsCount,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		}
		res.BidID = bid.ID
		res.AcceptedAmount = accepted
		return bid, nil
	})
	metrics.ObserveSince(metrics.ArbitrationLatency.WithLabelValues("bid"), start)
	if err != nil {
		err = storeError(err)
		metrics.BidsTotal.WithLabelValues(outcome(err)).Inc()
		e.logger.Debug("bid rejected", "auction_id", auctionID, "bidder", bidderID, "amount", amount.String(), "err", err)
		return nil, err
	}

	res.AuctionID = a.ID
	res.NewMinNextBid = e.policy.MinNextBid(a)
	res.NewEndsAt = a.EndsAt
	if res.Replayed {
		metrics.BidsTotal.WithLabelValues("replayed").Inc()
		return &res, nil
	}

	metrics.BidsTotal.WithLabelValues("accepted").Inc()
	e.logger.Info("bid accepted",
		"auction_id", a.ID,
		"bidder", bidderID,
		"amount", res.AcceptedAmount.String(),
		"sequence", a.BidsCount,
		"ends_at", a.EndsAt,
		"extended", res.WasExtended,
	)

	e.announce(a, notify.KindBidPlaced, bidderID, &res.AcceptedAmount)
	if prevBidder != "" {
		e.announce(a, notify.KindOutbid, prevBidder, &res.AcceptedAmount)
	}
	if res.WasExtended {
		metrics.Extensions.Inc()
		e.announce(a, notify.KindExtended, "", nil)
	}
	return &res, nil
}

// BuyNow purchases an auction outright at its buy-now price.
func (e *Engine) BuyNow(ctx context.Context, auctionID, buyerID string) (*BuyNowResult, error) {
	start := time.Now()
	var price decimal.Decimal

	a, err := e.store.Mutate(ctx, auctionID, func(ctx context.Context, tx store.Tx, a *model.Auction) (*model.Bid, error) {
		now := e.now()
		p, err := e.policy.ValidateBuyNow(a, buyerID, now)
		if err != nil {
			return nil, err
		}
		price = p
		a.Status = model.StatusBoughtNow
		a.WinnerID = buyerID
		a.PurchasePrice = &p
		a.UpdatedAt = now
		closed := now
		a.ClosedAt = &closed
		return nil, nil
	})
	metrics.ObserveSince(metrics.ArbitrationLatency.WithLabelValues("buy_now"), start)
	if err != nil {
		err = storeError(err)
		metrics.BuyNowTotal.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}

	metrics.BuyNowTotal.WithLabelValues("accepted").Inc()
	e.logger.Info("auction bought now",
		"auction_id", a.ID,
		"buyer", buyerID,
		"price", price.String(),
	)
	e.Finalize(a)
	return &BuyNowResult{AuctionID: a.ID, PurchasePrice: price}, nil
}

// CancelAuction ends an auction on the seller's request. Only auctions
// without bids can be cancelled.
func (e *Engine) CancelAuction(ctx context.Context, auctionID, sellerID string) (*model.Auction, error) {
	a, err := e.store.Mutate(ctx, auctionID, func(ctx context.Context, tx store.Tx, a *model.Auction) (*model.Bid, error) {
		if a.SellerID != sellerID {
			return nil, ErrNotSeller
		}
		if a.Status == model.StatusBoughtNow {
			return nil, bidding.ErrAuctionAlreadyPurchased
		}
		if a.Status.IsTerminal() {
			return nil, bidding.ErrAuctionNotActive
		}
		if a.HasBids() {
			return nil, ErrHasBids
		}
		now := e.now()
		if !now.Before(a.EndsAt) {
			return nil, bidding.ErrAuctionExpired
		}
		a.Status = model.StatusCancelled
		a.UpdatedAt = now
		closed := now
		a.ClosedAt = &closed
		return nil, nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	e.logger.Info("auction cancelled", "auction_id", a.ID, "seller", sellerID)
	e.Finalize(a)
	return a, nil
}

// GetAuctionState returns the display view of an auction. It reads outside
// the exclusive scope and may be stale by the time the caller acts on it.
func (e *Engine) GetAuctionState(ctx context.Context, auctionID string) (*model.AuctionState, error) {
	a, err := e.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, storeError(err)
	}
	bids, err := e.store.ListBids(ctx, auctionID, e.recentBids)
	if err != nil {
		return nil, err
	}
	if bids == nil {
		bids = []model.Bid{}
	}
	now := e.now()
	return &model.AuctionState{
		Auction:         a,
		RecentBids:      bids,
		MinNextBid:      e.policy.MinNextBid(a),
		BuyNowAvailable: e.policy.BuyNowAvailable(a, now),
		ServerTime:      now,
	}, nil
}

// ListAuctions returns auctions newest first, optionally filtered by status.
func (e *Engine) ListAuctions(ctx context.Context, status model.Status) ([]model.Auction, error) {
	return e.store.ListAuctions(ctx, status)
}

// ListBids returns up to limit ledger entries of an auction, newest first.
func (e *Engine) ListBids(ctx context.Context, auctionID string, limit int) ([]model.Bid, error) {
	if _, err := e.store.GetAuction(ctx, auctionID); err != nil {
		return nil, storeError(err)
	}
	return e.store.ListBids(ctx, auctionID, limit)
}

// Finalize announces a terminal transition that has already committed and
// writes the outcome back to the listing. It never blocks on either.
func (e *Engine) Finalize(a *model.Auction) {
	if !a.Status.IsTerminal() {
		return
	}
	switch a.Status {
	case model.StatusEndedWinner:
		e.announce(a, notify.KindWon, a.WinnerID, a.CurrentHighest)
	case model.StatusEndedNoBids:
		e.announce(a, notify.KindEndedNoBids, "", nil)
	case model.StatusBoughtNow:
		e.announce(a, notify.KindBoughtNow, a.WinnerID, a.PurchasePrice)
	case model.StatusCancelled:
		e.announce(a, notify.KindCancelled, a.SellerID, nil)
	default:
		e.logger.Error("finalize: unknown auction status", "auction_id", a.ID, "status", string(a.Status))
		return
	}

	listingID, status, winnerID := a.ListingID, a.Status, a.WinnerID
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.writeBackTimeout)
		defer cancel()
		if err := e.listings.RecordOutcome(ctx, listingID, status, winnerID); err != nil {
			e.logger.Warn("listing write-back failed",
				"listing_id", listingID,
				"status", string(status),
				"err", err,
			)
		}
	}()
}

// Wait blocks until in-flight listing write-backs have finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

func (e *Engine) announce(a *model.Auction, kind notify.Kind, userID string, amount *decimal.Decimal) {
	var amt *decimal.Decimal
	if amount != nil {
		v := *amount
		amt = &v
	}
	e.notifier.Notify(notify.Event{
		AuctionID:  a.ID,
		ListingID:  a.ListingID,
		Kind:       kind,
		UserID:     userID,
		Amount:     amt,
		EndsAt:     a.EndsAt,
		OccurredAt: a.UpdatedAt,
	})
}

// outcome is the metrics label for a failed bid or buy-now.
func outcome(err error) string {
	switch {
	case errors.Is(err, bidding.ErrBidTooLow):
		return "too_low"
	case errors.Is(err, bidding.ErrSelfOutbid):
		return "self_outbid"
	case errors.Is(err, bidding.ErrAuctionAlreadyPurchased):
		return "already_purchased"
	case errors.Is(err, bidding.ErrAuctionNotActive):
		return "not_active"
	case errors.Is(err, bidding.ErrAuctionExpired):
		return "expired"
	case errors.Is(err, bidding.ErrSellerCannotBid):
		return "seller"
	case errors.Is(err, bidding.ErrInvalidAmount):
		return "invalid"
	case errors.Is(err, bidding.ErrBuyNowUnavailable):
		return "unavailable"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIdempotencyKeyReused):
		return "key_reused"
	}
	return "error"
}
