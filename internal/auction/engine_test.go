package auction_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AiSchool-Admin/maksab-sub003/internal/auction"
	"github.com/AiSchool-Admin/maksab-sub003/internal/bidding"
	"github.com/AiSchool-Admin/maksab-sub003/internal/listing"
	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
	"github.com/AiSchool-Admin/maksab-sub003/internal/notify"
	"github.com/AiSchool-Admin/maksab-sub003/internal/store"
)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// clock is a settable server clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// events records notifications synchronously.
type events struct {
	mu  sync.Mutex
	all []notify.Event
}

func (r *events) Notify(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, e)
}

func (r *events) ofKind(k notify.Kind) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.all {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	engine   *auction.Engine
	store    *store.MemoryStore
	listings *listing.MemoryStore
	clock    *clock
	events   *events
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    store.NewMemoryStore(),
		listings: listing.NewMemoryStore(),
		clock:    &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		events:   &events{},
	}
	env.engine = auction.NewEngine(env.store, env.listings,
		auction.WithClock(env.clock.Now),
		auction.WithNotifier(env.events),
		auction.WithLogger(quiet),
		auction.WithRecentBids(3),
	)
	return env
}

// seed publishes a listing and opens its auction.
func (env *testEnv) seed(t *testing.T, listingID string, start int64, buyNow int64, duration time.Duration) *model.Auction {
	t.Helper()
	terms := listing.Terms{
		ListingID:  listingID,
		SellerID:   "seller",
		SaleType:   listing.SaleTypeAuction,
		StartPrice: d(start),
		Duration:   duration,
	}
	if buyNow > 0 {
		p := d(buyNow)
		terms.BuyNowPrice = &p
	}
	env.listings.Put(terms)

	a, err := env.engine.CreateAuction(context.Background(), listingID, "seller")
	if err != nil {
		t.Fatalf("failed to create auction: %v", err)
	}
	return a
}

func (env *testEnv) bid(t *testing.T, a *model.Auction, bidder string, amount int64) (*auction.BidResult, error) {
	t.Helper()
	return env.engine.PlaceBid(context.Background(), a.ID, bidder, d(amount), "")
}

func (env *testEnv) mustBid(t *testing.T, a *model.Auction, bidder string, amount int64) *auction.BidResult {
	t.Helper()
	res, err := env.bid(t, a, bidder, amount)
	if err != nil {
		t.Fatalf("bid %d by %s rejected: %v", amount, bidder, err)
	}
	return res
}

// --- Creation ---

func TestCreateAuction(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 10000, 20000, 24*time.Hour)

	if a.Status != model.StatusActive {
		t.Errorf("expected active, got %s", a.Status)
	}
	want := env.clock.Now().Add(24 * time.Hour)
	if !a.EndsAt.Equal(want) || !a.OriginalEndsAt.Equal(want) {
		t.Errorf("expected ends_at %v, got %v / %v", want, a.EndsAt, a.OriginalEndsAt)
	}
	if a.BuyNowPrice == nil || !a.BuyNowPrice.Equal(d(20000)) {
		t.Errorf("expected buy-now 20000, got %v", a.BuyNowPrice)
	}
}

func TestCreateAuction_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "l1", 10000, 0, time.Hour)

	if _, err := env.engine.CreateAuction(ctx, "l1", "seller"); !errors.Is(err, auction.ErrAuctionExists) {
		t.Errorf("duplicate: expected ErrAuctionExists, got %v", err)
	}
	if _, err := env.engine.CreateAuction(ctx, "missing", "seller"); !errors.Is(err, auction.ErrListingNotFound) {
		t.Errorf("missing listing: expected ErrListingNotFound, got %v", err)
	}

	env.listings.Put(listing.Terms{ListingID: "l2", SellerID: "seller", SaleType: listing.SaleTypeAuction, StartPrice: d(100), Duration: time.Hour})
	if _, err := env.engine.CreateAuction(ctx, "l2", "someone-else"); !errors.Is(err, auction.ErrNotSeller) {
		t.Errorf("foreign seller: expected ErrNotSeller, got %v", err)
	}

	env.listings.Put(listing.Terms{ListingID: "l3", SellerID: "seller", SaleType: "cash", StartPrice: d(100), Duration: time.Hour})
	if _, err := env.engine.CreateAuction(ctx, "l3", "seller"); !errors.Is(err, listing.ErrInvalidTerms) {
		t.Errorf("cash listing: expected ErrInvalidTerms, got %v", err)
	}

	env.listings.Put(listing.Terms{ListingID: "l4", SellerID: "seller", SaleType: listing.SaleTypeAuction, StartPrice: decimal.RequireFromString("100.001"), Duration: time.Hour})
	if _, err := env.engine.CreateAuction(ctx, "l4", "seller"); !errors.Is(err, listing.ErrInvalidTerms) {
		t.Errorf("sub-cent start price: expected ErrInvalidTerms, got %v", err)
	}
}

// --- Bidding ---

func TestPlaceBid_IncrementScenario(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 10000, 0, time.Hour)

	res := env.mustBid(t, a, "b1", 10000)
	if !res.NewMinNextBid.Equal(d(10200)) {
		t.Errorf("expected min next bid 10200, got %s", res.NewMinNextBid)
	}

	_, err := env.bid(t, a, "b2", 10199)
	var tooLow *bidding.BidTooLowError
	if !errors.As(err, &tooLow) {
		t.Fatalf("expected BidTooLowError, got %v", err)
	}
	if !tooLow.MinNextBid.Equal(d(10200)) {
		t.Errorf("expected error to carry 10200, got %s", tooLow.MinNextBid)
	}

	env.mustBid(t, a, "b2", 10200)

	state, _ := env.engine.GetAuctionState(context.Background(), a.ID)
	if !state.Auction.CurrentHighest.Equal(d(10200)) || state.Auction.HighestBidder != "b2" {
		t.Errorf("unexpected standing bid %s by %s", state.Auction.CurrentHighest, state.Auction.HighestBidder)
	}
}

func TestPlaceBid_RejectsUnboundedAmounts(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 10000, 0, time.Hour)
	env.mustBid(t, a, "b1", 10000)

	for _, amount := range []string{"1e50000000", "10200.000000001", "1000000000000"} {
		_, err := env.engine.PlaceBid(context.Background(), a.ID, "b2", decimal.RequireFromString(amount), "")
		if !errors.Is(err, bidding.ErrInvalidAmount) {
			t.Errorf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}

	state, err := env.engine.GetAuctionState(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Auction.CurrentHighest.Equal(d(10000)) || !state.MinNextBid.Equal(d(10200)) {
		t.Errorf("rejected amounts must leave the auction unchanged, have %s / %s",
			state.Auction.CurrentHighest, state.MinNextBid)
	}
	if n, _ := env.store.CountBids(context.Background(), a.ID); n != 1 {
		t.Errorf("expected 1 ledger row, have %d", n)
	}
}

func TestPlaceBid_SelfOutbid(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 0, time.Hour)
	env.mustBid(t, a, "b1", 1000)

	if _, err := env.bid(t, a, "b1", 5000); !errors.Is(err, bidding.ErrSelfOutbid) {
		t.Errorf("expected ErrSelfOutbid, got %v", err)
	}
	if n, _ := env.store.CountBids(context.Background(), a.ID); n != 1 {
		t.Errorf("rejected bid must not reach the ledger, have %d rows", n)
	}
}

func TestPlaceBid_SellerCannotBid(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 0, time.Hour)

	if _, err := env.bid(t, a, "seller", 1000); !errors.Is(err, bidding.ErrSellerCannotBid) {
		t.Errorf("expected ErrSellerCannotBid, got %v", err)
	}
}

func TestPlaceBid_Expired(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 0, time.Hour)
	env.clock.Advance(time.Hour)

	if _, err := env.bid(t, a, "b1", 1000); !errors.Is(err, bidding.ErrAuctionExpired) {
		t.Errorf("expected ErrAuctionExpired at ends_at, got %v", err)
	}
}

func TestPlaceBid_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.PlaceBid(context.Background(), "missing", "b1", d(100), "")
	if !errors.Is(err, auction.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPlaceBid_AntiSnipe(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 0, 30*time.Minute)

	res := env.mustBid(t, a, "b1", 1000)
	if res.WasExtended || !res.NewEndsAt.Equal(a.EndsAt) {
		t.Errorf("bid 30 minutes out must not extend, got ends_at %v", res.NewEndsAt)
	}

	env.clock.Advance(27 * time.Minute)
	res = env.mustBid(t, a, "b2", 1050)
	want := env.clock.Now().Add(5 * time.Minute)
	if !res.WasExtended || !res.NewEndsAt.Equal(want) {
		t.Errorf("expected extension to %v, got %v (extended=%v)", want, res.NewEndsAt, res.WasExtended)
	}

	state, _ := env.engine.GetAuctionState(context.Background(), a.ID)
	if !state.Auction.WasExtended || !state.Auction.OriginalEndsAt.Equal(a.OriginalEndsAt) {
		t.Errorf("expected was_extended with original_ends_at untouched, got %+v", state.Auction)
	}
	if len(env.events.ofKind(notify.KindExtended)) != 1 {
		t.Errorf("expected one extended event")
	}
}

func TestPlaceBid_RepeatedExtensions(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 0, 10*time.Minute)

	bidders := []string{"b1", "b2"}
	amount := int64(1000)
	for i := 0; i < 6; i++ {
		env.clock.Advance(4 * time.Minute)
		res := env.mustBid(t, a, bidders[i%2], amount)
		amount += 100
		if i > 0 && !res.WasExtended {
			t.Fatalf("late bid %d did not extend", i)
		}
	}

	state, _ := env.engine.GetAuctionState(context.Background(), a.ID)
	if state.Auction.Extensions < 5 {
		t.Errorf("expected uncapped extensions, got %d", state.Auction.Extensions)
	}
	if !state.Auction.EndsAt.After(state.Auction.OriginalEndsAt) {
		t.Errorf("ends_at must be past the original close")
	}
}

func TestPlaceBid_Notifications(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 0, time.Hour)

	env.mustBid(t, a, "b1", 1000)
	env.mustBid(t, a, "b2", 1050)

	outbid := env.events.ofKind(notify.KindOutbid)
	if len(outbid) != 1 || outbid[0].UserID != "b1" {
		t.Fatalf("expected b1 to be told it was outbid, got %+v", outbid)
	}
	if !outbid[0].Amount.Equal(d(1050)) {
		t.Errorf("expected outbid amount 1050, got %s", outbid[0].Amount)
	}
	if len(env.events.ofKind(notify.KindBidPlaced)) != 2 {
		t.Errorf("expected two bid_placed events")
	}
}

func TestPlaceBid_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 0, time.Hour)
	ctx := context.Background()

	first, err := env.engine.PlaceBid(ctx, a.ID, "b1", d(1000), "key-1")
	if err != nil {
		t.Fatalf("first submission failed: %v", err)
	}
	again, err := env.engine.PlaceBid(ctx, a.ID, "b1", d(1000), "key-1")
	if err != nil {
		t.Fatalf("retry should replay, got %v", err)
	}
	if !again.Replayed || again.BidID != first.BidID {
		t.Errorf("expected replay of %s, got %+v", first.BidID, again)
	}
	if n, _ := env.store.CountBids(ctx, a.ID); n != 1 {
		t.Errorf("replay must not append, have %d rows", n)
	}

	if _, err := env.engine.PlaceBid(ctx, a.ID, "b2", d(2000), "key-1"); !errors.Is(err, auction.ErrIdempotencyKeyReused) {
		t.Errorf("expected ErrIdempotencyKeyReused, got %v", err)
	}
}

func TestPlaceBid_ConcurrencyConflict(t *testing.T) {
	ms := store.NewMemoryStore().WithLockTimeout(10 * time.Millisecond)
	listings := listing.NewMemoryStore()
	listings.Put(listing.Terms{ListingID: "l1", SellerID: "seller", SaleType: listing.SaleTypeAuction, StartPrice: d(100), Duration: time.Hour})
	engine := auction.NewEngine(ms, listings, auction.WithLogger(quiet))
	ctx := context.Background()

	a, err := engine.CreateAuction(ctx, "l1", "seller")
	if err != nil {
		t.Fatal(err)
	}

	held := make(chan struct{})
	release := make(chan struct{})
	go ms.Mutate(ctx, a.ID, func(ctx context.Context, tx store.Tx, a *model.Auction) (*model.Bid, error) {
		close(held)
		<-release
		return nil, store.ErrNoop
	})
	<-held
	defer close(release)

	if _, err := engine.PlaceBid(ctx, a.ID, "b1", d(100), ""); !errors.Is(err, auction.ErrConcurrencyConflict) {
		t.Errorf("expected ErrConcurrencyConflict, got %v", err)
	}
}

// --- Arbitration ---

func TestPlaceBid_ConcurrentSameAmount(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 10000, 0, time.Hour)

	const bidders = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, tooLow := 0, 0
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.engine.PlaceBid(context.Background(), a.ID, fmt.Sprintf("b%d", i), d(10000), "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, bidding.ErrBidTooLow):
				tooLow++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if accepted != 1 || tooLow != bidders-1 {
		t.Errorf("expected exactly one winner of the tie, got accepted=%d too_low=%d", accepted, tooLow)
	}
}

func TestPlaceBid_ConcurrentLedgerInvariants(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 0, time.Hour)
	ctx := context.Background()
	policy := env.engine.Policy()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				env.engine.PlaceBid(ctx, a.ID, fmt.Sprintf("b%d", i), d(int64(1000+(i*5+j)*40)), "")
			}
		}(i)
	}
	wg.Wait()

	state, _ := env.engine.GetAuctionState(ctx, a.ID)
	count, _ := env.store.CountBids(ctx, a.ID)
	if state.Auction.BidsCount != count {
		t.Fatalf("bids_count %d does not match ledger %d", state.Auction.BidsCount, count)
	}

	bids, _ := env.store.ListBids(ctx, a.ID, 0)
	// Ledger is newest first; walk it oldest first.
	for i := len(bids) - 1; i >= 0; i-- {
		b := bids[i]
		if want := int64(len(bids) - i); b.Sequence != want {
			t.Fatalf("sequence gap: expected %d, got %d", want, b.Sequence)
		}
		if i == len(bids)-1 {
			if b.Amount.LessThan(d(1000)) {
				t.Errorf("first bid %s below start price", b.Amount)
			}
			continue
		}
		prev := bids[i+1]
		floor := prev.Amount.Add(policy.MinIncrement(prev.Amount))
		if b.Amount.LessThan(floor) {
			t.Errorf("bid %d amount %s violates increment over %s", b.Sequence, b.Amount, prev.Amount)
		}
		if b.BidderID == prev.BidderID {
			t.Errorf("bid %d: %s outbid itself", b.Sequence, b.BidderID)
		}
	}
	if len(bids) > 0 && !bids[0].Amount.Equal(*state.Auction.CurrentHighest) {
		t.Errorf("aggregate highest %s differs from last ledger row %s", state.Auction.CurrentHighest, bids[0].Amount)
	}
}

// --- Buy-now ---

func TestBuyNow(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 10000, 20000, time.Hour)
	ctx := context.Background()
	env.mustBid(t, a, "b1", 10000)

	res, err := env.engine.BuyNow(ctx, a.ID, "buyer")
	if err != nil {
		t.Fatalf("buy-now failed: %v", err)
	}
	if !res.PurchasePrice.Equal(d(20000)) {
		t.Errorf("expected purchase at 20000, got %s", res.PurchasePrice)
	}

	state, _ := env.engine.GetAuctionState(ctx, a.ID)
	if state.Auction.Status != model.StatusBoughtNow || state.Auction.WinnerID != "buyer" {
		t.Errorf("expected bought_now by buyer, got %s/%s", state.Auction.Status, state.Auction.WinnerID)
	}
	if !state.Auction.CurrentHighest.Equal(d(10000)) {
		t.Errorf("buy-now must not overwrite bidding history, highest=%s", state.Auction.CurrentHighest)
	}

	if _, err := env.bid(t, a, "b2", 50000); !errors.Is(err, bidding.ErrAuctionAlreadyPurchased) {
		t.Errorf("late bid: expected ErrAuctionAlreadyPurchased, got %v", err)
	}
	if _, err := env.engine.BuyNow(ctx, a.ID, "other"); !errors.Is(err, bidding.ErrAuctionNotActive) {
		t.Errorf("second buy-now: expected ErrAuctionNotActive, got %v", err)
	}

	env.engine.Wait()
	if o, ok := env.listings.Outcome("l1"); !ok || o.Status != model.StatusBoughtNow || o.WinnerID != "buyer" {
		t.Errorf("expected listing write-back, got %+v", o)
	}
	if len(env.events.ofKind(notify.KindBoughtNow)) != 1 {
		t.Errorf("expected one bought_now event")
	}
}

func TestBuyNow_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	plain := env.seed(t, "l1", 1000, 0, time.Hour)
	if _, err := env.engine.BuyNow(ctx, plain.ID, "buyer"); !errors.Is(err, bidding.ErrBuyNowUnavailable) {
		t.Errorf("no buy-now price: expected ErrBuyNowUnavailable, got %v", err)
	}

	reached := env.seed(t, "l2", 1000, 2000, time.Hour)
	env.mustBid(t, reached, "b1", 2000)
	if _, err := env.engine.BuyNow(ctx, reached.ID, "buyer"); !errors.Is(err, bidding.ErrBuyNowUnavailable) {
		t.Errorf("bid at buy-now price: expected ErrBuyNowUnavailable, got %v", err)
	}

	own := env.seed(t, "l3", 1000, 2000, time.Hour)
	if _, err := env.engine.BuyNow(ctx, own.ID, "seller"); !errors.Is(err, bidding.ErrSellerCannotBid) {
		t.Errorf("seller buy-now: expected ErrSellerCannotBid, got %v", err)
	}
}

func TestBuyNow_RaceWithBid(t *testing.T) {
	for i := 0; i < 50; i++ {
		env := newTestEnv(t)
		a := env.seed(t, fmt.Sprintf("l%d", i), 10000, 20000, time.Hour)
		ctx := context.Background()

		var wg sync.WaitGroup
		var bidErr, buyErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, bidErr = env.engine.PlaceBid(ctx, a.ID, "bidder", d(20000), "")
		}()
		go func() {
			defer wg.Done()
			_, buyErr = env.engine.BuyNow(ctx, a.ID, "buyer")
		}()
		wg.Wait()

		if (bidErr == nil) == (buyErr == nil) {
			t.Fatalf("run %d: expected exactly one winner, bid=%v buy=%v", i, bidErr, buyErr)
		}

		state, _ := env.engine.GetAuctionState(ctx, a.ID)
		if buyErr == nil {
			if !errors.Is(bidErr, bidding.ErrAuctionAlreadyPurchased) {
				t.Fatalf("run %d: losing bid should see ErrAuctionAlreadyPurchased, got %v", i, bidErr)
			}
			if state.Auction.Status != model.StatusBoughtNow || state.Auction.BidsCount != 0 {
				t.Fatalf("run %d: purchase must exclude the bid, got %+v", i, state.Auction)
			}
		} else {
			if !errors.Is(buyErr, bidding.ErrBuyNowUnavailable) {
				t.Fatalf("run %d: losing buy-now got %v", i, buyErr)
			}
			if state.Auction.Status != model.StatusActive || state.Auction.BidsCount != 1 {
				t.Fatalf("run %d: bid should stand on an active auction, got %+v", i, state.Auction)
			}
		}
	}
}

// --- Cancellation ---

func TestCancelAuction(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 0, time.Hour)
	ctx := context.Background()

	if _, err := env.engine.CancelAuction(ctx, a.ID, "intruder"); !errors.Is(err, auction.ErrNotSeller) {
		t.Errorf("expected ErrNotSeller, got %v", err)
	}

	cancelled, err := env.engine.CancelAuction(ctx, a.ID, "seller")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelled || cancelled.ClosedAt == nil {
		t.Errorf("expected cancelled with closed_at, got %+v", cancelled)
	}
	if _, err := env.engine.CancelAuction(ctx, a.ID, "seller"); !errors.Is(err, bidding.ErrAuctionNotActive) {
		t.Errorf("second cancel: expected ErrAuctionNotActive, got %v", err)
	}
	if _, err := env.bid(t, a, "b1", 1000); !errors.Is(err, bidding.ErrAuctionNotActive) {
		t.Errorf("bid on cancelled: expected ErrAuctionNotActive, got %v", err)
	}

	env.engine.Wait()
	if o, _ := env.listings.Outcome("l1"); o.Status != model.StatusCancelled {
		t.Errorf("expected cancelled write-back, got %+v", o)
	}
}

func TestCancelAuction_UnknownStatusIsNotCancellable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()
	a := &model.Auction{
		ID:             "suspended-1",
		ListingID:      "l9",
		SellerID:       "seller",
		StartPrice:     d(1000),
		OriginalEndsAt: now.Add(time.Hour),
		EndsAt:         now.Add(time.Hour),
		Status:         model.Status("suspended"),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := env.store.CreateAuction(ctx, a); err != nil {
		t.Fatal(err)
	}

	if _, err := env.engine.CancelAuction(ctx, a.ID, "seller"); !errors.Is(err, bidding.ErrAuctionNotActive) {
		t.Errorf("expected ErrAuctionNotActive, got %v", err)
	}
	got, _ := env.store.GetAuction(ctx, a.ID)
	if got.Status != model.Status("suspended") {
		t.Errorf("status changed to %s", got.Status)
	}

	env.engine.Finalize(got)
	env.engine.Wait()
	if len(env.events.all) != 0 {
		t.Errorf("expected no events for unknown status, got %d", len(env.events.all))
	}
}

func TestCancelAuction_WithBids(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 0, time.Hour)
	env.mustBid(t, a, "b1", 1000)

	if _, err := env.engine.CancelAuction(context.Background(), a.ID, "seller"); !errors.Is(err, auction.ErrHasBids) {
		t.Errorf("expected ErrHasBids, got %v", err)
	}
}

// --- Read view ---

func TestGetAuctionState(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 5000, time.Hour)
	ctx := context.Background()

	state, err := env.engine.GetAuctionState(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !state.MinNextBid.Equal(d(1000)) || !state.BuyNowAvailable {
		t.Errorf("fresh auction: min=%s buy_now=%v", state.MinNextBid, state.BuyNowAvailable)
	}
	if state.RecentBids == nil || len(state.RecentBids) != 0 {
		t.Errorf("expected empty non-nil recent bids")
	}

	amount := int64(1000)
	for i := 0; i < 5; i++ {
		env.mustBid(t, a, fmt.Sprintf("b%d", i), amount)
		amount += 100
	}

	state, _ = env.engine.GetAuctionState(ctx, a.ID)
	if len(state.RecentBids) != 3 || state.RecentBids[0].Sequence != 5 {
		t.Errorf("expected the 3 newest bids, got %+v", state.RecentBids)
	}
	if !state.MinNextBid.Equal(d(1450)) {
		t.Errorf("expected min next bid 1450, got %s", state.MinNextBid)
	}
	if !state.ServerTime.Equal(env.clock.Now()) {
		t.Errorf("expected server time from the engine clock")
	}

	if _, err := env.engine.GetAuctionState(ctx, "missing"); !errors.Is(err, auction.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFinalize_Settlement(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "l1", 1000, 0, time.Hour)
	env.mustBid(t, a, "b1", 1000)
	env.clock.Advance(time.Hour)

	settled, ok, err := env.store.CompareAndSettle(context.Background(), a.ID, env.clock.Now())
	if err != nil || !ok {
		t.Fatalf("settle failed: ok=%v err=%v", ok, err)
	}
	env.engine.Finalize(settled)
	env.engine.Wait()

	won := env.events.ofKind(notify.KindWon)
	if len(won) != 1 || won[0].UserID != "b1" || !won[0].Amount.Equal(d(1000)) {
		t.Errorf("expected won event for b1 at 1000, got %+v", won)
	}
	if o, _ := env.listings.Outcome("l1"); o.Status != model.StatusEndedWinner || o.WinnerID != "b1" {
		t.Errorf("expected ended_winner write-back, got %+v", o)
	}
}
