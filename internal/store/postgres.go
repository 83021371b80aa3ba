package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Mutate holds a row lock (SELECT ... FOR UPDATE) for the duration of the
// transaction, so writers of one auction are serialized across every
// engine instance sharing the database.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout}
}

const schema = `
CREATE TABLE IF NOT EXISTS auctions (
	id                  TEXT PRIMARY KEY,
	listing_id          TEXT NOT NULL,
	seller_id           TEXT NOT NULL,
	start_price         NUMERIC NOT NULL CHECK (start_price > 0),
	buy_now_price       NUMERIC,
	current_highest_bid NUMERIC,
	highest_bidder_id   TEXT,
	bids_count          BIGINT NOT NULL DEFAULT 0 CHECK (bids_count >= 0),
	original_ends_at    TIMESTAMPTZ NOT NULL,
	ends_at             TIMESTAMPTZ NOT NULL,
	was_extended        BOOLEAN NOT NULL DEFAULT FALSE,
	extensions          INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL CHECK (status IN ('active','ended_winner','ended_no_bids','bought_now','cancelled')),
	winner_id           TEXT,
	purchase_price      NUMERIC,
	version             BIGINT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	closed_at           TIMESTAMPTZ,
	CONSTRAINT auctions_listing_unique UNIQUE (listing_id),
	CONSTRAINT auctions_ends_at_monotonic CHECK (ends_at >= original_ends_at)
);

CREATE INDEX IF NOT EXISTS idx_auctions_active_ends_at ON auctions (ends_at) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS auction_bids (
	id              TEXT PRIMARY KEY,
	auction_id      TEXT NOT NULL REFERENCES auctions(id),
	bidder_id       TEXT NOT NULL,
	amount          NUMERIC NOT NULL CHECK (amount > 0),
	sequence        BIGINT NOT NULL CHECK (sequence > 0),
	idempotency_key TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	CONSTRAINT auction_bids_sequence_unique UNIQUE (auction_id, sequence)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_auction_bids_idempotency
	ON auction_bids (auction_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
`

// Migrate creates the auction tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate auction schema: %w", err)
	}
	return nil
}

const auctionColumns = `id, listing_id, seller_id,
	start_price::TEXT, buy_now_price::TEXT, current_highest_bid::TEXT,
	highest_bidder_id, bids_count, original_ends_at, ends_at,
	was_extended, extensions, status, winner_id, purchase_price::TEXT,
	version, created_at, updated_at, closed_at`

const bidColumns = `id, auction_id, bidder_id, amount::TEXT, sequence, idempotency_key, created_at`

func (s *PostgresStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auctions (id, listing_id, seller_id, start_price, buy_now_price,
		                       current_highest_bid, highest_bidder_id, bids_count,
		                       original_ends_at, ends_at, was_extended, extensions,
		                       status, winner_id, purchase_price, version,
		                       created_at, updated_at, closed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10,
		         $11, $12, $13, $14, $15::NUMERIC, $16, $17, $18, $19)`,
		a.ID, a.ListingID, a.SellerID, a.StartPrice.String(), decimalText(a.BuyNowPrice),
		decimalText(a.CurrentHighest), nullText(a.HighestBidder), a.BidsCount,
		a.OriginalEndsAt, a.EndsAt, a.WasExtended, a.Extensions,
		string(a.Status), nullText(a.WinnerID), decimalText(a.PurchasePrice), a.Version,
		a.CreatedAt, a.UpdatedAt, a.ClosedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("create auction %s: %w", a.ID, err))
	}
	return nil
}

func (s *PostgresStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	a, err := scanAuction(s.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(fmt.Errorf("get auction %s: %w", id, err))
	}
	return a, nil
}

func (s *PostgresStore) GetAuctionByListing(ctx context.Context, listingID string) (*model.Auction, error) {
	a, err := scanAuction(s.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE listing_id = $1`, listingID))
	if err != nil {
		return nil, mapError(fmt.Errorf("get auction by listing %s: %w", listingID, err))
	}
	return a, nil
}

func (s *PostgresStore) ListAuctions(ctx context.Context, status model.Status) ([]model.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE $1 = '' OR status = $1
		 ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuctions(rows)
}

func (s *PostgresStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*model.Auction, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin mutate %s: %w", id, err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return nil, mapError(err)
	}

	cur, err := scanAuction(tx.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError(fmt.Errorf("lock auction %s: %w", id, err))
	}
	readVersion := cur.Version

	bid, err := fn(ctx, pgTx{tx: tx, auctionID: id}, cur)
	if errors.Is(err, ErrNoop) {
		return s.GetAuction(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE auctions
		 SET current_highest_bid = $2::NUMERIC, highest_bidder_id = $3, bids_count = $4,
		     ends_at = $5, was_extended = $6, extensions = $7, status = $8,
		     winner_id = $9, purchase_price = $10::NUMERIC, updated_at = $11,
		     closed_at = $12, version = version + 1
		 WHERE id = $1 AND version = $13`,
		id, decimalText(cur.CurrentHighest), nullText(cur.HighestBidder), cur.BidsCount,
		cur.EndsAt, cur.WasExtended, cur.Extensions, string(cur.Status),
		nullText(cur.WinnerID), decimalText(cur.PurchasePrice), cur.UpdatedAt,
		cur.ClosedAt, readVersion,
	)
	if err != nil {
		return nil, mapError(fmt.Errorf("update auction %s: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrConflict
	}

	if bid != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO auction_bids (id, auction_id, bidder_id, amount, sequence, idempotency_key, created_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
			bid.ID, bid.AuctionID, bid.BidderID, bid.Amount.String(), bid.Sequence,
			nullText(bid.IdempotencyKey), bid.CreatedAt,
		)
		if err != nil {
			return nil, mapError(fmt.Errorf("insert bid %s: %w", bid.ID, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapError(fmt.Errorf("commit mutate %s: %w", id, err))
	}
	cur.Version = readVersion + 1
	return cur, nil
}

func (s *PostgresStore) ListBids(ctx context.Context, auctionID string, limit int) ([]model.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM auction_bids WHERE auction_id = $1 ORDER BY sequence DESC`
	args := []any{auctionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBids(rows)
}

func (s *PostgresStore) CountBids(ctx context.Context, auctionID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM auction_bids WHERE auction_id = $1`, auctionID).Scan(&n)
	return n, err
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Auction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE status = 'active' AND ends_at <= $1
		 ORDER BY ends_at ASC
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuctions(rows)
}

// CompareAndSettle relies on the guarded UPDATE: a concurrent Mutate holding
// the row lock makes this statement wait, and the WHERE clause is then
// re-evaluated against the committed row, so a last-second extension keeps
// the auction active.
func (s *PostgresStore) CompareAndSettle(ctx context.Context, id string, now time.Time) (*model.Auction, bool, error) {
	a, err := scanAuction(s.pool.QueryRow(ctx,
		`UPDATE auctions
		 SET status     = CASE WHEN bids_count > 0 THEN 'ended_winner' ELSE 'ended_no_bids' END,
		     winner_id  = CASE WHEN bids_count > 0 THEN highest_bidder_id ELSE NULL END,
		     closed_at  = $2,
		     updated_at = $2,
		     version    = version + 1
		 WHERE id = $1 AND status = 'active' AND ends_at <= $2
		 RETURNING `+auctionColumns, id, now))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, getErr := s.GetAuction(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		return cur, false, nil
	}
	if err != nil {
		return nil, false, mapError(fmt.Errorf("settle auction %s: %w", id, err))
	}
	return a, true, nil
}

type pgTx struct {
	tx        pgx.Tx
	auctionID string
}

func (t pgTx) BidByKey(ctx context.Context, key string) (*model.Bid, error) {
	if key == "" {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx,
		`SELECT `+bidColumns+` FROM auction_bids WHERE auction_id = $1 AND idempotency_key = $2`,
		t.auctionID, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bids, err := scanBids(rows)
	if err != nil || len(bids) == 0 {
		return nil, err
	}
	return &bids[0], nil
}

// mapError translates driver errors into the store's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "55P03": // lock_not_available
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case "23505": // unique_violation
		if pgErr.ConstraintName == "auctions_listing_unique" {
			return fmt.Errorf("%w: %v", ErrAuctionExists, err)
		}
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*model.Auction, error) {
	var a model.Auction
	var startPrice string
	var buyNow, highest, purchase, highestBidder, winner *string
	var status string

	if err := row.Scan(&a.ID, &a.ListingID, &a.SellerID,
		&startPrice, &buyNow, &highest,
		&highestBidder, &a.BidsCount, &a.OriginalEndsAt, &a.EndsAt,
		&a.WasExtended, &a.Extensions, &status, &winner, &purchase,
		&a.Version, &a.CreatedAt, &a.UpdatedAt, &a.ClosedAt); err != nil {
		return nil, err
	}

	var err error
	if a.StartPrice, err = decimal.NewFromString(startPrice); err != nil {
		return nil, fmt.Errorf("auction %s start_price: %w", a.ID, err)
	}
	if a.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	if a.BuyNowPrice, err = parseDecimal(buyNow); err != nil {
		return nil, fmt.Errorf("auction %s buy_now_price: %w", a.ID, err)
	}
	if a.CurrentHighest, err = parseDecimal(highest); err != nil {
		return nil, fmt.Errorf("auction %s current_highest_bid: %w", a.ID, err)
	}
	if a.PurchasePrice, err = parseDecimal(purchase); err != nil {
		return nil, fmt.Errorf("auction %s purchase_price: %w", a.ID, err)
	}
	a.HighestBidder = derefText(highestBidder)
	a.WinnerID = derefText(winner)
	return &a, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAuctions(rows pgxRows) ([]model.Auction, error) {
	var out []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanBids(rows pgxRows) ([]model.Bid, error) {
	var bids []model.Bid
	for rows.Next() {
		var b model.Bid
		var amount string
		var key *string

		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &amount,
			&b.Sequence, &key, &b.CreatedAt); err != nil {
			return nil, err
		}

		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("bid %s amount: %w", b.ID, err)
		}
		b.Amount = d
		b.IdempotencyKey = derefText(key)
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// parseDecimal reads a nullable NUMERIC rendered as text.
func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefText(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
