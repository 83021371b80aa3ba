package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
)

// SQLStore reads and writes the product's listings table.
type SQLStore struct {
	db *sqlx.DB
}

// Open connects to the listings database with the lib/pq driver.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("listing.Open: %w", err)
	}
	return NewSQLStore(db), nil
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// InitSchema adds the auction columns to the listings table when missing.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id            TEXT PRIMARY KEY,
		seller_id     TEXT NOT NULL,
		sale_type     TEXT NOT NULL DEFAULT 'cash',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	ALTER TABLE listings ADD COLUMN IF NOT EXISTS auction_start_price    NUMERIC(14,2);
	ALTER TABLE listings ADD COLUMN IF NOT EXISTS auction_buy_now_price  NUMERIC(14,2);
	ALTER TABLE listings ADD COLUMN IF NOT EXISTS auction_duration_hours INTEGER;
	ALTER TABLE listings ADD COLUMN IF NOT EXISTS auction_status         TEXT;
	ALTER TABLE listings ADD COLUMN IF NOT EXISTS auction_winner_id      TEXT;
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("listing.InitSchema: %w", err)
	}
	return nil
}

type termsRow struct {
	ID            string              `db:"id"`
	SellerID      string              `db:"seller_id"`
	SaleType      string              `db:"sale_type"`
	StartPrice    decimal.NullDecimal `db:"auction_start_price"`
	BuyNowPrice   decimal.NullDecimal `db:"auction_buy_now_price"`
	DurationHours sql.NullInt64       `db:"auction_duration_hours"`
}

func (s *SQLStore) AuctionTerms(ctx context.Context, listingID string) (*Terms, error) {
	var row termsRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, seller_id, sale_type, auction_start_price,
		       auction_buy_now_price, auction_duration_hours
		FROM listings WHERE id = $1`, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, listingID)
		}
		return nil, fmt.Errorf("listing.AuctionTerms: %w", err)
	}

	t := &Terms{
		ListingID:  row.ID,
		SellerID:   row.SellerID,
		SaleType:   row.SaleType,
		StartPrice: row.StartPrice.Decimal,
		Duration:   time.Duration(row.DurationHours.Int64) * time.Hour,
	}
	if row.BuyNowPrice.Valid {
		p := row.BuyNowPrice.Decimal
		t.BuyNowPrice = &p
	}
	return t, nil
}

func (s *SQLStore) RecordOutcome(ctx context.Context, listingID string, status model.Status, winnerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings SET auction_status = $2, auction_winner_id = NULLIF($3, '')
		WHERE id = $1`, listingID, string(status), winnerID)
	if err != nil {
		return fmt.Errorf("listing.RecordOutcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, listingID)
	}
	return nil
}
