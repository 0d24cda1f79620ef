package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"auction-bulkops/internal/models"
)

var listingColumns = []string{
	"id", "seller_id", "sku", "title", "description", "category", "currency", "quantity",
	"starting_price_cents", "reserve_price_cents", "buy_now_price_cents",
	"start_time", "end_time", "source_row",
}

// PostgresListingRepository implements ListingRepository with COPY batches.
type PostgresListingRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresListingRepository(pool *pgxpool.Pool) *PostgresListingRepository {
	return &PostgresListingRepository{pool: pool}
}

// OpenPostgresListingRepository connects to dsn and ensures the schema.
func OpenPostgresListingRepository(ctx context.Context, dsn string) (*PostgresListingRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo := NewPostgresListingRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *PostgresListingRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS listings (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  sku TEXT NOT NULL DEFAULT '',
  title VARCHAR(200) NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  category TEXT NOT NULL DEFAULT '',
  currency CHAR(3) NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 1,
  starting_price_cents BIGINT NOT NULL,
  reserve_price_cents BIGINT NOT NULL DEFAULT 0,
  buy_now_price_cents BIGINT NOT NULL DEFAULT 0,
  start_time TIMESTAMPTZ,
  end_time TIMESTAMPTZ,
  source_row INTEGER NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_listings_seller_id ON listings(seller_id);
`)
	if err != nil {
		return fmt.Errorf("create listings schema: %w", err)
	}
	return nil
}

func (r *PostgresListingRepository) SaveBatch(ctx context.Context, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, []any{
			l.ID,
			l.SellerID,
			l.SKU,
			l.Title,
			l.Description,
			l.Category,
			l.Currency,
			int32(l.Quantity),
			l.StartingPriceCents,
			l.ReservePriceCents,
			l.BuyNowPriceCents,
			nullableTime(l.StartTime),
			nullableTime(l.EndTime),
			int32(l.SourceRow),
		})
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"listings"}, listingColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy listings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit listings batch: %w", err)
	}
	return nil
}

func (r *PostgresListingRepository) CountListings(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM listings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return count, nil
}

func (r *PostgresListingRepository) Close() error {
	r.pool.Close()
	return nil
}

func nullableTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
