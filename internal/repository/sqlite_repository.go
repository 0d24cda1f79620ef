package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"auction-bulkops/internal/models"
)

// SQLiteListingRepository implements ListingRepository using SQLite
type SQLiteListingRepository struct {
	db *sql.DB
}

// NewSQLiteListingRepository opens dbPath and creates the listings schema
func NewSQLiteListingRepository(dbPath string) (*SQLiteListingRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteListingRepository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *SQLiteListingRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteListingRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		sku TEXT,
		title TEXT NOT NULL,
		description TEXT,
		category TEXT,
		currency TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		starting_price_cents INTEGER NOT NULL,
		reserve_price_cents INTEGER NOT NULL DEFAULT 0,
		buy_now_price_cents INTEGER NOT NULL DEFAULT 0,
		start_time INTEGER,
		end_time INTEGER,
		source_row INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_seller_id ON listings(seller_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// SaveBatch inserts listings in a single transaction
func (r *SQLiteListingRepository) SaveBatch(ctx context.Context, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO listings (id, seller_id, sku, title, description, category, currency, quantity,
		                      starting_price_cents, reserve_price_cents, buy_now_price_cents,
		                      start_time, end_time, source_row, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, l := range listings {
		_, err := stmt.ExecContext(ctx,
			l.ID,
			l.SellerID,
			l.SKU,
			l.Title,
			l.Description,
			l.Category,
			l.Currency,
			l.Quantity,
			l.StartingPriceCents,
			l.ReservePriceCents,
			l.BuyNowPriceCents,
			unixOrNull(l.StartTime),
			unixOrNull(l.EndTime),
			l.SourceRow,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert listing from row %d: %w", l.SourceRow, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CountListings returns the number of stored listings
func (r *SQLiteListingRepository) CountListings(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return count, nil
}

// ListBySeller returns a seller's listings in source row order
func (r *SQLiteListingRepository) ListBySeller(ctx context.Context, sellerID string) ([]models.Listing, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, seller_id, sku, title, description, category, currency, quantity,
		       starting_price_cents, reserve_price_cents, buy_now_price_cents,
		       start_time, end_time, source_row
		FROM listings
		WHERE seller_id = ?
		ORDER BY source_row ASC
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		var startTime, endTime sql.NullInt64
		err := rows.Scan(
			&l.ID,
			&l.SellerID,
			&l.SKU,
			&l.Title,
			&l.Description,
			&l.Category,
			&l.Currency,
			&l.Quantity,
			&l.StartingPriceCents,
			&l.ReservePriceCents,
			&l.BuyNowPriceCents,
			&startTime,
			&endTime,
			&l.SourceRow,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		l.StartTime = timeOrNil(startTime)
		l.EndTime = timeOrNil(endTime)
		listings = append(listings, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}
	return listings, nil
}

func unixOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
