package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxTitleLength  = 200
	defaultCurrency = "USD"
	maxQuantity     = math.MaxInt32
	// maxPrice keeps every amount exactly representable in cents.
	maxPrice = 1e12
)

var ErrInvalidListing = errors.New("invalid listing")

// ImportRecord is one parsed row of an uploaded listings file. Optional
// fields carry defaults when their cell is missing or malformed; required
// fields are left unset so validation can attribute the failure to RowNumber.
type ImportRecord struct {
	RowNumber int
	// Malformed is set when the row could not be read at all.
	Malformed string

	SKU         string
	Title       string
	Description string
	Category    string
	Currency    string
	Quantity    int

	StartingPrice *float64
	ReservePrice  *float64
	BuyNowPrice   *float64

	StartTime *time.Time
	EndTime   *time.Time
}

// Listing is an auction listing ready to be persisted.
type Listing struct {
	ID                 string
	SellerID           string
	SKU                string
	Title              string
	Description        string
	Category           string
	Currency           string
	Quantity           int
	StartingPriceCents int64
	ReservePriceCents  int64
	BuyNowPriceCents   int64
	StartTime          *time.Time
	EndTime            *time.Time
	SourceRow          int
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidListing, fmt.Sprintf(format, args...))
}

// toCents converts a price to minor units, rejecting amounts that are not
// finite or exceed maxPrice.
func toCents(v float64, field string) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, invalid("%s is not a number", field)
	}
	if math.Abs(v) > maxPrice {
		return 0, invalid("%s exceeds %.0f", field, float64(maxPrice))
	}
	return int64(math.Round(v * 100)), nil
}

// NewListing builds a Listing for sellerID from rec, rejecting records that
// break listing rules.
func NewListing(rec ImportRecord, sellerID string) (Listing, error) {
	if rec.Malformed != "" {
		return Listing{}, invalid("malformed row: %s", rec.Malformed)
	}

	title := strings.TrimSpace(rec.Title)
	if title == "" {
		return Listing{}, invalid("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return Listing{}, invalid("title exceeds %d characters", maxTitleLength)
	}

	if rec.StartingPrice == nil {
		return Listing{}, invalid("starting_price is missing or not a number")
	}
	starting, err := toCents(*rec.StartingPrice, "starting_price")
	if err != nil {
		return Listing{}, err
	}
	if starting <= 0 {
		return Listing{}, invalid("starting_price must be greater than zero")
	}

	var reserve int64
	if rec.ReservePrice != nil {
		if reserve, err = toCents(*rec.ReservePrice, "reserve_price"); err != nil {
			return Listing{}, err
		}
		if reserve < 0 {
			return Listing{}, invalid("reserve_price must not be negative")
		}
		if reserve > 0 && reserve < starting {
			return Listing{}, invalid("reserve_price must not be below starting_price")
		}
	}

	var buyNow int64
	if rec.BuyNowPrice != nil {
		if buyNow, err = toCents(*rec.BuyNowPrice, "buy_now_price"); err != nil {
			return Listing{}, err
		}
		if buyNow != 0 && buyNow <= starting {
			return Listing{}, invalid("buy_now_price must exceed starting_price")
		}
	}

	quantity := rec.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return Listing{}, invalid("quantity must be at least 1")
	}
	if quantity > maxQuantity {
		return Listing{}, invalid("quantity exceeds %d", maxQuantity)
	}

	currency := strings.ToUpper(strings.TrimSpace(rec.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 || strings.IndexFunc(currency, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
		return Listing{}, invalid("currency %q is not a 3-letter code", rec.Currency)
	}

	if rec.StartTime != nil && rec.EndTime != nil && !rec.EndTime.After(*rec.StartTime) {
		return Listing{}, invalid("end_time must be after start_time")
	}

	return Listing{
		ID:                 uuid.New().String(),
		SellerID:           sellerID,
		SKU:                strings.TrimSpace(rec.SKU),
		Title:              title,
		Description:        strings.TrimSpace(rec.Description),
		Category:           strings.TrimSpace(rec.Category),
		Currency:           currency,
		Quantity:           quantity,
		StartingPriceCents: starting,
		ReservePriceCents:  reserve,
		BuyNowPriceCents:   buyNow,
		StartTime:          rec.StartTime,
		EndTime:            rec.EndTime,
		SourceRow:          rec.RowNumber,
	}, nil
}
