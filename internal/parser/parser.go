// Package parser turns an uploaded listings file into ImportRecords.
//
// Two strategies share one contract: delimited text (.csv, .tsv) and
// spreadsheet workbooks (.xlsx). The first row of either is a header whose
// cells name the columns; names match case-insensitively and unknown
// columns are ignored. Row numbers count physical rows with the header as
// row 0, so the first data row is row 1.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"auction-bulkops/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrMissingHeader     = errors.New("missing header row")
	ErrMissingColumn     = errors.New("missing required column")
)

// Parser reads every record from r. Only format-level problems are
// returned as errors; a malformed row becomes a record that fails
// validation later.
type Parser interface {
	Parse(ctx context.Context, r io.Reader) ([]models.ImportRecord, error)
}

// ForFile picks the strategy for name by its extension.
func ForFile(name string) (Parser, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return DelimitedParser{Separator: ','}, nil
	case ".tsv":
		return DelimitedParser{Separator: '\t'}, nil
	case ".xlsx":
		return WorkbookParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// Supported reports whether ForFile accepts name.
func Supported(name string) bool {
	_, err := ForFile(name)
	return err == nil
}

const (
	fieldSKU           = "sku"
	fieldTitle         = "title"
	fieldDescription   = "description"
	fieldCategory      = "category"
	fieldCurrency      = "currency"
	fieldQuantity      = "quantity"
	fieldStartingPrice = "starting_price"
	fieldReservePrice  = "reserve_price"
	fieldBuyNowPrice   = "buy_now_price"
	fieldStartTime     = "start_time"
	fieldEndTime       = "end_time"
)

var aliases = map[string]string{
	"name":        fieldTitle,
	"item":        fieldTitle,
	"price":       fieldStartingPrice,
	"start_price": fieldStartingPrice,
	"opening_bid": fieldStartingPrice,
	"reserve":     fieldReservePrice,
	"buy_now":     fieldBuyNowPrice,
	"buyout":      fieldBuyNowPrice,
	"qty":         fieldQuantity,
	"starts_at":   fieldStartTime,
	"ends_at":     fieldEndTime,
	"seller_sku":  fieldSKU,
}

var knownFields = map[string]bool{
	fieldSKU: true, fieldTitle: true, fieldDescription: true, fieldCategory: true,
	fieldCurrency: true, fieldQuantity: true, fieldStartingPrice: true,
	fieldReservePrice: true, fieldBuyNowPrice: true, fieldStartTime: true, fieldEndTime: true,
}

var requiredFields = []string{fieldTitle, fieldStartingPrice}

func normalizeHeader(cell string) string {
	cell = strings.TrimPrefix(cell, "\ufeff")
	cell = strings.ToLower(strings.TrimSpace(cell))
	cell = strings.NewReplacer(" ", "_", "-", "_").Replace(cell)
	if canonical, ok := aliases[cell]; ok {
		return canonical
	}
	return cell
}

// columns maps a canonical field name to its cell index.
type columns map[string]int

func mapHeader(cells []string) (columns, error) {
	cols := columns{}
	for i, cell := range cells {
		name := normalizeHeader(cell)
		if !knownFields[name] {
			continue
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, f := range requiredFields {
		if _, ok := cols[f]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, f)
		}
	}
	return cols, nil
}

func (c columns) text(cells []string, field string) string {
	i, ok := c[field]
	if !ok || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

func (c columns) money(cells []string, field string) *float64 {
	raw := strings.TrimSpace(strings.TrimLeft(c.text(cells, field), "$€£¥ "))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return nil
	}
	return &v
}

func (c columns) integer(cells []string, field string) int {
	v, err := strconv.Atoi(c.text(cells, field))
	if err != nil {
		return 0
	}
	return v
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
	"01-02-06 15:04",
	"01-02-06",
}

func (c columns) timestamp(cells []string, field string) *time.Time {
	raw := c.text(cells, field)
	if raw == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

func (c columns) record(row int, cells []string) models.ImportRecord {
	return models.ImportRecord{
		RowNumber:     row,
		SKU:           c.text(cells, fieldSKU),
		Title:         c.text(cells, fieldTitle),
		Description:   c.text(cells, fieldDescription),
		Category:      c.text(cells, fieldCategory),
		Currency:      c.text(cells, fieldCurrency),
		Quantity:      c.integer(cells, fieldQuantity),
		StartingPrice: c.money(cells, fieldStartingPrice),
		ReservePrice:  c.money(cells, fieldReservePrice),
		BuyNowPrice:   c.money(cells, fieldBuyNowPrice),
		StartTime:     c.timestamp(cells, fieldStartTime),
		EndTime:       c.timestamp(cells, fieldEndTime),
	}
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
