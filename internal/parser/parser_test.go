package parser

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"auction-bulkops/internal/models"
)

type recordView struct {
	Row      int
	Title    string
	Price    float64
	Quantity int
	Currency string
	rec      models.ImportRecord
}

func view(recs []models.ImportRecord) []recordView {
	out := make([]recordView, 0, len(recs))
	for _, r := range recs {
		v := recordView{Row: r.RowNumber, Title: r.Title, Quantity: r.Quantity, Currency: r.Currency, rec: r}
		if r.StartingPrice != nil {
			v.Price = *r.StartingPrice
		}
		out = append(out, v)
	}
	return out
}

func TestForFile(t *testing.T) {
	tests := []struct {
		name    string
		want    Parser
		wantErr bool
	}{
		{"listings.csv", DelimitedParser{Separator: ','}, false},
		{"LISTINGS.CSV", DelimitedParser{Separator: ','}, false},
		{"export.tsv", DelimitedParser{Separator: '\t'}, false},
		{"book.xlsx", WorkbookParser{}, false},
		{"book.xls", nil, true},
		{"notes.txt", nil, true},
		{"noext", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ForFile(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				assert.False(t, Supported(tt.name))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, Supported(tt.name))
		})
	}
}

func workbook(t *testing.T, rows map[string][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for cell, values := range rows {
		vals := values
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &vals))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestWorkbookParser_Rows(t *testing.T) {
	buf := workbook(t, map[string][]any{
		"A1": {"SKU", "Title", "Starting Price", "Qty"},
		"A2": {"S-1", "Teapot", 12.5, 2},
		"A4": {"S-2", "Kettle", 30, 1},
	})

	recs, err := WorkbookParser{}.Parse(context.Background(), buf)
	require.NoError(t, err)

	got := view(recs)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Row)
	assert.Equal(t, "Teapot", got[0].Title)
	assert.Equal(t, 12.5, got[0].Price)
	assert.Equal(t, 2, got[0].Quantity)
	assert.Equal(t, "S-1", got[0].rec.SKU)

	assert.Equal(t, 3, got[1].Row, "blank row 3 still consumes a number")
	assert.Equal(t, "Kettle", got[1].Title)
}

func TestWorkbookParser_MissingColumn(t *testing.T) {
	buf := workbook(t, map[string][]any{
		"A1": {"Title", "Description"},
		"A2": {"Teapot", "Blue"},
	})

	_, err := WorkbookParser{}.Parse(context.Background(), buf)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestWorkbookParser_EmptySheet(t *testing.T) {
	buf := workbook(t, nil)

	_, err := WorkbookParser{}.Parse(context.Background(), buf)
	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestWorkbookParser_NotAWorkbook(t *testing.T) {
	_, err := WorkbookParser{}.Parse(context.Background(), bytes.NewBufferString("title,starting_price\n"))
	assert.Error(t, err)
}
