package parser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"auction-bulkops/internal/models"
)

const ctxCheckEvery = 512

// DelimitedParser reads one record per line, splitting on Separator outside
// double-quoted spans. A doubled quote inside a quoted span is a literal quote.
type DelimitedParser struct {
	Separator rune
}

func (p DelimitedParser) Parse(ctx context.Context, r io.Reader) ([]models.ImportRecord, error) {
	sep := p.Separator
	if sep == 0 {
		sep = ','
	}

	br := bufio.NewReader(r)
	var (
		cols    columns
		records []models.ImportRecord
		lineNo  = -1
	)

	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read line %d: %w", lineNo+1, readErr)
		}
		if line == "" && errors.Is(readErr, io.EOF) {
			break
		}
		lineNo++

		if lineNo%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line = strings.TrimRight(line, "\r\n")
		cells := SplitLine(line, sep)

		if cols == nil {
			if lineNo == 0 {
				if blank(cells) {
					return nil, ErrMissingHeader
				}
				var err error
				if cols, err = mapHeader(cells); err != nil {
					return nil, err
				}
			}
		} else if !blank(cells) {
			records = append(records, cols.record(lineNo, cells))
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	if cols == nil {
		return nil, ErrMissingHeader
	}
	return records, nil
}

// SplitLine tokenizes line on sep, treating sep inside double quotes as
// literal. Fields are trimmed of surrounding whitespace. An unterminated
// quote runs to the end of the line.
func SplitLine(line string, sep rune) []string {
	var (
		fields   []string
		field    strings.Builder
		inQuotes bool
	)

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				field.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case c == sep && !inQuotes:
			fields = append(fields, strings.TrimSpace(field.String()))
			field.Reset()
		default:
			field.WriteRune(c)
		}
	}
	return append(fields, strings.TrimSpace(field.String()))
}
