package sheet

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// FileSource reads sheet data from a local CSV file. It stands in for the
// remote spreadsheet client during development and backfills: one file read
// counts as one page, and there are no retries to report.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a FileSource for the given CSV path.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:   path,
		logger: slog.Default().With("component", "csv-source"),
	}
}

// Fetch parses the CSV file into typed rows. Ragged rows are padded or
// truncated to the header width; cell typing is best-effort (empty → null,
// numeric-looking → number, true/false → boolean, everything else string).
func (s *FileSource) Fetch(ctx context.Context) (*Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening sheet file %s: %w", s.path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headerCells, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("sheet file %s has no header row", s.path)
		}
		return nil, fmt.Errorf("reading header row: %w", err)
	}

	headers := make([]string, len(headerCells))
	ordered := make([]OrderedHeader, len(headerCells))
	for i, h := range headerCells {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		headers[i] = h
		ordered[i] = OrderedHeader{Name: h, NormalizedKey: Slug(h), Position: i}
	}

	var rows []RawRow
	var meta []RowMetadata
	rowNumber := 1 // header occupies row 1 in the source sheet
	for {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNumber++
		if err != nil {
			s.logger.Warn("skipping unparseable row", "row", rowNumber, "error", err)
			continue
		}
		if len(cells) < len(headers) {
			padded := make([]string, len(headers))
			copy(padded, cells)
			cells = padded
		} else if len(cells) > len(headers) {
			cells = cells[:len(headers)]
		}

		row := make(RawRow, len(headers))
		for i, h := range headers {
			row[h] = typeCell(cells[i])
		}
		rows = append(rows, row)
		meta = append(meta, RowMetadata{RowNumber: rowNumber, RawCells: cells})
	}

	data := &Data{
		Headers:        headers,
		OrderedHeaders: ordered,
		Rows:           rows,
		RowMetadata:    meta,
		Metrics: FetchMetrics{
			DurationMs: time.Since(start).Milliseconds(),
			RowCount:   len(rows),
			PageCount:  1,
			RetryCount: 0,
		},
	}
	s.logger.Debug("sheet fetched", "rows", len(rows), "columns", len(headers))
	return data, nil
}

// typeCell assigns a scalar kind to one CSV cell.
func typeCell(cell string) Value {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return Null()
	}
	switch strings.ToLower(trimmed) {
	case "true":
		return Boolean(true)
	case "false":
		return Boolean(false)
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Number(n)
	}
	return String(trimmed)
}
