// Package sheet defines the types produced by the spreadsheet fetch client
// and the Fetcher interface the sync pipeline consumes. The real fetch
// client (rate limiting, retries, pagination) lives outside this module;
// a CSV-file source is provided for development and backfills.
package sheet

import "context"

// RawRow maps a header label to the typed cell value for one sheet line.
// Column order is carried separately in OrderedHeaders.
type RawRow map[string]Value

// OrderedHeader is one header cell with its normalized key and position.
type OrderedHeader struct {
	Name          string `json:"name"`
	NormalizedKey string `json:"normalizedKey"`
	Position      int    `json:"position"`
}

// RowMetadata ties a parsed row back to its location in the source sheet.
type RowMetadata struct {
	RowNumber int      `json:"rowNumber"`
	RawCells  []string `json:"rawCells"`
}

// FetchMetrics summarises one fetch from the source.
type FetchMetrics struct {
	DurationMs int64 `json:"durationMs"`
	RowCount   int   `json:"rowCount"`
	PageCount  int   `json:"pageCount"`
	RetryCount int   `json:"retryCount"`
}

// Data is everything one fetch returns: headers, typed rows, per-row
// metadata, and fetch metrics.
type Data struct {
	Headers        []string
	OrderedHeaders []OrderedHeader
	Rows           []RawRow
	RowMetadata    []RowMetadata
	Metrics        FetchMetrics
}

// Fetcher fetches the current sheet contents. Implementations own their
// retry and rate-limit behaviour; a returned error is an infrastructure
// failure from the pipeline's point of view.
type Fetcher interface {
	Fetch(ctx context.Context) (*Data, error)
}
