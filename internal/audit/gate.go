// Package audit implements the pre-flight identity check that runs against
// raw fetched rows before any normalization or persistence. A blocked report
// means the run must not write anything.
package audit

import (
	"log/slog"
	"strings"

	"github.com/swooshie/sheetsync/internal/sheet"
	syncerrors "github.com/swooshie/sheetsync/pkg/errors"
)

// Status is the outcome of an audit pass.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusBlocked Status = "blocked"
)

// maxMissingRowSample bounds how many offending row numbers a report carries
// into telemetry.
const maxMissingRowSample = 25

// Report describes one audit pass over a fetched sheet.
type Report struct {
	RowsAudited    int    `json:"rowsAudited"`
	MissingCount   int    `json:"missingCount"`
	MissingRows    []int  `json:"missingRows"`
	IdentityHeader string `json:"identityHeader"`
	Status         Status `json:"status"`
}

// Gate validates that every raw row carries a value in the mandatory
// identity column.
type Gate struct {
	identityAliases []string
	logger          *slog.Logger
}

// NewGate creates a Gate resolving the identity column through the given
// header aliases, tried in order.
func NewGate(identityAliases []string) *Gate {
	return &Gate{
		identityAliases: identityAliases,
		logger:          slog.Default().With("component", "audit-gate"),
	}
}

// Audit checks every row for a non-blank identity value. If the identity
// column is entirely absent from the headers that is a configuration error,
// not an audit result. Otherwise the report is blocked when at least one row
// has a blank identity, with the offending row numbers sampled.
func (g *Gate) Audit(data *sheet.Data) (*Report, error) {
	header, ok := sheet.ResolveHeader(data.Headers, g.identityAliases)
	if !ok {
		return nil, syncerrors.Newf(syncerrors.ErrConfiguration, "",
			"identity column not found: tried %s", strings.Join(g.identityAliases, ", "))
	}

	report := &Report{
		RowsAudited:    len(data.Rows),
		IdentityHeader: header,
		Status:         StatusPassed,
	}
	for i, row := range data.Rows {
		if !row[header].IsBlank() {
			continue
		}
		report.MissingCount++
		if len(report.MissingRows) < maxMissingRowSample {
			report.MissingRows = append(report.MissingRows, rowNumber(data, i))
		}
	}
	if report.MissingCount > 0 {
		report.Status = StatusBlocked
		g.logger.Warn("audit blocked",
			"rows_audited", report.RowsAudited,
			"missing_count", report.MissingCount,
		)
	}
	return report, nil
}

// rowNumber maps a row index to its source sheet row number, falling back to
// header-offset arithmetic when metadata is missing.
func rowNumber(data *sheet.Data, idx int) int {
	if idx < len(data.RowMetadata) && data.RowMetadata[idx].RowNumber > 0 {
		return data.RowMetadata[idx].RowNumber
	}
	return idx + 2
}
