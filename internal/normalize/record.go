// Package normalize converts raw typed sheet rows into canonical records:
// alias-based field resolution, scalar coercion, declarative shape
// validation, and a deterministic content hash for change detection.
package normalize

import (
	"time"

	"github.com/swooshie/sheetsync/internal/sheet"
)

// Default sentinels for optional fields that should never persist as null.
const (
	UnknownStatus   = "Unknown"
	UnassignedOwner = "Unassigned"
)

// TransferInfo holds the metadata of a record's most recent transfer.
type TransferInfo struct {
	To     string     `json:"to,omitempty"`
	At     *time.Time `json:"at,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// Record is the canonical entity derived from one sheet row.
type Record struct {
	// Identity is the normalized lower-case unique key.
	Identity string `json:"identity"`
	// LegacyIdentity is an optional secondary id carried for migration.
	LegacyIdentity string `json:"legacyIdentity,omitempty"`
	SheetOrigin    string `json:"sheetOrigin"`

	Owner           string        `json:"owner"`
	Status          string        `json:"status"`
	Condition       string        `json:"condition"`
	LifecycleStatus string        `json:"lifecycleStatus"`
	LastSeen        *time.Time    `json:"lastSeen,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	LastTransfer    *TransferInfo `json:"lastTransfer,omitempty"`

	// DynamicAttributes holds columns outside the fixed schema, keyed by
	// normalized column key. Values are restricted to the closed scalar sum
	// {string, number, boolean, null}; timestamps are carried as UTC
	// RFC 3339 strings.
	DynamicAttributes map[string]sheet.Value `json:"dynamicAttributes,omitempty"`

	SchemaVersion string `json:"schemaVersion,omitempty"`
	ContentHash   string `json:"contentHash"`
}

// Result is what one normalization pass returns.
type Result struct {
	Records      []Record `json:"records"`
	Anomalies    []string `json:"anomalies"`
	RowCount     int      `json:"rowCount"`
	SkippedCount int      `json:"skippedCount"`
}
