// Package registry converts sheet headers into typed column descriptors,
// diffs them against the previously persisted registry, and derives a stable
// schema version identifier.
package registry

import (
	"fmt"

	"github.com/swooshie/sheetsync/internal/sheet"
)

// DataType classifies a column's sampled values.
type DataType string

const (
	TypeString  DataType = "string"
	TypeNumber  DataType = "number"
	TypeBoolean DataType = "boolean"
	TypeDate    DataType = "date"
	TypeUnknown DataType = "unknown"
)

// sampleCap bounds how many non-null values type inference examines per
// column.
const sampleCap = 32

// ColumnDescriptor describes one sheet column.
type ColumnDescriptor struct {
	Key          string   `json:"key"`
	Label        string   `json:"label"`
	DisplayOrder int      `json:"displayOrder"`
	DataType     DataType `json:"dataType"`
	Nullable     bool     `json:"nullable"`
}

// Build derives column descriptors from the header list and a sample of
// rows. Keys are normalized slugs; labels that slug to the same key (or to
// nothing) fall back to a positional key so every column stays addressable.
func Build(headers []string, rows []sheet.RawRow) []ColumnDescriptor {
	entries := make([]ColumnDescriptor, 0, len(headers))
	seen := make(map[string]bool, len(headers))
	for i, label := range headers {
		key := sheet.Slug(label)
		if key == "" || seen[key] {
			key = fmt.Sprintf("column_%d", i)
		}
		seen[key] = true

		dataType, nullable := inferType(label, rows)
		entries = append(entries, ColumnDescriptor{
			Key:          key,
			Label:        label,
			DisplayOrder: i,
			DataType:     dataType,
			Nullable:     nullable,
		})
	}
	return entries
}

// inferType samples up to sampleCap non-null values under the given header.
// A single consistent scalar kind wins; a number/string mix degrades to
// string; no samples at all yields unknown. Any null seen while sampling
// marks the column nullable.
func inferType(label string, rows []sheet.RawRow) (DataType, bool) {
	nullable := false
	sampled := 0
	kinds := make(map[sheet.Kind]bool)
	for _, row := range rows {
		if sampled >= sampleCap {
			break
		}
		v, ok := row[label]
		if !ok || v.IsNull() {
			nullable = true
			continue
		}
		sampled++
		kinds[v.Kind] = true
	}

	if sampled == 0 {
		return TypeUnknown, nullable
	}
	if len(kinds) == 1 {
		for k := range kinds {
			switch k {
			case sheet.KindNumber:
				return TypeNumber, nullable
			case sheet.KindBool:
				return TypeBoolean, nullable
			case sheet.KindTime:
				return TypeDate, nullable
			default:
				return TypeString, nullable
			}
		}
	}
	// Mixed kinds: everything can be read back as a string.
	return TypeString, nullable
}
