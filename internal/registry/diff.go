package registry

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Rename pairs a previous descriptor with its current replacement.
type Rename struct {
	From ColumnDescriptor `json:"from"`
	To   ColumnDescriptor `json:"to"`
}

// Diff is the classified difference between the current registry and the
// previously persisted one.
type Diff struct {
	Added     []ColumnDescriptor `json:"added"`
	Removed   []ColumnDescriptor `json:"removed"`
	Unchanged []ColumnDescriptor `json:"unchanged"`
	Renamed   []Rename           `json:"renamed"`
}

// Empty reports whether the diff carries no schema drift.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Renamed) == 0
}

// Compare classifies each column as added, removed, unchanged, or renamed.
// A column that disappears and another that appears at the same display
// order are paired as a rename. That pairing is a positional heuristic to
// cut down noisy add/remove pairs, not a guarantee; a coincidental column
// swap at the same position will be misreported as a rename.
func Compare(current, previous []ColumnDescriptor) Diff {
	prevByKey := make(map[string]ColumnDescriptor, len(previous))
	for _, e := range previous {
		prevByKey[e.Key] = e
	}
	curByKey := make(map[string]ColumnDescriptor, len(current))
	for _, e := range current {
		curByKey[e.Key] = e
	}

	var diff Diff
	var added []ColumnDescriptor
	for _, e := range current {
		if _, ok := prevByKey[e.Key]; ok {
			diff.Unchanged = append(diff.Unchanged, e)
		} else {
			added = append(added, e)
		}
	}
	var removed []ColumnDescriptor
	for _, e := range previous {
		if _, ok := curByKey[e.Key]; !ok {
			removed = append(removed, e)
		}
	}

	removedByOrder := make(map[int]ColumnDescriptor, len(removed))
	for _, e := range removed {
		removedByOrder[e.DisplayOrder] = e
	}
	pairedOrders := make(map[int]bool)
	for _, e := range added {
		if from, ok := removedByOrder[e.DisplayOrder]; ok && !pairedOrders[e.DisplayOrder] {
			diff.Renamed = append(diff.Renamed, Rename{From: from, To: e})
			pairedOrders[e.DisplayOrder] = true
			continue
		}
		diff.Added = append(diff.Added, e)
	}
	for _, e := range removed {
		if !pairedOrders[e.DisplayOrder] {
			diff.Removed = append(diff.Removed, e)
		}
	}
	return diff
}

// DeriveVersion hashes the sorted (key, label, dataType, nullable) tuples of
// every entry. Reordering unrelated columns leaves the version unchanged;
// any change to an entry's shape produces a new version.
func DeriveVersion(entries []ColumnDescriptor) string {
	tuples := make([]string, 0, len(entries))
	for _, e := range entries {
		tuples = append(tuples, fmt.Sprintf("%s|%s|%s|%t", e.Key, e.Label, e.DataType, e.Nullable))
	}
	sort.Strings(tuples)
	sum := sha256.Sum256([]byte(strings.Join(tuples, "\n")))
	return fmt.Sprintf("v-%x", sum[:6])
}
