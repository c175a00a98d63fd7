package normalize

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/swooshie/sheetsync/internal/sheet"
)

// ContentHash digests the record's normalized business content. Two records
// with the same content modulo case and whitespace hash identically, no
// matter what order their source fields arrived in; the schema version tag
// and the hash itself are excluded so a registry bump alone never dirties a
// record.
func ContentHash(r *Record) string {
	var b strings.Builder
	writeField(&b, "identity", canonString(r.Identity))
	writeField(&b, "legacy_identity", canonString(r.LegacyIdentity))
	writeField(&b, "sheet_origin", canonString(r.SheetOrigin))
	writeField(&b, "owner", canonString(r.Owner))
	writeField(&b, "status", canonString(r.Status))
	writeField(&b, "condition", canonString(r.Condition))
	writeField(&b, "lifecycle_status", canonString(r.LifecycleStatus))
	writeField(&b, "last_seen", canonTime(r.LastSeen))
	writeField(&b, "notes", canonString(r.Notes))
	if r.LastTransfer != nil {
		writeField(&b, "transfer_to", canonString(r.LastTransfer.To))
		writeField(&b, "transfer_at", canonTime(r.LastTransfer.At))
		writeField(&b, "transfer_reason", canonString(r.LastTransfer.Reason))
	} else {
		writeField(&b, "transfer_to", "")
		writeField(&b, "transfer_at", "")
		writeField(&b, "transfer_reason", "")
	}

	keys := make([]string, 0, len(r.DynamicAttributes))
	for k := range r.DynamicAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(&b, "attr."+k, canonValue(r.DynamicAttributes[k]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum)
}

func writeField(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte('\n')
}

// canonString lower-cases and collapses all whitespace runs to single
// spaces. Null coalesces to the empty string.
func canonString(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func canonTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func canonValue(v sheet.Value) string {
	switch v.Kind {
	case sheet.KindString:
		return canonString(v.Str)
	case sheet.KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case sheet.KindBool:
		return strconv.FormatBool(v.Bool)
	case sheet.KindTime:
		return v.Time.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}
