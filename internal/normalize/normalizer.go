package normalize

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/swooshie/sheetsync/internal/sheet"
)

// Header aliases for the fixed business fields, tried in order. Exact
// matches win over case-insensitive ones.
var (
	defaultIdentityAliases = []string{"Serial Number", "Serial", "Device ID", "Asset Tag"}
	legacyIdentityAliases  = []string{"Legacy ID", "Old Serial", "Previous ID"}
	ownerAliases           = []string{"Assigned To", "Owner", "Assignee"}
	statusAliases          = []string{"Status"}
	conditionAliases       = []string{"Condition"}
	lifecycleAliases       = []string{"Lifecycle Status", "Lifecycle"}
	lastSeenAliases        = []string{"Last Seen", "Last Check-In", "Last Checkin"}
	notesAliases           = []string{"Notes", "Comments"}
	transferToAliases      = []string{"Transferred To", "Transfer To"}
	transferAtAliases      = []string{"Transfer Date", "Transferred At"}
	transferReasonAliases  = []string{"Transfer Reason"}
)

// dateLayouts are the timestamp formats accepted when coercing strings.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// Normalizer converts raw sheet rows into canonical records. Rows that
// cannot be normalized are skipped and reported as anomalies; normalization
// never fails a batch.
type Normalizer struct {
	identityAliases []string
	validator       *RowValidator
	logger          *slog.Logger
}

// New creates a Normalizer. identityAliases may be nil to use the defaults.
func New(identityAliases []string) (*Normalizer, error) {
	validator, err := NewRowValidator()
	if err != nil {
		return nil, err
	}
	if len(identityAliases) == 0 {
		identityAliases = defaultIdentityAliases
	}
	return &Normalizer{
		identityAliases: identityAliases,
		validator:       validator,
		logger:          slog.Default().With("component", "normalizer"),
	}, nil
}

// Normalize converts every row of the fetched sheet. Rows without a
// resolvable identity and rows failing shape validation are skipped with an
// anomaly naming the source row; the rest become records tagged with the
// given origin and schema version, each carrying its content hash.
func (n *Normalizer) Normalize(data *sheet.Data, origin, schemaVersion string) *Result {
	result := &Result{RowCount: len(data.Rows)}

	fixed := n.resolveFixedHeaders(data.Headers)
	for i, row := range data.Rows {
		rowNum := rowNumber(data, i)

		identity := strings.ToLower(strings.TrimSpace(textAt(row, fixed.identity)))
		if identity == "" {
			result.SkippedCount++
			result.Anomalies = append(result.Anomalies,
				fmt.Sprintf("row %d: no resolvable identity", rowNum))
			continue
		}

		rec := Record{
			Identity:        identity,
			LegacyIdentity:  strings.ToLower(strings.TrimSpace(textAt(row, fixed.legacy))),
			SheetOrigin:     origin,
			Owner:           textOrDefault(row, fixed.owner, UnassignedOwner),
			Status:          textOrDefault(row, fixed.status, UnknownStatus),
			Condition:       textOrDefault(row, fixed.condition, UnknownStatus),
			LifecycleStatus: textOrDefault(row, fixed.lifecycle, UnknownStatus),
			LastSeen:        coerceTime(valueAt(row, fixed.lastSeen)),
			Notes:           strings.TrimSpace(textAt(row, fixed.notes)),
			SchemaVersion:   schemaVersion,
		}
		if transfer := buildTransfer(row, fixed); transfer != nil {
			rec.LastTransfer = transfer
		}
		rec.DynamicAttributes = dynamicAttributes(row, data.Headers, fixed)

		if err := n.validator.Validate(&rec); err != nil {
			result.SkippedCount++
			result.Anomalies = append(result.Anomalies,
				fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}

		rec.ContentHash = ContentHash(&rec)
		result.Records = append(result.Records, rec)
	}

	if result.SkippedCount > 0 {
		n.logger.Warn("rows skipped during normalization",
			"skipped", result.SkippedCount,
			"total", result.RowCount,
		)
	}
	return result
}

// fixedHeaders maps each fixed business field to the resolved header label,
// or "" when the sheet does not carry the column.
type fixedHeaders struct {
	identity       string
	legacy         string
	owner          string
	status         string
	condition      string
	lifecycle      string
	lastSeen       string
	notes          string
	transferTo     string
	transferAt     string
	transferReason string
}

func (f fixedHeaders) consumed() map[string]bool {
	m := make(map[string]bool, 11)
	for _, h := range []string{
		f.identity, f.legacy, f.owner, f.status, f.condition,
		f.lifecycle, f.lastSeen, f.notes,
		f.transferTo, f.transferAt, f.transferReason,
	} {
		if h != "" {
			m[h] = true
		}
	}
	return m
}

func (n *Normalizer) resolveFixedHeaders(headers []string) fixedHeaders {
	resolve := func(aliases []string) string {
		h, _ := sheet.ResolveHeader(headers, aliases)
		return h
	}
	return fixedHeaders{
		identity:       resolve(n.identityAliases),
		legacy:         resolve(legacyIdentityAliases),
		owner:          resolve(ownerAliases),
		status:         resolve(statusAliases),
		condition:      resolve(conditionAliases),
		lifecycle:      resolve(lifecycleAliases),
		lastSeen:       resolve(lastSeenAliases),
		notes:          resolve(notesAliases),
		transferTo:     resolve(transferToAliases),
		transferAt:     resolve(transferAtAliases),
		transferReason: resolve(transferReasonAliases),
	}
}

// buildTransfer assembles the nested last-transfer sub-object, or nil when
// none of its columns carry a value. Offboarding fields are genuinely
// optional and get no sentinel defaults.
func buildTransfer(row sheet.RawRow, fixed fixedHeaders) *TransferInfo {
	to := strings.TrimSpace(textAt(row, fixed.transferTo))
	at := coerceTime(valueAt(row, fixed.transferAt))
	reason := strings.TrimSpace(textAt(row, fixed.transferReason))
	if to == "" && at == nil && reason == "" {
		return nil
	}
	return &TransferInfo{To: to, At: at, Reason: reason}
}

// dynamicAttributes collects every column outside the fixed schema into the
// open attribute map, keyed by normalized column key. Blank cells are left
// out so the map stays sparse; timestamps become UTC RFC 3339 strings to
// keep the value sum closed.
func dynamicAttributes(row sheet.RawRow, headers []string, fixed fixedHeaders) map[string]sheet.Value {
	consumed := fixed.consumed()
	var attrs map[string]sheet.Value
	for _, h := range headers {
		if consumed[h] {
			continue
		}
		v, ok := row[h]
		if !ok || v.IsBlank() {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]sheet.Value)
		}
		key := sheet.Slug(h)
		if key == "" {
			continue
		}
		attrs[key] = restrictScalar(coerceScalar(v))
	}
	return attrs
}

// coerceScalar upgrades string cells that look like numbers or timestamps.
func coerceScalar(v sheet.Value) sheet.Value {
	if v.Kind != sheet.KindString {
		return v
	}
	s := strings.TrimSpace(v.Str)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return sheet.Number(n)
	}
	if t := parseTime(s); t != nil {
		return sheet.Timestamp(*t)
	}
	return sheet.String(s)
}

// restrictScalar folds timestamps into RFC 3339 strings so dynamic
// attributes stay inside {string, number, boolean, null}.
func restrictScalar(v sheet.Value) sheet.Value {
	if v.Kind == sheet.KindTime {
		return sheet.String(v.Time.UTC().Format(time.RFC3339))
	}
	return v
}

// coerceTime extracts a timestamp from a cell. A string that fails to parse
// as a date yields nil rather than an error; timestamps are genuinely
// optional.
func coerceTime(v sheet.Value) *time.Time {
	switch v.Kind {
	case sheet.KindTime:
		t := v.Time.UTC()
		return &t
	case sheet.KindString:
		return parseTime(strings.TrimSpace(v.Str))
	default:
		return nil
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func valueAt(row sheet.RawRow, header string) sheet.Value {
	if header == "" {
		return sheet.Null()
	}
	v, ok := row[header]
	if !ok {
		return sheet.Null()
	}
	return v
}

func textAt(row sheet.RawRow, header string) string {
	return valueAt(row, header).Text()
}

// textOrDefault returns the trimmed cell text or the sentinel when the cell
// is blank or the column is absent.
func textOrDefault(row sheet.RawRow, header, sentinel string) string {
	v := valueAt(row, header)
	if v.IsBlank() {
		return sentinel
	}
	return strings.TrimSpace(v.Text())
}

func rowNumber(data *sheet.Data, idx int) int {
	if idx < len(data.RowMetadata) && data.RowMetadata[idx].RowNumber > 0 {
		return data.RowMetadata[idx].RowNumber
	}
	return idx + 2
}
