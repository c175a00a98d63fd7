package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// rowSchema is the declarative shape every normalized record must satisfy
// before it is admitted to the batch. Identity is the only hard requirement;
// the rest constrains types so a malformed row fails here instead of at the
// store.
const rowSchema = `{
  "type": "object",
  "required": ["identity"],
  "properties": {
    "identity": {"type": "string", "minLength": 1},
    "legacyIdentity": {"type": "string"},
    "owner": {"type": "string"},
    "status": {"type": "string"},
    "condition": {"type": "string"},
    "lifecycleStatus": {"type": "string"},
    "lastSeen": {"type": "string"},
    "notes": {"type": "string"}
  }
}`

// RowValidator validates record projections against the row schema.
type RowValidator struct {
	schema *jsonschema.Schema
}

// NewRowValidator compiles the embedded row schema. Compilation can only
// fail if the schema itself is malformed, which is a programming error.
func NewRowValidator() (*RowValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(rowSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing row schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("sheetsync://row-schema.json", doc); err != nil {
		return nil, fmt.Errorf("adding row schema resource: %w", err)
	}
	schema, err := compiler.Compile("sheetsync://row-schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling row schema: %w", err)
	}
	return &RowValidator{schema: schema}, nil
}

// Validate checks one record projection. The returned error describes the
// first violated constraint and is suitable for an anomaly string.
func (v *RowValidator) Validate(r *Record) error {
	projection := map[string]any{
		"identity":        r.Identity,
		"owner":           r.Owner,
		"status":          r.Status,
		"condition":       r.Condition,
		"lifecycleStatus": r.LifecycleStatus,
	}
	if r.LegacyIdentity != "" {
		projection["legacyIdentity"] = r.LegacyIdentity
	}
	if r.LastSeen != nil {
		projection["lastSeen"] = r.LastSeen.UTC().Format(time.RFC3339)
	}
	if r.Notes != "" {
		projection["notes"] = r.Notes
	}
	if err := v.schema.Validate(projection); err != nil {
		return fmt.Errorf("row shape invalid: %w", err)
	}
	return nil
}
