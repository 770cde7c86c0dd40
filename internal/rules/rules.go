// Package rules loads the versioned declarative rule table that drives gap
// detection: one rule per field, with the columns that satisfy it, the
// connector that can fill it, and the preconditions that gate it.
package rules

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Source is one declared upstream source. All sources appear in the
// provenance export, used or not.
type Source struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Publisher string `yaml:"publisher,omitempty" json:"publisher,omitempty"`
	URL       string `yaml:"url,omitempty" json:"url,omitempty"`
}

// Fanout splits one logical data need into sub-requests, one per item value,
// merged afterward by the rule's merge key.
type Fanout struct {
	// Param is the request parameter that receives each item value.
	Param string `yaml:"param"`
	// Items are the sub-item codes to fan out across.
	Items []string `yaml:"items"`
	// ConflictPriority optionally orders items for merge-time conflicts:
	// earlier items win. Without it an overlapping key is a hard conflict.
	ConflictPriority []string `yaml:"conflict_priority,omitempty"`
}

// FieldRule is the static declaration for one target field. Immutable per
// rule-table version; declaration order defines request ordering.
type FieldRule struct {
	// Field is the target: "SHEET.column" for scalars, a sheet name for series.
	Field string `yaml:"field"`
	// AnyOf lists the columns whose emptiness defines the gap. A row that
	// exists but leaves all AnyOf columns blank still counts as a gap.
	AnyOf []string `yaml:"any_of"`
	// Connector is the connector type that fills the gap.
	Connector string `yaml:"connector"`
	// Params is the default parameter template. "{name}" placeholders are
	// substituted with case-level constants at execution time.
	Params map[string]any `yaml:"params,omitempty"`
	// Requires lists field paths that must be non-empty before the request
	// can run (e.g. coordinates for a station lookup).
	Requires []string `yaml:"requires,omitempty"`
	// Credential names an environment variable that must be set.
	Credential string `yaml:"credential,omitempty"`
	// Severity of the finding when the field stays unresolved.
	Severity string `yaml:"severity,omitempty"`
	// SrcID references the declared source backing this field.
	SrcID string `yaml:"src,omitempty"`
	// Fallback is an optional local artifact substituted when the connector
	// is disabled or retries are exhausted.
	Fallback string `yaml:"fallback,omitempty"`
	// MergeKey is the natural join key for series results (e.g. "year").
	MergeKey string `yaml:"merge_key,omitempty"`
	// Apply maps result-row keys to record field paths for scalar targets.
	// Empty for series targets: merged rows land on Field itself.
	Apply map[string]string `yaml:"apply,omitempty"`
	// Fanout expands this rule into one sub-request per item.
	Fanout *Fanout `yaml:"fanout,omitempty"`
}

// Table is a loaded rule table plus its source catalog.
type Table struct {
	Version int         `yaml:"version"`
	Sources []Source    `yaml:"sources"`
	Fields  []FieldRule `yaml:"fields"`

	byField map[string]*FieldRule
}

// Load reads and validates a rule table from a YAML file.
func Load(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "rules: read table")
	}
	return Parse(b)
}

// Parse parses and validates rule table YAML.
func Parse(b []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, eris.Wrap(err, "rules: parse table")
	}

	t.byField = make(map[string]*FieldRule, len(t.Fields))
	for i := range t.Fields {
		r := &t.Fields[i]
		if r.Field == "" {
			return nil, eris.Errorf("rules: rule %d missing field", i)
		}
		if r.Connector == "" {
			return nil, eris.Errorf("rules: rule for %s missing connector", r.Field)
		}
		if _, dup := t.byField[r.Field]; dup {
			return nil, eris.Errorf("rules: duplicate rule for %s", r.Field)
		}
		if len(r.AnyOf) == 0 {
			r.AnyOf = []string{r.Field}
		}
		if r.Severity == "" {
			r.Severity = "error"
		}
		if r.Fanout != nil {
			if r.Fanout.Param == "" || len(r.Fanout.Items) == 0 {
				return nil, eris.Errorf("rules: rule for %s has incomplete fanout", r.Field)
			}
			if r.MergeKey == "" {
				return nil, eris.Errorf("rules: fanned-out rule for %s needs merge_key", r.Field)
			}
		}
		t.byField[r.Field] = r
	}

	return &t, nil
}

// ByField returns the rule for the given field, or nil.
func (t *Table) ByField(field string) *FieldRule {
	return t.byField[field]
}
