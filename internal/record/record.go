// Package record holds the case record: sheet-shaped user data plus the
// overlay of auto-filled values written by the merge engine. Connectors never
// touch it; only merge/apply and explicit user input mutate it.
package record

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/baseline-env/casefill/internal/model"
)

// ErrUserValue is returned when an auto-fill write targets a field holding an
// explicit user-entered value.
var ErrUserValue = eris.New("record: field holds a user-entered value")

// IsUserValue reports whether err is a refused write to a user-held field.
func IsUserValue(err error) bool {
	return eris.Is(err, ErrUserValue)
}

// Record is one case's field data. Not safe for concurrent mutation; the
// pipeline mutates it only from the single-threaded merge stage.
type Record struct {
	sheets     map[string][]model.Row
	sheetOrder []string
	headers    map[string][]string
	overlay    map[string]model.FieldValue
}

// New returns an empty record.
func New() *Record {
	return &Record{
		sheets:  make(map[string][]model.Row),
		headers: make(map[string][]string),
		overlay: make(map[string]model.FieldValue),
	}
}

// SetSheet installs user-entered rows for a sheet, replacing any previous rows.
func (r *Record) SetSheet(name string, rows []model.Row) {
	if _, ok := r.sheets[name]; !ok {
		r.sheetOrder = append(r.sheetOrder, name)
	}
	r.sheets[name] = rows
}

// SetHeader records a sheet's column order for round-tripping.
func (r *Record) SetHeader(sheet string, columns []string) {
	r.headers[sheet] = columns
}

// Header returns a sheet's recorded column order, possibly nil.
func (r *Record) Header(sheet string) []string {
	return r.headers[sheet]
}

// SheetNames returns sheet names in load order.
func (r *Record) SheetNames() []string {
	out := make([]string, len(r.sheetOrder))
	copy(out, r.sheetOrder)
	return out
}

// Rows returns the effective rows of a sheet: a series overlay written by
// merge/apply wins over the loaded user rows.
func (r *Record) Rows(sheet string) []model.Row {
	if fv, ok := r.overlay[sheet]; ok {
		if rows, ok := fv.Value.([]model.Row); ok {
			return rows
		}
	}
	return r.sheets[sheet]
}

// Get resolves a field path: the overlay first, then the loaded sheet data
// (first row for scalar paths, all rows for a bare sheet path).
func (r *Record) Get(path string) (model.FieldValue, bool) {
	if fv, ok := r.overlay[path]; ok {
		return fv, true
	}

	sheet, column := model.SplitFieldPath(path)
	rows, ok := r.sheets[sheet]
	if !ok || len(rows) == 0 {
		return model.FieldValue{}, false
	}
	if column == "" {
		return model.FieldValue{Value: rows, Origin: model.OriginUser}, true
	}
	v, ok := rows[0][column]
	if !ok {
		return model.FieldValue{}, false
	}
	return model.FieldValue{Value: v, Origin: model.OriginUser}, true
}

// Set writes a value with provenance. Auto-fill writes refuse to overwrite a
// non-empty user-entered value; unresolved markers are cleared by any write.
func (r *Record) Set(path string, value any, prov model.Provenance) error {
	if prov.Origin != model.OriginUser {
		if cur, ok := r.Get(path); ok && cur.Origin == model.OriginUser && !cur.Empty() {
			return eris.Wrapf(ErrUserValue, "set %s", path)
		}
	}
	r.overlay[path] = model.FieldValue{
		Value:       value,
		Origin:      prov.Origin,
		EvidenceIDs: prov.EvidenceIDs,
	}
	return nil
}

// MarkUnresolved records that a field could not be proven, with the reason.
// A field holding a user value is left alone.
func (r *Record) MarkUnresolved(path, reason string) {
	if cur, ok := r.Get(path); ok && cur.Origin == model.OriginUser && !cur.Empty() {
		return
	}
	r.overlay[path] = model.FieldValue{
		Origin:     model.OriginUnresolved,
		Unresolved: reason,
	}
}

// ColumnEmpty reports whether a field path is effectively empty: rows that
// exist but leave the column blank still count as empty.
func (r *Record) ColumnEmpty(path string) bool {
	if fv, ok := r.overlay[path]; ok {
		return fv.Empty()
	}

	sheet, column := model.SplitFieldPath(path)
	rows := r.Rows(sheet)
	if column == "" {
		return len(rows) == 0
	}
	for _, row := range rows {
		if !blank(row[column]) {
			return false
		}
	}
	return true
}

// Constant resolves a field path to its string form for parameter
// substitution. Empty and unresolved fields resolve to ("", false).
func (r *Record) Constant(path string) (string, bool) {
	fv, ok := r.Get(path)
	if !ok || fv.Empty() {
		return "", false
	}
	switch v := fv.Value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case []model.Row:
		return "", false
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// Overlay returns the auto-filled and unresolved field paths, sorted.
func (r *Record) Overlay() []string {
	paths := make([]string, 0, len(r.overlay))
	for p := range r.overlay {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
