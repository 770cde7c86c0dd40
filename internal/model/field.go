package model

import "strings"

// FieldOrigin says who put a value into the record. User-entered values are
// never overwritten by auto-fetched ones.
type FieldOrigin string

const (
	OriginUser       FieldOrigin = "user"
	OriginAuto       FieldOrigin = "auto"
	OriginUnresolved FieldOrigin = "unresolved"
)

// Provenance accompanies every write into the record.
type Provenance struct {
	Source      string
	EvidenceIDs []string
	Origin      FieldOrigin
}

// FieldValue is a record field's value plus its provenance. A field that
// could not be proven carries the explicit unresolved marker instead of
// looking filled.
type FieldValue struct {
	Value       any
	Origin      FieldOrigin
	EvidenceIDs []string
	Unresolved  string // reason, set only when Origin == OriginUnresolved
}

// Empty reports whether the value counts as a gap: nil, blank string, or an
// explicit unresolved marker.
func (fv FieldValue) Empty() bool {
	if fv.Origin == OriginUnresolved {
		return true
	}
	switch v := fv.Value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []Row:
		return len(v) == 0
	default:
		return false
	}
}

// SplitFieldPath splits "SHEET.column" into its sheet and column parts.
// A bare sheet name returns an empty column.
func SplitFieldPath(path string) (sheet, column string) {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}
