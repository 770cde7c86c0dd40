package record

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/baseline-env/casefill/internal/model"
)

// LoadWorkbook reads a case workbook into a Record. The first row of each
// sheet is the header; fully blank data rows are dropped.
func LoadWorkbook(path string) (*Record, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "record: open workbook")
	}

	rec := New()
	for _, sheet := range f.Sheets {
		if len(sheet.Rows) == 0 {
			rec.SetSheet(sheet.Name, nil)
			continue
		}

		header := cellStrings(sheet.Rows[0])
		rec.SetHeader(sheet.Name, header)

		var rows []model.Row
		for _, xr := range sheet.Rows[1:] {
			cells := cellStrings(xr)
			row := make(model.Row, len(header))
			empty := true
			for i, col := range header {
				if col == "" {
					continue
				}
				var v string
				if i < len(cells) {
					v = cells[i]
				}
				row[col] = v
				if strings.TrimSpace(v) != "" {
					empty = false
				}
			}
			if !empty {
				rows = append(rows, row)
			}
		}
		rec.SetSheet(sheet.Name, rows)
	}

	return rec, nil
}

// SaveWorkbook writes the record's effective state (user rows plus merged
// overlay values) back to a workbook.
func SaveWorkbook(rec *Record, path string) error {
	f := xlsx.NewFile()

	for _, name := range rec.SheetNames() {
		sheet, err := f.AddSheet(name)
		if err != nil {
			return eris.Wrapf(err, "record: add sheet %s", name)
		}

		rows := effectiveRows(rec, name)
		header := effectiveHeader(rec.Header(name), rows)

		hr := sheet.AddRow()
		for _, col := range header {
			hr.AddCell().SetString(col)
		}
		for _, row := range rows {
			xr := sheet.AddRow()
			for _, col := range header {
				xr.AddCell().SetString(cellString(row[col]))
			}
		}
	}

	return eris.Wrap(f.Save(path), "record: save workbook")
}

// effectiveRows merges scalar overlay values into the sheet's first row.
// Series overlays already replace the rows wholesale via Record.Rows.
func effectiveRows(rec *Record, sheet string) []model.Row {
	rows := rec.Rows(sheet)
	out := make([]model.Row, len(rows))
	for i, r := range rows {
		cp := make(model.Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}

	for _, path := range rec.Overlay() {
		s, col := model.SplitFieldPath(path)
		if s != sheet || col == "" {
			continue
		}
		fv, _ := rec.Get(path)
		if fv.Origin == model.OriginUnresolved {
			continue
		}
		if len(out) == 0 {
			out = append(out, model.Row{})
		}
		out[0][col] = fv.Value
	}

	return out
}

func effectiveHeader(header []string, rows []model.Row) []string {
	seen := make(map[string]bool, len(header))
	out := make([]string, 0, len(header))
	for _, col := range header {
		if col != "" && !seen[col] {
			seen[col] = true
			out = append(out, col)
		}
	}

	var extra []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				extra = append(extra, col)
			}
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func cellStrings(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.String()
	}
	return out
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
