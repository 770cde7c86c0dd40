package provenance

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ExportXLSX writes the summary as a four-sheet workbook: sources, evidence,
// usage and findings.
func ExportXLSX(s *Summary, path string) error {
	f := xlsx.NewFile()

	if err := addSheet(f, "Sources",
		[]string{"id", "name", "publisher", "url", "used"},
		len(s.Sources), func(i int) []string {
			src := s.Sources[i]
			return []string{src.ID, src.Name, src.Publisher, src.URL, boolCell(src.Used)}
		}); err != nil {
		return err
	}

	if err := addSheet(f, "Evidence",
		[]string{"id", "connector", "recipe", "origin", "retrieved_at", "content_hash", "artifact_path", "request_url", "src", "uses"},
		len(s.Evidence), func(i int) []string {
			ev := s.Evidence[i]
			return []string{
				ev.ID, ev.Connector, ev.Recipe, ev.Origin,
				timeCell(ev.RetrievedAt), ev.ContentHash, ev.ArtifactPath,
				ev.RequestURL, ev.SrcID, fmt.Sprint(ev.UseCount),
			}
		}); err != nil {
		return err
	}

	if err := addSheet(f, "Usage",
		[]string{"evidence_id", "target", "linked_at"},
		len(s.Usage), func(i int) []string {
			l := s.Usage[i]
			return []string{l.EvidenceID, l.Target, timeCell(l.LinkedAt)}
		}); err != nil {
		return err
	}

	if err := addSheet(f, "Findings",
		[]string{"severity", "code", "field", "message"},
		len(s.Findings), func(i int) []string {
			fd := s.Findings[i]
			return []string{fd.Severity, fd.Code, fd.Field, fd.Message}
		}); err != nil {
		return err
	}

	return eris.Wrap(f.Save(path), "provenance: save workbook")
}

func addSheet(f *xlsx.File, name string, header []string, n int, row func(i int) []string) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "provenance: add sheet %s", name)
	}
	hr := sheet.AddRow()
	for _, h := range header {
		hr.AddCell().SetString(h)
	}
	for i := 0; i < n; i++ {
		xr := sheet.AddRow()
		for _, c := range row(i) {
			xr.AddCell().SetString(c)
		}
	}
	return nil
}

func boolCell(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func timeCell(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
