package connector

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/resilience"
)

// TypePDFPage rasterizes one page of a local scanned document.
const TypePDFPage = "pdf_page"

const pdfPageRecipe = "pdf_page/v1"

// PDFPage extracts a single document page as a PNG via pdftoppm. It is a
// local connector: no credential gating, no retry on failure.
type PDFPage struct {
	binPath string
	dpi     int
}

// NewPDFPage builds the document-page connector.
func NewPDFPage(binPath string, dpi int) *PDFPage {
	if binPath == "" {
		binPath = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 250
	}
	return &PDFPage{binPath: binPath, dpi: dpi}
}

func (p *PDFPage) Type() string   { return TypePDFPage }
func (p *PDFPage) Recipe() string { return pdfPageRecipe }
func (p *PDFPage) Local() bool    { return true }

func (p *PDFPage) Fetch(ctx context.Context, params map[string]any) (*Result, error) {
	docPath := paramString(params, "path")
	if docPath == "" {
		return nil, &resilience.MalformedInputError{
			Err: eris.New("pdf_page: path is required"),
		}
	}
	if _, err := os.Stat(docPath); err != nil {
		return nil, &resilience.MalformedInputError{
			Err: eris.Wrapf(err, "pdf_page: document %s", docPath),
		}
	}

	page := 1
	if v := paramString(params, "page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, &resilience.MalformedInputError{
				Err: eris.Errorf("pdf_page: bad page number %q", v),
			}
		}
		page = n
	}

	tmpDir, err := os.MkdirTemp("", "casefill-pdfpage-")
	if err != nil {
		return nil, eris.Wrap(err, "pdf_page: temp dir")
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, p.binPath,
		"-png",
		"-r", strconv.Itoa(p.dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		docPath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, &resilience.MalformedInputError{
			Err: eris.Errorf("pdf_page: pdftoppm failed: %v: %s", err, out),
		}
	}

	matches, err := filepath.Glob(prefix + "*.png")
	if err != nil || len(matches) == 0 {
		return nil, &resilience.MalformedInputError{
			Err: eris.Errorf("pdf_page: no page %d in %s", page, docPath),
		}
	}
	body, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, eris.Wrap(err, "pdf_page: read rendered page")
	}

	return &Result{
		Body:       body,
		Ext:        "png",
		RequestURL: fmt.Sprintf("file://%s#page=%d", docPath, page),
		Origin:     model.OriginComputed,
	}, nil
}

// Rows is nil for raster artifacts.
func (p *PDFPage) Rows(artifact []byte) ([]model.Row, error) {
	return nil, nil
}
