package provenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/baseline-env/casefill/internal/evidence"
	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/rules"
)

const provTable = `
sources:
  - id: SRC-GEO
    name: National Geocoder
    url: https://geo.example.test
  - id: SRC-STATS
    name: Statistics Portal
fields:
  - field: LOCATION.center_lat
    connector: geocode
    src: SRC-GEO
`

func provFixture(t *testing.T) (*Registry, evidence.Index) {
	t.Helper()
	tbl, err := rules.Parse([]byte(provTable))
	require.NoError(t, err)

	index, err := evidence.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })
	require.NoError(t, index.Migrate(context.Background()))

	return New(tbl, index), index
}

func TestBuildSummary(t *testing.T) {
	reg, index := provFixture(t)
	ctx := context.Background()

	used := &model.Evidence{
		ID: "EV-used", Connector: "geocode", Recipe: "geocode/v1",
		ArtifactPath: "us/EV-used.json", ContentHash: "h1",
		RetrievedAt: time.Now().UTC(), Origin: model.OriginNetwork, SrcID: "SRC-GEO",
	}
	unused := &model.Evidence{
		ID: "EV-unused", Connector: "stats", Recipe: "stats/v1",
		ArtifactPath: "un/EV-unused.json", ContentHash: "h2",
		RetrievedAt: time.Now().UTC(), Origin: model.OriginNetwork,
	}
	placeholder := &model.Evidence{
		ID: "EV-ph", Connector: "wms", Recipe: "placeholder/wms/v1",
		ArtifactPath: "ph/EV-ph.json", ContentHash: "h3",
		RetrievedAt: time.Now().UTC(), Origin: model.OriginPlaceholder,
	}
	for _, ev := range []*model.Evidence{used, unused, placeholder} {
		require.NoError(t, index.Put(ctx, ev))
	}
	require.NoError(t, index.LinkUsage(ctx, model.UsageLink{
		EvidenceID: "EV-used", Target: "LOCATION.center_lat", LinkedAt: time.Now().UTC(),
	}))

	runFindings := []model.ValidationFinding{
		{Code: "request_failed", Severity: model.SeverityWarn, Message: "x"},
	}
	s, err := reg.Build(ctx, runFindings)
	require.NoError(t, err)

	// Declared sources always appear, cited or not.
	require.Len(t, s.Sources, 2)
	assert.True(t, s.Sources[0].Used, "SRC-GEO is cited by evidence")
	assert.False(t, s.Sources[1].Used)

	require.Len(t, s.Evidence, 3)
	byID := map[string]EvidenceEntry{}
	for _, e := range s.Evidence {
		byID[e.ID] = e
	}
	assert.Equal(t, 1, byID["EV-used"].UseCount)
	assert.Equal(t, 0, byID["EV-unused"].UseCount)

	var codes []string
	for _, f := range s.Findings {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, "request_failed", "run findings fold in")

	// Zero-use evidence is flagged, the placeholder included.
	var unusedMsgs []string
	for _, f := range s.Findings {
		if f.Code == "evidence_unused" {
			unusedMsgs = append(unusedMsgs, f.Message)
		}
	}
	require.Len(t, unusedMsgs, 2)
	assert.Contains(t, unusedMsgs[0]+unusedMsgs[1], "EV-unused")
	assert.Contains(t, unusedMsgs[0]+unusedMsgs[1], "EV-ph")
}

func TestBuildSurfacesPersistedRunFindings(t *testing.T) {
	reg, index := provFixture(t)
	ctx := context.Background()

	require.NoError(t, index.PutFindings(ctx, "run-1", []model.ValidationFinding{
		{Code: "request_disabled", Severity: model.SeverityWarn,
			Message: "REQ-WEATHER-CLIMATE disabled: credential WEATHER_KEY not set",
			Field:   "CLIMATE"},
		{Code: "request_failed", Severity: model.SeverityWarn,
			Message: "REQ-STATS-B failed (transient): upstream down",
			Field:   "DEMOGRAPHICS"},
	}))

	persisted, err := index.ListFindings(ctx)
	require.NoError(t, err)

	s, err := reg.Build(ctx, persisted)
	require.NoError(t, err)

	var codes []string
	for _, f := range s.Findings {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, "request_disabled", "disabled requests reach the summary")
	assert.Contains(t, codes, "request_failed", "failed requests reach the summary")
}

func TestBuildIntactUsageRaisesNothing(t *testing.T) {
	reg, index := provFixture(t)
	ctx := context.Background()

	ev := &model.Evidence{
		ID: "EV-a", Connector: "geocode", Recipe: "geocode/v1",
		ArtifactPath: "aa/EV-a.json", ContentHash: "h",
		RetrievedAt: time.Now().UTC(), Origin: model.OriginNetwork,
	}
	require.NoError(t, index.Put(ctx, ev))
	require.NoError(t, index.LinkUsage(ctx, model.UsageLink{
		EvidenceID: "EV-a", Target: "X", LinkedAt: time.Now().UTC(),
	}))

	s, err := reg.Build(ctx, nil)
	require.NoError(t, err)
	for _, f := range s.Findings {
		assert.NotEqual(t, "usage_dangling", f.Code, "intact links raise nothing")
	}
}

func TestFindingsSortedBySeverity(t *testing.T) {
	reg, _ := provFixture(t)

	s, err := reg.Build(context.Background(), []model.ValidationFinding{
		{Code: "a", Severity: model.SeverityInfo},
		{Code: "b", Severity: model.SeverityError},
		{Code: "c", Severity: model.SeverityWarn},
	})
	require.NoError(t, err)
	require.Len(t, s.Findings, 3)
	assert.Equal(t, model.SeverityError, s.Findings[0].Severity)
	assert.Equal(t, model.SeverityWarn, s.Findings[1].Severity)
	assert.Equal(t, model.SeverityInfo, s.Findings[2].Severity)
}

func TestExportXLSX(t *testing.T) {
	reg, index := provFixture(t)
	ctx := context.Background()

	require.NoError(t, index.Put(ctx, &model.Evidence{
		ID: "EV-a", Connector: "geocode", Recipe: "geocode/v1",
		ArtifactPath: "aa/EV-a.json", ContentHash: "h",
		RetrievedAt: time.Now().UTC(), Origin: model.OriginNetwork, SrcID: "SRC-GEO",
	}))

	s, err := reg.Build(ctx, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "provenance.xlsx")
	require.NoError(t, ExportXLSX(s, path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 4)
	assert.Equal(t, "Sources", f.Sheets[0].Name)
	assert.Equal(t, "Evidence", f.Sheets[1].Name)
	assert.Equal(t, "Usage", f.Sheets[2].Name)
	assert.Equal(t, "Findings", f.Sheets[3].Name)

	// Header plus two declared sources.
	assert.Len(t, f.Sheets[0].Rows, 3)
	assert.Equal(t, "EV-a", f.Sheets[1].Rows[1].Cells[0].String())
}
