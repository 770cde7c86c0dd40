// Package provenance assembles the audit views over a run: the declared
// source catalog, the evidence index, the usage register linking artifacts to
// the fields and figures they back, and the validation summary. Views are
// tolerant of missing metadata; a half-recorded artifact still shows up.
package provenance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/baseline-env/casefill/internal/evidence"
	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/rules"
)

// SourceEntry is one source catalog row: the declaration plus whether any
// evidence actually cites it.
type SourceEntry struct {
	rules.Source
	Used bool `json:"used"`
}

// EvidenceEntry is one evidence index row.
type EvidenceEntry struct {
	model.Evidence
	UseCount int `json:"use_count"`
}

// Summary is the full provenance report for a run.
type Summary struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Sources     []SourceEntry             `json:"sources"`
	Evidence    []EvidenceEntry           `json:"evidence"`
	Usage       []model.UsageLink         `json:"usage"`
	Findings    []model.ValidationFinding `json:"findings"`
}

// Registry builds provenance views from the rule table and evidence index.
type Registry struct {
	table *rules.Table
	index evidence.Index
	now   func() time.Time
}

// New builds a provenance registry.
func New(table *rules.Table, index evidence.Index) *Registry {
	return &Registry{table: table, index: index, now: time.Now}
}

// Build assembles the full summary. Run findings are folded in together with
// consistency findings the registry derives itself (evidence nothing uses,
// usage links pointing at unknown evidence).
func (r *Registry) Build(ctx context.Context, runFindings []model.ValidationFinding) (*Summary, error) {
	evs, err := r.index.List(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := r.index.ListUsage(ctx)
	if err != nil {
		return nil, err
	}

	useCount := make(map[string]int)
	known := make(map[string]bool, len(evs))
	usedSources := make(map[string]bool)
	for _, ev := range evs {
		known[ev.ID] = true
		if ev.SrcID != "" {
			usedSources[ev.SrcID] = true
		}
	}
	for _, l := range usage {
		useCount[l.EvidenceID]++
	}

	s := &Summary{
		GeneratedAt: r.now().UTC(),
		Usage:       usage,
		Findings:    append([]model.ValidationFinding{}, runFindings...),
	}

	// Every declared source appears, cited or not.
	for _, src := range r.table.Sources {
		s.Sources = append(s.Sources, SourceEntry{Source: src, Used: usedSources[src.ID]})
	}

	// Every unused artifact is flagged, placeholders included; a placeholder
	// backing no field is the documented trace of a failed request.
	for _, ev := range evs {
		s.Evidence = append(s.Evidence, EvidenceEntry{Evidence: ev, UseCount: useCount[ev.ID]})
		if useCount[ev.ID] == 0 {
			s.Findings = append(s.Findings, model.ValidationFinding{
				Code:     "evidence_unused",
				Severity: model.SeverityInfo,
				Message:  fmt.Sprintf("evidence %s (%s, %s) backs no field or figure", ev.ID, ev.Connector, ev.Origin),
			})
		}
	}

	for _, l := range usage {
		if !known[l.EvidenceID] {
			s.Findings = append(s.Findings, model.ValidationFinding{
				Code:     "usage_dangling",
				Severity: model.SeverityError,
				Message:  fmt.Sprintf("target %s cites unknown evidence %s", l.Target, l.EvidenceID),
			})
		}
	}

	sort.SliceStable(s.Findings, func(i, j int) bool {
		return severityRank(s.Findings[i].Severity) < severityRank(s.Findings[j].Severity)
	})
	return s, nil
}

func severityRank(sev string) int {
	switch sev {
	case model.SeverityError:
		return 0
	case model.SeverityWarn:
		return 1
	default:
		return 2
	}
}
