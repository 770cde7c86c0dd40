// Package planner turns a case record plus the rule table into a deterministic
// acquisition plan. Gap detection is purely declarative: a request exists iff
// a rule's columns are all effectively empty. Planning never performs IO.
package planner

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/record"
	"github.com/baseline-env/casefill/internal/rules"
)

// Plan is the ordered request list for one record, plus findings raised while
// planning (disabled preconditions and the like).
type Plan struct {
	Requests []*model.AcquisitionRequest
	Findings []model.ValidationFinding
}

// Planner builds acquisition plans. The environment lookup is injectable so
// credential gating is testable.
type Planner struct {
	table  *rules.Table
	getenv func(string) string
}

// New builds a planner over the given rule table.
func New(table *rules.Table) *Planner {
	return &Planner{table: table, getenv: os.Getenv}
}

// WithEnv overrides the environment lookup. Used by tests.
func (p *Planner) WithEnv(getenv func(string) string) *Planner {
	p.getenv = getenv
	return p
}

// Build produces the plan for a record. Requests follow rule declaration
// order; fanned-out rules expand in item order. Ineligible requests are kept
// in the plan as disabled, never silently dropped, so every gap stays visible
// downstream. Building twice against an unchanged record yields identical
// plans.
func (p *Planner) Build(rec *record.Record) *Plan {
	plan := &Plan{}
	seen := make(map[string]bool)

	for i := range p.table.Fields {
		rule := &p.table.Fields[i]
		if !p.hasGap(rec, rule) {
			continue
		}

		for _, req := range p.expand(rec, rule) {
			if seen[req.ID] {
				continue
			}
			seen[req.ID] = true
			plan.Requests = append(plan.Requests, req)

			if !req.Enabled {
				plan.Findings = append(plan.Findings, model.ValidationFinding{
					Code:     "request_disabled",
					Severity: model.SeverityWarn,
					Message:  fmt.Sprintf("%s disabled: %s", req.ID, req.Reason),
					Field:    rule.Field,
				})
			}
		}
	}

	zap.L().Info("plan built",
		zap.Int("requests", len(plan.Requests)),
		zap.Int("findings", len(plan.Findings)),
	)
	return plan
}

// hasGap reports whether every any_of column of the rule is effectively empty.
// A single non-empty column satisfies the field.
func (p *Planner) hasGap(rec *record.Record, rule *rules.FieldRule) bool {
	for _, path := range rule.AnyOf {
		if !rec.ColumnEmpty(p.qualify(rule, path)) {
			return false
		}
	}
	return true
}

// qualify resolves a bare column name against the rule's target sheet.
func (p *Planner) qualify(rule *rules.FieldRule, path string) string {
	if strings.Contains(path, ".") {
		return path
	}
	sheet, column := model.SplitFieldPath(rule.Field)
	if column == "" {
		// Series rule: Field is the sheet itself.
		if path == rule.Field {
			return path
		}
		return sheet + "." + path
	}
	return sheet + "." + path
}

// expand yields the rule's requests: one plain request, or one per fanout item.
func (p *Planner) expand(rec *record.Record, rule *rules.FieldRule) []*model.AcquisitionRequest {
	if rule.Fanout == nil {
		return []*model.AcquisitionRequest{p.request(rec, rule, rule.Params)}
	}

	out := make([]*model.AcquisitionRequest, 0, len(rule.Fanout.Items))
	for _, item := range rule.Fanout.Items {
		params := make(map[string]any, len(rule.Params)+1)
		for k, v := range rule.Params {
			params[k] = v
		}
		params[rule.Fanout.Param] = item
		out = append(out, p.request(rec, rule, params))
	}
	return out
}

// request builds one request and applies eligibility gating. A missing
// credential or unmet prerequisite disables the request with the reason
// attached; it still travels through the run for accounting.
func (p *Planner) request(rec *record.Record, rule *rules.FieldRule, params map[string]any) *model.AcquisitionRequest {
	req := &model.AcquisitionRequest{
		ID:           model.RequestID(rule.Connector, rule.Field, params),
		Connector:    rule.Connector,
		TargetField:  rule.Field,
		GroupID:      rule.Field,
		Params:       params,
		SrcID:        rule.SrcID,
		Enabled:      true,
		FallbackPath: rule.Fallback,
		Status:       model.StatusPending,
	}

	if rule.Credential != "" && p.getenv(rule.Credential) == "" {
		req.Enabled = false
		req.Reason = fmt.Sprintf("credential %s not set", rule.Credential)
		return req
	}

	for _, dep := range rule.Requires {
		if rec.ColumnEmpty(dep) {
			req.Enabled = false
			req.Reason = fmt.Sprintf("requires %s which is empty", dep)
			return req
		}
	}

	return req
}
