// Package merge commits staged acquisition results to the case record. It is
// the only writer of auto-filled values: a field group applies atomically once
// every member request is terminal, values merge by the rule's join key, and
// every contributing artifact is linked to the target. Nothing is ever
// invented to paper over a failed member; the field is marked unresolved with
// the failing request cited.
package merge

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/baseline-env/casefill/internal/evidence"
	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/record"
	"github.com/baseline-env/casefill/internal/resilience"
	"github.com/baseline-env/casefill/internal/rules"
)

// Engine applies staged results to records.
type Engine struct {
	table *rules.Table
	store *evidence.Store
}

// New builds a merge engine.
func New(table *rules.Table, store *evidence.Store) *Engine {
	return &Engine{table: table, store: store}
}

// Apply commits every completed field group to the record and marks failed
// groups unresolved. Returns the findings raised while merging.
func (e *Engine) Apply(ctx context.Context, requests []*model.AcquisitionRequest, staged []model.StagedResult, rec *record.Record) ([]model.ValidationFinding, error) {
	byRequest := make(map[string]*model.StagedResult, len(staged))
	for i := range staged {
		byRequest[staged[i].RequestID] = &staged[i]
	}

	groups := make(map[string][]*model.AcquisitionRequest)
	var order []string
	for _, req := range requests {
		if _, ok := groups[req.GroupID]; !ok {
			order = append(order, req.GroupID)
		}
		groups[req.GroupID] = append(groups[req.GroupID], req)
	}

	var findings []model.ValidationFinding
	for _, field := range order {
		fs, err := e.applyGroup(ctx, field, groups[field], byRequest, rec)
		if err != nil {
			return findings, err
		}
		findings = append(findings, fs...)
	}
	return findings, nil
}

// applyGroup settles one field group. All-or-nothing: any non-completed
// member leaves the whole field unresolved.
func (e *Engine) applyGroup(ctx context.Context, field string, reqs []*model.AcquisitionRequest, byRequest map[string]*model.StagedResult, rec *record.Record) ([]model.ValidationFinding, error) {
	rule := e.table.ByField(field)
	if rule == nil {
		return nil, fmt.Errorf("merge: no rule for field %s", field)
	}

	for _, req := range reqs {
		if !req.Terminal() {
			// A pending member means the run did not finish; leave the
			// field untouched rather than half-applied.
			return nil, nil
		}
		if req.Status != model.StatusCompleted {
			reason := fmt.Sprintf("blocked by %s (%s)", req.ID, req.Status)
			if req.Err != "" {
				reason += ": " + req.Err
			} else if req.Reason != "" {
				reason += ": " + req.Reason
			}
			rec.MarkUnresolved(field, reason)
			return []model.ValidationFinding{{
				Code:     "field_unresolved",
				Severity: rule.Severity,
				Message:  fmt.Sprintf("%s unresolved: %s", field, reason),
				Field:    field,
			}}, nil
		}
	}

	results := make([]*model.StagedResult, 0, len(reqs))
	for _, req := range reqs {
		sr, ok := byRequest[req.ID]
		if !ok {
			return nil, fmt.Errorf("merge: completed request %s has no staged result", req.ID)
		}
		results = append(results, sr)
	}

	var findings []model.ValidationFinding
	rows, mergeFindings, err := e.mergeRows(rule, reqs, results)
	findings = append(findings, mergeFindings...)
	if err != nil {
		rec.MarkUnresolved(field, err.Error())
		findings = append(findings, model.ValidationFinding{
			Code:     "merge_conflict",
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("%s unresolved: %v", field, err),
			Field:    field,
		})
		return findings, nil
	}

	evidenceIDs := make([]string, 0, len(results))
	for _, sr := range results {
		evidenceIDs = append(evidenceIDs, sr.Evidence.ID)
	}
	prov := model.Provenance{
		Source:      rule.SrcID,
		EvidenceIDs: evidenceIDs,
		Origin:      model.OriginAuto,
	}

	writes, err := e.commit(rule, rows, results, rec, prov)
	if err != nil {
		return findings, err
	}
	if len(writes) == 0 {
		return findings, nil
	}

	for _, sr := range results {
		for _, target := range writes {
			if err := e.store.Link(ctx, sr.Evidence.ID, target); err != nil {
				return findings, err
			}
		}
	}

	zap.L().Info("field applied",
		zap.String("field", field),
		zap.Strings("targets", writes),
		zap.Int("evidence", len(evidenceIDs)),
	)
	return findings, nil
}

// commit writes merged data into the record and returns the targets written.
// A user-held target is skipped, never overwritten.
func (e *Engine) commit(rule *rules.FieldRule, rows []model.Row, results []*model.StagedResult, rec *record.Record, prov model.Provenance) ([]string, error) {
	// Raster results carry no rows; the field holds the evidence reference.
	if len(rows) == 0 {
		refs := make([]string, 0, len(results))
		for _, sr := range results {
			refs = append(refs, sr.Evidence.ID)
		}
		var value any = refs[0]
		if len(refs) > 1 {
			value = refs
		}
		return writeOne(rec, rule.Field, value, prov)
	}

	if len(rule.Apply) == 0 {
		// Series target: merged rows replace the sheet.
		return writeOne(rec, rule.Field, rows, prov)
	}

	// Scalar target: map result columns onto record fields.
	first := rows[0]
	keys := make([]string, 0, len(rule.Apply))
	for k := range rule.Apply {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var written []string
	for _, k := range keys {
		v, ok := first[k]
		if !ok {
			return written, fmt.Errorf("merge: result for %s has no column %s", rule.Field, k)
		}
		w, err := writeOne(rec, rule.Apply[k], v, prov)
		if err != nil {
			return written, err
		}
		written = append(written, w...)
	}
	return written, nil
}

func writeOne(rec *record.Record, target string, value any, prov model.Provenance) ([]string, error) {
	err := rec.Set(target, value, prov)
	if err == nil {
		return []string{target}, nil
	}
	if record.IsUserValue(err) {
		// Filled by the user since planning; their value stands.
		zap.L().Debug("skipping user-held field", zap.String("field", target))
		return nil, nil
	}
	return nil, err
}

// mergeRows joins the group's row sets on the rule's merge key. Sub-results
// agreeing on a cell merge silently; a disagreement is fatal unless the rule
// declares a conflict priority, in which case the higher-priority item wins
// with a warning.
func (e *Engine) mergeRows(rule *rules.FieldRule, reqs []*model.AcquisitionRequest, results []*model.StagedResult) ([]model.Row, []model.ValidationFinding, error) {
	// Without a merge key the group is a single request; pass its rows through.
	// With one, a single result still goes through the keyed merge so
	// duplicate keys inside one sub-result are caught too.
	if rule.MergeKey == "" {
		return results[0].Rows, nil, nil
	}

	ordered, err := orderByPriority(rule, reqs, results)
	if err != nil {
		return nil, nil, err
	}

	var findings []model.ValidationFinding
	merged := make(map[string]model.Row)
	var keyOrder []string

	for _, or := range ordered {
		for _, row := range or.result.Rows {
			key := stringifyCell(row[rule.MergeKey])
			if key == "" {
				return nil, nil, fmt.Errorf("merge: row from %s missing key %s", or.result.RequestID, rule.MergeKey)
			}
			dst, ok := merged[key]
			if !ok {
				dst = make(model.Row, len(row))
				merged[key] = dst
				keyOrder = append(keyOrder, key)
			}
			for col, v := range row {
				cur, exists := dst[col]
				if !exists {
					dst[col] = v
					continue
				}
				if stringifyCell(cur) == stringifyCell(v) {
					continue
				}
				if !or.prioritized {
					return nil, findings, &resilience.DataConflictError{
						Field:  rule.Field,
						Key:    key,
						Column: col,
						A:      cur,
						B:      v,
					}
				}
				// Earlier (higher-priority) value already in place wins.
				findings = append(findings, model.ValidationFinding{
					Code:     "merge_priority_applied",
					Severity: model.SeverityWarn,
					Message: fmt.Sprintf("%s: %s[%s] kept %v over %v by declared priority",
						rule.Field, col, key, cur, v),
					Field: rule.Field,
				})
			}
		}
	}

	sort.Strings(keyOrder)
	out := make([]model.Row, 0, len(keyOrder))
	for _, k := range keyOrder {
		out = append(out, merged[k])
	}
	return out, findings, nil
}

type orderedResult struct {
	result      *model.StagedResult
	prioritized bool
}

// orderByPriority sorts the group's results by the rule's declared conflict
// priority when present, otherwise keeps request order.
func orderByPriority(rule *rules.FieldRule, reqs []*model.AcquisitionRequest, results []*model.StagedResult) ([]orderedResult, error) {
	out := make([]orderedResult, len(results))
	for i, sr := range results {
		out[i] = orderedResult{result: sr}
	}

	if rule.Fanout == nil || len(rule.Fanout.ConflictPriority) == 0 {
		return out, nil
	}

	rank := make(map[string]int, len(rule.Fanout.ConflictPriority))
	for i, item := range rule.Fanout.ConflictPriority {
		rank[item] = i
	}

	itemOf := make(map[string]string, len(reqs))
	for _, req := range reqs {
		if v, ok := req.Params[rule.Fanout.Param]; ok {
			itemOf[req.ID] = stringifyCell(v)
		}
	}

	for i := range out {
		out[i].prioritized = true
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[itemOf[out[i].result.RequestID]]
		rj, jok := rank[itemOf[out[j].result.RequestID]]
		if iok != jok {
			return iok // ranked items come before unranked ones
		}
		return ri < rj
	})
	return out, nil
}

func stringifyCell(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
