// Package runner executes an acquisition plan: a bounded worker pool drives
// each request through its connector, routes every artifact through the
// evidence store, and stages decoded rows for the merge engine. The runner
// never touches the case record beyond reading constants for parameter
// substitution.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/baseline-env/casefill/internal/connector"
	"github.com/baseline-env/casefill/internal/evidence"
	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/record"
	"github.com/baseline-env/casefill/internal/resilience"
)

// Config controls the runner's concurrency and retry policy.
type Config struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
}

// Outcome is the aggregate result of one run. Requests inside the plan carry
// their terminal status; Staged holds completed results awaiting merge.
type Outcome struct {
	Staged   []model.StagedResult
	Findings []model.ValidationFinding

	Completed int
	Failed    int
	Disabled  int
	Skipped   int
}

// Runner drives acquisition plans to completion.
type Runner struct {
	registry *connector.Registry
	store    *evidence.Store
	cfg      Config
}

// New builds a runner.
func New(registry *connector.Registry, store *evidence.Store, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Runner{registry: registry, store: store, cfg: cfg}
}

// Run executes every request in the plan. One request failing never aborts
// the run; failures land in request status and findings instead. The returned
// error covers only infrastructure faults (the evidence store going away).
func (r *Runner) Run(ctx context.Context, requests []*model.AcquisitionRequest, rec *record.Record) (*Outcome, error) {
	out := &Outcome{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for _, req := range requests {
		g.Go(func() error {
			staged, findings := r.execute(ctx, req, rec)

			mu.Lock()
			defer mu.Unlock()
			if staged != nil {
				out.Staged = append(out.Staged, *staged)
			}
			out.Findings = append(out.Findings, findings...)
			switch req.Status {
			case model.StatusCompleted:
				out.Completed++
			case model.StatusFailed:
				out.Failed++
			case model.StatusDisabled:
				out.Disabled++
			case model.StatusSkipped:
				out.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("run finished",
		zap.Int("completed", out.Completed),
		zap.Int("failed", out.Failed),
		zap.Int("disabled", out.Disabled),
		zap.Int("skipped", out.Skipped),
	)
	return out, nil
}

// execute drives one request to a terminal state.
func (r *Runner) execute(ctx context.Context, req *model.AcquisitionRequest, rec *record.Record) (*model.StagedResult, []model.ValidationFinding) {
	if ctx.Err() != nil {
		req.Status = model.StatusSkipped
		return nil, nil
	}

	// Resolve constants up front so every evidence key, fallback and
	// placeholder included, is addressed by the same resolved params.
	params, subErr := substituteParams(req.Params, rec)
	if subErr != nil {
		params = req.Params
	}

	if !req.Enabled {
		return r.finishDisabled(ctx, req, params)
	}

	conn, err := r.registry.Get(req.Connector)
	if err != nil {
		req.Status = model.StatusFailed
		req.FailReason = model.FailMalformed
		req.Err = err.Error()
		return nil, []model.ValidationFinding{failFinding(req)}
	}

	if subErr != nil {
		req.Status = model.StatusDisabled
		req.Reason = subErr.Error()
		return r.finishDisabled(ctx, req, params)
	}

	key := evidence.Key{Connector: req.Connector, Params: params, Recipe: conn.Recipe()}

	retryCfg := resilience.RetryConfig{
		MaxAttempts: r.cfg.MaxAttempts,
		Backoff:     r.cfg.Backoff,
		Multiplier:  1.0,
		OnRetry:     resilience.RetryLogger(req.Connector, req.ID),
	}
	if conn.Local() {
		// Local computation has nothing transient to wait out.
		retryCfg.MaxAttempts = 1
	}

	ev, created, err := r.store.GetOrCreate(ctx, key, func(ctx context.Context) (*evidence.Artifact, error) {
		res, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*connector.Result, error) {
			return conn.Fetch(ctx, params)
		})
		if err != nil {
			return nil, err
		}
		return &evidence.Artifact{
			Bytes:      res.Body,
			Ext:        res.Ext,
			RequestURL: res.RequestURL,
			Origin:     res.Origin,
			SrcID:      req.SrcID,
			RequestID:  req.ID,
		}, nil
	})
	if err != nil {
		return r.finishFailed(ctx, req, params, err)
	}
	if !created {
		zap.L().Debug("request satisfied from evidence cache",
			zap.String("request_id", req.ID),
			zap.String("evidence_id", ev.ID),
		)
	}

	rows, err := r.decodeRows(conn, ev)
	if err != nil {
		return r.finishFailed(ctx, req, params, &resilience.MalformedInputError{Err: err})
	}

	req.Status = model.StatusCompleted
	req.EvidenceID = ev.ID
	return &model.StagedResult{RequestID: req.ID, Evidence: ev, Rows: rows}, nil
}

// finishDisabled settles a disabled request. With a fallback artifact the
// request still completes, backed by fallback evidence; without one the gap
// stays open and documented.
func (r *Runner) finishDisabled(ctx context.Context, req *model.AcquisitionRequest, params map[string]any) (*model.StagedResult, []model.ValidationFinding) {
	if req.FallbackPath == "" {
		req.Status = model.StatusDisabled
		return nil, nil
	}

	staged, err := r.stageFallback(ctx, req, params)
	if err != nil {
		req.Status = model.StatusDisabled
		return nil, []model.ValidationFinding{{
			Code:     "fallback_unusable",
			Severity: model.SeverityWarn,
			Message:  fmt.Sprintf("%s: fallback %s: %v", req.ID, req.FallbackPath, err),
			Field:    req.TargetField,
		}}
	}

	req.Status = model.StatusCompleted
	req.EvidenceID = staged.Evidence.ID
	return staged, []model.ValidationFinding{{
		Code:     "fallback_used",
		Severity: model.SeverityInfo,
		Message:  fmt.Sprintf("%s completed from fallback %s (%s)", req.ID, req.FallbackPath, req.Reason),
		Field:    req.TargetField,
	}}
}

// finishFailed settles a failed request: classify the error, try the fallback,
// otherwise write a placeholder artifact so the gap is documented evidence.
func (r *Runner) finishFailed(ctx context.Context, req *model.AcquisitionRequest, params map[string]any, cause error) (*model.StagedResult, []model.ValidationFinding) {
	req.Status = model.StatusFailed
	req.Err = cause.Error()
	switch {
	case resilience.IsPermission(cause):
		req.FailReason = model.FailPermission
	case resilience.IsMalformedInput(cause):
		req.FailReason = model.FailMalformed
	default:
		req.FailReason = model.FailTransient
	}

	zap.L().Warn("request failed",
		zap.String("request_id", req.ID),
		zap.String("reason", string(req.FailReason)),
		zap.Error(cause),
	)

	if req.FallbackPath != "" && req.FailReason == model.FailTransient {
		if staged, err := r.stageFallback(ctx, req, params); err == nil {
			req.Status = model.StatusCompleted
			req.FailReason = model.FailNone
			req.Err = ""
			req.EvidenceID = staged.Evidence.ID
			return staged, []model.ValidationFinding{{
				Code:     "fallback_used",
				Severity: model.SeverityInfo,
				Message:  fmt.Sprintf("%s completed from fallback %s after: %v", req.ID, req.FallbackPath, cause),
				Field:    req.TargetField,
			}}
		}
	}

	if ev, err := r.writePlaceholder(ctx, req, params, cause); err == nil {
		req.EvidenceID = ev.ID
	} else {
		zap.L().Error("placeholder write failed",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}

	return nil, []model.ValidationFinding{failFinding(req)}
}

// stageFallback stores the local fallback artifact as evidence. The recipe
// prefix keeps the fallback key distinct from a later live fetch of the same
// params.
func (r *Runner) stageFallback(ctx context.Context, req *model.AcquisitionRequest, params map[string]any) (*model.StagedResult, error) {
	b, err := os.ReadFile(req.FallbackPath)
	if err != nil {
		return nil, eris.Wrap(err, "read fallback")
	}

	conn, err := r.registry.Get(req.Connector)
	if err != nil {
		return nil, err
	}

	key := evidence.Key{
		Connector: req.Connector,
		Params:    params,
		Recipe:    "fallback/" + conn.Recipe(),
	}
	ev, _, err := r.store.GetOrCreate(ctx, key, func(ctx context.Context) (*evidence.Artifact, error) {
		return &evidence.Artifact{
			Bytes:      b,
			Ext:        fallbackExt(req.FallbackPath),
			RequestURL: "file://" + req.FallbackPath,
			Origin:     model.OriginFallback,
			SrcID:      req.SrcID,
			RequestID:  req.ID,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	// Tabular fallbacks carry rows in the artifact envelope; raster ones
	// stage without rows.
	rows, err := conn.Rows(b)
	if err != nil {
		rows = nil
	}
	return &model.StagedResult{RequestID: req.ID, Evidence: ev, Rows: rows}, nil
}

// placeholderBody is the structured artifact written when acquisition fails,
// so the gap itself is evidence.
type placeholderBody struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	Connector string `json:"connector"`
	Reason    string `json:"reason"`
}

func (r *Runner) writePlaceholder(ctx context.Context, req *model.AcquisitionRequest, params map[string]any, cause error) (*model.Evidence, error) {
	conn, err := r.registry.Get(req.Connector)
	if err != nil {
		return nil, err
	}

	body, err := json.MarshalIndent(placeholderBody{
		Status:    "placeholder",
		RequestID: req.ID,
		Connector: req.Connector,
		Reason:    cause.Error(),
	}, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "encode placeholder")
	}

	key := evidence.Key{
		Connector: req.Connector,
		Params:    params,
		Recipe:    "placeholder/" + conn.Recipe(),
	}
	ev, _, err := r.store.GetOrCreate(ctx, key, func(ctx context.Context) (*evidence.Artifact, error) {
		return &evidence.Artifact{
			Bytes:     body,
			Ext:       "json",
			Origin:    model.OriginPlaceholder,
			SrcID:     req.SrcID,
			RequestID: req.ID,
		}, nil
	})
	return ev, err
}

// decodeRows re-derives result rows from the stored artifact, which works
// identically for fresh artifacts and cache hits.
func (r *Runner) decodeRows(conn connector.Connector, ev *model.Evidence) ([]model.Row, error) {
	b, err := r.store.ReadArtifact(ev)
	if err != nil {
		return nil, err
	}
	return conn.Rows(b)
}

func fallbackExt(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "bin"
	}
	return ext
}

func failFinding(req *model.AcquisitionRequest) model.ValidationFinding {
	return model.ValidationFinding{
		Code:     "request_failed",
		Severity: model.SeverityWarn,
		Message:  fmt.Sprintf("%s failed (%s): %s", req.ID, req.FailReason, req.Err),
		Field:    req.TargetField,
	}
}

// substituteParams resolves "{name}" placeholders against record constants.
// An unresolvable placeholder is a configuration problem, not a fetch error.
func substituteParams(params map[string]any, rec *record.Record) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		s, ok := v.(string)
		if !ok || !strings.Contains(s, "{") {
			out[k] = v
			continue
		}
		resolved, err := substituteString(s, rec)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func substituteString(s string, rec *record.Record) (string, error) {
	var b strings.Builder
	for {
		open := strings.Index(s, "{")
		if open < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		end := strings.Index(s[open:], "}")
		if end < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		name := s[open+1 : open+end]
		val, ok := rec.Constant(name)
		if !ok {
			return "", &resilience.ConfigurationError{
				Reason: fmt.Sprintf("placeholder {%s} has no value", name),
			}
		}
		b.WriteString(s[:open])
		b.WriteString(val)
		s = s[open+end+1:]
	}
}
