package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Row is one record row or connector result row, keyed by column name.
type Row map[string]any

// RequestStatus is the terminal-state machine for an acquisition request:
// pending -> completed | failed | disabled | skipped.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusCompleted RequestStatus = "completed"
	StatusFailed    RequestStatus = "failed"
	StatusDisabled  RequestStatus = "disabled"
	StatusSkipped   RequestStatus = "skipped"
)

// FailReason is the sub-reason carried by a failed request.
type FailReason string

const (
	FailNone       FailReason = ""
	FailTransient  FailReason = "transient"
	FailPermission FailReason = "permission"
	FailMalformed  FailReason = "malformed"
)

// AcquisitionRequest is one planned unit of data acquisition. Created by the
// planner; status is mutated only by the runner.
type AcquisitionRequest struct {
	ID          string         `json:"id"`
	Connector   string         `json:"connector"`
	TargetField string         `json:"target_field"`
	GroupID     string         `json:"group_id"`
	Params      map[string]any `json:"params"`
	SrcID       string         `json:"src_id"`

	Enabled      bool   `json:"enabled"`
	Reason       string `json:"reason,omitempty"` // why disabled
	FallbackPath string `json:"fallback_path,omitempty"`

	Status     RequestStatus `json:"status"`
	FailReason FailReason    `json:"fail_reason,omitempty"`
	Err        string        `json:"error,omitempty"`
	EvidenceID string        `json:"evidence_id,omitempty"`
}

// Terminal reports whether the request has reached a terminal state.
func (r *AcquisitionRequest) Terminal() bool {
	return r.Status != StatusPending
}

// RequestID derives the deterministic request id from the request's defining
// inputs. It depends only on connector, target field and canonical params,
// never on run number or wall clock, so re-planning an unchanged record
// yields identical ids.
func RequestID(connector, targetField string, params map[string]any) string {
	slug := strings.ToUpper(strings.NewReplacer(".", "-", " ", "-").Replace(targetField))
	id := fmt.Sprintf("REQ-%s-%s", strings.ToUpper(connector), slug)
	if len(params) > 0 {
		id += "-" + shortHash(CanonicalParams(params))
	}
	return id
}

// CanonicalParams renders params as compact JSON with sorted keys and
// NFC-normalized strings. Two semantically identical param sets always
// canonicalize to the same bytes.
func CanonicalParams(params map[string]any) string {
	b, err := json.Marshal(normalizeValue(params))
	if err != nil {
		// Params come from YAML/JSON round-trips; marshal cannot fail for
		// those shapes. Fall back to a stable-ish repr just in case.
		return fmt.Sprintf("%v", params)
	}
	return string(b)
}

// normalizeValue applies NFC to every string in a nested params structure.
// encoding/json sorts map keys, which gives us key ordering for free.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[norm.NFC.String(k)] = normalizeValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeValue(vv)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = norm.NFC.String(s)
		}
		return out
	case []Row:
		out := make([]any, len(t))
		for i, r := range t {
			out[i] = normalizeValue(map[string]any(r))
		}
		return out
	case Row:
		return normalizeValue(map[string]any(t))
	default:
		return v
	}
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}
