package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Evidence origin tags. Fallback and placeholder artifacts are first-class
// evidence so that a gap is always documented, never silent.
const (
	OriginNetwork     = "network"
	OriginComputed    = "computed"
	OriginFallback    = "fallback"
	OriginPlaceholder = "placeholder"
)

// Evidence is an immutable, content-addressed artifact plus its retrieval
// metadata. Identical inputs and recipe always resolve to the same ID.
type Evidence struct {
	ID            string    `json:"id"`
	Connector     string    `json:"connector"`
	Recipe        string    `json:"recipe"`
	RequestID     string    `json:"request_id,omitempty"`
	ArtifactPath  string    `json:"artifact_path"`
	ContentHash   string    `json:"content_hash"`
	RetrievedAt   time.Time `json:"retrieved_at"`
	RequestURL    string    `json:"request_url,omitempty"`
	RequestParams string    `json:"request_params,omitempty"` // canonical JSON
	Origin        string    `json:"origin"`
	SrcID         string    `json:"src_id,omitempty"`
}

// EvidenceID derives the content-addressed evidence id from the defining
// inputs: connector type, canonical params and recipe version. A changed
// recipe or input always yields a new id, preserving prior evidence.
func EvidenceID(connector string, params map[string]any, recipe string) string {
	sum := sha256.Sum256([]byte(connector + "\n" + CanonicalParams(params) + "\n" + recipe))
	return "EV-" + hex.EncodeToString(sum[:])[:16]
}

// ContentHash returns the sha256 hex digest of artifact bytes.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// UsageLink records that an evidence artifact backs a target field or figure.
type UsageLink struct {
	EvidenceID string    `json:"evidence_id"`
	Target     string    `json:"target"`
	LinkedAt   time.Time `json:"linked_at"`
}

// ValidationFinding is one issue surfaced by planning, execution or merge,
// consumed by the provenance registry and downstream QA.
type ValidationFinding struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Finding severities.
const (
	SeverityError = "error"
	SeverityWarn  = "warn"
	SeverityInfo  = "info"
)

// StagedResult is a completed request's decoded output, held by the runner
// until the merge engine commits it to the record.
type StagedResult struct {
	RequestID string
	Evidence  *Evidence
	Rows      []Row
}
