// Package connector defines the acquisition connector contract and its
// implementations. A connector turns typed request params into an immutable
// artifact; tabular connectors also decode rows back out of the artifact so a
// cache hit never needs a re-fetch.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/baseline-env/casefill/internal/model"
)

// Result is what a connector fetch yields before the evidence store takes
// ownership of the bytes.
type Result struct {
	Body       []byte
	Ext        string
	RequestURL string
	Origin     string // model.Origin* constant
}

// Connector is one acquisition backend.
type Connector interface {
	// Type is the connector type name referenced by field rules.
	Type() string

	// Recipe versions the acquisition logic. Bumping it invalidates cached
	// evidence without deleting it.
	Recipe() string

	// Local reports whether the connector computes from case-local inputs
	// instead of calling the network.
	Local() bool

	// Fetch acquires the artifact for the given params.
	Fetch(ctx context.Context, params map[string]any) (*Result, error)

	// Rows decodes result rows from a stored artifact. Raster connectors
	// return (nil, nil).
	Rows(artifact []byte) ([]model.Row, error)
}

// Registry maps connector type names to implementations.
type Registry struct {
	byType map[string]Connector
}

// NewRegistry builds a registry over the given connectors.
func NewRegistry(conns ...Connector) *Registry {
	r := &Registry{byType: make(map[string]Connector, len(conns))}
	for _, c := range conns {
		r.byType[c.Type()] = c
	}
	return r
}

// Get returns the connector for a type name.
func (r *Registry) Get(typ string) (Connector, error) {
	c, ok := r.byType[typ]
	if !ok {
		return nil, eris.Errorf("connector: unknown type %q", typ)
	}
	return c, nil
}

// Types returns registered type names, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// envelope is the artifact format for tabular connectors: the decoded rows
// plus enough retrieval context to audit the artifact on its own.
type envelope struct {
	Connector  string      `json:"connector"`
	Recipe     string      `json:"recipe"`
	RequestURL string      `json:"request_url,omitempty"`
	Rows       []model.Row `json:"rows"`
}

// encodeEnvelope renders rows into the tabular artifact format.
func encodeEnvelope(connector, recipe, requestURL string, rows []model.Row) ([]byte, error) {
	b, err := json.MarshalIndent(envelope{
		Connector:  connector,
		Recipe:     recipe,
		RequestURL: RedactURL(requestURL),
		Rows:       rows,
	}, "", "  ")
	return b, eris.Wrap(err, "connector: encode artifact")
}

// decodeEnvelope extracts rows from a tabular artifact.
func decodeEnvelope(artifact []byte) ([]model.Row, error) {
	var env envelope
	if err := json.Unmarshal(artifact, &env); err != nil {
		return nil, eris.Wrap(err, "connector: decode artifact")
	}
	return env.Rows, nil
}

// secretParams are query parameter names masked before a URL is persisted.
var secretParams = map[string]bool{
	"key":        true,
	"apikey":     true,
	"api_key":    true,
	"servicekey": true,
	"authkey":    true,
	"token":      true,
}

// RedactURL masks credential query parameters so persisted request URLs never
// leak keys. Unparseable URLs are returned as-is.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	changed := false
	for name := range q {
		if secretParams[normalizeParamName(name)] {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func normalizeParamName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}

// paramString reads a string param, tolerating non-string scalar values.
func paramString(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return stringify(v)
}

// paramFloat reads a numeric param, tolerating string and integer forms.
func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
