package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseline-env/casefill/internal/model"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry(NewZoning(), NewPDFPage("", 0))

	c, err := reg.Get("zoning")
	require.NoError(t, err)
	assert.Equal(t, "zoning", c.Type())
	assert.True(t, c.Local())

	_, err = reg.Get("nope")
	assert.Error(t, err)

	assert.Equal(t, []string{"pdf_page", "zoning"}, reg.Types())
}

func TestRedactURL(t *testing.T) {
	redacted := RedactURL("https://api.example.test/v1?q=seoul&serviceKey=abc123&format=json")
	assert.NotContains(t, redacted, "abc123")
	assert.Contains(t, redacted, "REDACTED")
	assert.Contains(t, redacted, "q=seoul")

	assert.Equal(t, "", RedactURL(""))
	assert.Equal(t, "https://x.test/a?b=c", RedactURL("https://x.test/a?b=c"))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	rows := []model.Row{{"year": "2020", "value": "9660"}}
	b, err := encodeEnvelope("stats", "stats/v1", "https://api.test?apiKey=s3cret", rows)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "s3cret", "envelope carries the redacted URL")

	got, err := decodeEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{"s": "x", "n": 3, "f": 2.5, "fs": "1.25"}

	assert.Equal(t, "x", paramString(params, "s"))
	assert.Equal(t, "3", paramString(params, "n"))
	assert.Empty(t, paramString(params, "missing"))

	f, ok := paramFloat(params, "f")
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	f, ok = paramFloat(params, "fs")
	assert.True(t, ok)
	assert.Equal(t, 1.25, f)

	_, ok = paramFloat(params, "s")
	assert.False(t, ok)
	_, ok = paramFloat(params, "missing")
	assert.False(t, ok)
}
