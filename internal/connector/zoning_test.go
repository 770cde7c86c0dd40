package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseline-env/casefill/internal/model"
	"github.com/baseline-env/casefill/internal/resilience"
)

func TestZoningBreakdownFromParcels(t *testing.T) {
	z := NewZoning()
	res, err := z.Fetch(context.Background(), map[string]any{
		"parcels": []model.Row{
			{"parcel_id": "1", "zoning": "industrial", "area_m2": "6000"},
			{"parcel_id": "2", "zoning": "industrial", "area_m2": "2000"},
			{"parcel_id": "3", "zoning": "green belt", "area_m2": "2000"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.OriginComputed, res.Origin)

	rows, err := z.Rows(res.Body)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "industrial", rows[0]["zoning"], "largest zone first")
	assert.InDelta(t, 8000, rows[0]["area_m2"].(float64), 0.001)
	assert.InDelta(t, 0.8, rows[0]["ratio"].(float64), 0.0001)
	assert.Equal(t, "green belt", rows[1]["zoning"])
	assert.InDelta(t, 0.2, rows[1]["ratio"].(float64), 0.0001)
}

func TestZoningBlankZoneBecomesUnclassified(t *testing.T) {
	z := NewZoning()
	res, err := z.Fetch(context.Background(), map[string]any{
		"parcels": []model.Row{
			{"zoning": " ", "area_m2": 100.0},
		},
	})
	require.NoError(t, err)

	rows, err := z.Rows(res.Body)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "unclassified", rows[0]["zoning"])
}

func TestZoningMissingInputs(t *testing.T) {
	z := NewZoning()

	_, err := z.Fetch(context.Background(), map[string]any{})
	assert.True(t, resilience.IsMalformedInput(err))

	_, err = z.Fetch(context.Background(), map[string]any{
		"parcels": []model.Row{{"zoning": "industrial"}},
	})
	assert.True(t, resilience.IsMalformedInput(err), "parcel without area is malformed")

	_, err = z.Fetch(context.Background(), map[string]any{
		"parcels": []model.Row{{"zoning": "industrial", "area_m2": 0.0}},
	})
	assert.True(t, resilience.IsMalformedInput(err), "zero total area is malformed")
}

func TestZoningAcceptsGenericRowList(t *testing.T) {
	// Params that round-tripped through YAML or JSON arrive as []any.
	z := NewZoning()
	res, err := z.Fetch(context.Background(), map[string]any{
		"parcels": []any{
			map[string]any{"zoning": "industrial", "area_m2": 100.0},
		},
	})
	require.NoError(t, err)

	rows, err := z.Rows(res.Body)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
