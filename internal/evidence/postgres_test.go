package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseline-env/casefill/internal/model"
)

func mockIndex(t *testing.T) (*PostgresIndex, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresIndexFromPool(mock), mock
}

func TestPostgresGetMiss(t *testing.T) {
	idx, mock := mockIndex(t)

	mock.ExpectQuery("SELECT id, connector").
		WithArgs("EV-missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "connector", "recipe", "request_id", "artifact_path",
			"content_hash", "retrieved_at", "request_url", "request_params",
			"origin", "src_id",
		}))

	ev, err := idx.Get(context.Background(), "EV-missing")
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetHit(t *testing.T) {
	idx, mock := mockIndex(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, connector").
		WithArgs("EV-abc").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "connector", "recipe", "request_id", "artifact_path",
			"content_hash", "retrieved_at", "request_url", "request_params",
			"origin", "src_id",
		}).AddRow(
			"EV-abc", "geocode", "geocode/v1", "REQ-GEOCODE-X", "ab/EV-abc.json",
			"hash", now, "https://geo.example.test?q=x", `{"address":"x"}`,
			model.OriginNetwork, "SRC-GEO",
		))

	ev, err := idx.Get(context.Background(), "EV-abc")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "geocode", ev.Connector)
	assert.Equal(t, now, ev.RetrievedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPut(t *testing.T) {
	idx, mock := mockIndex(t)
	now := time.Now().UTC()

	ev := &model.Evidence{
		ID: "EV-abc", Connector: "stats", Recipe: "stats/v1",
		ArtifactPath: "ab/EV-abc.json", ContentHash: "hash",
		RetrievedAt: now, Origin: model.OriginNetwork,
	}

	mock.ExpectExec("INSERT INTO evidence").
		WithArgs(ev.ID, ev.Connector, ev.Recipe, ev.RequestID, ev.ArtifactPath,
			ev.ContentHash, ev.RetrievedAt, ev.RequestURL, ev.RequestParams,
			ev.Origin, ev.SrcID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, idx.Put(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLinkUsage(t *testing.T) {
	idx, mock := mockIndex(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO usage_links").
		WithArgs("EV-abc", "LOCATION.center_lat", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := idx.LinkUsage(context.Background(), model.UsageLink{
		EvidenceID: "EV-abc",
		Target:     "LOCATION.center_lat",
		LinkedAt:   now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutFindings(t *testing.T) {
	idx, mock := mockIndex(t)

	mock.ExpectExec("DELETE FROM findings").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO findings").
		WithArgs("run-1", 0, "request_disabled", model.SeverityWarn,
			"REQ-WEATHER-CLIMATE disabled", "CLIMATE").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := idx.PutFindings(context.Background(), "run-1", []model.ValidationFinding{
		{Code: "request_disabled", Severity: model.SeverityWarn,
			Message: "REQ-WEATHER-CLIMATE disabled", Field: "CLIMATE"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListFindings(t *testing.T) {
	idx, mock := mockIndex(t)

	mock.ExpectQuery("SELECT code, severity, message, field").
		WillReturnRows(pgxmock.NewRows([]string{"code", "severity", "message", "field"}).
			AddRow("request_failed", model.SeverityWarn, "REQ-STATS-B failed", "DEMOGRAPHICS"))

	fs, err := idx.ListFindings(context.Background())
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Equal(t, "request_failed", fs[0].Code)
	assert.Equal(t, "DEMOGRAPHICS", fs[0].Field)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	idx, mock := mockIndex(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS evidence").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, idx.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
