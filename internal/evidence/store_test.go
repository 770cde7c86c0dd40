package evidence

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseline-env/casefill/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	index, err := NewSQLiteIndex(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })
	require.NoError(t, index.Migrate(context.Background()))
	return NewStore(dir, index)
}

func testKey() Key {
	return Key{
		Connector: "geocode",
		Params:    map[string]any{"address": "12 Quay Rd"},
		Recipe:    "geocode/v1",
	}
}

func TestGetOrCreateStoresOnce(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	body := []byte(`{"rows":[{"lat":"37.5"}]}`)

	ev, created, err := store.GetOrCreate(ctx, testKey(), func(ctx context.Context) (*Artifact, error) {
		return &Artifact{Bytes: body, Ext: "json", Origin: model.OriginNetwork}, nil
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, testKey().ID(), ev.ID)
	assert.Equal(t, model.ContentHash(body), ev.ContentHash)

	got, err := store.ReadArtifact(ev)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	// Second call must not invoke the producer.
	ev2, created, err := store.GetOrCreate(ctx, testKey(), func(ctx context.Context) (*Artifact, error) {
		t.Fatal("producer invoked on cache hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ev.ID, ev2.ID)

	got2, err := store.ReadArtifact(ev2)
	require.NoError(t, err)
	assert.Equal(t, body, got2, "cache hit returns byte-identical artifact")
}

func TestGetOrCreateConcurrentSingleProducer(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	var produced atomic.Int32
	var wg sync.WaitGroup
	const callers = 16

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.GetOrCreate(ctx, testKey(), func(ctx context.Context) (*Artifact, error) {
				produced.Add(1)
				return &Artifact{Bytes: []byte("x"), Ext: "json", Origin: model.OriginNetwork}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), produced.Load(), "exactly one producer per key")
}

func TestGetOrCreatePropagatesProducerError(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	boom := errors.New("upstream down")

	_, _, err := store.GetOrCreate(ctx, testKey(), func(ctx context.Context) (*Artifact, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// A failed produce leaves no entry behind.
	ev, err := store.Get(ctx, testKey().ID())
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestDistinctKeysDistinctArtifacts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	k1 := testKey()
	k2 := testKey()
	k2.Recipe = "placeholder/geocode/v1"
	require.NotEqual(t, k1.ID(), k2.ID())

	_, _, err := store.GetOrCreate(ctx, k1, func(ctx context.Context) (*Artifact, error) {
		return &Artifact{Bytes: []byte("real"), Ext: "json", Origin: model.OriginNetwork}, nil
	})
	require.NoError(t, err)
	_, _, err = store.GetOrCreate(ctx, k2, func(ctx context.Context) (*Artifact, error) {
		return &Artifact{Bytes: []byte("placeholder"), Ext: "json", Origin: model.OriginPlaceholder}, nil
	})
	require.NoError(t, err)

	evs, err := store.Index().List(ctx)
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestUsageLinks(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	ev, _, err := store.GetOrCreate(ctx, testKey(), func(ctx context.Context) (*Artifact, error) {
		return &Artifact{Bytes: []byte("x"), Ext: "json", Origin: model.OriginNetwork}, nil
	})
	require.NoError(t, err)

	require.NoError(t, store.Link(ctx, ev.ID, "LOCATION.center_lat"))
	require.NoError(t, store.Link(ctx, ev.ID, "LOCATION.center_lon"))
	// Re-linking the same target is idempotent.
	require.NoError(t, store.Link(ctx, ev.ID, "LOCATION.center_lat"))

	links, err := store.Index().ListUsage(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)
	targets := []string{links[0].Target, links[1].Target}
	assert.ElementsMatch(t, []string{"LOCATION.center_lat", "LOCATION.center_lon"}, targets)
}

func TestFindingsReplacedPerRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first := []model.ValidationFinding{
		{Code: "request_disabled", Severity: model.SeverityWarn,
			Message: "REQ-WEATHER-CLIMATE disabled", Field: "CLIMATE"},
		{Code: "request_failed", Severity: model.SeverityWarn,
			Message: "REQ-STATS-B failed", Field: "DEMOGRAPHICS"},
	}
	require.NoError(t, store.Index().PutFindings(ctx, "run-1", first))

	got, err := store.Index().ListFindings(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	second := []model.ValidationFinding{
		{Code: "request_disabled", Severity: model.SeverityWarn,
			Message: "REQ-WEATHER-CLIMATE disabled", Field: "CLIMATE"},
	}
	require.NoError(t, store.Index().PutFindings(ctx, "run-2", second))

	got, err = store.Index().ListFindings(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, got, "latest run replaces the stored findings")
}

func TestIndexPutIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	ev := &model.Evidence{
		ID: "EV-deadbeefdeadbeef", Connector: "stats", Recipe: "stats/v1",
		ArtifactPath: "ad/EV-deadbeefdeadbeef.json", ContentHash: "abc",
		Origin: model.OriginNetwork,
	}
	require.NoError(t, store.Index().Put(ctx, ev))
	require.NoError(t, store.Index().Put(ctx, ev))

	evs, err := store.Index().List(ctx)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}
