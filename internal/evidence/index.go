// Package evidence implements the content-addressed evidence store: immutable
// artifacts on disk keyed by connector, canonical params and recipe, with a
// queryable metadata index behind a pluggable database driver.
package evidence

import (
	"context"

	"github.com/baseline-env/casefill/internal/model"
)

// Index is the evidence metadata catalog. Implementations must make Put
// idempotent on the evidence id so concurrent writers of the same key are
// harmless.
type Index interface {
	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// Get returns the evidence with the given id, or (nil, nil) when absent.
	Get(ctx context.Context, id string) (*model.Evidence, error)

	// Put inserts evidence metadata. Inserting an id that already exists is a
	// no-op; the first write wins.
	Put(ctx context.Context, ev *model.Evidence) error

	// List returns all evidence ordered by retrieval time.
	List(ctx context.Context) ([]model.Evidence, error)

	// LinkUsage records that an evidence artifact backs a target.
	LinkUsage(ctx context.Context, link model.UsageLink) error

	// ListUsage returns all usage links ordered by link time.
	ListUsage(ctx context.Context) ([]model.UsageLink, error)

	// PutFindings replaces the stored validation findings with the given
	// run's, so the export and serve views reflect the latest run.
	PutFindings(ctx context.Context, runID string, findings []model.ValidationFinding) error

	// ListFindings returns the stored findings in the order they were raised.
	ListFindings(ctx context.Context) ([]model.ValidationFinding, error)

	Close() error
}
