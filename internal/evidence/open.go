package evidence

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/baseline-env/casefill/internal/config"
)

// Open builds the evidence store from configuration, selecting the index
// backend by driver and running migrations.
func Open(ctx context.Context, cfg config.EvidenceConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "evidence: create store dir")
	}

	var (
		index Index
		err   error
	)
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.DatabaseURL
		if path == "" {
			path = filepath.Join(cfg.Dir, "index.db")
		}
		index, err = NewSQLiteIndex(path)
	case "postgres":
		index, err = NewPostgresIndex(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("evidence: unknown index driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := index.Migrate(ctx); err != nil {
		index.Close()
		return nil, err
	}

	return NewStore(cfg.Dir, index), nil
}
