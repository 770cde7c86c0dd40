package evidence

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/baseline-env/casefill/internal/model"
)

// Key identifies an evidence artifact by its defining inputs. Two requests
// with the same key share one artifact.
type Key struct {
	Connector string
	Params    map[string]any
	Recipe    string
}

// ID returns the content-addressed evidence id for this key.
func (k Key) ID() string {
	return model.EvidenceID(k.Connector, k.Params, k.Recipe)
}

// Artifact is the material a producer hands the store for a cache miss.
type Artifact struct {
	Bytes      []byte
	Ext        string // file extension without dot, e.g. "json", "png"
	RequestURL string
	Origin     string // model.Origin* constant
	SrcID      string
	RequestID  string
}

// Store is the content-addressed evidence store. Safe for concurrent use;
// per-key singleflight guarantees at most one producer runs for a key.
type Store struct {
	root  string
	index Index
	group singleflight.Group
	now   func() time.Time
}

// NewStore returns a store rooted at dir, backed by the given index.
func NewStore(dir string, index Index) *Store {
	return &Store{root: dir, index: index, now: time.Now}
}

// Index exposes the backing metadata index.
func (s *Store) Index() Index { return s.index }

// GetOrCreate returns the evidence for key, invoking produce only on a cache
// miss. The artifact is written once and never recomputed; the boolean reports
// whether this call created it. Concurrent callers of the same key share a
// single produce invocation.
func (s *Store) GetOrCreate(ctx context.Context, key Key, produce func(ctx context.Context) (*Artifact, error)) (*model.Evidence, bool, error) {
	id := key.ID()

	type result struct {
		ev      *model.Evidence
		created bool
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		if ev, err := s.index.Get(ctx, id); err != nil {
			return nil, err
		} else if ev != nil {
			return result{ev: ev}, nil
		}

		art, err := produce(ctx)
		if err != nil {
			return nil, err
		}

		ev, err := s.write(ctx, key, id, art)
		if err != nil {
			return nil, err
		}
		return result{ev: ev, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}

	r := v.(result)
	if !r.created {
		zap.L().Debug("evidence cache hit", zap.String("evidence_id", id))
	}
	return r.ev, r.created, nil
}

// Get returns evidence metadata by id without producing anything.
func (s *Store) Get(ctx context.Context, id string) (*model.Evidence, error) {
	return s.index.Get(ctx, id)
}

// ReadArtifact loads the stored artifact bytes for an evidence entry.
func (s *Store) ReadArtifact(ev *model.Evidence) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(s.root, ev.ArtifactPath))
	if err != nil {
		return nil, eris.Wrapf(err, "evidence: read artifact %s", ev.ID)
	}
	return b, nil
}

// Link records that an evidence artifact backs the given target.
func (s *Store) Link(ctx context.Context, evidenceID, target string) error {
	return s.index.LinkUsage(ctx, model.UsageLink{
		EvidenceID: evidenceID,
		Target:     target,
		LinkedAt:   s.now().UTC(),
	})
}

func (s *Store) write(ctx context.Context, key Key, id string, art *Artifact) (*model.Evidence, error) {
	ext := art.Ext
	if ext == "" {
		ext = "bin"
	}

	// Shard by two hash characters to keep directories small.
	rel := filepath.Join(id[3:5], id+"."+ext)
	abs := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, eris.Wrap(err, "evidence: mkdir")
	}
	if err := os.WriteFile(abs, art.Bytes, 0o644); err != nil {
		return nil, eris.Wrapf(err, "evidence: write artifact %s", id)
	}

	ev := &model.Evidence{
		ID:            id,
		Connector:     key.Connector,
		Recipe:        key.Recipe,
		RequestID:     art.RequestID,
		ArtifactPath:  rel,
		ContentHash:   model.ContentHash(art.Bytes),
		RetrievedAt:   s.now().UTC(),
		RequestURL:    art.RequestURL,
		RequestParams: model.CanonicalParams(key.Params),
		Origin:        art.Origin,
		SrcID:         art.SrcID,
	}
	if err := s.index.Put(ctx, ev); err != nil {
		return nil, err
	}

	zap.L().Info("evidence stored",
		zap.String("evidence_id", id),
		zap.String("connector", key.Connector),
		zap.String("origin", ev.Origin),
	)
	return ev, nil
}
