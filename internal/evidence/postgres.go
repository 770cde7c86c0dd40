package evidence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/baseline-env/casefill/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS evidence (
	id              TEXT PRIMARY KEY,
	connector       TEXT NOT NULL,
	recipe          TEXT NOT NULL,
	request_id      TEXT NOT NULL DEFAULT '',
	artifact_path   TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	retrieved_at    TIMESTAMPTZ NOT NULL,
	request_url     TEXT NOT NULL DEFAULT '',
	request_params  TEXT NOT NULL DEFAULT '',
	origin          TEXT NOT NULL,
	src_id          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_evidence_connector ON evidence(connector);

CREATE TABLE IF NOT EXISTS usage_links (
	evidence_id  TEXT NOT NULL REFERENCES evidence(id),
	target       TEXT NOT NULL,
	linked_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (evidence_id, target)
);

CREATE TABLE IF NOT EXISTS findings (
	run_id    TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	code      TEXT NOT NULL,
	severity  TEXT NOT NULL,
	message   TEXT NOT NULL,
	field     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);
`

// PgxPool is the subset of pgxpool.Pool the index uses, kept narrow so tests
// can substitute a mock.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresIndex is the shared-database index backend.
type PostgresIndex struct {
	pool PgxPool
}

// NewPostgresIndex connects to postgres with the given connection string.
func NewPostgresIndex(ctx context.Context, connString string) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: connect postgres index")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "evidence: ping postgres index")
	}
	return &PostgresIndex{pool: pool}, nil
}

// NewPostgresIndexFromPool wraps an existing pool. Used by tests.
func NewPostgresIndexFromPool(pool PgxPool) *PostgresIndex {
	return &PostgresIndex{pool: pool}
}

func (p *PostgresIndex) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresSchema)
	return eris.Wrap(err, "evidence: migrate postgres index")
}

func (p *PostgresIndex) Get(ctx context.Context, id string) (*model.Evidence, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, connector, recipe, request_id, artifact_path, content_hash,
		       retrieved_at, request_url, request_params, origin, src_id
		FROM evidence WHERE id = $1`, id)

	ev, err := scanEvidence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "evidence: get %s", id)
	}
	return ev, nil
}

func (p *PostgresIndex) Put(ctx context.Context, ev *model.Evidence) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO evidence (id, connector, recipe, request_id, artifact_path,
			content_hash, retrieved_at, request_url, request_params, origin, src_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.Connector, ev.Recipe, ev.RequestID, ev.ArtifactPath,
		ev.ContentHash, ev.RetrievedAt, ev.RequestURL, ev.RequestParams,
		ev.Origin, ev.SrcID)
	return eris.Wrapf(err, "evidence: put %s", ev.ID)
}

func (p *PostgresIndex) List(ctx context.Context) ([]model.Evidence, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, connector, recipe, request_id, artifact_path, content_hash,
		       retrieved_at, request_url, request_params, origin, src_id
		FROM evidence ORDER BY retrieved_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: list")
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, eris.Wrap(err, "evidence: scan")
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "evidence: list")
}

func (p *PostgresIndex) LinkUsage(ctx context.Context, link model.UsageLink) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO usage_links (evidence_id, target, linked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (evidence_id, target) DO NOTHING`,
		link.EvidenceID, link.Target, link.LinkedAt)
	return eris.Wrap(err, "evidence: link usage")
}

func (p *PostgresIndex) ListUsage(ctx context.Context) ([]model.UsageLink, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT evidence_id, target, linked_at
		FROM usage_links ORDER BY linked_at, evidence_id, target`)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: list usage")
	}
	defer rows.Close()

	var out []model.UsageLink
	for rows.Next() {
		var l model.UsageLink
		if err := rows.Scan(&l.EvidenceID, &l.Target, &l.LinkedAt); err != nil {
			return nil, eris.Wrap(err, "evidence: scan usage")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "evidence: list usage")
}

func (p *PostgresIndex) PutFindings(ctx context.Context, runID string, findings []model.ValidationFinding) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM findings`); err != nil {
		return eris.Wrap(err, "evidence: clear findings")
	}
	for i, f := range findings {
		if _, err := p.pool.Exec(ctx, `
			INSERT INTO findings (run_id, seq, code, severity, message, field)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			runID, i, f.Code, f.Severity, f.Message, f.Field); err != nil {
			return eris.Wrap(err, "evidence: put finding")
		}
	}
	return nil
}

func (p *PostgresIndex) ListFindings(ctx context.Context) ([]model.ValidationFinding, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT code, severity, message, field FROM findings ORDER BY seq`)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: list findings")
	}
	defer rows.Close()

	var out []model.ValidationFinding
	for rows.Next() {
		var f model.ValidationFinding
		if err := rows.Scan(&f.Code, &f.Severity, &f.Message, &f.Field); err != nil {
			return nil, eris.Wrap(err, "evidence: scan finding")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "evidence: list findings")
}

func (p *PostgresIndex) Close() error {
	p.pool.Close()
	return nil
}
