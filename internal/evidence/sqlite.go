package evidence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/baseline-env/casefill/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS evidence (
	id              TEXT PRIMARY KEY,
	connector       TEXT NOT NULL,
	recipe          TEXT NOT NULL,
	request_id      TEXT NOT NULL DEFAULT '',
	artifact_path   TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	retrieved_at    TIMESTAMP NOT NULL,
	request_url     TEXT NOT NULL DEFAULT '',
	request_params  TEXT NOT NULL DEFAULT '',
	origin          TEXT NOT NULL,
	src_id          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_evidence_connector ON evidence(connector);

CREATE TABLE IF NOT EXISTS usage_links (
	evidence_id  TEXT NOT NULL REFERENCES evidence(id),
	target       TEXT NOT NULL,
	linked_at    TIMESTAMP NOT NULL,
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

// SQLiteIndex is the embedded single-file index backend.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (creating if needed) a sqlite index at path.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: open sqlite index")
	}

	// WAL keeps concurrent readers cheap during a run.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "evidence: %s", p)
		}
	}

	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "evidence: migrate sqlite index")
}

func (s *SQLiteIndex) Get(ctx context.Context, id string) (*model.Evidence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, connector, recipe, request_id, artifact_path, content_hash,
		       retrieved_at, request_url, request_params, origin, src_id
		FROM evidence WHERE id = ?`, id)

	ev, err := scanEvidence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "evidence: get %s", id)
	}
	return ev, nil
}

func (s *SQLiteIndex) Put(ctx context.Context, ev *model.Evidence) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (id, connector, recipe, request_id, artifact_path,
			content_hash, retrieved_at, request_url, request_params, origin, src_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.Connector, ev.Recipe, ev.RequestID, ev.ArtifactPath,
		ev.ContentHash, ev.RetrievedAt, ev.RequestURL, ev.RequestParams,
		ev.Origin, ev.SrcID)
	return eris.Wrapf(err, "evidence: put %s", ev.ID)
}

func (s *SQLiteIndex) List(ctx context.Context) ([]model.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteIndex) LinkUsage(ctx context.Context, link model.UsageLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_links (evidence_id, target, linked_at)
		VALUES (?, ?, ?)
		ON CONFLICT(evidence_id, target) DO NOTHING`,
		link.EvidenceID, link.Target, link.LinkedAt)
	return eris.Wrap(err, "evidence: link usage")
}

func (s *SQLiteIndex) ListUsage(ctx context.Context) ([]model.UsageLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT evidence_id, target, linked_at
		FROM usage_links ORDER BY linked_at, evidence_id, target`)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: list usage")
	}
	defer rows.Close()

	var out []model.UsageLink
	for rows.Next() {
		var l model.UsageLink
		var at time.Time
		if err := rows.Scan(&l.EvidenceID, &l.Target, &at); err != nil {
			return nil, eris.Wrap(err, "evidence: scan usage")
		}
		l.LinkedAt = at
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "evidence: list usage")
}

func (s *SQLiteIndex) PutFindings(ctx context.Context, runID string, findings []model.ValidationFinding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "evidence: put findings")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM findings`); err != nil {
		return eris.Wrap(err, "evidence: clear findings")
	}
	for i, f := range findings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO findings (run_id, seq, code, severity, message, field)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, i, f.Code, f.Severity, f.Message, f.Field); err != nil {
			return eris.Wrap(err, "evidence: put finding")
		}
	}
	return eris.Wrap(tx.Commit(), "evidence: put findings")
}

func (s *SQLiteIndex) ListFindings(ctx context.Context) ([]model.ValidationFinding, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvidence(r rowScanner) (*model.Evidence, error) {
	var ev model.Evidence
	err := r.Scan(&ev.ID, &ev.Connector, &ev.Recipe, &ev.RequestID,
		&ev.ArtifactPath, &ev.ContentHash, &ev.RetrievedAt, &ev.RequestURL,
		&ev.RequestParams, &ev.Origin, &ev.SrcID)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
