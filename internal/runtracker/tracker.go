package runtracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"knowgraph/internal/kgerrors"
)

const ddl = `
CREATE TABLE IF NOT EXISTS kg_runs (
    kb_id          TEXT        NOT NULL,
    source_id      TEXT        NOT NULL,
    run_id         TEXT        NOT NULL,
    status         TEXT        NOT NULL,
    docs_processed BIGINT      NOT NULL DEFAULT 0,
    nodes_upserted BIGINT      NOT NULL DEFAULT 0,
    edges_upserted BIGINT      NOT NULL DEFAULT 0,
    error_count    BIGINT      NOT NULL DEFAULT 0,
    errors         JSONB       NOT NULL DEFAULT '[]'::jsonb,
    started_at     TIMESTAMPTZ NOT NULL,
    finished_at    TIMESTAMPTZ,
    last_error     TEXT        NOT NULL DEFAULT '',
    PRIMARY KEY (kb_id, source_id, run_id)
);

CREATE INDEX IF NOT EXISTS idx_kg_runs_kb_source_started ON kg_runs (kb_id, source_id, started_at DESC);
`

// Tracker persists run lifecycle state to Postgres, sharing the graph
// store's connection pool.
type Tracker struct {
	pool       *pgxpool.Pool
	errCeiling int
}

// NewTracker builds a Tracker. errCeiling is the per-run verbatim error
// retention ceiling (default 100); 0 falls back to 100.
func NewTracker(pool *pgxpool.Pool, errCeiling int) *Tracker {
	if errCeiling <= 0 {
		errCeiling = 100
	}
	return &Tracker{pool: pool, errCeiling: errCeiling}
}

// EnsureSchema creates kg_runs if absent. Idempotent.
func (t *Tracker) EnsureSchema(ctx context.Context) error {
	if _, err := t.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("runtracker: migrate schema: %w", err)
	}
	return nil
}

// Start allocates a new run_id and persists it as starting.
func (t *Tracker) Start(ctx context.Context, kbID, sourceID string, startedAt time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := t.pool.Exec(ctx, `
INSERT INTO kg_runs (kb_id, source_id, run_id, status, started_at)
VALUES ($1, $2, $3, $4, $5)
`, kbID, sourceID, runID, string(StatusStarting), startedAt)
	if err != nil {
		return "", kgerrors.Op("runtracker.Start", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return runID, nil
}

// MarkRunning transitions a run from starting to running.
func (t *Tracker) MarkRunning(ctx context.Context, kbID, sourceID, runID string) error {
	_, err := t.pool.Exec(ctx, `
UPDATE kg_runs SET status=$4 WHERE kb_id=$1 AND source_id=$2 AND run_id=$3
`, kbID, sourceID, runID, string(StatusRunning))
	if err != nil {
		return kgerrors.Op("runtracker.MarkRunning", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return nil
}

// RecordDocument increments per-document counters.
func (t *Tracker) RecordDocument(ctx context.Context, kbID, sourceID, runID string, nodes, edges int64) error {
	_, err := t.pool.Exec(ctx, `
UPDATE kg_runs SET docs_processed = docs_processed + 1,
                   nodes_upserted = nodes_upserted + $4,
                   edges_upserted = edges_upserted + $5
WHERE kb_id=$1 AND source_id=$2 AND run_id=$3
`, kbID, sourceID, runID, nodes, edges)
	if err != nil {
		return kgerrors.Op("runtracker.RecordDocument", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return nil
}

// RecordError appends msg to the run's retained error list until errCeiling
// is reached, after which it only increments error_count.
func (t *Tracker) RecordError(ctx context.Context, kbID, sourceID, runID string, msg string) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return kgerrors.Op("runtracker.RecordError", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	defer tx.Rollback(ctx)

	var raw []byte
	var count int64
	row := tx.QueryRow(ctx, `
SELECT errors, error_count FROM kg_runs
WHERE kb_id=$1 AND source_id=$2 AND run_id=$3 FOR UPDATE
`, kbID, sourceID, runID)
	if err := row.Scan(&raw, &count); err != nil {
		return kgerrors.Op("runtracker.RecordError", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	var errs []string
	_ = json.Unmarshal(raw, &errs)
	errs = appendRetained(errs, t.errCeiling, msg)
	count++
	encoded, _ := json.Marshal(errs)

	if _, err := tx.Exec(ctx, `
UPDATE kg_runs SET errors=$4, error_count=$5, last_error=$6
WHERE kb_id=$1 AND source_id=$2 AND run_id=$3
`, kbID, sourceID, runID, encoded, count, msg); err != nil {
		return kgerrors.Op("runtracker.RecordError", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return kgerrors.Op("runtracker.RecordError", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return nil
}

// Complete transitions a run to a terminal status.
func (t *Tracker) Complete(ctx context.Context, kbID, sourceID, runID string, status Status, lastErr error, finishedAt time.Time) error {
	msg := ""
	if lastErr != nil {
		msg = lastErr.Error()
	}
	_, err := t.pool.Exec(ctx, `
UPDATE kg_runs SET status=$4, finished_at=$5, last_error=CASE WHEN $6 != '' THEN $6 ELSE last_error END
WHERE kb_id=$1 AND source_id=$2 AND run_id=$3
`, kbID, sourceID, runID, string(status), finishedAt, msg)
	if err != nil {
		return kgerrors.Op("runtracker.Complete", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return nil
}

// Status returns the most-recent-run summary for every source the KB has
// ever ingested.
func (t *Tracker) Status(ctx context.Context, kbID string) (KBStatus, error) {
	rows, err := t.pool.Query(ctx, `
SELECT DISTINCT ON (source_id) kb_id, source_id, run_id, status, docs_processed,
       nodes_upserted, edges_upserted, error_count, errors, started_at, finished_at, last_error
FROM kg_runs
WHERE kb_id = $1
ORDER BY source_id, started_at DESC
`, kbID)
	if err != nil {
		return KBStatus{}, kgerrors.Op("runtracker.Status", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	defer rows.Close()

	out := KBStatus{KBID: kbID}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return KBStatus{}, kgerrors.Op("runtracker.Status", err)
		}
		out.Sources = append(out.Sources, SourceStatus{SourceID: r.SourceID, LastRun: r})
	}
	return out, rows.Err()
}

// RecentRuns returns up to limit runs for kbID (all sources) ordered newest
// first. An empty kbID returns the most recent runs across all KBs.
func (t *Tracker) RecentRuns(ctx context.Context, kbID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows pgx.Rows
	var err error
	if kbID == "" {
		rows, err = t.pool.Query(ctx, `
SELECT kb_id, source_id, run_id, status, docs_processed, nodes_upserted, edges_upserted,
       error_count, errors, started_at, finished_at, last_error
FROM kg_runs ORDER BY started_at DESC LIMIT $1
`, limit)
	} else {
		rows, err = t.pool.Query(ctx, `
SELECT kb_id, source_id, run_id, status, docs_processed, nodes_upserted, edges_upserted,
       error_count, errors, started_at, finished_at, last_error
FROM kg_runs WHERE kb_id=$1 ORDER BY started_at DESC LIMIT $2
`, kbID, limit)
	}
	if err != nil {
		return nil, kgerrors.Op("runtracker.RecentRuns", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, kgerrors.Op("runtracker.RecentRuns", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sweep marks every run still starting/running as failed with
// ErrProcessCrashed, intended to run once at process startup.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) (int64, error) {
	tag, err := t.pool.Exec(ctx, `
UPDATE kg_runs SET status=$1, finished_at=$2, last_error=$3
WHERE status IN ($4, $5)
`, string(StatusFailed), now, kgerrors.ErrProcessCrashed.Error(), string(StatusStarting), string(StatusRunning))
	if err != nil {
		return 0, kgerrors.Op("runtracker.Sweep", fmt.Errorf("%w: %v", kgerrors.ErrStoreUnavailable, err))
	}
	return tag.RowsAffected(), nil
}

// appendRetained appends msg to errs unless the retention ceiling has
// already been reached, in which case the error is still counted by the
// caller but dropped from the verbatim list.
func appendRetained(errs []string, ceiling int, msg string) []string {
	if len(errs) >= ceiling {
		return errs
	}
	return append(errs, msg)
}

func scanRun(rows pgx.Rows) (Run, error) {
	var r Run
	var status string
	var raw []byte
	var finishedAt *time.Time
	if err := rows.Scan(&r.KBID, &r.SourceID, &r.RunID, &status, &r.DocsProcessed, &r.NodesUpserted,
		&r.EdgesUpserted, &r.ErrorCount, &raw, &r.StartedAt, &finishedAt, &r.LastError); err != nil {
		return Run{}, err
	}
	r.Status = Status(status)
	_ = json.Unmarshal(raw, &r.Errors)
	if finishedAt != nil {
		r.FinishedAt = *finishedAt
	}
	return r, nil
}
