package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/threatstream/internal/failure"
)

const createReportsTable = `
CREATE TABLE IF NOT EXISTS error_reports (
    id          UUID PRIMARY KEY,
    code        TEXT        NOT NULL,
    severity    TEXT        NOT NULL,
    message     TEXT        NOT NULL,
    technical   TEXT        NOT NULL DEFAULT '',
    context     JSONB       NOT NULL DEFAULT '{}'::jsonb,
    user_agent  TEXT        NOT NULL DEFAULT '',
    url         TEXT        NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL,
    reported_at TIMESTAMPTZ NOT NULL,
    received_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS error_reports_code_idx ON error_reports (code, reported_at DESC);
`

const insertReport = `
INSERT INTO error_reports
    (id, code, severity, message, technical, context, user_agent, url, occurred_at, reported_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`

// Execer is the subset of *pgxpool.Pool used by ReportStore.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ReportStore persists failure reports. It implements failure.Sink.
type ReportStore struct {
	db Execer
}

var _ failure.Sink = (*ReportStore)(nil)

// NewReportStore creates a store on db.
func NewReportStore(db Execer) *ReportStore {
	return &ReportStore{db: db}
}

// EnsureSchema creates the error_reports table if it does not exist.
func (s *ReportStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createReportsTable); err != nil {
		return fmt.Errorf("create error_reports: %w", err)
	}
	return nil
}

// Send stores r. Storing the same report twice is a no-op, so a flush that
// follows a partially failed fan-out cannot duplicate rows.
func (s *ReportStore) Send(ctx context.Context, r failure.Report) error {
	if r.Error == nil {
		return errors.New("report has no error")
	}

	ctxJSON := []byte("{}")
	if len(r.Error.Context) > 0 {
		data, err := json.Marshal(r.Error.Context)
		if err != nil {
			return fmt.Errorf("encode report context: %w", err)
		}
		ctxJSON = data
	}

	_, err := s.db.Exec(ctx, insertReport,
		r.ID,
		r.Error.Code,
		r.Error.Severity.String(),
		r.Error.Message,
		r.Error.Technical,
		ctxJSON,
		r.UserAgent,
		r.URL,
		r.Error.Timestamp,
		r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert report %s: %w", r.ID, err)
	}
	return nil
}
