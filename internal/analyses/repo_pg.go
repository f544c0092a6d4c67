package analyses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"resume-check/internal/scoring"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const analysisColumns = `id, document_id, user_id, status, report, recommendations,
       error_code, error_message, error_retryable, started_at, completed_at, created_at, updated_at`

// GetOrCreateForDocument returns the latest analysis for a document or creates a new one.
func (r *PGRepo) GetOrCreateForDocument(ctx context.Context, analysis Analysis, allowRetry bool, allowCreate func() error) (Analysis, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Analysis{}, false, err
	}
	defer tx.Rollback()

	// Serialize per-document to avoid duplicate analysis creation.
	if _, err := tx.ExecContext(ctx, `SELECT id FROM documents WHERE id = $1 AND user_id = $2 FOR UPDATE`, analysis.DocumentID, analysis.UserID); err != nil {
		return Analysis{}, false, err
	}

	latest, err := getLatestForDocument(ctx, tx, analysis.UserID, analysis.DocumentID)
	if err == nil {
		switch latest.Status {
		case StatusQueued, StatusProcessing, StatusCompleted:
			if err := tx.Commit(); err != nil {
				return Analysis{}, false, err
			}
			return latest, false, nil
		case StatusFailed:
			if !allowRetry {
				if err := tx.Commit(); err != nil {
					return Analysis{}, false, err
				}
				return latest, false, ErrRetryRequired
			}
		}
	} else if !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, ErrNotFound) {
		return Analysis{}, false, err
	}

	if allowCreate != nil {
		if err := allowCreate(); err != nil {
			return Analysis{}, false, err
		}
	}

	if err := createWithTx(ctx, tx, analysis); err != nil {
		return Analysis{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Analysis{}, false, err
	}
	return analysis, true, nil
}

// Create inserts a new analysis.
func (r *PGRepo) Create(ctx context.Context, analysis Analysis) error {
	return createWith(ctx, r.DB, analysis)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createWithTx(ctx context.Context, tx *sql.Tx, analysis Analysis) error {
	return createWith(ctx, tx, analysis)
}

func createWith(ctx context.Context, db execer, analysis Analysis) error {
	const query = `
INSERT INTO analyses (id, document_id, user_id, status, report, recommendations, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	reportPayload, err := marshalNullableJSON(analysis.Report)
	if err != nil {
		return err
	}
	recsPayload, err := marshalNullableJSON(analysis.Recommendations)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, query,
		analysis.ID,
		analysis.DocumentID,
		analysis.UserID,
		analysis.Status,
		reportPayload,
		recsPayload,
		analysis.CreatedAt,
	)
	return err
}

// GetByID returns an analysis by ID.
func (r *PGRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	const query = `
SELECT ` + analysisColumns + `
FROM analyses
WHERE id = $1
LIMIT 1`
	a, err := scanAnalysis(r.DB.QueryRowContext(ctx, query, analysisID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	return a, nil
}

// MarkProcessing moves an analysis into the processing state. The first
// transition wins the started_at timestamp.
func (r *PGRepo) MarkProcessing(ctx context.Context, analysisID string, startedAt time.Time) error {
	const query = `
UPDATE analyses
SET status = $1,
    started_at = COALESCE(started_at, $2::timestamptz),
    updated_at = now()
WHERE id = $3`
	res, err := r.DB.ExecContext(ctx, query, StatusProcessing, startedAt, analysisID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete stores the finished report and recommendations.
func (r *PGRepo) Complete(ctx context.Context, analysisID string, report *scoring.Report, recommendations []string, completedAt time.Time) error {
	const query = `
UPDATE analyses
SET status = $1,
    report = $2::jsonb,
    recommendations = $3::jsonb,
    error_code = NULL,
    error_message = NULL,
    error_retryable = NULL,
    completed_at = $4::timestamptz,
    updated_at = now()
WHERE id = $5`

	reportPayload, err := marshalNullableJSON(report)
	if err != nil {
		return err
	}
	recsPayload, err := marshalNullableJSON(recommendations)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(ctx, query, StatusCompleted, reportPayload, recsPayload, completedAt, analysisID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail records a failure with its classification.
func (r *PGRepo) Fail(ctx context.Context, analysisID, errorCode, errorMessage string, retryable bool, completedAt time.Time) error {
	const query = `
UPDATE analyses
SET status = $1,
    error_code = $2,
    error_message = $3,
    error_retryable = $4,
    completed_at = COALESCE(completed_at, $5::timestamptz),
    updated_at = now()
WHERE id = $6`
	res, err := r.DB.ExecContext(ctx, query, StatusFailed, errorCode, errorMessage, retryable, completedAt, analysisID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser lists analyses for a user ordered newest-first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	const query = `
SELECT ` + analysisColumns + `
FROM analyses
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func getLatestForDocument(ctx context.Context, q queryer, userID, documentID string) (Analysis, error) {
	const query = `
SELECT ` + analysisColumns + `
FROM analyses
WHERE document_id = $1 AND user_id = $2
ORDER BY created_at DESC
LIMIT 1`
	a, err := scanAnalysis(q.QueryRowContext(ctx, query, documentID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	return a, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var a Analysis
	var report sql.NullString
	var recommendations sql.NullString
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var errorRetryable sql.NullBool
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	if err := row.Scan(
		&a.ID,
		&a.DocumentID,
		&a.UserID,
		&a.Status,
		&report,
		&recommendations,
		&errorCode,
		&errorMessage,
		&errorRetryable,
		&startedAt,
		&completedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return Analysis{}, err
	}
	if report.Valid {
		parsed := &scoring.Report{}
		if err := json.Unmarshal([]byte(report.String), parsed); err == nil {
			a.Report = parsed
		}
	}
	if recommendations.Valid {
		var parsed []string
		if err := json.Unmarshal([]byte(recommendations.String), &parsed); err == nil {
			a.Recommendations = parsed
		}
	}
	if errorCode.Valid {
		a.ErrorCode = errorCode.String
	}
	if errorMessage.Valid {
		a.ErrorMessage = &errorMessage.String
	}
	if errorRetryable.Valid {
		a.ErrorRetryable = errorRetryable.Bool
	}
	if startedAt.Valid {
		a.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return a, nil
}

// marshalNullableJSON keeps empty values as SQL NULL instead of encoding
// zero-value JSON.
func marshalNullableJSON(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *scoring.Report:
		if v == nil {
			return nil, nil
		}
	case []string:
		if v == nil {
			return nil, nil
		}
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

var _ Repo = (*PGRepo)(nil)
