package analyses

import (
	"context"
	"time"

	"resume-check/internal/scoring"
)

// Repo defines persistence operations for analyses.
type Repo interface {
	Create(ctx context.Context, analysis Analysis) error
	GetByID(ctx context.Context, analysisID string) (Analysis, error)
	// GetOrCreateForDocument returns the latest analysis for the document,
	// creating a fresh one only when none exists or the latest failed and
	// allowRetry is set. allowCreate runs just before the insert so callers
	// can veto creation (quota checks).
	GetOrCreateForDocument(ctx context.Context, analysis Analysis, allowRetry bool, allowCreate func() error) (Analysis, bool, error)
	MarkProcessing(ctx context.Context, analysisID string, startedAt time.Time) error
	Complete(ctx context.Context, analysisID string, report *scoring.Report, recommendations []string, completedAt time.Time) error
	Fail(ctx context.Context, analysisID, errorCode, errorMessage string, retryable bool, completedAt time.Time) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error)
}
