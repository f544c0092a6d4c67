package analyses

import (
	"context"
	"sort"
	"sync"
	"time"

	"resume-check/internal/scoring"
)

// MemoryRepo stores analyses in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu     sync.RWMutex
	byID   map[string]Analysis
	byUser map[string][]string // userId -> analysis IDs in insert order
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[string]Analysis),
		byUser: make(map[string][]string),
	}
}

// Create stores the analysis.
func (r *MemoryRepo) Create(ctx context.Context, analysis Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(analysis)
	return nil
}

func (r *MemoryRepo) insertLocked(analysis Analysis) {
	r.byID[analysis.ID] = analysis
	r.byUser[analysis.UserID] = append(r.byUser[analysis.UserID], analysis.ID)
}

// GetByID returns an analysis by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return analysis, nil
}

// GetOrCreateForDocument returns the latest analysis for a document or
// creates a new one, holding the lock across the check and the insert so
// concurrent starts cannot double-create.
func (r *MemoryRepo) GetOrCreateForDocument(ctx context.Context, analysis Analysis, allowRetry bool, allowCreate func() error) (Analysis, bool, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if latest, ok := r.latestForDocumentLocked(analysis.UserID, analysis.DocumentID); ok {
		switch latest.Status {
		case StatusQueued, StatusProcessing, StatusCompleted:
			return latest, false, nil
		case StatusFailed:
			if !allowRetry {
				return latest, false, ErrRetryRequired
			}
		}
	}

	if allowCreate != nil {
		if err := allowCreate(); err != nil {
			return Analysis{}, false, err
		}
	}

	r.insertLocked(analysis)
	return analysis, true, nil
}

func (r *MemoryRepo) latestForDocumentLocked(userID, documentID string) (Analysis, bool) {
	ids := r.byUser[userID]
	for i := len(ids) - 1; i >= 0; i-- {
		a := r.byID[ids[i]]
		if a.DocumentID == documentID {
			return a, true
		}
	}
	return Analysis{}, false
}

// MarkProcessing moves an analysis into the processing state.
func (r *MemoryRepo) MarkProcessing(ctx context.Context, analysisID string, startedAt time.Time) error {
	return r.update(ctx, analysisID, func(a *Analysis) {
		a.Status = StatusProcessing
		if a.StartedAt == nil {
			a.StartedAt = &startedAt
		}
	})
}

// Complete stores the finished report and recommendations.
func (r *MemoryRepo) Complete(ctx context.Context, analysisID string, report *scoring.Report, recommendations []string, completedAt time.Time) error {
	return r.update(ctx, analysisID, func(a *Analysis) {
		a.Status = StatusCompleted
		a.Report = report
		a.Recommendations = recommendations
		a.ErrorCode = ""
		a.ErrorMessage = nil
		a.ErrorRetryable = false
		a.CompletedAt = &completedAt
	})
}

// Fail records a failure with its classification.
func (r *MemoryRepo) Fail(ctx context.Context, analysisID, errorCode, errorMessage string, retryable bool, completedAt time.Time) error {
	return r.update(ctx, analysisID, func(a *Analysis) {
		a.Status = StatusFailed
		a.ErrorCode = errorCode
		a.ErrorMessage = &errorMessage
		a.ErrorRetryable = retryable
		a.CompletedAt = &completedAt
	})
}

func (r *MemoryRepo) update(ctx context.Context, analysisID string, mutate func(*Analysis)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.byID[analysisID]
	if !ok {
		return ErrNotFound
	}
	mutate(&analysis)
	analysis.UpdatedAt = time.Now().UTC()
	r.byID[analysisID] = analysis
	return nil
}

// ListByUser returns analyses for a user, newest first, with limit/offset.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	ids := r.byUser[userID]
	analyses := make([]Analysis, 0, len(ids))
	for _, id := range ids {
		analyses = append(analyses, r.byID[id])
	}
	r.mu.RUnlock()

	if len(analyses) == 0 || offset >= len(analyses) {
		return []Analysis{}, nil
	}

	sort.Slice(analyses, func(i, j int) bool {
		return analyses[i].CreatedAt.After(analyses[j].CreatedAt)
	})

	end := len(analyses)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return analyses[offset:end], nil
}

var _ Repo = (*MemoryRepo)(nil)
