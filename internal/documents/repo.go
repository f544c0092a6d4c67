package documents

import (
	"context"
	"time"
)

// DocumentsRepo defines persistence operations for documents. All lookups are
// owner-scoped so one user can never read another user's rows.
type DocumentsRepo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, userId, documentID string) (Document, error)
	ListByUser(ctx context.Context, userId string, limit, offset int) ([]Document, error)
	UpdateExtraction(ctx context.Context, userId, documentID, extractedKey string, extractedAt time.Time) error
}
