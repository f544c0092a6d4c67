package documents

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"resume-check/internal/shared/metrics"
	"resume-check/internal/shared/storage/object"
)

// allowedExtensions is the upload surface. The extractor itself falls back to
// UTF-8 for anything unrecognized, but the API only accepts these three.
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
}

// Service contains business logic for documents.
type Service struct {
	Store object.ObjectStore
	Repo  DocumentsRepo
}

// Upload saves the file to object storage and records the document.
func (s *Service) Upload(ctx context.Context, userId, fileName string, r io.Reader) (Document, error) {
	if fileName == "" {
		return Document{}, ErrInvalidInput
	}
	if !allowedExtensions[strings.ToLower(filepath.Ext(fileName))] {
		return Document{}, ErrUnsupportedType
	}

	storageKey, size, mimeType, err := s.Store.Save(ctx, userId, fileName, r)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		ID:         uuid.NewString(),
		UserID:     userId,
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  size,
		StorageKey: storageKey,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, err
	}

	metrics.IncDocumentUploaded()
	return doc, nil
}

// CreateFromKey registers an object that was uploaded directly to storage,
// typically through a presigned URL. The caller supplies the metadata the
// multipart path would have sniffed.
func (s *Service) CreateFromKey(ctx context.Context, userId, fileName, mimeType string, sizeBytes int64, storageKey string) (Document, error) {
	if fileName == "" || mimeType == "" || storageKey == "" {
		return Document{}, ErrInvalidInput
	}
	if !allowedExtensions[strings.ToLower(filepath.Ext(fileName))] {
		return Document{}, ErrUnsupportedType
	}

	doc := Document{
		ID:         uuid.NewString(),
		UserID:     userId,
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  sizeBytes,
		StorageKey: storageKey,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, err
	}

	metrics.IncDocumentUploaded()
	return doc, nil
}

// Get returns a document by ID, scoped to its owner.
func (s *Service) Get(ctx context.Context, userId, documentID string) (Document, error) {
	if userId == "" || documentID == "" {
		return Document{}, errors.New("user id and document id required")
	}
	return s.Repo.GetByID(ctx, userId, documentID)
}

// List returns the user's documents, newest first.
func (s *Service) List(ctx context.Context, userId string, limit, offset int) ([]Document, error) {
	if userId == "" {
		return nil, errors.New("user id required")
	}
	return s.Repo.ListByUser(ctx, userId, limit, offset)
}

// MarkExtracted records where the extracted text of a document was stored.
func (s *Service) MarkExtracted(ctx context.Context, userId, documentID, extractedKey string) error {
	return s.Repo.UpdateExtraction(ctx, userId, documentID, extractedKey, time.Now().UTC())
}
