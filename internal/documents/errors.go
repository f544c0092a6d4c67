package documents

import "errors"

var (
	// ErrNotFound is returned when a document does not exist or belongs to
	// someone else.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedType is returned for uploads outside the pdf/docx/txt set.
	ErrUnsupportedType = errors.New("unsupported file type")
)
