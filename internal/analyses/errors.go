package analyses

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRetryRequired = errors.New("retry required")
)

// Failure codes recorded on failed analyses. Extraction and empty-content
// failures are final; storage and internal failures may succeed on retry.
const (
	ErrorCodeExtractionFailed = "EXTRACTION_FAILED"
	ErrorCodeEmptyContent     = "EMPTY_CONTENT"
	ErrorCodeStorage          = "STORAGE_ERROR"
	ErrorCodeInternal         = "INTERNAL_ERROR"
)

// RetryableFailure reports whether reprocessing could succeed. Queue
// consumers use it to decide between redelivery and dropping the message.
func RetryableFailure(err error) bool {
	if err == nil {
		return false
	}
	_, retryable := classifyFailure(err)
	return retryable
}
