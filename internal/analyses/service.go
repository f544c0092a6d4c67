package analyses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"resume-check/internal/documents"
	"resume-check/internal/extract"
	"resume-check/internal/queue"
	"resume-check/internal/scoring"
	"resume-check/internal/scoring/recommend"
	"resume-check/internal/shared/metrics"
	"resume-check/internal/shared/storage/object"
	"resume-check/internal/shared/telemetry"
	"resume-check/internal/usage"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Service contains business logic for analyses.
type Service struct {
	Repo     Repo
	Docs     documents.DocumentsRepo
	Store    object.ObjectStore
	Analyzer *scoring.Analyzer
	Usage    *usage.Service
	JobQueue queue.Client // nil means work runs in-process on a goroutine
}

// StartOrReuse returns the document's latest analysis or creates and
// dispatches a new one. The bool reports whether a new analysis was created;
// creation consumes one usage unit.
func (s *Service) StartOrReuse(ctx context.Context, documentID, userID, plan string, allowRetry bool) (Analysis, bool, error) {
	if documentID == "" || userID == "" {
		return Analysis{}, false, errors.New("documentID and userID are required")
	}

	analysis := Analysis{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		UserID:     userID,
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}

	var allowCreate func() error
	if s.Usage != nil {
		allowCreate = func() error {
			ok, _, err := s.Usage.CanConsume(ctx, userID, plan, 1)
			if err != nil {
				return err
			}
			if !ok {
				return usage.ErrLimitReached
			}
			return nil
		}
	}

	latest, created, err := s.Repo.GetOrCreateForDocument(ctx, analysis, allowRetry, allowCreate)
	if err != nil {
		return latest, false, err
	}
	if !created {
		return latest, false, nil
	}

	if s.Usage != nil {
		if _, err := s.Usage.Consume(ctx, userID, plan, 1); err != nil {
			return latest, false, err
		}
	}

	if err := s.dispatch(ctx, latest); err != nil {
		return latest, false, err
	}
	return latest, true, nil
}

// Get returns an analysis by ID.
func (s *Service) Get(ctx context.Context, analysisID string) (Analysis, error) {
	if analysisID == "" {
		return Analysis{}, errors.New("analysisID is required")
	}
	return s.Repo.GetByID(ctx, analysisID)
}

// GetForUser returns an analysis by ID, hiding rows owned by other users.
func (s *Service) GetForUser(ctx context.Context, userID, analysisID string) (Analysis, error) {
	analysis, err := s.Get(ctx, analysisID)
	if err != nil {
		return Analysis{}, err
	}
	if analysis.UserID != userID {
		return Analysis{}, ErrNotFound
	}
	return analysis, nil
}

// List returns analyses for a user ordered newest-first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

// AnalyzeBytes runs extract, score and recommend on an in-memory payload
// without persisting anything.
func (s *Service) AnalyzeBytes(ctx context.Context, data []byte, mimeType, fileName string) (scoring.Report, []string, error) {
	if s.Analyzer == nil {
		return scoring.Report{}, nil, errors.New("analyzer not configured")
	}
	text, err := extract.ExtractTextFromBytes(ctx, data, mimeType, fileName)
	if err != nil {
		return scoring.Report{}, nil, err
	}
	report := s.Analyzer.Analyze(text)
	return report, recommend.Build(report), nil
}

// ConsumeQuota takes one analysis unit for the user, if a usage service is
// configured.
func (s *Service) ConsumeQuota(ctx context.Context, userID, plan string) error {
	if s.Usage == nil {
		return nil
	}
	ok, _, err := s.Usage.CanConsume(ctx, userID, plan, 1)
	if err != nil {
		return err
	}
	if !ok {
		return usage.ErrLimitReached
	}
	_, err = s.Usage.Consume(ctx, userID, plan, 1)
	return err
}

func (s *Service) dispatch(ctx context.Context, analysis Analysis) error {
	if s.JobQueue == nil {
		go s.processAsync(backgroundWithRequestID(ctx), analysis.ID)
		return nil
	}

	msg := queue.Message{
		AnalysisID: analysis.ID,
		RequestID:  requestIDFromContext(ctx),
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    1,
	}
	if err := s.JobQueue.Send(ctx, msg); err != nil {
		wrapped := fmt.Errorf("enqueue analysis: %w", err)
		s.failAnalysis(ctx, analysis.ID, analysis.UserID, analysis.DocumentID, wrapped, nil)
		return wrapped
	}
	return nil
}

func (s *Service) processAsync(ctx context.Context, analysisID string) {
	defer func() {
		if r := recover(); r != nil {
			s.failAnalysis(ctx, analysisID, "", "", fmt.Errorf("panic: %v", r), nil)
		}
	}()
	_ = s.Process(ctx, analysisID)
}

// Process runs the pipeline for a queued analysis: load the document,
// extract its text, score it, build recommendations, persist the outcome.
// On failure the analysis is marked failed and the error is returned so
// queue consumers can decide whether to redeliver.
func (s *Service) Process(ctx context.Context, analysisID string) error {
	startedAt := time.Now().UTC()
	if err := s.Repo.MarkProcessing(ctx, analysisID, startedAt); err != nil {
		return s.failAnalysis(ctx, analysisID, "", "", fmt.Errorf("set processing: %w", err), &startedAt)
	}

	analysis, err := s.Repo.GetByID(ctx, analysisID)
	if err != nil {
		return s.failAnalysis(ctx, analysisID, "", "", fmt.Errorf("analysis lookup: %w", err), &startedAt)
	}

	metrics.IncAnalysisStarted()
	s.logStatus(ctx, analysis, StatusProcessing, "queued->processing", 0)

	if s.Docs == nil || s.Store == nil || s.Analyzer == nil {
		return s.failAnalysis(ctx, analysisID, analysis.UserID, analysis.DocumentID, errors.New("missing pipeline dependencies"), &startedAt)
	}

	doc, err := s.Docs.GetByID(ctx, analysis.UserID, analysis.DocumentID)
	if err != nil {
		return s.failAnalysis(ctx, analysisID, analysis.UserID, analysis.DocumentID, fmt.Errorf("document lookup id=%s: %w", analysis.DocumentID, err), &startedAt)
	}

	text, err := s.resumeText(ctx, doc)
	if err != nil {
		return s.failAnalysis(ctx, analysisID, analysis.UserID, analysis.DocumentID, fmt.Errorf("document %s mime %s: %w", doc.ID, doc.MimeType, err), &startedAt)
	}

	report := s.Analyzer.Analyze(text)
	recommendations := recommend.Build(report)

	completedAt := time.Now().UTC()
	if err := s.Repo.Complete(ctx, analysisID, &report, recommendations, completedAt); err != nil {
		return s.failAnalysis(ctx, analysisID, analysis.UserID, analysis.DocumentID, fmt.Errorf("save analysis result: %w", err), &startedAt)
	}

	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(durationMs(&startedAt, &completedAt))
	analysis.DocumentID = doc.ID
	s.logStatus(ctx, analysis, StatusCompleted, "processing->completed", durationMs(&startedAt, &completedAt))
	return nil
}

// resumeText returns the document's extracted text, extracting and caching it
// on first use.
func (s *Service) resumeText(ctx context.Context, doc documents.Document) (string, error) {
	if doc.ExtractedTextKey != "" {
		return loadText(ctx, s.Store, doc.ExtractedTextKey)
	}

	text, extractedKey, err := extract.ExtractText(ctx, s.Store, doc.StorageKey, doc.MimeType, doc.FileName)
	if err != nil {
		return "", err
	}
	if err := s.Docs.UpdateExtraction(ctx, doc.UserID, doc.ID, extractedKey, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("update extraction: %w", err)
	}
	return text, nil
}

// failAnalysis records the failure and returns err unchanged. The update runs
// on a fresh context so a canceled request cannot lose the failure record.
func (s *Service) failAnalysis(ctx context.Context, analysisID, userID, documentID string, err error, startedAt *time.Time) error {
	code, retryable := classifyFailure(err)
	msg := sanitizeError(err)
	completedAt := time.Now().UTC()
	if updateErr := s.Repo.Fail(context.Background(), analysisID, code, msg, retryable, completedAt); updateErr != nil {
		telemetry.Error("analysis.fail_update", map[string]any{
			"analysis_id": analysisID,
			"error":       updateErr.Error(),
			"cause":       msg,
		})
	}
	metrics.IncAnalysisFailed()
	metrics.IncAnalysisError(code)
	if startedAt != nil {
		metrics.ObserveAnalysisDurationMs(durationMs(startedAt, &completedAt))
	}
	s.logStatus(ctx, Analysis{ID: analysisID, UserID: userID, DocumentID: documentID}, StatusFailed, "processing->failed", durationMs(startedAt, &completedAt))
	return err
}

func (s *Service) logStatus(ctx context.Context, analysis Analysis, status, transition string, durationMs float64) {
	fields := map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"user_id":           analysis.UserID,
		"document_id":       analysis.DocumentID,
		"analysis_id":       analysis.ID,
		"status":            status,
		"status_transition": transition,
	}
	if durationMs > 0 {
		fields["duration_ms"] = durationMs
	}
	telemetry.Info("analysis.status", fields)
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}

func classifyFailure(err error) (string, bool) {
	if err == nil {
		return ErrorCodeInternal, true
	}
	if errors.Is(err, extract.ErrEmptyContent) {
		return ErrorCodeEmptyContent, false
	}
	if errors.Is(err, extract.ErrExtractionFailed) {
		return ErrorCodeExtractionFailed, false
	}
	msg := strings.ToLower(err.Error())
	if strings.HasPrefix(msg, "panic") {
		return ErrorCodeInternal, true
	}
	if strings.Contains(msg, "lookup") ||
		strings.Contains(msg, "extract text") ||
		strings.Contains(msg, "set processing") ||
		strings.Contains(msg, "save analysis") ||
		strings.Contains(msg, "update extraction") ||
		strings.Contains(msg, "enqueue") {
		return ErrorCodeStorage, true
	}
	return ErrorCodeInternal, true
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func loadText(ctx context.Context, store object.ObjectStore, key string) (string, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("extracted text lookup key=%s: %w", key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("extracted text lookup key=%s: read: %w", key, err)
	}
	return string(data), nil
}
