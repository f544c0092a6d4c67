package analyses

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var analysisRowColumns = []string{
	"id", "document_id", "user_id", "status", "report", "recommendations",
	"error_code", "error_message", "error_retryable", "started_at", "completed_at", "created_at", "updated_at",
}

func newPGRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoCreateStoresNullPayloads(t *testing.T) {
	repo, mock := newPGRepo(t)

	analysis := Analysis{
		ID:         "analysis-1",
		DocumentID: "doc-1",
		UserID:     "user-1",
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO analyses").
		WithArgs(
			analysis.ID,
			analysis.DocumentID,
			analysis.UserID,
			analysis.Status,
			nil, // report
			nil, // recommendations
			analysis.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), analysis); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDScansCompletedRow(t *testing.T) {
	repo, mock := newPGRepo(t)

	now := time.Now().UTC()
	completed := now.Add(2 * time.Second)
	rows := sqlmock.NewRows(analysisRowColumns).AddRow(
		"analysis-1", "doc-1", "user-1", StatusCompleted,
		`{"wordCount":120,"sectionsFound":["experience"],"missingSections":[],"keywords":[],"contact":{},"overallScore":74}`,
		`["Add a dedicated skills section"]`,
		nil, nil, nil,
		now, completed, now, completed,
	)
	mock.ExpectQuery("SELECT (.+) FROM analyses").
		WithArgs("analysis-1").
		WillReturnRows(rows)

	got, err := repo.GetByID(context.Background(), "analysis-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", got.Status)
	}
	if got.Report == nil || got.Report.OverallScore != 74 {
		t.Fatalf("expected parsed report, got %+v", got.Report)
	}
	if len(got.Recommendations) != 1 {
		t.Fatalf("expected 1 recommendation, got %v", got.Recommendations)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("expected timestamps, got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	repo, mock := newPGRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM analyses").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoMarkProcessingMissingRow(t *testing.T) {
	repo, mock := newPGRepo(t)

	mock.ExpectExec("UPDATE analyses").
		WithArgs(StatusProcessing, sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.MarkProcessing(context.Background(), "missing", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCompleteWritesPayloads(t *testing.T) {
	repo, mock := newPGRepo(t)

	report := completedReport()
	completedAt := time.Now().UTC()
	mock.ExpectExec("UPDATE analyses").
		WithArgs(StatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg(), completedAt, "analysis-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Complete(context.Background(), "analysis-1", &report, []string{"Add phone number"}, completedAt); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFailRecordsClassification(t *testing.T) {
	repo, mock := newPGRepo(t)

	completedAt := time.Now().UTC()
	mock.ExpectExec("UPDATE analyses").
		WithArgs(StatusFailed, ErrorCodeEmptyContent, "no extractable text", false, completedAt, "analysis-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Fail(context.Background(), "analysis-1", ErrorCodeEmptyContent, "no extractable text", false, completedAt); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetOrCreateReusesActiveAnalysis(t *testing.T) {
	repo, mock := newPGRepo(t)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("SELECT id FROM documents").
		WithArgs("doc-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM analyses").
		WithArgs("doc-1", "user-1").
		WillReturnRows(sqlmock.NewRows(analysisRowColumns).AddRow(
			"existing", "doc-1", "user-1", StatusQueued,
			nil, nil, nil, nil, nil, nil, nil, now, now,
		))
	mock.ExpectCommit()

	analysis := Analysis{ID: "fresh", DocumentID: "doc-1", UserID: "user-1", Status: StatusQueued, CreatedAt: now}
	got, created, err := repo.GetOrCreateForDocument(context.Background(), analysis, false, nil)
	if err != nil {
		t.Fatalf("GetOrCreateForDocument: %v", err)
	}
	if created {
		t.Fatalf("expected reuse, got created")
	}
	if got.ID != "existing" {
		t.Fatalf("expected existing row, got %q", got.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetOrCreateInsertsWhenNone(t *testing.T) {
	repo, mock := newPGRepo(t)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("SELECT id FROM documents").
		WithArgs("doc-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM analyses").
		WithArgs("doc-1", "user-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO analyses").
		WithArgs("fresh", "doc-1", "user-1", StatusQueued, nil, nil, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	analysis := Analysis{ID: "fresh", DocumentID: "doc-1", UserID: "user-1", Status: StatusQueued, CreatedAt: now}
	got, created, err := repo.GetOrCreateForDocument(context.Background(), analysis, false, nil)
	if err != nil {
		t.Fatalf("GetOrCreateForDocument: %v", err)
	}
	if !created {
		t.Fatalf("expected a new analysis")
	}
	if got.ID != "fresh" {
		t.Fatalf("expected fresh row, got %q", got.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetOrCreateFailedNeedsRetry(t *testing.T) {
	repo, mock := newPGRepo(t)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("SELECT id FROM documents").
		WithArgs("doc-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM analyses").
		WithArgs("doc-1", "user-1").
		WillReturnRows(sqlmock.NewRows(analysisRowColumns).AddRow(
			"failed-run", "doc-1", "user-1", StatusFailed,
			nil, nil, ErrorCodeExtractionFailed, "could not parse", false, now, now, now, now,
		))
	mock.ExpectCommit()

	analysis := Analysis{ID: "fresh", DocumentID: "doc-1", UserID: "user-1", Status: StatusQueued, CreatedAt: now}
	got, created, err := repo.GetOrCreateForDocument(context.Background(), analysis, false, nil)
	if !errors.Is(err, ErrRetryRequired) {
		t.Fatalf("expected ErrRetryRequired, got %v", err)
	}
	if created {
		t.Fatalf("expected no creation")
	}
	if got.ID != "failed-run" {
		t.Fatalf("expected failed row, got %q", got.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
