package analyses

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"resume-check/internal/documents"
	"resume-check/internal/queue"
	"resume-check/internal/scoring"
	"resume-check/internal/shared/auth"
	"resume-check/internal/shared/server/middleware"
	"resume-check/internal/shared/storage/object"
	local "resume-check/internal/shared/storage/object/local"
	"resume-check/internal/usage"
)

func TestStartAnalysisQueuesWork(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, docRepo, analysisRepo, store, queueStub := setupAnalysisRouter(t)
	userID := "guest:test-guest"
	documentID := seedDocument(t, docRepo, store, userID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+documentID+"/analyze", nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.Code, resp.Body.String())
	}

	var created struct {
		AnalysisID string `json:"analysisId"`
		Status     string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.AnalysisID == "" {
		t.Fatalf("expected analysisId, got empty")
	}
	if created.Status != StatusQueued {
		t.Fatalf("expected queued status, got %q", created.Status)
	}

	analysis, err := analysisRepo.GetByID(context.Background(), created.AnalysisID)
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if analysis.DocumentID != documentID {
		t.Fatalf("expected documentID %q, got %q", documentID, analysis.DocumentID)
	}
	if len(queueStub.messages) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(queueStub.messages))
	}
	if queueStub.messages[0].AnalysisID != created.AnalysisID {
		t.Fatalf("queued message references %q, want %q", queueStub.messages[0].AnalysisID, created.AnalysisID)
	}
}

func TestStartAnalysisUnknownDocument(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _, _, _ := setupAnalysisRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/no-such-doc/analyze", nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestStartAnalysisIdempotentDoublePost(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, docRepo, analysisRepo, store, queueStub := setupAnalysisRouter(t)
	userID := "guest:test-guest"
	documentID := seedDocument(t, docRepo, store, userID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+documentID+"/analyze", nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", resp.Code)
	}
	var first map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&first); err != nil {
		t.Fatalf("decode first response: %v", err)
	}
	firstID, _ := first["analysisId"].(string)
	if firstID == "" {
		t.Fatalf("expected analysisId in first response")
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+documentID+"/analyze", nil)
	addGuestHeader(req2)
	resp2 := httptest.NewRecorder()
	router.ServeHTTP(resp2, req2)

	if resp2.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", resp2.Code)
	}
	var second map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&second); err != nil {
		t.Fatalf("decode second response: %v", err)
	}
	secondID, _ := second["analysisId"].(string)
	if secondID != firstID {
		t.Fatalf("expected same analysisId, got %q and %q", firstID, secondID)
	}

	if len(queueStub.messages) != 1 {
		t.Fatalf("reuse must not enqueue again, got %d messages", len(queueStub.messages))
	}

	analyses, err := analysisRepo.ListByUser(context.Background(), userID, 100, 0)
	if err != nil {
		t.Fatalf("list analyses: %v", err)
	}
	if len(analyses) != 1 {
		t.Fatalf("expected 1 analysis for document, got %d", len(analyses))
	}
}

func TestStartAnalysisCompletedReturnsReport(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, docRepo, analysisRepo, store, _ := setupAnalysisRouter(t)
	userID := "guest:test-guest"
	documentID := seedDocument(t, docRepo, store, userID)

	report := completedReport()
	completedAt := time.Now().UTC()
	analysis := Analysis{
		ID:              "analysis-completed",
		DocumentID:      documentID,
		UserID:          userID,
		Status:          StatusCompleted,
		Report:          &report,
		Recommendations: []string{"Add phone number"},
		CompletedAt:     &completedAt,
		CreatedAt:       time.Now().UTC(),
	}
	if err := analysisRepo.Create(context.Background(), analysis); err != nil {
		t.Fatalf("create analysis: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+documentID+"/analyze", nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var decoded struct {
		ID              string          `json:"id"`
		Status          string          `json:"status"`
		Report          *scoring.Report `json:"report"`
		Recommendations []string        `json:"recommendations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.ID != analysis.ID {
		t.Fatalf("expected id %q, got %q", analysis.ID, decoded.ID)
	}
	if decoded.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %q", decoded.Status)
	}
	if decoded.Report == nil || decoded.Report.OverallScore != report.OverallScore {
		t.Fatalf("expected report with score %.2f, got %+v", report.OverallScore, decoded.Report)
	}
	if len(decoded.Recommendations) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(decoded.Recommendations))
	}
}

func TestStartAnalysisFailedRequiresRetry(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, docRepo, analysisRepo, store, _ := setupAnalysisRouter(t)
	userID := "guest:test-guest"
	documentID := seedDocument(t, docRepo, store, userID)

	msg := "boom"
	analysis := Analysis{
		ID:           "analysis-failed",
		DocumentID:   documentID,
		UserID:       userID,
		Status:       StatusFailed,
		ErrorCode:    ErrorCodeInternal,
		ErrorMessage: &msg,
		CreatedAt:    time.Now().UTC(),
	}
	if err := analysisRepo.Create(context.Background(), analysis); err != nil {
		t.Fatalf("create analysis: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+documentID+"/analyze", nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}

	body := bytes.NewReader([]byte(`{"retry": true}`))
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+documentID+"/analyze", body)
	req2.Header.Set("Content-Type", "application/json")
	addGuestHeader(req2)
	resp2 := httptest.NewRecorder()
	router.ServeHTTP(resp2, req2)

	if resp2.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 on retry, got %d: %s", resp2.Code, resp2.Body.String())
	}
	var retried struct {
		AnalysisID string `json:"analysisId"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&retried); err != nil {
		t.Fatalf("decode retry response: %v", err)
	}
	if retried.AnalysisID == "" || retried.AnalysisID == analysis.ID {
		t.Fatalf("retry must create a fresh analysis, got %q", retried.AnalysisID)
	}
}

func TestStartAnalysisGuestLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, docRepo, _, store, _ := setupAnalysisRouter(t)
	userID := "guest:test-guest"

	limit := usage.LimitFor(usage.PlanGuest)
	for i := 0; i < limit; i++ {
		documentID := seedDocumentNamed(t, docRepo, store, userID, "doc-"+string(rune('a'+i)))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+documentID+"/analyze", nil)
		addGuestHeader(req)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusAccepted {
			t.Fatalf("start %d: expected 202, got %d: %s", i+1, resp.Code, resp.Body.String())
		}
	}

	documentID := seedDocumentNamed(t, docRepo, store, userID, "doc-over")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+documentID+"/analyze", nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "limit_reached" {
		t.Fatalf("expected limit_reached, got %q", envelope.Error.Code)
	}
}

func TestGetAnalysisScopedToOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, analysisRepo, _, _ := setupAnalysisRouter(t)

	analysis := Analysis{
		ID:         "analysis-owned",
		DocumentID: "doc-1",
		UserID:     "guest:owner",
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}
	if err := analysisRepo.Create(context.Background(), analysis); err != nil {
		t.Fatalf("create analysis: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+analysis.ID, nil)
	req.Header.Set("X-Guest-Id", "intruder")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for other user's analysis, got %d", resp.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+analysis.ID, nil)
	req2.Header.Set("X-Guest-Id", "owner")
	resp2 := httptest.NewRecorder()
	router.ServeHTTP(resp2, req2)

	if resp2.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", resp2.Code)
	}
}

func TestGetAnalysisPollThrottle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, analysisRepo, _, _ := setupAnalysisRouter(t)

	analysis := Analysis{
		ID:         "analysis-poll",
		DocumentID: "doc-1",
		UserID:     "guest:test-guest",
		Status:     StatusProcessing,
		CreatedAt:  time.Now().UTC(),
	}
	if err := analysisRepo.Create(context.Background(), analysis); err != nil {
		t.Fatalf("create analysis: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+analysis.ID, nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("first poll: expected 200, got %d", resp.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+analysis.ID, nil)
	addGuestHeader(req2)
	resp2 := httptest.NewRecorder()
	router.ServeHTTP(resp2, req2)

	if resp2.Code != http.StatusTooManyRequests {
		t.Fatalf("second poll: expected 429, got %d", resp2.Code)
	}
	if resp2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestListAnalysesRequiresLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _, _, _ := setupAnalysisRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses", nil)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestListAnalysesIncludesOverallScore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, analysisRepo, _, _ := setupAnalysisRouter(t)
	userID := "user-1"

	report := completedReport()
	analysis := Analysis{
		ID:         "analysis-list",
		DocumentID: "doc-1",
		UserID:     userID,
		Status:     StatusCompleted,
		Report:     &report,
		CreatedAt:  time.Now().UTC(),
	}
	if err := analysisRepo.Create(context.Background(), analysis); err != nil {
		t.Fatalf("create analysis: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses", nil)
	addAuthHeader(t, req, userID)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var payload []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload) != 1 {
		t.Fatalf("expected 1 item, got %d", len(payload))
	}
	item := payload[0]
	if item["overallScore"] != report.OverallScore {
		t.Fatalf("expected overallScore %.2f, got %v", report.OverallScore, item["overallScore"])
	}
	if item["status"] != StatusCompleted {
		t.Fatalf("expected completed status, got %v", item["status"])
	}
}

func TestAnalyzeNowScoresUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _, _, _ := setupAnalysisRouter(t)

	resumeText := "Experience\nDeveloped services in Python and SQL.\nSkills: teamwork.\nEducation\nContact: jane@example.com"
	body, contentType := multipartFile(t, "resume.txt", "text/plain", []byte(resumeText))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", body)
	req.Header.Set("Content-Type", contentType)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var decoded struct {
		Report          scoring.Report `json:"report"`
		Recommendations []string       `json:"recommendations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.Report.OverallScore <= 0 {
		t.Fatalf("expected positive score, got %v", decoded.Report.OverallScore)
	}
	if !decoded.Report.HasSection("experience") {
		t.Fatalf("expected experience section, got %v", decoded.Report.SectionsFound)
	}
	if decoded.Recommendations == nil {
		t.Fatalf("expected recommendations array")
	}
}

func TestAnalyzeNowEmptyContent(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, _, _, _, _ := setupAnalysisRouter(t)

	body, contentType := multipartFile(t, "resume.txt", "text/plain", []byte("   \n\t  "))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", body)
	req.Header.Set("Content-Type", contentType)
	addGuestHeader(req)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "empty_content" {
		t.Fatalf("expected empty_content, got %q", envelope.Error.Code)
	}
}

type stubQueue struct {
	messages []queue.Message
	err      error
}

func (s *stubQueue) Send(ctx context.Context, msg queue.Message) error {
	_ = ctx
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func setupAnalysisRouter(t *testing.T) (*gin.Engine, *documents.MemoryRepo, *MemoryRepo, object.ObjectStore, *stubQueue) {
	t.Helper()
	docRepo := documents.NewMemoryRepo()
	analysisRepo := NewMemoryRepo()
	store := local.New(t.TempDir())
	queueStub := &stubQueue{}
	analyzer, err := scoring.NewAnalyzer(scoring.DefaultRuleset())
	if err != nil {
		t.Fatalf("build analyzer: %v", err)
	}
	svc := &Service{
		Repo:     analysisRepo,
		Docs:     docRepo,
		Store:    store,
		Analyzer: analyzer,
		Usage:    usage.NewService(),
		JobQueue: queueStub,
	}
	handler := NewHandler(svc, docRepo)

	router := gin.New()
	router.Use(middleware.Auth("dev"))
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	return router, docRepo, analysisRepo, store, queueStub
}

func seedDocument(t *testing.T, repo *documents.MemoryRepo, store object.ObjectStore, userID string) string {
	t.Helper()
	return seedDocumentNamed(t, repo, store, userID, "doc-"+userID)
}

func seedDocumentNamed(t *testing.T, repo *documents.MemoryRepo, store object.ObjectStore, userID, docID string) string {
	t.Helper()

	extractedKey, _, _, err := store.Save(context.Background(), userID, "resume.txt", bytes.NewReader([]byte("resume text")))
	if err != nil {
		t.Fatalf("save extracted text: %v", err)
	}
	doc := documents.Document{
		ID:               docID,
		UserID:           userID,
		FileName:         "resume.pdf",
		MimeType:         "application/pdf",
		SizeBytes:        123,
		StorageKey:       "test-key",
		ExtractedTextKey: extractedKey,
		CreatedAt:        time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc.ID
}

func completedReport() scoring.Report {
	return scoring.Report{
		WordCount:       120,
		SectionsFound:   []string{"experience", "skills"},
		MissingSections: []string{"contact_info", "education"},
		Keywords: []scoring.CategoryScore{
			{Name: "technical_skills", CoveragePct: 22.22, Found: []string{"python", "sql"}},
		},
		OverallScore: 74,
	}
}

func multipartFile(t *testing.T, fileName, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func addGuestHeader(req *http.Request) {
	req.Header.Set("X-Guest-Id", "test-guest")
}

func addAuthHeader(t *testing.T, req *http.Request, userID string) {
	t.Helper()
	token, err := auth.SignJWT(auth.Claims{Sub: userID})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
