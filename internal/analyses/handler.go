package analyses

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"resume-check/internal/documents"
	"resume-check/internal/extract"
	"resume-check/internal/shared/server/middleware"
	"resume-check/internal/shared/server/respond"
	"resume-check/internal/usage"
)

// maxAnalyzeSize caps uploads on the synchronous analyze endpoint.
const maxAnalyzeSize = 10 << 20

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc     *Service
	DocRepo documents.DocumentsRepo
	poll    *pollLimiter
}

// NewHandler constructs a Handler with polling throttled to one request per
// second per analysis.
func NewHandler(svc *Service, docRepo documents.DocumentsRepo) *Handler {
	return &Handler{Svc: svc, DocRepo: docRepo, poll: newPollLimiter(pollLimitWindow, nil)}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents/:id/analyze", h.startAnalysis)
	rg.POST("/analyze", h.analyzeNow)
	rg.GET("/analyses", h.listAnalyses)
	rg.GET("/analyses/:id", h.getAnalysis)
}

type startAnalysisRequest struct {
	Retry bool `json:"retry"`
}

func (h *Handler) startAnalysis(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	plan := middleware.UserPlanFromContext(c)
	documentID := c.Param("id")
	if documentID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "document id is required", nil)
		return
	}

	var req startAnalysisRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}

	doc, err := h.DocRepo.GetByID(c.Request.Context(), userID, documentID)
	if err != nil {
		switch {
		case errors.Is(err, documents.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start analysis", nil)
		}
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	analysis, created, err := h.Svc.StartOrReuse(ctx, doc.ID, userID, plan, req.Retry)
	if err != nil {
		switch {
		case errors.Is(err, usage.ErrLimitReached):
			respond.Error(c, http.StatusTooManyRequests, "limit_reached", "You've reached your analysis limit. Upgrade your plan to continue.", []map[string]string{
				{"field": "usage", "issue": "limit_reached"},
			})
		case errors.Is(err, ErrRetryRequired):
			respond.Error(c, http.StatusConflict, "retry_required", "The previous analysis failed. Send {\"retry\": true} to run it again.", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start analysis", nil)
		}
		return
	}

	if !created && analysis.Status == StatusCompleted {
		respond.JSON(c, http.StatusOK, analysisBody(analysis))
		return
	}

	respond.JSON(c, http.StatusAccepted, gin.H{
		"analysisId": analysis.ID,
		"status":     analysis.Status,
	})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	analysisID := c.Param("id")
	if analysisID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "analysis id is required", nil)
		return
	}

	if !h.poll.Allow(userID, analysisID) {
		c.Header("Retry-After", strconv.Itoa(h.poll.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "poll_too_fast", "poll interval is too short", nil)
		return
	}

	analysis, err := h.Svc.GetForUser(c.Request.Context(), userID, analysisID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, analysisBody(analysis))
}

func (h *Handler) listAnalyses(c *gin.Context) {
	if middleware.IsGuestFromContext(c) {
		respond.Error(c, http.StatusUnauthorized, "login_required", "Login required to view history", nil)
		return
	}

	userID := middleware.UserIDFromContext(c)

	limit := 20
	offset := 0

	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}

	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	analyses, err := h.Svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list analyses", nil)
		return
	}

	resp := make([]gin.H, 0, len(analyses))
	for _, a := range analyses {
		item := gin.H{
			"analysisId": a.ID,
			"documentId": a.DocumentID,
			"status":     a.Status,
			"createdAt":  a.CreatedAt,
		}
		if score := a.OverallScore(); score != nil {
			item["overallScore"] = *score
		}
		if a.Status == StatusFailed {
			item["errorCode"] = a.ErrorCode
		}
		resp = append(resp, item)
	}

	respond.JSON(c, http.StatusOK, resp)
}

// analyzeNow scores an uploaded file in the request, without persisting the
// document or the result.
func (h *Handler) analyzeNow(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	plan := middleware.UserPlanFromContext(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", []map[string]string{
			{"field": "file", "issue": "required"},
		})
		return
	}
	if fileHeader.Size > maxAnalyzeSize {
		respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the 10MB limit", nil)
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "could not read file", nil)
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "could not read file", nil)
		return
	}

	if err := h.Svc.ConsumeQuota(c.Request.Context(), userID, plan); err != nil {
		switch {
		case errors.Is(err, usage.ErrLimitReached):
			respond.Error(c, http.StatusTooManyRequests, "limit_reached", "You've reached your analysis limit. Upgrade your plan to continue.", []map[string]string{
				{"field": "usage", "issue": "limit_reached"},
			})
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to analyze file", nil)
		}
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	report, recommendations, err := h.Svc.AnalyzeBytes(c.Request.Context(), data, mimeType, fileHeader.Filename)
	if err != nil {
		switch {
		case errors.Is(err, extract.ErrEmptyContent):
			respond.Error(c, http.StatusUnprocessableEntity, "empty_content", "no extractable text in file", nil)
		case errors.Is(err, extract.ErrExtractionFailed):
			respond.Error(c, http.StatusUnprocessableEntity, "extraction_failed", "could not extract text from file", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to analyze file", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"report":          report,
		"recommendations": recommendations,
	})
}

// analysisBody shapes the full analysis payload for detail responses.
func analysisBody(a Analysis) gin.H {
	body := gin.H{
		"id":         a.ID,
		"documentId": a.DocumentID,
		"status":     a.Status,
		"createdAt":  a.CreatedAt,
	}
	switch a.Status {
	case StatusCompleted:
		body["report"] = a.Report
		body["recommendations"] = a.Recommendations
		if a.CompletedAt != nil {
			body["completedAt"] = a.CompletedAt
		}
	case StatusFailed:
		body["errorCode"] = a.ErrorCode
		if a.ErrorMessage != nil {
			body["errorMessage"] = *a.ErrorMessage
		}
		body["retryable"] = a.ErrorRetryable
	}
	return body
}
