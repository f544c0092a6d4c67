// Package uploads implements direct-to-storage uploads. The API hands out a
// presigned PUT URL, the client pushes the bytes itself, then registers the
// uploaded object as a document.
package uploads

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"resume-check/internal/documents"
	"resume-check/internal/extract"
	"resume-check/internal/shared/server/middleware"
	"resume-check/internal/shared/server/respond"
	"resume-check/internal/shared/storage/object"
	"resume-check/internal/shared/telemetry"
	"resume-check/internal/shared/util"
)

const (
	maxUploadBytes = 10 << 20
	presignExpires = 15 * time.Minute
)

var allowedMimeTypes = map[string]struct{}{
	extract.MimePDF:  {},
	extract.MimeDOCX: {},
	extract.MimeText: {},
}

// presigner is the optional store capability behind the presign endpoint.
// Only the S3 store implements it.
type presigner interface {
	PresignPut(ctx context.Context, userId string, fileName string, expires time.Duration) (string, string, error)
}

// statter verifies a registered object actually landed in storage.
type statter interface {
	Stat(ctx context.Context, storageKey string) (int64, error)
}

// Handler wires the presign and register endpoints.
type Handler struct {
	Store object.ObjectStore
	Docs  *documents.Service
}

// NewHandler constructs a Handler.
func NewHandler(store object.ObjectStore, docs *documents.Service) *Handler {
	return &Handler{Store: store, Docs: docs}
}

// RegisterRoutes attaches upload routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents/presign", h.presign)
	rg.POST("/documents/register", h.register)
}

type presignRequest struct {
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

type presignResponse struct {
	UploadURL        string `json:"uploadUrl"`
	StorageKey       string `json:"storageKey"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
}

func (h *Handler) presign(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	req.FileName = strings.TrimSpace(req.FileName)
	req.MimeType = strings.TrimSpace(req.MimeType)

	if req.FileName == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "fileName is required", nil)
		return
	}
	if _, ok := allowedMimeTypes[req.MimeType]; !ok {
		respond.Error(c, http.StatusBadRequest, "validation_error", "mimeType is not allowed", nil)
		return
	}
	if req.SizeBytes <= 0 || req.SizeBytes > maxUploadBytes {
		respond.Error(c, http.StatusBadRequest, "validation_error", "sizeBytes exceeds limit", nil)
		return
	}

	signer, ok := h.Store.(presigner)
	if !ok {
		respond.Error(c, http.StatusNotImplemented, "not_supported", "uploads not configured", nil)
		return
	}

	userID := middleware.UserIDFromContext(c)
	uploadURL, storageKey, err := signer.PresignPut(c.Request.Context(), userID, req.FileName, presignExpires)
	if err != nil {
		telemetry.Error("uploads.presign.failed", map[string]any{
			"err":        err.Error(),
			"fileName":   req.FileName,
			"mimeType":   req.MimeType,
			"sizeBytes":  req.SizeBytes,
			"request_id": middleware.RequestIDFromContext(c),
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to generate upload url", nil)
		return
	}

	respond.JSON(c, http.StatusOK, presignResponse{
		UploadURL:        uploadURL,
		StorageKey:       storageKey,
		ExpiresInSeconds: int64(presignExpires.Seconds()),
	})
}

type registerRequest struct {
	FileName   string `json:"fileName"`
	MimeType   string `json:"mimeType"`
	SizeBytes  int64  `json:"sizeBytes"`
	StorageKey string `json:"storageKey"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	req.FileName = strings.TrimSpace(req.FileName)
	req.MimeType = strings.TrimSpace(req.MimeType)
	req.StorageKey = strings.TrimSpace(req.StorageKey)

	if req.FileName == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "fileName is required", nil)
		return
	}
	if req.StorageKey == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "storageKey is required", nil)
		return
	}
	if _, ok := allowedMimeTypes[req.MimeType]; !ok {
		respond.Error(c, http.StatusBadRequest, "validation_error", "mimeType is not allowed", nil)
		return
	}
	if req.SizeBytes <= 0 || req.SizeBytes > maxUploadBytes {
		respond.Error(c, http.StatusBadRequest, "validation_error", "sizeBytes exceeds limit", nil)
		return
	}

	userID := middleware.UserIDFromContext(c)

	// Keys are namespaced per user; a caller may only register objects
	// under its own namespace.
	if !strings.HasPrefix(req.StorageKey, util.HashUserKey(userID)+"/") {
		respond.Error(c, http.StatusForbidden, "forbidden", "storageKey does not belong to caller", nil)
		return
	}

	if st, ok := h.Store.(statter); ok {
		size, err := st.Stat(c.Request.Context(), req.StorageKey)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "uploaded object not found", nil)
			return
		}
		if size != req.SizeBytes {
			respond.Error(c, http.StatusBadRequest, "validation_error", "sizeBytes does not match uploaded object", nil)
			return
		}
	}

	doc, err := h.Docs.CreateFromKey(c.Request.Context(), userID, req.FileName, req.MimeType, req.SizeBytes, req.StorageKey)
	if err != nil {
		switch {
		case errors.Is(err, documents.ErrUnsupportedType):
			respond.Error(c, http.StatusUnsupportedMediaType, "unsupported_media_type", "only pdf, docx and txt files are accepted", nil)
		case errors.Is(err, documents.ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to register document", nil)
		}
		return
	}

	respond.JSON(c, http.StatusCreated, documents.DocumentResponse{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		MimeType:   doc.MimeType,
		SizeBytes:  doc.SizeBytes,
		UploadedAt: doc.CreatedAt,
	})
}
