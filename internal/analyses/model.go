package analyses

import (
	"time"

	"resume-check/internal/scoring"
)

// Analysis represents a document analysis job.
type Analysis struct {
	ID              string          `json:"id"`
	DocumentID      string          `json:"documentId"`
	UserID          string          `json:"userId"`
	Status          string          `json:"status"`
	Report          *scoring.Report `json:"report,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	ErrorCode       string          `json:"errorCode,omitempty"`
	ErrorMessage    *string         `json:"errorMessage,omitempty"`
	ErrorRetryable  bool            `json:"errorRetryable,omitempty"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// OverallScore returns the stored report's score, or nil before completion.
func (a Analysis) OverallScore() *float64 {
	if a.Report == nil {
		return nil
	}
	score := a.Report.OverallScore
	return &score
}
