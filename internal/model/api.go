package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the RBAC role carried in a caller's token.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleReader Role = "reader"
)

// RoleRank orders roles so that higher roles satisfy lower requirements.
func RoleRank(r Role) int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// APIResponse wraps all successful responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError wraps all error responses.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta carries request metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// DetectRequest is the request body for POST /v1/flags/detect.
type DetectRequest struct {
	Category *FlagCategory `json:"category,omitempty"`
}

// DetectorRunResponse is returned when a single detector is run.
type DetectorRunResponse struct {
	Category FlagCategory      `json:"category"`
	Results  []DetectionResult `json:"results"`
	Count    int               `json:"count"`
}

// DetectionStats summarises a run over every detector.
type DetectionStats struct {
	Created    int                  `json:"created"`
	Skipped    int                  `json:"skipped"`
	Errors     []string             `json:"errors"`
	ByCategory map[FlagCategory]int `json:"by_category"`
}

// BatchResult summarises a recalculation over every person and organization.
type BatchResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// PublishResponse is returned by POST /v1/scores/publish.
type PublishResponse struct {
	Published int `json:"published"`
}

// ReviewFlagRequest is the request body for PATCH /v1/flags/{id}.
type ReviewFlagRequest struct {
	Status FlagStatus `json:"status"`
}

// RespondFlagRequest is the request body for POST /v1/flags/{id}/respond.
type RespondFlagRequest struct {
	Response    string  `json:"response"`
	EvidenceURL *string `json:"evidence_url,omitempty"`
}

// CreateFlagRequest is the request body for POST /v1/flags (community flags).
type CreateFlagRequest struct {
	ProjectID   uuid.UUID      `json:"project_id"`
	Category    FlagCategory   `json:"category"`
	Severity    FlagSeverity   `json:"severity,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SubmitDisputeRequest is the request body for POST /v1/disputes.
type SubmitDisputeRequest struct {
	ScoreID  uuid.UUID `json:"score_id"`
	Reason   string    `json:"reason"`
	Evidence *string   `json:"evidence,omitempty"`
}

// ReviewDisputeRequest is the request body for PATCH /v1/disputes/{id}.
type ReviewDisputeRequest struct {
	Status DisputeStatus `json:"status"`
	Notes  *string       `json:"notes,omitempty"`
}

// FlagListResponse is returned by GET /v1/flags.
type FlagListResponse struct {
	Flags  []Flag    `json:"flags"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
	Stats  FlagStats `json:"stats"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
