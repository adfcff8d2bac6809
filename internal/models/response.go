// Package models - API response types and error codes.
//
// Response Design Principles:
// - One JSON error envelope for every failure
// - Denials never say which check failed; the reason goes to the server log
// - Configuration problems use their own code so operators can tell
//   "feature unavailable" apart from "forbidden"
package models

import (
	"time"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string    `json:"error"`                // Always "error"
	Message   string    `json:"message"`              // Human-readable description
	Code      string    `json:"code,omitempty"`       // Machine-readable code
	Timestamp time.Time `json:"timestamp"`            // Occurrence time
	RequestID string    `json:"request_id,omitempty"` // X-Request-ID of the failed request
}

// CaptchaVerifyRequest is the body of POST /api/captcha/verify.
type CaptchaVerifyRequest struct {
	Token string `json:"token"`
}

// CaptchaVerifyResponse confirms a session marker was issued.
type CaptchaVerifyResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DownloadTokenResponse carries an opaque, short-lived download ticket.
type DownloadTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SyncResponse reports the outcome of one reconciliation run.
type SyncResponse struct {
	BeforeCount   int   `json:"before_count"`
	UpstreamCount int   `json:"upstream_count"`
	UpsertedCount int   `json:"upserted_count"`
	AfterCount    int   `json:"after_count"`
	DeletedCount  int   `json:"deleted_count"`
	DurationMS    int64 `json:"duration_ms"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health status values.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusDegraded      = "degraded"
	StatusNotConfigured = "not_configured"
)

// Error codes.
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401
	ErrorCodeForbidden          = "FORBIDDEN"           // 403
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429
	ErrorCodeFeatureUnavailable = "FEATURE_UNAVAILABLE" // 501
	ErrorCodeSyncInProgress     = "SYNC_IN_PROGRESS"    // 409
	ErrorCodeUpstream           = "UPSTREAM_ERROR"      // 502
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"  // 405
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{Status: status, Message: message}
}
