package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"softhub/internal/models"
	"softhub/internal/ratelimit"
)

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{"generates id when absent", "", false},
		{"reuses well-formed id", "edge-7f3a9c21", true},
		{"replaces too short id", "abc", false},
		{"replaces id with unsafe characters", "id with spaces\nand-newline", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
			if tt.reuse {
				assert.Equal(t, tt.incoming, seen)
				return
			}
			_, err := uuid.Parse(seen)
			assert.NoError(t, err, "expected a generated UUID, got %q", seen)
		})
	}
}

func TestGetRequestID_WithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetRequestID(req))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := requestIDMiddleware(recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/software/x", nil)
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { handler.ServeHTTP(rec, req) })

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeInternalError, resp.Code)
	assert.Equal(t, rec.Header().Get(RequestIDHeader), resp.RequestID)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	handler := requestIDMiddleware(loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	req := httptest.NewRequest(http.MethodGet, "/api/software/vlc", nil)
	req.Header.Set(RequestIDHeader, "log-test-0001")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "HTTP request", entry["msg"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/api/software/vlc", entry["path"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "log-test-0001", entry["request_id"])
	assert.Contains(t, entry, "duration_ms")
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	router := SetupRoutes(NewHandlers(newTestGate(t, passingVerifier())))

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
		expectedCode   string
	}{
		{"unknown path", http.MethodGet, "/api/v1/updates", http.StatusNotFound, models.ErrorCodeNotFound},
		{"wrong method on captcha", http.MethodGet, "/api/captcha/verify", http.StatusMethodNotAllowed, models.ErrorCodeMethodNotAllowed},
		{"wrong method on sync", http.MethodGet, "/api/admin/sync", http.StatusMethodNotAllowed, models.ErrorCodeMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, tt.method, tt.path, nil, nil)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			resp := decodeError(t, rec)
			assert.Equal(t, tt.expectedCode, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func newTestLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	limiter := ratelimit.New(ratelimit.NewMemoryStore())
	t.Cleanup(func() { limiter.Close() })
	return limiter
}

func TestWithRateLimiter_AppliesPerClass(t *testing.T) {
	cfg := models.RateLimitConfig{
		Enabled:       true,
		Captcha:       models.RateRule{Limit: 1, Window: time.Minute},
		DownloadToken: models.RateRule{Limit: 2, Window: time.Minute},
		Download:      models.RateRule{Limit: 1, Window: time.Minute},
		Catalog:       models.RateRule{Limit: 3, Window: time.Minute},
	}
	router := SetupRoutes(
		NewHandlers(newTestGate(t, passingVerifier()), WithMirror(seededMirror(t))),
		WithRateLimiter(newTestLimiter(t), cfg),
	)

	fromClient := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-Forwarded-For", ip) }
	}

	t.Run("captcha class", func(t *testing.T) {
		body := []byte(`{"token":"good-challenge"}`)
		first := doRequest(t, router, http.MethodPost, "/api/captcha/verify", body, fromClient("198.51.100.1"))
		assert.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

		second := doRequest(t, router, http.MethodPost, "/api/captcha/verify", body, fromClient("198.51.100.1"))
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.Equal(t, models.ErrorCodeRateLimitExceeded, decodeError(t, second).Code)
		retry, err := strconv.Atoi(second.Header().Get("Retry-After"))
		require.NoError(t, err)
		assert.Positive(t, retry)

		other := doRequest(t, router, http.MethodPost, "/api/captcha/verify", body, fromClient("198.51.100.2"))
		assert.Equal(t, http.StatusOK, other.Code)
	})

	t.Run("download token and download count separately", func(t *testing.T) {
		client := fromClient("198.51.100.3")
		redeem := "/api/download/vlc-media-player?locale=en&token=x"
		issue := "/api/download-token?slug=vlc-media-player&locale=en"

		first := doRequest(t, router, http.MethodGet, redeem, nil, client)
		assert.Equal(t, http.StatusForbidden, first.Code)
		assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
		second := doRequest(t, router, http.MethodGet, redeem, nil, client)
		assert.Equal(t, http.StatusTooManyRequests, second.Code)

		// Redeeming spent nothing from the issue bucket.
		for range 2 {
			rec := doRequest(t, router, http.MethodGet, issue, nil, client)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		}
		third := doRequest(t, router, http.MethodGet, issue, nil, client)
		assert.Equal(t, http.StatusTooManyRequests, third.Code)
	})

	t.Run("catalog class", func(t *testing.T) {
		client := fromClient("198.51.100.4")
		for range 3 {
			rec := doRequest(t, router, http.MethodGet, "/api/software/vlc-media-player", nil, client)
			assert.Equal(t, http.StatusOK, rec.Code)
		}
		rec := doRequest(t, router, http.MethodGet, "/api/software/vlc-media-player", nil, client)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("unclassed routes are not throttled", func(t *testing.T) {
		client := fromClient("198.51.100.1")
		for range 5 {
			rec := doRequest(t, router, http.MethodGet, "/health", nil, client)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
		}
	})
}

func TestWithRateLimiter_Disabled(t *testing.T) {
	tests := []struct {
		name    string
		limiter *ratelimit.Limiter
		enabled bool
	}{
		{"disabled in config", newTestLimiter(t), false},
		{"nil limiter", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := models.RateLimitConfig{Enabled: tt.enabled, Catalog: models.RateRule{Limit: 1, Window: time.Minute}}
			router := SetupRoutes(
				NewHandlers(newTestGate(t, passingVerifier()), WithMirror(seededMirror(t))),
				WithRateLimiter(tt.limiter, cfg),
			)
			for range 3 {
				rec := doRequest(t, router, http.MethodGet, "/api/software/vlc-media-player", nil, nil)
				assert.Equal(t, http.StatusOK, rec.Code)
				assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
			}
		})
	}
}

func TestWithOTelMiddleware(t *testing.T) {
	router := SetupRoutes(
		NewHandlers(newTestGate(t, passingVerifier()), WithMirror(seededMirror(t))),
		WithOTelMiddleware("softhub-test"),
	)

	for _, path := range []string{"/health", "/api/software/vlc-media-player"} {
		rec := doRequest(t, router, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
