package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"softhub/internal/gate"
	"softhub/internal/models"
	"softhub/internal/ratelimit"
	"softhub/internal/reconcile"
	"softhub/internal/storage"
	"softhub/internal/version"
)

const maxBodyBytes = 4 << 10

// Syncer runs one reconciliation. Satisfied by *reconcile.Reconciler.
type Syncer interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

// Handlers contains the HTTP handlers for the softhub API. The mirror and
// syncer are optional; endpoints that need a missing one answer 501.
type Handlers struct {
	gate         *gate.Gate
	mirror       storage.Mirror
	syncer       Syncer
	syncSecret   string
	sessionTTL   time.Duration
	cookieSecure bool
	logger       *slog.Logger
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithMirror enables catalog reads and download redirects.
func WithMirror(m storage.Mirror) HandlerOption {
	return func(h *Handlers) { h.mirror = m }
}

// WithSyncer enables the manual reconciliation trigger, authenticated with
// secret.
func WithSyncer(s Syncer, secret string) HandlerOption {
	return func(h *Handlers) {
		h.syncer = s
		h.syncSecret = secret
	}
}

// WithSessionCookie sets the lifetime and Secure flag of the session marker
// cookie.
func WithSessionCookie(ttl time.Duration, secure bool) HandlerOption {
	return func(h *Handlers) {
		h.sessionTTL = ttl
		h.cookieSecure = secure
	}
}

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handlers) { h.logger = logger }
}

func NewHandlers(g *gate.Gate, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		gate:       g,
		sessionTTL: time.Hour,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// VerifyCaptcha exchanges a solved challenge for a session marker cookie.
// POST /api/captcha/verify
func (h *Handlers) VerifyCaptcha(w http.ResponseWriter, r *http.Request) {
	var req models.CaptchaVerifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	remoteIP := ratelimit.ClientIP(r)
	if remoteIP == ratelimit.UnknownClient {
		remoteIP = ""
	}

	session, err := h.gate.VerifyCaptcha(r.Context(), req.Token, remoteIP)
	if err != nil {
		h.writeGateError(w, r, "captcha", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     gate.SessionCookieName,
		Value:    session.Value,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.writeJSONResponse(w, http.StatusOK, models.CaptchaVerifyResponse{
		Success:   true,
		ExpiresAt: session.ExpiresAt.UTC(),
	})
}

// IssueDownloadToken issues a ticket for one (slug, locale) pair to a client
// holding a valid session marker.
// GET /api/download-token?slug=&locale=
func (h *Handlers) IssueDownloadToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var session string
	if c, err := r.Cookie(gate.SessionCookieName); err == nil {
		session = c.Value
	}

	ticket, err := h.gate.IssueToken(r.Context(), session, q.Get("slug"), q.Get("locale"), r.UserAgent())
	if err != nil {
		h.writeGateError(w, r, "download token", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.writeJSONResponse(w, http.StatusOK, models.DownloadTokenResponse{
		Token:     ticket.Token,
		ExpiresAt: ticket.ExpiresAt.UTC(),
	})
}

// Download redeems a ticket and redirects to the item's download URL.
// GET /api/download/{slug}?locale=&token=
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	q := r.URL.Query()

	if err := h.gate.Redeem(r.Context(), q.Get("token"), slug, q.Get("locale"), r.UserAgent()); err != nil {
		h.writeGateError(w, r, "download", err)
		return
	}

	item, ok := h.lookupItem(w, r, slug)
	if !ok {
		return
	}
	if item.DownloadURL == "" {
		h.writeErrorResponse(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Download not available")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, item.DownloadURL, http.StatusFound)
}

// GetSoftware returns one mirrored catalog item.
// GET /api/software/{slug}
func (h *Handlers) GetSoftware(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	if !models.ValidSlug(slug) {
		h.writeErrorResponse(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Software not found")
		return
	}

	item, ok := h.lookupItem(w, r, slug)
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	h.writeJSONResponse(w, http.StatusOK, item)
}

// TriggerSync runs one reconciliation for a caller holding the sync secret.
// POST /api/admin/sync
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.syncSecret == "" {
		h.logger.Error("Sync trigger called but sync secret is not configured", "request_id", GetRequestID(r))
		h.writeErrorResponse(w, r, http.StatusNotImplemented, models.ErrorCodeFeatureUnavailable, "Feature unavailable")
		return
	}
	if !h.syncAuthorized(r) {
		h.logger.Warn("Sync trigger rejected", "client", ratelimit.ClientIP(r), "request_id", GetRequestID(r))
		h.writeErrorResponse(w, r, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Authorization required")
		return
	}
	if h.syncer == nil {
		h.logger.Error("Sync trigger called but mirror store is not configured", "request_id", GetRequestID(r))
		h.writeErrorResponse(w, r, http.StatusNotImplemented, models.ErrorCodeFeatureUnavailable, "Feature unavailable")
		return
	}

	report, err := h.syncer.Run(r.Context())
	switch {
	case errors.Is(err, reconcile.ErrRunInProgress):
		h.writeErrorResponse(w, r, http.StatusConflict, models.ErrorCodeSyncInProgress, "Reconciliation already running")
	case err != nil:
		// Run has already logged the failure with its counts.
		h.writeErrorResponse(w, r, http.StatusBadGateway, models.ErrorCodeUpstream, "Reconciliation failed")
	default:
		h.writeJSONResponse(w, http.StatusOK, report.Response())
	}
}

// HealthCheck reports mirror reachability and which gate features are
// configured. Only an unreachable configured mirror makes it fail.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version
	status := http.StatusOK

	if h.mirror == nil {
		response.AddComponent("mirror", models.StatusNotConfigured, "Mirror store not configured")
		response.Status = models.StatusDegraded
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := h.mirror.Ping(ctx)
		cancel()
		if err != nil {
			h.logger.Error("Mirror health check failed", "error", err)
			response.AddComponent("mirror", models.StatusUnhealthy, "Mirror store unreachable")
			response.Status = models.StatusUnhealthy
			status = http.StatusServiceUnavailable
		} else {
			response.AddComponent("mirror", models.StatusHealthy, "Mirror store reachable")
		}
	}

	features := []struct {
		name       string
		configured bool
	}{
		{"captcha", h.gate.CaptchaConfigured()},
		{"download_tokens", h.gate.TokensConfigured()},
		{"sync", h.syncer != nil && h.syncSecret != ""},
	}
	for _, f := range features {
		if f.configured {
			response.AddComponent(f.name, models.StatusHealthy, "")
			continue
		}
		response.AddComponent(f.name, models.StatusNotConfigured, "")
		if response.Status == models.StatusHealthy {
			response.Status = models.StatusDegraded
		}
	}

	h.writeJSONResponse(w, status, response)
}

func (h *Handlers) lookupItem(w http.ResponseWriter, r *http.Request, slug string) (*models.CatalogItem, bool) {
	if h.mirror == nil {
		h.logger.Error("Catalog read but mirror store is not configured", "request_id", GetRequestID(r))
		h.writeErrorResponse(w, r, http.StatusNotImplemented, models.ErrorCodeFeatureUnavailable, "Feature unavailable")
		return nil, false
	}

	item, err := h.mirror.GetItem(r.Context(), slug)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeErrorResponse(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Software not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("Mirror read failed", "slug", slug, "error", err, "request_id", GetRequestID(r))
		h.writeErrorResponse(w, r, http.StatusBadGateway, models.ErrorCodeUpstream, "Catalog temporarily unavailable")
		return nil, false
	}
	return item, true
}

// writeGateError maps access gate errors to responses. Denials share one
// body whatever the internal reason.
func (h *Handlers) writeGateError(w http.ResponseWriter, r *http.Request, step string, err error) {
	switch {
	case errors.Is(err, gate.ErrNotConfigured):
		h.logger.Error("Access gate step called but not configured", "step", step, "error", err, "request_id", GetRequestID(r))
		h.writeErrorResponse(w, r, http.StatusNotImplemented, models.ErrorCodeFeatureUnavailable, "Feature unavailable")
	case errors.Is(err, gate.ErrInvalidScope):
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid slug or locale")
	case errors.Is(err, gate.ErrNoSession), errors.Is(err, gate.ErrForbidden):
		h.writeErrorResponse(w, r, http.StatusForbidden, models.ErrorCodeForbidden, "Access denied, please retry")
	default:
		h.logger.Error("Access gate failure", "step", step, "error", err, "request_id", GetRequestID(r))
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
	}
}

// syncAuthorized compares the bearer token with the configured secret in
// constant time. Both sides are hashed first so length differences do not
// leak either.
func (h *Handlers) syncAuthorized(r *http.Request) bool {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	got := sha256.Sum256([]byte(auth[len(prefix):]))
	want := sha256.Sum256([]byte(h.syncSecret))
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; nothing left to do but log.
		h.logger.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response tagged with the request ID.
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = GetRequestID(r)
	h.writeJSONResponse(w, statusCode, errorResp)
}
