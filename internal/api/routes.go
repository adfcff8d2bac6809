package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"softhub/internal/models"
	"softhub/internal/ratelimit"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/metrics" &&
					r.URL.Path != "/api/openapi.yaml" &&
					r.URL.Path != "/api/docs"
			}),
		))
	}
}

// WithRateLimiter throttles the captcha, download and catalog endpoints with
// one rule per class. A nil limiter leaves them unthrottled.
func WithRateLimiter(limiter *ratelimit.Limiter, cfg models.RateLimitConfig) RouteOption {
	return func(r *mux.Router) {
		if limiter == nil || !cfg.Enabled {
			return
		}
		r.Use(classMiddleware(map[string]func(http.Handler) http.Handler{
			routeCaptcha:       ratelimit.Middleware(limiter, ratelimit.ClassCaptcha, cfg.Captcha),
			routeDownloadToken: ratelimit.Middleware(limiter, ratelimit.ClassDownloadToken, cfg.DownloadToken),
			routeDownload:      ratelimit.Middleware(limiter, ratelimit.ClassDownload, cfg.Download),
			routeSoftware:      ratelimit.Middleware(limiter, ratelimit.ClassCatalog, cfg.Catalog),
		}))
	}
}

// Route names, used to pick the rate-limit class of a matched route.
const (
	routeCaptcha       = "captcha-verify"
	routeDownloadToken = "download-token"
	routeDownload      = "download"
	routeSoftware      = "software"
)

// classMiddleware applies the middleware registered for the matched route's
// name. Routes without an entry pass through.
func classMiddleware(byRoute map[string]func(http.Handler) http.Handler) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		wrapped := make(map[string]http.Handler, len(byRoute))
		for name, mw := range byRoute {
			wrapped[name] = mw(next)
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if route := mux.CurrentRoute(r); route != nil {
				if h, ok := wrapped[route.GetName()]; ok {
					h.ServeHTTP(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	// Outermost first: IDs and recovery must wrap everything else.
	router.Use(requestIDMiddleware)
	router.Use(recoveryMiddleware)
	router.Use(loggingMiddleware)

	for _, opt := range opts {
		opt(router)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/captcha/verify", handlers.VerifyCaptcha).Methods("POST").Name(routeCaptcha)
	api.HandleFunc("/download-token", handlers.IssueDownloadToken).Methods("GET").Name(routeDownloadToken)
	api.HandleFunc("/download/{slug}", handlers.Download).Methods("GET").Name(routeDownload)
	api.HandleFunc("/software/{slug}", handlers.GetSoftware).Methods("GET").Name(routeSoftware)
	api.HandleFunc("/admin/sync", handlers.TriggerSync).Methods("POST")

	api.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods("GET")
	api.HandleFunc("/docs", handlers.ServeSwaggerUI).Methods("GET")

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	router.NotFoundHandler = requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
	}))
	router.MethodNotAllowedHandler = requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, models.ErrorCodeMethodNotAllowed, "Method not allowed")
	}))

	return router
}
