package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"softhub/internal/models"
)

// UnknownClient is the shared identity of requests that carry no forwarding
// headers. All such clients count against one bucket.
const UnknownClient = "unknown"

// Endpoint classes. Each class has its own rule and its own buckets.
const (
	ClassCaptcha       = "captcha"
	ClassDownloadToken = "download_token"
	ClassDownload      = "download"
	ClassCatalog       = "catalog"
)

// Middleware returns HTTP middleware that throttles requests of one endpoint
// class per client. Every response carries X-RateLimit-Limit, -Remaining and
// -Reset (unix seconds); a denied request gets 429 with Retry-After.
func Middleware(limiter *Limiter, class string, rule models.RateRule) func(http.Handler) http.Handler {
	decisions := decisionCounter()
	classAttr := attribute.String("class", class)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientIP(r)
			res := limiter.Check(r.Context(), class+":"+client, rule.Limit, rule.Window)

			decisions.Add(r.Context(), 1, metric.WithAttributes(classAttr, attribute.Bool("allowed", res.Allowed)))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retryAfter := int(res.RetryAfter(limiter.now()).Seconds())
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				errorResp := models.NewErrorResponse("Too many requests, please retry later", models.ErrorCodeRateLimitExceeded)
				json.NewEncoder(w).Encode(errorResp)

				limiter.logger.Warn("Rate limit exceeded",
					"class", class,
					"client", client,
					"limit", res.Limit,
					"retry_after", retryAfter,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func decisionCounter() metric.Int64Counter {
	counter, err := otel.Meter("softhub/ratelimit").Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by endpoint class"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return noop.Int64Counter{}
	}
	return counter
}

// ClientIP derives the client identity from proxy headers: the first hop of
// X-Forwarded-For, then X-Real-IP, then UnknownClient.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	return UnknownClient
}
