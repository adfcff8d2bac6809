package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"softhub/internal/models"
)

// MetricsServer serves Prometheus metrics on their own port so the scrape
// endpoint is never exposed through the public router.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer mounts the Prometheus handler at cfg.Path when the
// provider has a Prometheus reader. Other paths return 404.
func NewMetricsServer(cfg models.MetricsConfig, provider *Provider) *MetricsServer {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	if provider.MetricsEnabled() {
		mux.Handle(path, promhttp.Handler())
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start blocks serving metrics. Returns http.ErrServerClosed after Shutdown.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
