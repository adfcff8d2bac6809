package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"softhub/internal/models"
	"softhub/internal/version"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name        string
		metrics     models.MetricsConfig
		tracing     models.TracingConfig
		wantTracer  bool
		wantMetrics bool
	}{
		{
			name:        "metrics only",
			metrics:     models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090},
			wantMetrics: true,
		},
		{
			name:       "tracing stdout",
			tracing:    models.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 1.0},
			wantTracer: true,
		},
		{
			name:        "both enabled",
			metrics:     models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090},
			tracing:     models.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 0.5},
			wantTracer:  true,
			wantMetrics: true,
		},
		{
			name: "both disabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := models.ObservabilityConfig{ServiceName: "softhub-test", Tracing: tt.tracing}

			provider, err := Setup(tt.metrics, obs, version.Info{Version: "test"})
			require.NoError(t, err)
			require.NotNil(t, provider)
			assert.Equal(t, tt.wantTracer, provider.tracerProvider != nil)
			assert.Equal(t, tt.wantMetrics, provider.MetricsEnabled())

			assert.NoError(t, provider.Shutdown(context.Background()))
		})
	}
}

func TestSetup_InvalidExporter(t *testing.T) {
	obs := models.ObservabilityConfig{
		Tracing: models.TracingConfig{Enabled: true, Exporter: "zipkin", SampleRate: 1.0},
	}

	provider, err := Setup(models.MetricsConfig{}, obs, version.Info{})
	assert.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "unsupported trace exporter")
}

func TestSetup_OTLPRequiresEndpoint(t *testing.T) {
	obs := models.ObservabilityConfig{
		Tracing: models.TracingConfig{Enabled: true, Exporter: "otlp", SampleRate: 1.0},
	}

	_, err := Setup(models.MetricsConfig{}, obs, version.Info{})
	assert.Error(t, err)
}

func TestSetup_SamplerConfigurations(t *testing.T) {
	for _, rate := range []float64{1.0, 0.0, 0.25} {
		obs := models.ObservabilityConfig{
			Tracing: models.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: rate},
		}
		provider, err := Setup(models.MetricsConfig{}, obs, version.Info{})
		require.NoError(t, err)
		assert.NoError(t, provider.Shutdown(context.Background()))
	}
}

func TestProvider_ShutdownNilProviders(t *testing.T) {
	p := &Provider{}
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.MetricsEnabled())

	var nilProvider *Provider
	assert.False(t, nilProvider.MetricsEnabled())
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("SOFTHUB_ENVIRONMENT", "")
	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, "development", getEnvironment())

	t.Setenv("ENVIRONMENT", "staging")
	assert.Equal(t, "staging", getEnvironment())

	t.Setenv("SOFTHUB_ENVIRONMENT", "production")
	assert.Equal(t, "production", getEnvironment())
}
