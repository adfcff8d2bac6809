// Package reconcile converges the mirror store onto the authoritative
// dataset: full fetch, batched upsert, then batched delete of slugs the
// dataset no longer carries.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/time/rate"

	"softhub/internal/models"
	"softhub/internal/origin"
	"softhub/internal/storage"
)

const (
	DefaultUpsertBatchSize = 200
	DefaultDeleteBatchSize = 500
)

// ErrRunInProgress is returned when a run is requested while another one
// holds the reconciler.
var ErrRunInProgress = errors.New("reconciliation already in progress")

// Batch phases reported by BatchError.
const (
	PhaseUpsert = "upsert"
	PhaseDelete = "delete"
)

// BatchError reports the batch that aborted a run. Batches before Index
// stay applied.
type BatchError struct {
	Phase string
	Index int
	Size  int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s batch %d (%d items): %v", e.Phase, e.Index, e.Size, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Report carries the counts of one run.
type Report struct {
	BeforeCount   int
	UpstreamCount int
	UpsertedCount int
	AfterCount    int
	DeletedCount  int
	Duration      time.Duration
}

// Response converts the report to its API shape.
func (r Report) Response() models.SyncResponse {
	return models.SyncResponse{
		BeforeCount:   r.BeforeCount,
		UpstreamCount: r.UpstreamCount,
		UpsertedCount: r.UpsertedCount,
		AfterCount:    r.AfterCount,
		DeletedCount:  r.DeletedCount,
		DurationMS:    r.Duration.Milliseconds(),
	}
}

type Config struct {
	UpsertBatchSize int
	DeleteBatchSize int

	// BatchesPerSecond paces mirror calls. Zero means unlimited.
	BatchesPerSecond float64

	// Timeout bounds a whole run, origin fetch included. Zero means none.
	Timeout time.Duration
}

// Reconciler is safe for concurrent use; overlapping runs are rejected with
// ErrRunInProgress rather than queued.
type Reconciler struct {
	origin     origin.Origin
	mirror     storage.Mirror
	upsertSize int
	deleteSize int
	pacer      *rate.Limiter
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time

	running sync.Mutex

	runs    metric.Int64Counter
	deleted metric.Int64Counter
}

type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(src origin.Origin, mirror storage.Mirror, cfg Config, opts ...Option) *Reconciler {
	r := &Reconciler{
		origin:     src,
		mirror:     mirror,
		upsertSize: cfg.UpsertBatchSize,
		deleteSize: cfg.DeleteBatchSize,
		timeout:    cfg.Timeout,
		logger:     slog.Default(),
		now:        time.Now,
	}
	if r.upsertSize <= 0 {
		r.upsertSize = DefaultUpsertBatchSize
	}
	if r.deleteSize <= 0 {
		r.deleteSize = DefaultDeleteBatchSize
	}

	limit := rate.Inf
	if cfg.BatchesPerSecond > 0 {
		limit = rate.Limit(cfg.BatchesPerSecond)
	}
	r.pacer = rate.NewLimiter(limit, 1)

	for _, opt := range opts {
		opt(r)
	}

	meter := otel.Meter("softhub/reconcile")
	var err error
	if r.runs, err = meter.Int64Counter("reconcile.runs",
		metric.WithDescription("Reconciliation runs by outcome"),
		metric.WithUnit("{run}"),
	); err != nil {
		r.runs = noop.Int64Counter{}
	}
	if r.deleted, err = meter.Int64Counter("reconcile.items.deleted",
		metric.WithDescription("Mirror rows removed because the dataset dropped them"),
		metric.WithUnit("{item}"),
	); err != nil {
		r.deleted = noop.Int64Counter{}
	}
	return r
}

// Run performs one reconciliation. On error the returned report holds the
// counts gathered before the failure.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	if !r.running.TryLock() {
		r.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "busy")))
		return Report{}, ErrRunInProgress
	}
	defer r.running.Unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := r.now()
	report, err := r.run(ctx)
	report.Duration = r.now().Sub(start)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		r.logger.Error("Reconciliation failed",
			"error", err,
			"before_count", report.BeforeCount,
			"upstream_count", report.UpstreamCount,
			"upserted_count", report.UpsertedCount,
			"deleted_count", report.DeletedCount,
		)
	} else {
		r.logger.Info("Reconciliation completed",
			"before_count", report.BeforeCount,
			"upstream_count", report.UpstreamCount,
			"after_count", report.AfterCount,
			"deleted_count", report.DeletedCount,
			"duration_ms", report.Duration.Milliseconds(),
		)
	}
	r.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return report, err
}

func (r *Reconciler) run(ctx context.Context) (Report, error) {
	var report Report

	before, err := r.mirror.ListSlugs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list mirror: %w", err)
	}
	report.BeforeCount = len(before)

	fetched, err := r.origin.FetchAll(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to fetch dataset: %w", err)
	}
	items, err := prepare(fetched)
	if err != nil {
		return report, err
	}
	report.UpstreamCount = len(items)

	for i, batch := range chunk(items, r.upsertSize) {
		if err := r.pacer.Wait(ctx); err != nil {
			return report, err
		}
		if err := r.mirror.UpsertItems(ctx, batch); err != nil {
			return report, &BatchError{Phase: PhaseUpsert, Index: i, Size: len(batch), Err: err}
		}
		report.UpsertedCount += len(batch)
	}

	// Deletions are computed from a read taken after every upsert landed.
	mirrored, err := r.mirror.ListSlugs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list mirror after upsert: %w", err)
	}
	keep := make(map[string]struct{}, len(items))
	for _, item := range items {
		keep[item.Slug] = struct{}{}
	}
	var stale []string
	for _, slug := range mirrored {
		if _, ok := keep[slug]; !ok {
			stale = append(stale, slug)
		}
	}

	for i, batch := range chunk(stale, r.deleteSize) {
		if err := r.pacer.Wait(ctx); err != nil {
			return report, err
		}
		if err := r.mirror.DeleteItems(ctx, batch); err != nil {
			return report, &BatchError{Phase: PhaseDelete, Index: i, Size: len(batch), Err: err}
		}
		report.DeletedCount += len(batch)
		r.deleted.Add(ctx, int64(len(batch)))
	}

	after, err := r.mirror.ListSlugs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to count mirror: %w", err)
	}
	report.AfterCount = len(after)
	return report, nil
}

// prepare normalizes and validates the fetched items. A duplicate slug keeps
// the position of its first occurrence and the content of its last. Any
// invalid item fails the whole set so a damaged snapshot never drives
// deletions.
func prepare(fetched []*models.CatalogItem) ([]*models.CatalogItem, error) {
	items := make([]*models.CatalogItem, 0, len(fetched))
	index := make(map[string]int, len(fetched))
	for pos, item := range fetched {
		if item == nil {
			return nil, fmt.Errorf("dataset entry %d is null", pos)
		}
		item = item.Clone()
		item.Normalize()
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("dataset entry %d: %w", pos, err)
		}
		if i, ok := index[item.Slug]; ok {
			items[i] = item
			continue
		}
		index[item.Slug] = len(items)
		items = append(items, item)
	}
	return items, nil
}

func chunk[T any](s []T, size int) [][]T {
	var out [][]T
	for size < len(s) {
		out = append(out, s[:size:size])
		s = s[size:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}
