package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/edubase/rostersync/internal/types"
)

const syncScopeName = "github.com/edubase/rostersync/sync"

// SyncObserver records a span and rs.sync.* metrics around each school sync.
// Use NewSyncObserver to create one; when telemetry is disabled every method
// is a cheap no-op.
type SyncObserver struct {
	enabled bool
	tracer  trace.Tracer
	runs    metric.Int64Counter
	dur     metric.Float64Histogram
	errs    metric.Int64Counter
	records metric.Int64Counter
}

// NewSyncObserver builds the sync instrumentation set. The returned observer
// is always usable; it does nothing when telemetry is disabled.
func NewSyncObserver() *SyncObserver {
	if !Enabled() {
		return &SyncObserver{}
	}
	m := Meter(syncScopeName)
	runs, _ := m.Int64Counter("rs.sync.runs",
		metric.WithDescription("Total school sync runs executed"),
	)
	dur, _ := m.Float64Histogram("rs.sync.run.duration",
		metric.WithDescription("School sync run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("rs.sync.errors",
		metric.WithDescription("Total failed school sync runs"),
	)
	records, _ := m.Int64Counter("rs.sync.records",
		metric.WithDescription("Roster records touched, by entity kind and change"),
	)
	return &SyncObserver{
		enabled: true,
		tracer:  Tracer(syncScopeName),
		runs:    runs,
		dur:     dur,
		errs:    errs,
		records: records,
	}
}

// ObserveSchool runs fn under a span and records the outcome of the returned
// result. fn must not be nil; the result may be.
func (s *SyncObserver) ObserveSchool(ctx context.Context, schoolID string, fn func(context.Context) *types.SyncResult) *types.SyncResult {
	if !s.enabled {
		return fn(ctx)
	}
	attrs := []attribute.KeyValue{attribute.String("rs.school.id", schoolID)}
	ctx, span := s.tracer.Start(ctx, "sync.school",
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	s.runs.Add(ctx, 1, metric.WithAttributes(attrs...))
	start := time.Now()

	res := fn(ctx)

	s.done(ctx, span, start, res, attrs)
	return res
}

// done ends the span and records duration, failure, and record counts.
func (s *SyncObserver) done(ctx context.Context, span trace.Span, start time.Time, res *types.SyncResult, attrs []attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if res != nil {
		span.SetAttributes(
			attribute.String("rs.sync.mode", string(res.Mode)),
			attribute.Bool("rs.sync.success", res.Success),
		)
		if !res.Success {
			span.SetStatus(codes.Error, res.ErrorMessage)
			s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		for kind, c := range res.Counts {
			s.recordKind(ctx, attrs, kind, "updated", c.Updated)
			s.recordKind(ctx, attrs, kind, "deleted", c.Deleted)
			s.recordKind(ctx, attrs, kind, "failed", c.Failed)
		}
	}
	span.End()
}

func (s *SyncObserver) recordKind(ctx context.Context, base []attribute.KeyValue, kind types.EntityKind, change string, n int) {
	if n == 0 {
		return
	}
	attrs := append(append([]attribute.KeyValue{}, base...),
		attribute.String("rs.entity.kind", string(kind)),
		attribute.String("rs.change", change),
	)
	s.records.Add(ctx, int64(n), metric.WithAttributes(attrs...))
}
