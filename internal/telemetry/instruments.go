package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the engine-wide OTel tracer, the same package-level-handle
// shape as store.go's doltTracer: a stable handle obtained once against the
// global (possibly no-op, until Init runs) provider.
var Tracer = otel.Tracer("github.com/anfivewer/diffbelt-sub000")

// Engine holds the metric instruments the database/gc packages record
// against, registered at package init the same way store.go's doltMetrics
// is so they start forwarding the moment Init installs a real provider.
var Engine struct {
	OpDuration     metric.Float64Histogram
	GCRecordsFreed metric.Int64Counter
	CursorsOpen    metric.Int64UpDownCounter
}

func init() {
	m := otel.Meter("github.com/anfivewer/diffbelt-sub000")
	Engine.OpDuration, _ = m.Float64Histogram("diffbelt.op.duration_ms",
		metric.WithDescription("Duration of a database operation"),
		metric.WithUnit("ms"),
	)
	Engine.GCRecordsFreed, _ = m.Int64Counter("diffbelt.gc.records_freed",
		metric.WithDescription("Record versions removed by the garbage collector"),
		metric.WithUnit("{record}"),
	)
	Engine.CursorsOpen, _ = m.Int64UpDownCounter("diffbelt.cursors.open",
		metric.WithDescription("Live query/diff cursors across all collections"),
		metric.WithUnit("{cursor}"),
	)
}

// RecordOp starts a span for op and returns a func to end it and record
// OpDuration, the same start/defer-end pairing doltTracer.Start/endSpan use.
func RecordOp(ctx context.Context, op string) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := Tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, func(err error) {
		Engine.OpDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
