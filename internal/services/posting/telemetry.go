package posting

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"postbot/internal/jobs"
)

const instrumName = "postbot/internal/services/posting"

// telemetry uses the global otel providers, which are no-ops unless the
// binary installs real ones.
type telemetry struct {
	tracer    trace.Tracer
	delivered metric.Int64Counter
	failed    metric.Int64Counter
	sendTime  metric.Float64Histogram
}

func newTelemetry() telemetry {
	meter := otel.GetMeterProvider().Meter(instrumName)
	t := telemetry{tracer: otel.GetTracerProvider().Tracer(instrumName)}
	// Instrument constructors only fail on invalid names; nil instruments are skipped.
	t.delivered, _ = meter.Int64Counter("postbot.deliveries",
		metric.WithDescription("Messages sent for fired jobs."))
	t.failed, _ = meter.Int64Counter("postbot.delivery.failures",
		metric.WithDescription("Delivery attempts that failed or were dropped."))
	t.sendTime, _ = meter.Float64Histogram("postbot.delivery.send_time",
		metric.WithDescription("Time spent in the sender per attempt."),
		metric.WithUnit("ms"))
	return t
}

func kindAttr(kind jobs.Kind) attribute.KeyValue { return attribute.String("job_kind", string(kind)) }

func (t telemetry) startDelivery(ctx context.Context, kind jobs.Kind, id string) (context.Context, func(error)) {
	if t.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, "deliver("+string(kind)+")",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("job_id", id), kindAttr(kind)),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if t.failed != nil {
				t.failed.Add(ctx, 1, metric.WithAttributes(kindAttr(kind), attribute.String("reason", "send")))
			}
		}
		span.End()
	}
}

func (t telemetry) sent(ctx context.Context, kind jobs.Kind, took time.Duration) {
	if t.delivered != nil {
		t.delivered.Add(ctx, 1, metric.WithAttributes(kindAttr(kind)))
	}
	if t.sendTime != nil {
		t.sendTime.Record(ctx, float64(took)/float64(time.Millisecond), metric.WithAttributes(kindAttr(kind)))
	}
}

func (t telemetry) dropped(ctx context.Context, kind jobs.Kind) {
	if t.failed != nil {
		t.failed.Add(ctx, 1, metric.WithAttributes(kindAttr(kind), attribute.String("reason", "enqueue")))
	}
}
