package serial

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ardnew/usbserial/serial"

// Metric names.
const (
	MetricOperations = "usbserial.coordinator.operations"
	MetricRollbacks  = "usbserial.coordinator.rollbacks"
	MetricDuration   = "usbserial.coordinator.duration"
)

// Attribute keys shared by spans and metrics.
const (
	attrHandle     = attribute.Key("usbserial.handle")
	attrHandleID   = attribute.Key("usbserial.handle_id")
	attrSubDrivers = attribute.Key("usbserial.sub_drivers")
	attrIndex      = attribute.Key("usbserial.index")
	attrKind       = attribute.Key("usbserial.error_kind")
	attrOp         = attribute.Key("op")
	attrResult     = attribute.Key("result")
)

const (
	opRegister   = "register"
	opDeregister = "deregister"
)

type telemetry struct {
	tracer    trace.Tracer
	ops       metric.Int64Counter
	rollbacks metric.Int64Counter
	duration  metric.Float64Histogram
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*telemetry, error) {
	meter := mp.Meter(instrumentationName)

	ops, err := meter.Int64Counter(MetricOperations,
		metric.WithDescription("Composite driver bring-up and teardown operations"))
	if err != nil {
		return nil, err
	}
	rollbacks, err := meter.Int64Counter(MetricRollbacks,
		metric.WithDescription("Bring-ups rolled back after a sub-driver failure"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(MetricDuration,
		metric.WithDescription("Duration of composite driver operations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &telemetry{
		tracer:    tp.Tracer(instrumentationName),
		ops:       ops,
		rollbacks: rollbacks,
		duration:  duration,
	}, nil
}

// operation is one traced bring-up or teardown.
type operation struct {
	t     *telemetry
	span  trace.Span
	op    string
	start time.Time
}

func (t *telemetry) start(ctx context.Context, op, name string, n int) (context.Context, *operation) {
	ctx, span := t.tracer.Start(ctx, "serial."+op,
		trace.WithAttributes(
			attrHandle.String(name),
			attrSubDrivers.Int(n),
		))
	return ctx, &operation{t: t, span: span, op: op, start: time.Now()}
}

func (o *operation) handleID(id string) {
	o.span.SetAttributes(attrHandleID.String(id))
}

func (o *operation) rollback(ctx context.Context, name string, index int) {
	o.span.AddEvent("rollback", trace.WithAttributes(attrIndex.Int(index)))
	o.t.rollbacks.Add(ctx, 1, metric.WithAttributes(attrHandle.String(name)))
}

func (o *operation) end(ctx context.Context, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		var re *RegistrationError
		if errors.As(err, &re) {
			o.span.SetAttributes(attrKind.String(re.Kind.String()))
		}
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	} else {
		o.span.SetStatus(codes.Ok, "")
	}

	attrs := metric.WithAttributes(attrOp.String(o.op), attrResult.String(result))
	o.t.ops.Add(ctx, 1, attrs)
	o.t.duration.Record(ctx, time.Since(o.start).Seconds(), attrs)
	o.span.End()
}
