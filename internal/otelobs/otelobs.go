// Package otelobs wires internal/events onto OpenTelemetry spans. It
// subscribes to the process-wide internal/eventbus and has no other
// coupling to internal/plan or internal/physical — tracing is purely an
// observer of the execution, never a dependency of it.
package otelobs

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/qflowdb/qflow/internal/eventbus"
	"github.com/qflowdb/qflow/internal/events"
	"github.com/qflowdb/qflow/internal/runid"
)

// Setup configures an OTLP/gRPC trace exporter and attaches an eventbus
// subscriber that turns plan/operator/scan lifecycle events into spans. If
// endpoint is empty, tracing is a no-op and Setup returns a no-op shutdown.
func Setup(endpoint, service string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := newSubscriber(otel.Tracer("qflow"))
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer     trace.Tracer
	planSpans  sync.Map // runID -> trace.Span
	opSpans    sync.Map // runID:operator -> trace.Span
	scanSpans  sync.Map // runID:operator -> trace.Span
}

func newSubscriber(tracer trace.Tracer) *subscriber {
	return &subscriber{tracer: tracer}
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.PlanStart) {
		_, span := s.tracer.Start(ctx, "plan.execute")
		span.SetAttributes(attribute.String("qflow.plan", e.Plan))
		s.planSpans.Store(planKey(ctx), span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.PlanFinish) {
		v, ok := s.planSpans.LoadAndDelete(planKey(ctx))
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.SetAttributes(attribute.Int64("qflow.duration_ms", e.Duration.Milliseconds()))
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.OperatorStart) {
		parent := s.withPlanParent(ctx)
		_, span := s.tracer.Start(parent, "operator."+e.Operator)
		span.SetAttributes(attribute.String("qflow.operator.mode", e.Mode))
		s.opSpans.Store(opKey(ctx, e.Operator), span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.OperatorComplete) {
		v, ok := s.opSpans.LoadAndDelete(opKey(ctx, e.Operator))
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.Int64("qflow.rows_in", e.RowsIn),
			attribute.Int64("qflow.rows_out", e.RowsOut),
		)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.ScanStart) {
		parent := s.withPlanParent(ctx)
		_, span := s.tracer.Start(parent, "scan."+e.Operator)
		span.SetAttributes(
			attribute.String("qflow.scan.bucket", e.Bucket),
			attribute.String("qflow.scan.object", e.Object),
		)
		s.scanSpans.Store(opKey(ctx, e.Operator), span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.ScanFinish) {
		v, ok := s.scanSpans.LoadAndDelete(opKey(ctx, e.Operator))
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.Int64("qflow.scan.bytes_scanned", e.BytesScanned),
			attribute.Int64("qflow.scan.bytes_processed", e.BytesProcessed),
			attribute.Int64("qflow.scan.bytes_returned", e.BytesReturned),
			attribute.Int64("qflow.scan.rows_returned", e.RowsReturned),
			attribute.Int("qflow.scan.num_http_requests", e.NumHTTPRequests),
		)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})
}

func (s *subscriber) withPlanParent(ctx context.Context) context.Context {
	v, ok := s.planSpans.Load(planKey(ctx))
	if !ok {
		return ctx
	}
	return trace.ContextWithSpan(ctx, v.(trace.Span))
}

func planKey(ctx context.Context) int64 {
	id, _ := runid.FromContext(ctx)
	return id
}

func opKey(ctx context.Context, operator string) string {
	id, _ := runid.FromContext(ctx)
	return operator + "#" + strconv.FormatInt(id, 10)
}
