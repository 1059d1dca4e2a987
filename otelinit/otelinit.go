// Package otelinit bootstraps the process-wide OpenTelemetry tracer and
// meter providers over an OTLP/gRPC exporter.
package otelinit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

func endpoint(envVar string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		return v
	}
	return "localhost:4317"
}

// InitTracer configures a global tracer provider. On exporter failure it
// logs a warning and returns a no-op shutdown so the caller can still run
// without a collector present.
func InitTracer(ctx context.Context, service string) func(context.Context) error {
	ep := endpoint("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(ep),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel tracer init failed", "error", err)
		return func(context.Context) error { return nil }
	}
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("otel tracer initialized", "endpoint", ep)
	return tp.Shutdown
}

// InitMeter configures a global meter provider and returns it alongside a
// shutdown function, so pmetrics.Recorder instances can obtain a real
// otel.Meter.
func InitMeter(ctx context.Context, service string) (metric.MeterProvider, func(context.Context) error) {
	ep := endpoint("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(ep),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel metrics init failed", "error", err)
		return otel.GetMeterProvider(), func(context.Context) error { return nil }
	}
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("otel meter initialized", "endpoint", ep)
	return mp, mp.Shutdown
}

// WithSpan starts a span named name and returns the derived context along
// with an end function suitable for a defer.
func WithSpan(ctx context.Context, tracerName, name string) (context.Context, func()) {
	tr := otel.Tracer(tracerName)
	ctx, span := tr.Start(ctx, name)
	return ctx, func() { span.End() }
}

// Flush bounds a shutdown call to a fixed grace period, used on process exit.
func Flush(ctx context.Context, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
