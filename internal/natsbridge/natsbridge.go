// Package natsbridge wraps NATS publish/subscribe with OpenTelemetry
// trace-context propagation over message headers, used by the demo binary
// to trigger pipeline runs from external events and announce completion.
package natsbridge

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// Publish injects the current trace context into the message headers and
// publishes data to subject.
func Publish(ctx context.Context, nc *nats.Conn, subject string, data []byte) error {
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	return nc.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: hdr})
}

// Subscribe wraps nc.Subscribe, extracting any propagated trace context from
// each message and starting a consumer span around handler.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(m *nats.Msg) {
		ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		tr := otel.Tracer("pipelinecore-nats")
		ctx, span := tr.Start(ctx, "nats.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}
