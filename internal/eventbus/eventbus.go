// Package eventbus publishes run lifecycle events over NATS for collaborator
// surfaces (the SSE dashboard) that would otherwise have to poll the trace
// store. It is optional: a nil *nats.Conn makes Publish a no-op.
package eventbus

import (
	"context"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	SubjectRunCompleted     = "pyrrhus.run.completed"
	SubjectSubTaskCompleted = "pyrrhus.run.subtask.completed"
)

var propagator = propagation.TraceContext{}

// Publish injects the current trace context into NATS headers and publishes.
// A nil connection is treated as "event bus disabled" and returns nil.
func Publish(ctx context.Context, nc *nats.Conn, subject string, data []byte) error {
	if nc == nil {
		return nil
	}
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	return nc.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: hdr})
}

// Subscribe wraps nc.Subscribe, extracting trace context from each message
// and starting a consumer span before invoking handler.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(m *nats.Msg) {
		ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		tr := otel.Tracer("pyrrhus/eventbus")
		ctx, span := tr.Start(ctx, "eventbus.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}
