// Package tracing provides OpenTelemetry spans for queue operations.
package tracing

import (
	"fmt"

	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

const (
	// SpanOperationMsgPublish represents enqueueing a job
	SpanOperationMsgPublish SpanOperation = "messaging.publish"
	// SpanOperationMsgProcess represents processing a claimed job
	SpanOperationMsgProcess SpanOperation = "messaging.process"

	// SpanOperationStoreScript represents one atomic script execution
	SpanOperationStoreScript SpanOperation = "store.script"
)

// StartMessagingSpan creates a span for a queue operation with
// messaging-convention attributes.
func StartMessagingSpan(ctx context.Context, operation SpanOperation, opts ...MessagingSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("messaging")

	spanOpts := &messagingSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("messaging.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("MSG %s", operation)
	if spanOpts.destination != "" {
		spanName = fmt.Sprintf("MSG %s %s", operation, spanOpts.destination)
	}

	spanKind := trace.SpanKindProducer
	if operation == SpanOperationMsgProcess {
		spanKind = trace.SpanKindConsumer
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(spanKind))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// MessagingSpanOption configures a messaging span.
type MessagingSpanOption func(*messagingSpanOptions)

type messagingSpanOptions struct {
	destination string
	attributes  []attribute.KeyValue
}

// WithMessagingSystem sets the messaging system name.
func WithMessagingSystem(system string) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("messaging.system", system))
	}
}

// WithMessagingDestination sets the queue name.
func WithMessagingDestination(destination string) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.destination = destination
		opts.attributes = append(opts.attributes, attribute.String("messaging.destination", destination))
	}
}

// WithMessagingMessageID sets the job id.
func WithMessagingMessageID(messageID string) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("messaging.message_id", messageID))
	}
}

// WithMessagingPayloadSize sets the payload size in bytes.
func WithMessagingPayloadSize(size int) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("messaging.payload_size_bytes", size))
	}
}

// StartStoreSpan creates a span for one backing-store script execution.
func StartStoreSpan(ctx context.Context, script string) (context.Context, trace.Span) {
	tracer := otel.Tracer("store")
	ctx, span := tracer.Start(ctx, fmt.Sprintf("STORE %s", script), trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("store.operation", string(SpanOperationStoreScript)),
		attribute.String("store.script", script),
	)
	return ctx, span
}

// RecordError records err on the span and marks the span status as error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess marks the span status OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
