package runtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/drblury/rtpsbridge"

func startSendSpan(ctx context.Context, topic Topic, info TypeInfo) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "rtps.send "+topic.Name,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("rtps.topic", topic.Name),
			attribute.String("rtps.type", info.Name),
			attribute.Bool("rtps.keyed", info.Keyed),
			attribute.Bool("rtps.reliable", topic.Reliable),
		),
	)
}

func startDecodeSpan(topic, typeName string, sequence uint64) trace.Span {
	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(context.Background(), "rtps.decode "+topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("rtps.topic", topic),
			attribute.String("rtps.type", typeName),
			attribute.Int64("rtps.sequence", int64(sequence)),
		),
	)
	return span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
