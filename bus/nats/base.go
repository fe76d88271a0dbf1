package nats

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/tiger4589/cqrs-lib/bus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/tiger4589/cqrs-lib/bus/nats"

type natsBus struct {
	nc     *nats.Conn
	log    *zap.Logger
	tracer trace.Tracer
}

// New connects to NATS and returns a bus.Bus on top of core NATS subjects.
func New(conf Config, log *zap.Logger) (bus.Bus, error) {
	nc, err := connect(conf)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		return nil, err
	}

	log.Info("connected to NATS", zap.String("url", nc.ConnectedUrl()))

	return NewWithConn(nc, log), nil
}

// NewWithConn wraps an existing connection.
func NewWithConn(nc *nats.Conn, log *zap.Logger) bus.Bus {
	return &natsBus{
		nc:     nc,
		log:    log,
		tracer: otel.Tracer(tracerName),
	}
}

// Publish implements bus.Bus.
func (n *natsBus) Publish(ctx context.Context, subject string, event bus.Event) error {
	ctx, span := n.tracer.Start(ctx, "nats.publish", trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", subject),
			attribute.String("messaging.event", event.EventName()),
		))
	defer span.End()

	msg, err := bus.NewMessage(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return err
	}

	out := &nats.Msg{Subject: subject, Data: body, Header: nats.Header{}}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))

	if err := n.nc.PublishMsg(out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		n.log.Error("failed to publish message",
			zap.String("subject", subject),
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.Error(err),
		)
		return err
	}

	n.log.Debug("published message", zap.String("subject", subject), zap.String("id", msg.ID.String()))
	return nil
}

// Subscribe implements bus.Bus.
func (n *natsBus) Subscribe(subject, queue string, handler bus.Handler) error {
	_, err := n.nc.QueueSubscribe(subject, queue, func(in *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(in.Header))
		ctx, span := n.tracer.Start(ctx, "nats.consume", trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attribute.String("messaging.destination", subject)))
		defer span.End()

		var msg bus.Message
		if err := json.Unmarshal(in.Data, &msg); err != nil {
			span.RecordError(err)
			n.log.Error("invalid message format", zap.String("subject", subject), zap.ByteString("raw", in.Data))
			return
		}

		if err := handler(ctx, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")
			n.log.Error("handler error",
				zap.String("subject", subject),
				zap.String("event", msg.Name),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		n.log.Error("failed to subscribe", zap.String("subject", subject), zap.String("queue", queue), zap.Error(err))
		return err
	}

	n.log.Info("subscribed to subject", zap.String("subject", subject), zap.String("queue", queue))
	return nil
}

// Close implements bus.Bus.
func (n *natsBus) Close() error {
	return n.nc.Drain()
}
