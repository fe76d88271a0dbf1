package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"github.com/tiger4589/cqrs-lib/bus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/tiger4589/cqrs-lib/bus/rabbit"

type rabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  Config
	log     *zap.Logger
	tracer  trace.Tracer

	// amqp channels are not safe for concurrent publishing.
	mu sync.Mutex
}

// New creates a RabbitMQ-backed bus.Bus publishing to one exchange.
func New(ctx context.Context, cfg Config, log *zap.Logger) (bus.Bus, error) {
	cfg = cfg.withDefaults()
	log.Info("connecting to RabbitMQ", zap.String("exchange", cfg.Exchange))

	conn, err := dial(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error("failed to open channel", zap.Error(err))
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		cfg.ExchangeType,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.Error("failed to declare exchange", zap.String("exchange", cfg.Exchange), zap.Error(err))
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	log.Info("RabbitMQ ready", zap.String("exchange", cfg.Exchange))

	return &rabbitMQ{
		conn:    conn,
		channel: ch,
		config:  cfg,
		log:     log,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

func dial(ctx context.Context, cfg Config, log *zap.Logger) (*amqp.Connection, error) {
	backoff := time.Duration(cfg.ReconnectBackoff) * time.Second
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			return conn, nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		log.Warn("retrying RabbitMQ connection",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("dial RabbitMQ: %w", err)
}

// Publish implements bus.Bus. The subject is used as the routing key.
func (r *rabbitMQ) Publish(ctx context.Context, subject string, event bus.Event) error {
	ctx, span := r.tracer.Start(ctx, "rabbitmq.publish", trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", r.config.Exchange),
			attribute.String("messaging.routing_key", subject),
		))
	defer span.End()

	msg, err := bus.NewMessage(event)
	if err != nil {
		span.RecordError(err)
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		r.log.Error("failed to marshal publish payload", zap.Error(err))
		return err
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier(headers))

	r.mu.Lock()
	err = r.channel.Publish(
		r.config.Exchange,
		subject,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   msg.ID.String(),
			Type:        msg.Name,
			Timestamp:   msg.OccurredAt,
			Headers:     headers,
			Body:        body,
		},
	)
	r.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		r.log.Error("failed to publish message", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("publish: %w", err)
	}

	r.log.Debug("published message", zap.String("subject", subject), zap.String("id", msg.ID.String()))
	return nil
}

// Subscribe implements bus.Bus. An empty queue gets a server-named exclusive
// queue; named queues are durable and shared between consumers.
func (r *rabbitMQ) Subscribe(subject, queue string, handler bus.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exclusive := queue == ""
	q, err := r.channel.QueueDeclare(
		queue,
		!exclusive, // durable
		exclusive,  // auto-delete
		exclusive,
		false,
		nil,
	)
	if err != nil {
		r.log.Error("failed to declare queue", zap.Error(err))
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := r.channel.QueueBind(q.Name, subject, r.config.Exchange, false, nil); err != nil {
		r.log.Error("failed to bind queue", zap.Error(err))
		return fmt.Errorf("bind queue: %w", err)
	}

	consumerTag := fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	deliveries, err := r.channel.Consume(
		q.Name,
		consumerTag,
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		r.log.Error("failed to consume messages", zap.Error(err))
		return fmt.Errorf("consume: %w", err)
	}

	go r.consume(subject, q.Name, deliveries, handler)

	r.log.Info("subscription started",
		zap.String("subject", subject),
		zap.String("queue", q.Name),
		zap.String("tag", consumerTag),
	)
	return nil
}

func (r *rabbitMQ) consume(subject, queue string, deliveries <-chan amqp.Delivery, handler bus.Handler) {
	for d := range deliveries {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), tableCarrier(d.Headers))
		ctx, span := r.tracer.Start(ctx, "rabbitmq.consume", trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attribute.String("messaging.routing_key", subject)))

		var msg bus.Message
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			r.log.Error("invalid message format", zap.ByteString("raw", d.Body), zap.Error(err))
			span.RecordError(err)
			_ = d.Nack(false, false) // discard
			span.End()
			continue
		}

		if err := handler(ctx, msg); err != nil {
			r.log.Error("handler error", zap.String("event", msg.Name), zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")
			_ = d.Nack(false, !d.Redelivered) // requeue once
			span.End()
			continue
		}

		_ = d.Ack(false)
		span.End()
	}

	r.log.Warn("consumer closed", zap.String("queue", queue))
}

// Close implements bus.Bus.
func (r *rabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		r.log.Warn("failed to close channel", zap.Error(err))
	}
	if err := r.conn.Close(); err != nil {
		r.log.Warn("failed to close connection", zap.Error(err))
		return err
	}
	return nil
}
