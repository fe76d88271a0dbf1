package cqrs

import (
	"context"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/tiger4589/cqrs-lib"

// Dispatcher routes commands and queries to the single handler registered
// for them. It holds no per-call state and is safe for concurrent use.
//
// The generic functions Execute, ExecuteResult and Retrieve resolve by the
// static type of the request. Send and Ask resolve by its runtime type, for
// callers that only hold a Command or Query interface value.
type Dispatcher struct {
	registry *Registry
	log      *zap.Logger
	tracer   trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithTracer sets the tracer used to open a span per dispatch.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// NewDispatcher returns a Dispatcher backed by registry.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		log:      zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry the dispatcher resolves handlers from.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Execute dispatches a void command to its handler.
func Execute[C Command](ctx context.Context, d *Dispatcher, cmd C) error {
	key := keyOf[C](nil)
	ctx, span := d.start(ctx, kindCommand, key)
	defer span.End()

	h, err := d.resolve(span, key, cmd)
	if err != nil {
		return err
	}

	start := time.Now()
	err = h.(CommandHandler[C]).Execute(ctx, cmd)
	d.finish(span, key, start, err)
	return err
}

// ExecuteResult dispatches a command that declares the result type R and
// returns exactly what its handler produced.
func ExecuteResult[R any, C ResultCommand[R]](ctx context.Context, d *Dispatcher, cmd C) (R, error) {
	key := keyOf[C](reflect.TypeFor[R]())
	ctx, span := d.start(ctx, kindResultCommand, key)
	defer span.End()

	h, err := d.resolve(span, key, cmd)
	if err != nil {
		var zero R
		return zero, err
	}

	start := time.Now()
	result, err := h.(ResultCommandHandler[C, R]).Execute(ctx, cmd)
	d.finish(span, key, start, err)
	return result, err
}

// Retrieve dispatches a query to its handler and returns the result.
func Retrieve[R any, Q ResultQuery[R]](ctx context.Context, d *Dispatcher, query Q) (R, error) {
	key := keyOf[Q](reflect.TypeFor[R]())
	ctx, span := d.start(ctx, kindQuery, key)
	defer span.End()

	h, err := d.resolve(span, key, query)
	if err != nil {
		var zero R
		return zero, err
	}

	start := time.Now()
	result, err := h.(QueryHandler[Q, R]).Retrieve(ctx, query)
	d.finish(span, key, start, err)
	return result, err
}

// Send dispatches cmd by its runtime type. Void command handlers yield a nil
// result.
func (d *Dispatcher) Send(ctx context.Context, cmd Command) (any, error) {
	return d.dispatchRuntime(ctx, cmd, kindCommand, kindResultCommand)
}

// Ask dispatches query by its runtime type.
func (d *Dispatcher) Ask(ctx context.Context, query Query) (any, error) {
	return d.dispatchRuntime(ctx, query, kindQuery)
}

func (d *Dispatcher) dispatchRuntime(ctx context.Context, request any, kinds ...kind) (any, error) {
	t := reflect.TypeOf(request)
	key := handlerKey{request: t}
	ctx, span := d.start(ctx, kinds[0], key)
	defer span.End()

	if t == nil {
		err := notFound(nil, nil)
		d.fail(span, key, err)
		return nil, err
	}

	reg, err := d.registry.resolveRuntime(t, kinds...)
	if err != nil {
		d.fail(span, key, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("cqrs.kind", reg.kind.String()))
	if reg.key.result != nil {
		span.SetAttributes(attribute.String("cqrs.result", reg.key.result.String()))
	}
	h, err := d.prepare(span, reg, request)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := reg.invoke(ctx, h, request)
	d.finish(span, reg.key, start, err)
	return result, err
}

func (d *Dispatcher) start(ctx context.Context, k kind, key handlerKey) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("cqrs.kind", k.String())}
	if key.request != nil {
		attrs = append(attrs, attribute.String("cqrs.request", key.request.String()))
	}
	if key.result != nil {
		attrs = append(attrs, attribute.String("cqrs.result", key.result.String()))
	}
	return d.tracer.Start(ctx, "cqrs.dispatch", trace.WithAttributes(attrs...))
}

// resolve looks up the registration for key and returns its handler.
func (d *Dispatcher) resolve(span trace.Span, key handlerKey, request any) (any, error) {
	reg, err := d.registry.resolve(key)
	if err != nil {
		d.fail(span, key, err)
		return nil, err
	}
	return d.prepare(span, reg, request)
}

// prepare builds the handler and validates the request before invocation.
func (d *Dispatcher) prepare(span trace.Span, reg *registration, request any) (any, error) {
	span.SetAttributes(attribute.String("cqrs.name", reg.name))

	h, err := reg.handler()
	if err != nil {
		d.fail(span, reg.key, err)
		return nil, err
	}

	if v, ok := request.(Validator); ok {
		if err := v.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "validation failed")
			d.log.Debug("request rejected by validation",
				zap.String("request", reg.name),
				zap.Error(err),
			)
			return nil, err
		}
	}
	return h, nil
}

func (d *Dispatcher) fail(span trace.Span, key handlerKey, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.log.Error("handler resolution failed",
		zap.Stringer("request", typeName{key.request}),
		zap.Error(err),
	)
}

func (d *Dispatcher) finish(span trace.Span, key handlerKey, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		d.log.Warn("handler failed",
			zap.Stringer("request", typeName{key.request}),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return
	}
	d.log.Debug("dispatched",
		zap.Stringer("request", typeName{key.request}),
		zap.Duration("elapsed", elapsed),
	)
}

type typeName struct{ t reflect.Type }

func (n typeName) String() string {
	if n.t == nil {
		return "<nil>"
	}
	return n.t.String()
}
