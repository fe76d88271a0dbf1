package cqrs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
)

type kind int

const (
	kindCommand kind = iota + 1
	kindResultCommand
	kindQuery
)

func (k kind) String() string {
	switch k {
	case kindCommand:
		return "command"
	case kindResultCommand:
		return "result_command"
	case kindQuery:
		return "query"
	}
	return "unknown"
}

// handlerKey identifies a registration. Void commands have a nil result.
type handlerKey struct {
	request reflect.Type
	result  reflect.Type
}

func keyOf[T any](result reflect.Type) handlerKey {
	return handlerKey{request: reflect.TypeFor[T](), result: result}
}

type registration struct {
	key     handlerKey
	name    string
	kind    kind
	provide func() any
	invoke  func(ctx context.Context, handler any, request any) (any, error)
	decode  func(data []byte) (any, error)
}

// Builder collects handler registrations at startup. It is not safe for
// concurrent use; call Build once all handlers are registered.
type Builder struct {
	regs []*registration
	errs []error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// RegisterCommandHandler registers h as the handler for the void command C.
func RegisterCommandHandler[C Command](b *Builder, h CommandHandler[C]) {
	if h == nil {
		b.fail(keyOf[C](nil), errors.New("nil handler"))
		return
	}
	RegisterCommandHandlerFactory(b, func() CommandHandler[C] { return h })
}

// RegisterCommandHandlerFactory registers a factory that builds a new handler
// for the void command C on every dispatch.
func RegisterCommandHandlerFactory[C Command](b *Builder, factory func() CommandHandler[C]) {
	key := keyOf[C](nil)
	if factory == nil {
		b.fail(key, errors.New("nil handler factory"))
		return
	}
	register[C](b, key, kindCommand, func() any { return factory() },
		func(ctx context.Context, h any, request any) (any, error) {
			return nil, h.(CommandHandler[C]).Execute(ctx, request.(C))
		},
	)
}

// RegisterResultCommandHandler registers h as the handler for the command C
// returning R.
func RegisterResultCommandHandler[C ResultCommand[R], R any](b *Builder, h ResultCommandHandler[C, R]) {
	if h == nil {
		b.fail(keyOf[C](reflect.TypeFor[R]()), errors.New("nil handler"))
		return
	}
	RegisterResultCommandHandlerFactory(b, func() ResultCommandHandler[C, R] { return h })
}

// RegisterResultCommandHandlerFactory registers a factory that builds a new
// handler for the command C returning R on every dispatch.
func RegisterResultCommandHandlerFactory[C ResultCommand[R], R any](b *Builder, factory func() ResultCommandHandler[C, R]) {
	key := keyOf[C](reflect.TypeFor[R]())
	if factory == nil {
		b.fail(key, errors.New("nil handler factory"))
		return
	}
	register[C](b, key, kindResultCommand, func() any { return factory() },
		func(ctx context.Context, h any, request any) (any, error) {
			return h.(ResultCommandHandler[C, R]).Execute(ctx, request.(C))
		},
	)
}

// RegisterQueryHandler registers h as the handler for the query Q returning R.
func RegisterQueryHandler[Q ResultQuery[R], R any](b *Builder, h QueryHandler[Q, R]) {
	if h == nil {
		b.fail(keyOf[Q](reflect.TypeFor[R]()), errors.New("nil handler"))
		return
	}
	RegisterQueryHandlerFactory(b, func() QueryHandler[Q, R] { return h })
}

// RegisterQueryHandlerFactory registers a factory that builds a new handler
// for the query Q returning R on every dispatch.
func RegisterQueryHandlerFactory[Q ResultQuery[R], R any](b *Builder, factory func() QueryHandler[Q, R]) {
	key := keyOf[Q](reflect.TypeFor[R]())
	if factory == nil {
		b.fail(key, errors.New("nil handler factory"))
		return
	}
	register[Q](b, key, kindQuery, func() any { return factory() },
		func(ctx context.Context, h any, request any) (any, error) {
			return h.(QueryHandler[Q, R]).Retrieve(ctx, request.(Q))
		},
	)
}

func decodeInto[T any](data []byte) (any, error) {
	request := newInstanceOf[T]()
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, err
	}
	return request, nil
}

func register[T any](b *Builder, key handlerKey, k kind, provide func() any,
	invoke func(context.Context, any, any) (any, error)) {
	// Only concrete request types can be looked up by their runtime type.
	if key.request.Kind() == reflect.Interface {
		b.fail(key, errors.New("request type must be concrete"))
		return
	}
	b.regs = append(b.regs, &registration{
		key:     key,
		name:    requestName(newInstanceOf[T]()),
		kind:    k,
		provide: provide,
		invoke:  invoke,
		decode:  decodeInto[T],
	})
}

// handler returns the handler for one dispatch. A factory returning nil is
// reported as an error.
func (reg *registration) handler() (any, error) {
	h := reg.provide()
	if h == nil {
		return nil, fmt.Errorf("cqrs: handler factory for %s returned nil", reg.key.request)
	}
	return h, nil
}

func (b *Builder) fail(key handlerKey, err error) {
	b.errs = append(b.errs, fmt.Errorf("cqrs: register %s: %w", key.request, err))
}

// Build validates the registrations and returns a read-only Registry.
// Registering more than one handler for the same request and result type, or
// two request types under one name, fails with ErrHandlerResolutionAmbiguous.
func (b *Builder) Build() (*Registry, error) {
	errs := append([]error(nil), b.errs...)

	counts := make(map[handlerKey]int, len(b.regs))
	for _, reg := range b.regs {
		counts[reg.key]++
	}
	reported := make(map[handlerKey]bool)
	for _, reg := range b.regs {
		if n := counts[reg.key]; n > 1 && !reported[reg.key] {
			reported[reg.key] = true
			errs = append(errs, ambiguous(reg.key.request, reg.key.result, n))
		}
	}

	types := make(map[string][]reflect.Type)
	for _, reg := range b.regs {
		if !slices.Contains(types[reg.name], reg.key.request) {
			types[reg.name] = append(types[reg.name], reg.key.request)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(types)) {
		if n := len(types[name]); n > 1 {
			errs = append(errs, &ResolutionError{Name: name, Matches: n, Err: ErrHandlerResolutionAmbiguous})
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return newRegistry(b.regs), nil
}

// Registry maps request and result types to exactly one handler. It is
// immutable and safe for concurrent use.
type Registry struct {
	byKey     map[handlerKey][]*registration
	byRequest map[reflect.Type][]*registration
	byName    map[string][]*registration
}

func newRegistry(regs []*registration) *Registry {
	r := &Registry{
		byKey:     make(map[handlerKey][]*registration, len(regs)),
		byRequest: make(map[reflect.Type][]*registration, len(regs)),
		byName:    make(map[string][]*registration, len(regs)),
	}
	for _, reg := range regs {
		r.byKey[reg.key] = append(r.byKey[reg.key], reg)
		r.byRequest[reg.key.request] = append(r.byRequest[reg.key.request], reg)
		r.byName[reg.name] = append(r.byName[reg.name], reg)
	}
	return r
}

// Lookup returns the handler registered for the request type and result
// type. Pass a nil result for void commands.
func (r *Registry) Lookup(request, result reflect.Type) (any, error) {
	reg, err := r.resolve(handlerKey{request: request, result: result})
	if err != nil {
		return nil, err
	}
	return reg.handler()
}

// Names returns the sorted names of all registered requests.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode builds the request registered under name from its JSON encoding.
// The result is the concrete request value, ready for Dispatcher.Send or
// Dispatcher.Ask.
func (r *Registry) Decode(name string, data []byte) (any, error) {
	regs := r.byName[name]
	if len(regs) == 0 {
		return nil, &ResolutionError{Name: name, Err: ErrHandlerNotFound}
	}
	for _, reg := range regs[1:] {
		if reg.key.request != regs[0].key.request {
			return nil, &ResolutionError{Name: name, Matches: len(regs), Err: ErrHandlerResolutionAmbiguous}
		}
	}
	request, err := regs[0].decode(data)
	if err != nil {
		return nil, fmt.Errorf("cqrs: decode %s: %w", name, err)
	}
	return request, nil
}

func (r *Registry) resolve(key handlerKey) (*registration, error) {
	regs := r.byKey[key]
	switch len(regs) {
	case 0:
		return nil, notFound(key.request, key.result)
	case 1:
		return regs[0], nil
	default:
		return nil, ambiguous(key.request, key.result, len(regs))
	}
}

// resolveRuntime finds the single registration of one of the given kinds for
// a concrete request type, whatever its result type.
func (r *Registry) resolveRuntime(request reflect.Type, kinds ...kind) (*registration, error) {
	var matches []*registration
	for _, reg := range r.byRequest[request] {
		for _, k := range kinds {
			if reg.kind == k {
				matches = append(matches, reg)
			}
		}
	}
	switch len(matches) {
	case 0:
		return nil, notFound(request, nil)
	case 1:
		return matches[0], nil
	default:
		return nil, ambiguous(request, nil, len(matches))
	}
}
