package cqrs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

type DeleteUserCommand struct {
	ID string
}

func (DeleteUserCommand) CommandName() string { return "DeleteUserCommand" }

type AddUserCommand struct {
	Returns[string]
	Name string
}

func (AddUserCommand) CommandName() string { return "AddUserCommand" }

func (c AddUserCommand) Validate() error {
	if c.Name == "" {
		return errEmptyName
	}
	return nil
}

var errEmptyName = errors.New("name is required")

type GetUserQuery struct {
	Returns[GetUserQueryResult]
	ID string
}

func (GetUserQuery) QueryName() string { return "GetUserQuery" }

type GetUserQueryResult struct {
	ID   string
	Name string
}

type RenameUserCommand struct {
	Returns[int]
	Name string
}

func (*RenameUserCommand) CommandName() string { return "RenameUserCommand" }

type ctxKey struct{}

func newDispatcher(t *testing.T, register func(b *Builder)) *Dispatcher {
	t.Helper()
	b := NewBuilder()
	register(b)
	reg, err := b.Build()
	require.NoError(t, err)
	return NewDispatcher(reg, WithLogger(zaptest.NewLogger(t)))
}

func TestExecute(t *testing.T) {
	t.Run("invokes the void command handler exactly once", func(t *testing.T) {
		var calls int32
		d := newDispatcher(t, func(b *Builder) {
			RegisterCommandHandler[DeleteUserCommand](b, CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
				atomic.AddInt32(&calls, 1)
				return nil
			}))
		})

		err := Execute(context.Background(), d, DeleteUserCommand{ID: "42"})

		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("passes the command and context through", func(t *testing.T) {
		var got DeleteUserCommand
		var gotValue any
		d := newDispatcher(t, func(b *Builder) {
			RegisterCommandHandler[DeleteUserCommand](b, CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
				got = cmd
				gotValue = ctx.Value(ctxKey{})
				return nil
			}))
		})

		ctx := context.WithValue(context.Background(), ctxKey{}, "trace-1")
		require.NoError(t, Execute(ctx, d, DeleteUserCommand{ID: "7"}))

		assert.Equal(t, DeleteUserCommand{ID: "7"}, got)
		assert.Equal(t, "trace-1", gotValue)
	})

	t.Run("returns the handler error unchanged", func(t *testing.T) {
		handlerErr := errors.New("storage offline")
		d := newDispatcher(t, func(b *Builder) {
			RegisterCommandHandler[DeleteUserCommand](b, CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
				return handlerErr
			}))
		})

		err := Execute(context.Background(), d, DeleteUserCommand{})

		assert.Same(t, handlerErr, err)
	})

	t.Run("forwards a cancelled context without deciding on its own", func(t *testing.T) {
		d := newDispatcher(t, func(b *Builder) {
			RegisterCommandHandler[DeleteUserCommand](b, CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
				return ctx.Err()
			}))
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Execute(ctx, d, DeleteUserCommand{})

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExecuteResult(t *testing.T) {
	t.Run("returns exactly what the handler produced", func(t *testing.T) {
		d := newDispatcher(t, func(b *Builder) {
			RegisterResultCommandHandler[AddUserCommand, string](b, ResultCommandHandlerFunc[AddUserCommand, string](func(ctx context.Context, cmd AddUserCommand) (string, error) {
				return "user-" + cmd.Name, nil
			}))
		})

		id, err := ExecuteResult[string](context.Background(), d, AddUserCommand{Name: "ada"})

		require.NoError(t, err)
		assert.Equal(t, "user-ada", id)
	})

	t.Run("validation failure skips the handler", func(t *testing.T) {
		called := false
		d := newDispatcher(t, func(b *Builder) {
			RegisterResultCommandHandler[AddUserCommand, string](b, ResultCommandHandlerFunc[AddUserCommand, string](func(ctx context.Context, cmd AddUserCommand) (string, error) {
				called = true
				return "", nil
			}))
		})

		id, err := ExecuteResult[string](context.Background(), d, AddUserCommand{})

		assert.Same(t, errEmptyName, err)
		assert.Empty(t, id)
		assert.False(t, called)
	})

	t.Run("pointer commands resolve by pointer type", func(t *testing.T) {
		d := newDispatcher(t, func(b *Builder) {
			RegisterResultCommandHandler[*RenameUserCommand, int](b, ResultCommandHandlerFunc[*RenameUserCommand, int](func(ctx context.Context, cmd *RenameUserCommand) (int, error) {
				return len(cmd.Name), nil
			}))
		})

		n, err := ExecuteResult[int](context.Background(), d, &RenameUserCommand{Name: "grace"})

		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, []string{"RenameUserCommand"}, d.Registry().Names())
	})
}

func TestRetrieve(t *testing.T) {
	fixed := GetUserQueryResult{ID: "fixed", Name: "Fixed User"}

	t.Run("returns the fixed result regardless of the id", func(t *testing.T) {
		d := newDispatcher(t, func(b *Builder) {
			RegisterQueryHandler[GetUserQuery, GetUserQueryResult](b, QueryHandlerFunc[GetUserQuery, GetUserQueryResult](func(ctx context.Context, q GetUserQuery) (GetUserQueryResult, error) {
				return fixed, nil
			}))
		})

		for _, id := range []string{"", "1", "a6f0c2"} {
			got, err := Retrieve[GetUserQueryResult](context.Background(), d, GetUserQuery{ID: id})
			require.NoError(t, err)
			assert.Equal(t, fixed, got)
		}
	})

	t.Run("dispatching the same query twice yields equal results", func(t *testing.T) {
		d := newDispatcher(t, func(b *Builder) {
			RegisterQueryHandler[GetUserQuery, GetUserQueryResult](b, QueryHandlerFunc[GetUserQuery, GetUserQueryResult](func(ctx context.Context, q GetUserQuery) (GetUserQueryResult, error) {
				return GetUserQueryResult{ID: q.ID}, nil
			}))
		})

		q := GetUserQuery{ID: "same"}
		first, err := Retrieve[GetUserQueryResult](context.Background(), d, q)
		require.NoError(t, err)
		second, err := Retrieve[GetUserQueryResult](context.Background(), d, q)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("is safe for concurrent callers", func(t *testing.T) {
		d := newDispatcher(t, func(b *Builder) {
			RegisterQueryHandler[GetUserQuery, GetUserQueryResult](b, QueryHandlerFunc[GetUserQuery, GetUserQueryResult](func(ctx context.Context, q GetUserQuery) (GetUserQueryResult, error) {
				return GetUserQueryResult{ID: q.ID}, nil
			}))
		})

		var wg sync.WaitGroup
		errs := make(chan error, 50)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("u%d", i)
				got, err := Retrieve[GetUserQueryResult](context.Background(), d, GetUserQuery{ID: id})
				if err == nil && got.ID != id {
					err = fmt.Errorf("got %q, want %q", got.ID, id)
				}
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
	})
}

func TestHandlerNotFound(t *testing.T) {
	var calls int32
	d := newDispatcher(t, func(b *Builder) {
		RegisterCommandHandler[DeleteUserCommand](b, CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}))
	})
	ctx := context.Background()

	t.Run("result command", func(t *testing.T) {
		id, err := ExecuteResult[string](ctx, d, AddUserCommand{Name: "ada"})

		require.ErrorIs(t, err, ErrHandlerNotFound)
		assert.Empty(t, id)

		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
		assert.Equal(t, "cqrs.AddUserCommand", resErr.Request.String())
		assert.Equal(t, "string", resErr.Result.String())
	})

	t.Run("query", func(t *testing.T) {
		got, err := Retrieve[GetUserQueryResult](ctx, d, GetUserQuery{ID: "1"})

		require.ErrorIs(t, err, ErrHandlerNotFound)
		assert.Zero(t, got)
	})

	t.Run("interface typed call site", func(t *testing.T) {
		var cmd Command = DeleteUserCommand{}

		err := Execute(ctx, d, cmd)

		require.ErrorIs(t, err, ErrHandlerNotFound)
	})

	t.Run("nil runtime command", func(t *testing.T) {
		_, err := d.Send(ctx, nil)

		require.ErrorIs(t, err, ErrHandlerNotFound)
	})

	assert.Zero(t, atomic.LoadInt32(&calls), "no handler code may run")
}

func TestAmbiguousRegistration(t *testing.T) {
	t.Run("build rejects two handlers for the same command", func(t *testing.T) {
		var calls int32
		handler := CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		b := NewBuilder()
		RegisterCommandHandler[DeleteUserCommand](b, handler)
		RegisterCommandHandler[DeleteUserCommand](b, handler)

		reg, err := b.Build()

		require.ErrorIs(t, err, ErrHandlerResolutionAmbiguous)
		assert.Nil(t, reg)
		assert.Contains(t, err.Error(), "2 handlers")
		assert.Zero(t, atomic.LoadInt32(&calls))
	})

	t.Run("build reports every duplicated pair", func(t *testing.T) {
		q := QueryHandlerFunc[GetUserQuery, GetUserQueryResult](func(ctx context.Context, q GetUserQuery) (GetUserQueryResult, error) {
			return GetUserQueryResult{}, nil
		})
		c := ResultCommandHandlerFunc[AddUserCommand, string](func(ctx context.Context, cmd AddUserCommand) (string, error) {
			return "", nil
		})
		b := NewBuilder()
		RegisterQueryHandler[GetUserQuery, GetUserQueryResult](b, q)
		RegisterQueryHandlerFactory(b, func() QueryHandler[GetUserQuery, GetUserQueryResult] { return q })
		RegisterResultCommandHandler[AddUserCommand, string](b, c)
		RegisterResultCommandHandler[AddUserCommand, string](b, c)

		_, err := b.Build()

		require.ErrorIs(t, err, ErrHandlerResolutionAmbiguous)
		assert.Contains(t, err.Error(), "cqrs.GetUserQuery -> cqrs.GetUserQueryResult")
		assert.Contains(t, err.Error(), "cqrs.AddUserCommand -> string")
	})

	t.Run("lookup never picks one of several matches", func(t *testing.T) {
		var calls int32
		b := NewBuilder()
		for i := 0; i < 2; i++ {
			RegisterCommandHandler[DeleteUserCommand](b, CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
				atomic.AddInt32(&calls, 1)
				return nil
			}))
		}
		d := NewDispatcher(newRegistry(b.regs))

		err := Execute(context.Background(), d, DeleteUserCommand{})
		require.ErrorIs(t, err, ErrHandlerResolutionAmbiguous)

		_, err = d.Send(context.Background(), DeleteUserCommand{})
		require.ErrorIs(t, err, ErrHandlerResolutionAmbiguous)

		assert.Zero(t, atomic.LoadInt32(&calls))
	})
}

func TestRuntimeDispatch(t *testing.T) {
	fixed := GetUserQueryResult{ID: "x", Name: "X"}
	var deletes int32
	d := newDispatcher(t, func(b *Builder) {
		RegisterCommandHandler[DeleteUserCommand](b, CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
			atomic.AddInt32(&deletes, 1)
			return nil
		}))
		RegisterResultCommandHandler[AddUserCommand, string](b, ResultCommandHandlerFunc[AddUserCommand, string](func(ctx context.Context, cmd AddUserCommand) (string, error) {
			return "id-" + cmd.Name, nil
		}))
		RegisterQueryHandler[GetUserQuery, GetUserQueryResult](b, QueryHandlerFunc[GetUserQuery, GetUserQueryResult](func(ctx context.Context, q GetUserQuery) (GetUserQueryResult, error) {
			return fixed, nil
		}))
	})
	ctx := context.Background()

	t.Run("send resolves the concrete type behind an interface", func(t *testing.T) {
		var cmd Command = DeleteUserCommand{ID: "1"}

		result, err := d.Send(ctx, cmd)

		require.NoError(t, err)
		assert.Nil(t, result)
		assert.Equal(t, int32(1), atomic.LoadInt32(&deletes))
	})

	t.Run("send returns the result of a result command", func(t *testing.T) {
		result, err := d.Send(ctx, AddUserCommand{Name: "bob"})

		require.NoError(t, err)
		assert.Equal(t, "id-bob", result)
	})

	t.Run("send validates", func(t *testing.T) {
		_, err := d.Send(ctx, AddUserCommand{})

		assert.Same(t, errEmptyName, err)
	})

	t.Run("ask resolves queries only", func(t *testing.T) {
		result, err := d.Ask(ctx, GetUserQuery{ID: "9"})
		require.NoError(t, err)
		assert.Equal(t, fixed, result)
	})

	t.Run("decode builds the registered request by name", func(t *testing.T) {
		request, err := d.Registry().Decode("AddUserCommand", []byte(`{"Name":"eve"}`))
		require.NoError(t, err)
		require.IsType(t, AddUserCommand{}, request)

		result, err := d.Send(ctx, request.(Command))
		require.NoError(t, err)
		assert.Equal(t, "id-eve", result)
	})

	t.Run("decode of an unknown name", func(t *testing.T) {
		_, err := d.Registry().Decode("Nope", []byte(`{}`))

		require.ErrorIs(t, err, ErrHandlerNotFound)
		assert.Contains(t, err.Error(), "Nope")
	})

	t.Run("decode of malformed payload", func(t *testing.T) {
		_, err := d.Registry().Decode("GetUserQuery", []byte(`{`))

		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrHandlerNotFound)
	})

	t.Run("names are sorted", func(t *testing.T) {
		assert.Equal(t, []string{"AddUserCommand", "DeleteUserCommand", "GetUserQuery"}, d.Registry().Names())
	})
}

// voidAndResult is registered both as a void and as a result command.
type voidAndResult struct {
	Returns[int]
}

func (voidAndResult) CommandName() string { return "voidAndResult" }

func TestBindingRulesStayApart(t *testing.T) {
	d := newDispatcher(t, func(b *Builder) {
		RegisterCommandHandler[voidAndResult](b, CommandHandlerFunc[voidAndResult](func(ctx context.Context, cmd voidAndResult) error {
			return nil
		}))
		RegisterResultCommandHandler[voidAndResult, int](b, ResultCommandHandlerFunc[voidAndResult, int](func(ctx context.Context, cmd voidAndResult) (int, error) {
			return 3, nil
		}))
	})
	ctx := context.Background()

	require.NoError(t, Execute(ctx, d, voidAndResult{}))

	n, err := ExecuteResult[int](ctx, d, voidAndResult{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = d.Send(ctx, voidAndResult{})
	require.ErrorIs(t, err, ErrHandlerResolutionAmbiguous)
}

func TestHandlerLifetime(t *testing.T) {
	t.Run("factory builds a handler per dispatch", func(t *testing.T) {
		var built int32
		d := newDispatcher(t, func(b *Builder) {
			RegisterCommandHandlerFactory(b, func() CommandHandler[DeleteUserCommand] {
				atomic.AddInt32(&built, 1)
				return CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
					return nil
				})
			})
		})

		for i := 0; i < 3; i++ {
			require.NoError(t, Execute(context.Background(), d, DeleteUserCommand{}))
		}

		assert.Equal(t, int32(3), atomic.LoadInt32(&built))
	})

	t.Run("factory returning nil fails without panicking", func(t *testing.T) {
		d := newDispatcher(t, func(b *Builder) {
			RegisterCommandHandlerFactory(b, func() CommandHandler[DeleteUserCommand] { return nil })
		})

		err := Execute(context.Background(), d, DeleteUserCommand{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "returned nil")
	})
}

func TestBuilderRejectsInvalidRegistrations(t *testing.T) {
	t.Run("nil handler", func(t *testing.T) {
		b := NewBuilder()
		RegisterCommandHandler[DeleteUserCommand](b, nil)

		_, err := b.Build()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil handler")
	})

	t.Run("interface request type", func(t *testing.T) {
		b := NewBuilder()
		RegisterCommandHandler[Command](b, CommandHandlerFunc[Command](func(ctx context.Context, cmd Command) error {
			return nil
		}))

		_, err := b.Build()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be concrete")
	})
}

func TestRegistryLookup(t *testing.T) {
	handler := CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
		return nil
	})
	b := NewBuilder()
	RegisterCommandHandler[DeleteUserCommand](b, handler)
	reg, err := b.Build()
	require.NoError(t, err)

	h, err := reg.Lookup(keyOf[DeleteUserCommand](nil).request, nil)
	require.NoError(t, err)
	assert.IsType(t, handler, h)

	_, err = reg.Lookup(keyOf[AddUserCommand](nil).request, nil)
	assert.ErrorIs(t, err, ErrHandlerNotFound)

	t.Run("factory returning nil is an error", func(t *testing.T) {
		b := NewBuilder()
		RegisterCommandHandlerFactory(b, func() CommandHandler[DeleteUserCommand] { return nil })
		reg, err := b.Build()
		require.NoError(t, err)

		h, err := reg.Lookup(keyOf[DeleteUserCommand](nil).request, nil)
		assert.Nil(t, h)
		assert.ErrorContains(t, err, "handler factory for cqrs.DeleteUserCommand returned nil")
	})
}

// renamedDelete claims the name of DeleteUserCommand.
type renamedDelete struct{}

func (renamedDelete) CommandName() string { return "DeleteUserCommand" }

func TestBuildRejectsSharedNames(t *testing.T) {
	b := NewBuilder()
	RegisterCommandHandler[DeleteUserCommand](b, CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
		return nil
	}))
	RegisterCommandHandler[renamedDelete](b, CommandHandlerFunc[renamedDelete](func(ctx context.Context, cmd renamedDelete) error {
		return nil
	}))

	reg, err := b.Build()

	require.ErrorIs(t, err, ErrHandlerResolutionAmbiguous)
	assert.Nil(t, reg)
	assert.Contains(t, err.Error(), "DeleteUserCommand (2 handlers)")
}

func TestRuntimeDispatchSpanKind(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	b := NewBuilder()
	RegisterResultCommandHandler[AddUserCommand, string](b, ResultCommandHandlerFunc[AddUserCommand, string](func(ctx context.Context, cmd AddUserCommand) (string, error) {
		return "id-1", nil
	}))
	RegisterCommandHandler[DeleteUserCommand](b, CommandHandlerFunc[DeleteUserCommand](func(ctx context.Context, cmd DeleteUserCommand) error {
		return nil
	}))
	reg, err := b.Build()
	require.NoError(t, err)
	d := NewDispatcher(reg, WithTracer(tp.Tracer("test")))

	_, err = d.Send(context.Background(), AddUserCommand{Name: "ada"})
	require.NoError(t, err)
	_, err = d.Send(context.Background(), DeleteUserCommand{ID: "1"})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "result_command", spanAttr(spans[0], "cqrs.kind"))
	assert.Equal(t, "string", spanAttr(spans[0], "cqrs.result"))
	assert.Equal(t, "command", spanAttr(spans[1], "cqrs.kind"))
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) string {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}
