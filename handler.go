package cqrs

import "context"

// CommandHandler executes a command that produces no result.
type CommandHandler[C Command] interface {
	Execute(ctx context.Context, cmd C) error
}

// ResultCommandHandler executes a command and returns the result type the
// command declares.
type ResultCommandHandler[C ResultCommand[R], R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

// QueryHandler retrieves the result of a query. Query handlers must not
// mutate observable state.
type QueryHandler[Q ResultQuery[R], R any] interface {
	Retrieve(ctx context.Context, query Q) (R, error)
}

// CommandHandlerFunc adapts a function to a CommandHandler.
type CommandHandlerFunc[C Command] func(ctx context.Context, cmd C) error

// Execute implements CommandHandler.
func (f CommandHandlerFunc[C]) Execute(ctx context.Context, cmd C) error {
	return f(ctx, cmd)
}

// ResultCommandHandlerFunc adapts a function to a ResultCommandHandler.
type ResultCommandHandlerFunc[C ResultCommand[R], R any] func(ctx context.Context, cmd C) (R, error)

// Execute implements ResultCommandHandler.
func (f ResultCommandHandlerFunc[C, R]) Execute(ctx context.Context, cmd C) (R, error) {
	return f(ctx, cmd)
}

// QueryHandlerFunc adapts a function to a QueryHandler.
type QueryHandlerFunc[Q ResultQuery[R], R any] func(ctx context.Context, query Q) (R, error)

// Retrieve implements QueryHandler.
func (f QueryHandlerFunc[Q, R]) Retrieve(ctx context.Context, query Q) (R, error) {
	return f(ctx, query)
}
