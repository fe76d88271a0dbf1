package cqrs

// Command is an intent to change state.
type Command interface {
	CommandName() string
}

// Query is a read request. Only queries that also embed Returns can be
// registered, so every dispatchable query has a result type.
type Query interface {
	QueryName() string
}

// Returns pins the result type R into the identity of the command or query
// that embeds it.
//
//	type AddUserCommand struct {
//		cqrs.Returns[uuid.UUID]
//		Name string
//	}
type Returns[R any] struct{}

func (Returns[R]) returns(R) {}

// ResultCommand is a command whose type declares its result type R.
type ResultCommand[R any] interface {
	Command
	returns(R)
}

// ResultQuery is a query whose type declares its result type R.
type ResultQuery[R any] interface {
	Query
	returns(R)
}

// Validator is implemented by requests that check their own invariants.
// Validate runs after the handler is resolved and before it is invoked.
type Validator interface {
	Validate() error
}
