package user

import (
	"context"

	"github.com/google/uuid"
	"github.com/tiger4589/cqrs-lib"
	"github.com/tiger4589/cqrs-lib/bus"
	"go.uber.org/zap"
)

// Dependencies are the collaborators the user handlers need. Events and
// Cache are optional.
type Dependencies struct {
	Repository Repository
	Events     bus.Bus
	Cache      ResultCache
	Log        *zap.Logger
}

// Register adds every user handler to b.
func Register(b *cqrs.Builder, deps Dependencies) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("user")

	cqrs.RegisterResultCommandHandler[AddUserCommand, uuid.UUID](b, NewAddUserHandler(deps.Repository, deps.Events, log))
	cqrs.RegisterCommandHandler[DeleteUserCommand](b, NewDeleteUserHandler(deps.Repository, deps.Events, deps.Cache, log))

	var getUser cqrs.QueryHandler[GetUserQuery, GetUserQueryResult] = NewGetUserHandler(deps.Repository, log)
	if deps.Cache != nil {
		getUser = NewCachedGetUserHandler(getUser, deps.Cache)
	}
	cqrs.RegisterQueryHandler[GetUserQuery, GetUserQueryResult](b, getUser)
	cqrs.RegisterQueryHandler[GetUsersQuery, GetUsersQueryResult](b, NewGetUsersHandler(deps.Repository))
}

// SubscribeAudit logs every user event delivered on events.
func SubscribeAudit(events bus.Bus, log *zap.Logger) error {
	audit := func(ctx context.Context, msg bus.Message) error {
		log.Info("user event",
			zap.String("event", msg.Name),
			zap.Stringer("message_id", msg.ID),
			zap.Time("occurred_at", msg.OccurredAt),
			zap.ByteString("payload", msg.Payload),
		)
		return nil
	}
	for _, subject := range []string{SubjectAdded, SubjectDeleted} {
		if err := events.Subscribe(subject, "audit", audit); err != nil {
			return err
		}
	}
	return nil
}
