package user

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tiger4589/cqrs-lib"
	"github.com/tiger4589/cqrs-lib/bus"
	"go.uber.org/zap"
)

// AddUserCommand creates a user and returns its id.
type AddUserCommand struct {
	cqrs.Returns[uuid.UUID]
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (AddUserCommand) CommandName() string { return "AddUserCommand" }

func (c AddUserCommand) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrInvalidName
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidEmail, c.Email)
		}
	}
	return nil
}

// DeleteUserCommand removes a user.
type DeleteUserCommand struct {
	ID uuid.UUID `json:"id"`
}

func (DeleteUserCommand) CommandName() string { return "DeleteUserCommand" }

func (c DeleteUserCommand) Validate() error {
	if c.ID == uuid.Nil {
		return ErrInvalidID
	}
	return nil
}

type AddUserHandler struct {
	repo   Repository
	events bus.Bus
	log    *zap.Logger
	now    func() time.Time
}

func NewAddUserHandler(repo Repository, events bus.Bus, log *zap.Logger) *AddUserHandler {
	return &AddUserHandler{repo: repo, events: events, log: log, now: time.Now}
}

// Execute implements cqrs.ResultCommandHandler.
func (h *AddUserHandler) Execute(ctx context.Context, cmd AddUserCommand) (uuid.UUID, error) {
	u := User{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(cmd.Name),
		Email:     cmd.Email,
		CreatedAt: h.now().UTC(),
	}
	if err := h.repo.Save(ctx, u); err != nil {
		return uuid.Nil, fmt.Errorf("save user: %w", err)
	}

	publish(ctx, h.events, h.log, SubjectAdded, Added{ID: u.ID, Name: u.Name, Email: u.Email})
	h.log.Info("added user", zap.Stringer("id", u.ID))
	return u.ID, nil
}

type DeleteUserHandler struct {
	repo   Repository
	events bus.Bus
	cache  ResultCache
	log    *zap.Logger
}

func NewDeleteUserHandler(repo Repository, events bus.Bus, cache ResultCache, log *zap.Logger) *DeleteUserHandler {
	return &DeleteUserHandler{repo: repo, events: events, cache: cache, log: log}
}

// Execute implements cqrs.CommandHandler.
func (h *DeleteUserHandler) Execute(ctx context.Context, cmd DeleteUserCommand) error {
	if err := h.repo.Delete(ctx, cmd.ID); err != nil {
		return err
	}
	// A read racing this delete may re-cache the user until the TTL expires.
	if h.cache != nil {
		h.cache.Expire(ctx, cmd.ID)
	}

	publish(ctx, h.events, h.log, SubjectDeleted, Deleted{ID: cmd.ID})
	h.log.Info("deleted user", zap.Stringer("id", cmd.ID))
	return nil
}

// publish emits a notification. The state change already happened, so a
// failed publish is logged and does not fail the command.
func publish(ctx context.Context, events bus.Bus, log *zap.Logger, subject string, event bus.Event) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, subject, event); err != nil {
		log.Warn("failed to publish event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
