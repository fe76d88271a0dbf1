package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a notification emitted by a handler after it changed state.
type Event interface {
	EventName() string
}

// Message is the envelope every transport puts on the wire.
type Message struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewMessage wraps event in a fresh envelope.
func NewMessage(event Event) (Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s: %w", event.EventName(), err)
	}
	return Message{
		ID:         uuid.New(),
		Name:       event.EventName(),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Handler consumes a message delivered on a subject.
type Handler func(ctx context.Context, msg Message) error

// Bus publishes events and delivers them to subscribers. Subscribers that
// share a non-empty queue name split the messages of a subject between them.
type Bus interface {
	Publish(ctx context.Context, subject string, event Event) error
	Subscribe(subject, queue string, handler Handler) error
	Close() error
}
