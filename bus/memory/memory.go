// Package memory provides an in-process bus.Bus for local runs and tests.
// Messages are delivered synchronously on the publisher's goroutine.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/tiger4589/cqrs-lib/bus"
	"go.uber.org/zap"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("memory bus: closed")

type group struct {
	handlers []bus.Handler
	next     int
}

type memoryBus struct {
	mu     sync.Mutex
	groups map[string]map[string]*group
	closed bool
	log    *zap.Logger
}

// New returns an empty in-process bus.
func New(log *zap.Logger) bus.Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &memoryBus{
		groups: make(map[string]map[string]*group),
		log:    log,
	}
}

// Publish implements bus.Bus. Handler errors are logged, never returned.
func (m *memoryBus) Publish(ctx context.Context, subject string, event bus.Event) error {
	msg, err := bus.NewMessage(event)
	if err != nil {
		return err
	}

	targets, err := m.targets(subject)
	if err != nil {
		return err
	}

	for _, handler := range targets {
		if err := handler(ctx, msg); err != nil {
			m.log.Error("handler error",
				zap.String("subject", subject),
				zap.String("event", msg.Name),
				zap.Error(err),
			)
		}
	}

	m.log.Debug("published message",
		zap.String("subject", subject),
		zap.Int("deliveries", len(targets)),
	)
	return nil
}

// targets picks every plain subscriber plus one member of each queue group.
func (m *memoryBus) targets(subject string) ([]bus.Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	var targets []bus.Handler
	for queue, g := range m.groups[subject] {
		if queue == "" {
			targets = append(targets, g.handlers...)
			continue
		}
		targets = append(targets, g.handlers[g.next%len(g.handlers)])
		g.next++
	}
	return targets, nil
}

// Subscribe implements bus.Bus.
func (m *memoryBus) Subscribe(subject, queue string, handler bus.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	queues, ok := m.groups[subject]
	if !ok {
		queues = make(map[string]*group)
		m.groups[subject] = queues
	}
	g, ok := queues[queue]
	if !ok {
		g = &group{}
		queues[queue] = g
	}
	g.handlers = append(g.handlers, handler)

	m.log.Info("subscribed to subject", zap.String("subject", subject), zap.String("queue", queue))
	return nil
}

// Close implements bus.Bus.
func (m *memoryBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.groups = nil
	return nil
}
