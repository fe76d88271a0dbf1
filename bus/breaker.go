package bus

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned by a Breaker while publishing is suspended.
var ErrCircuitOpen = errors.New("bus: circuit breaker open")

// BreakerConfig configures the circuit breaker around publishing.
type BreakerConfig struct {
	Name string

	// MaxRequests is the number of trial publishes allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	// FailureThreshold trips the breaker after this many consecutive failures.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns a sensible default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "bus",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker guards Publish of the wrapped Bus with a circuit breaker.
type Breaker struct {
	next Bus
	cb   *gobreaker.CircuitBreaker[struct{}]
	log  *zap.Logger
}

// NewBreaker wraps next.
func NewBreaker(next Bus, cfg BreakerConfig, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[struct{}](settings),
		log:  log,
	}
}

// Publish implements Bus.
func (b *Breaker) Publish(ctx context.Context, subject string, event Event) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Publish(ctx, subject, event)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// Subscribe implements Bus.
func (b *Breaker) Subscribe(subject, queue string, handler Handler) error {
	return b.next.Subscribe(subject, queue, handler)
}

// Close implements Bus.
func (b *Breaker) Close() error {
	return b.next.Close()
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}
