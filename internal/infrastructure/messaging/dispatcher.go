package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher routes bus events to named handlers, each wrapped in the
// middleware chain and retried with backoff.
type Dispatcher struct {
	mu          sync.RWMutex
	bus         shared.EventSubscriber
	handlers    map[shared.EventType][]Registration
	middlewares []Middleware
	logger      *logger.Logger
	ctx         context.Context
}

// Registration describes one handler.
type Registration struct {
	Name       string
	Handler    shared.EventHandler
	MaxRetries int
	Timeout    time.Duration
}

// NewDispatcher creates a dispatcher on top of bus. ctx bounds retries.
func NewDispatcher(ctx context.Context, bus shared.EventSubscriber, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		bus:      bus,
		handlers: make(map[shared.EventType][]Registration),
		logger:   log.With(logger.Component("dispatcher")),
		ctx:      ctx,
	}
}

// Register adds a handler for an event type.
func (d *Dispatcher) Register(eventType shared.EventType, reg Registration) error {
	if reg.Handler == nil {
		return fmt.Errorf("handler %q is nil", reg.Name)
	}
	if reg.Timeout <= 0 {
		reg.Timeout = 10 * time.Second
	}

	d.mu.Lock()
	first := len(d.handlers[eventType]) == 0
	d.handlers[eventType] = append(d.handlers[eventType], reg)
	d.mu.Unlock()

	if !first {
		return nil
	}
	return d.bus.Subscribe(eventType, func(e shared.Event) error { return d.Dispatch(e) })
}

// Use adds middleware to the chain. Middleware applies in the order added.
func (d *Dispatcher) Use(middleware Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, middleware)
}

// Dispatch runs every handler registered for the event. Handler failures
// are joined; one failing handler does not stop the others.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	regs := append([]Registration(nil), d.handlers[event.EventType()]...)
	mws := append([]Middleware(nil), d.middlewares...)
	d.mu.RUnlock()

	var failed []error
	for _, reg := range regs {
		if err := d.execute(event, reg, mws); err != nil {
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

func (d *Dispatcher) execute(event shared.Event, reg Registration, mws []Middleware) error {
	h := reg.Handler
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}

	err := retry.Do(d.ctx, func(ctx context.Context) error {
		return withTimeout(ctx, h, event, reg.Timeout)
	},
		retry.WithMaxAttempts(reg.MaxRetries+1),
		retry.WithInitialDelay(100*time.Millisecond),
		retry.WithMaxDelay(2*time.Second),
		retry.WithRetryIf(func(error) bool { return true }),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			d.logger.Warn("handler attempt failed",
				logger.String("handler", reg.Name),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", delay),
				logger.Err(err),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("handler %s: %w", reg.Name, err)
	}
	return nil
}

func withTimeout(ctx context.Context, h shared.EventHandler, event shared.Event, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- h(event) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("handler timeout after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// RecoveryMiddleware turns handler panics into errors.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic recovered",
						logger.String("event_type", string(event.EventType())),
						logger.Any("panic", r),
						logger.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs handler execution.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)

			fields := []logger.Field{
				logger.String("event_type", string(event.EventType())),
				logger.String("aggregate_id", event.AggregateID()),
				logger.Latency(time.Since(start)),
			}
			if err != nil {
				log.Error("handler failed", append(fields, logger.Err(err))...)
			} else {
				log.Debug("handler completed", fields...)
			}
			return err
		}
	}
}
