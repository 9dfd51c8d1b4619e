package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Bus dispatches events to registered handlers in-process.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a new event bus. Handler failures are logged to logger.
func New(logger zerolog.Logger) *Bus {
	return &Bus{log: logger, now: time.Now}
}

// Register adds a handler to the bus. Handlers are sorted by priority on
// each Dispatch call, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Dispatch sends an event to all registered handlers that handle its type.
// Handlers are called sequentially in priority order (lowest first).
// Handler errors are logged and recorded as warnings; they do not stop the chain.
func (b *Bus) Dispatch(ctx context.Context, event *Event) (*Result, error) {
	if event == nil {
		return nil, fmt.Errorf("eventbus: nil event")
	}
	if event.At.IsZero() {
		event.At = b.now().UTC()
	}

	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	b.mu.RUnlock()

	result := &Result{}

	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("eventbus: context cancelled: %w", err)
		}

		if err := h.Handle(ctx, event, result); err != nil {
			b.log.Warn().Err(err).
				Str("handler", h.ID()).
				Str("event", string(event.Type)).
				Msg("event handler failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", h.ID(), err))
			continue
		}
		result.Handled = append(result.Handled, h.ID())
	}

	return result, nil
}

// Publish dispatches event and discards the outcome. Delivery failures never
// reach the caller. A nil bus drops the event.
func (b *Bus) Publish(ctx context.Context, event *Event) {
	if b == nil || event == nil {
		return
	}
	if _, err := b.Dispatch(ctx, event); err != nil {
		b.log.Debug().Err(err).Str("event", string(event.Type)).Msg("event dropped")
	}
}

// Handlers returns all registered handlers (for introspection/status reporting).
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers returns handlers that handle the given event type, sorted
// by priority (lowest first). Must be called with at least a read lock held.
func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
