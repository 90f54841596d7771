package diag

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bus is an in-memory diagnostic event bus. Publishing is non-blocking;
// events are dispatched to subscribers from a background goroutine.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[Stage]map[string]Handler
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	eventChan chan Event
}

// NewBus creates a new diagnostic bus with the given channel buffer size.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		handlers:  make(map[Stage]map[string]Handler),
		logger:    logger.Named("diag_bus"),
		ctx:       ctx,
		cancel:    cancel,
		eventChan: make(chan Event, bufferSize),
	}

	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for a stage. Use StageAny to receive every event.
func (b *Bus) Subscribe(stage Stage, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	if b.handlers[stage] == nil {
		b.handlers[stage] = make(map[string]Handler)
	}
	b.handlers[stage][id] = handler

	b.logger.Debug("Handler subscribed",
		zap.String("stage", string(stage)),
		zap.String("subscription_id", id))

	return &subscription{id: id, bus: b, stage: stage}
}

// Publish queues an event for dispatch. Events are dropped when the bus is
// shutting down or the buffer is full; diagnostics must never stall the pipeline.
func (b *Bus) Publish(event Event) error {
	select {
	case <-b.ctx.Done():
		return fmt.Errorf("diagnostic bus is shutting down")
	case b.eventChan <- event:
		return nil
	default:
		b.logger.Warn("Diagnostic channel full, dropping event",
			zap.String("stage", string(event.Stage)),
			zap.String("message", event.Message))
		return fmt.Errorf("diagnostic channel full")
	}
}

// Close stops the dispatch loop and waits for in-flight handlers.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Stage])+len(b.handlers[StageAny]))
	for _, h := range b.handlers[event.Stage] {
		handlers = append(handlers, h)
	}
	for _, h := range b.handlers[StageAny] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			// Drain whatever is still queued
			for {
				select {
				case event := <-b.eventChan:
					b.dispatch(event)
				default:
					return
				}
			}
		case event := <-b.eventChan:
			b.dispatch(event)
		}
	}
}

func (b *Bus) unsubscribe(id string, stage Stage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[stage]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.handlers, stage)
		}
	}
}

type subscription struct {
	id    string
	bus   *Bus
	stage Stage
}

func (s *subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id, s.stage)
}
