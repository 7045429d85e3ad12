package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Wildcard subscribes a handler to every event name.
const Wildcard = "*"

// Event is a named, already-committed fact delivered to subscribers.
type Event struct {
	Name       string
	Payload    any
	OccurredAt time.Time
}

// Handler receives events. Each subscription runs its handler on its own
// goroutine, one event at a time, in emission order.
type Handler func(ctx context.Context, e Event)

// Emitter is the publishing side of the bus.
type Emitter interface {
	Emit(ctx context.Context, name string, payload any)
}

type delivery struct {
	ctx   context.Context
	event Event
}

type subscription struct {
	id      uint64
	name    string
	handler Handler
	ch      chan delivery
	closed  bool
	mu      sync.RWMutex
}

func (s *subscription) send(d delivery) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- d:
		return true
	default:
		return false
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// Bus is an in-process, fire-and-forget event bus. Emit never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber and
// counted. All methods are safe for concurrent use.
type Bus struct {
	subs       map[string]map[uint64]*subscription
	bufferSize int
	logger     *slog.Logger
	now        func() time.Time

	nextID  atomic.Uint64
	dropped atomic.Uint64

	closed bool
	mu     sync.RWMutex
	wg     sync.WaitGroup
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[string]map[uint64]*subscription),
		bufferSize: DefaultBufferSize,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for events with the given name, or for all
// events when name is Wildcard. The returned function removes the
// subscription; pending events already buffered for it are still delivered.
func (b *Bus) Subscribe(name string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || handler == nil {
		return func() {}
	}

	sub := &subscription{
		id:      b.nextID.Add(1),
		name:    name,
		handler: handler,
		ch:      make(chan delivery, b.bufferSize),
	}
	if b.subs[name] == nil {
		b.subs[name] = make(map[uint64]*subscription)
	}
	b.subs[name][sub.id] = sub

	b.wg.Add(1)
	go b.consume(sub)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(sub) })
	}
}

// Emit publishes an event to every matching subscriber. The context is
// detached from cancellation so that handlers keep request-scoped values.
func (b *Bus) Emit(ctx context.Context, name string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	d := delivery{
		ctx:   context.WithoutCancel(ctx),
		event: Event{Name: name, Payload: payload, OccurredAt: b.now()},
	}

	for _, key := range [2]string{name, Wildcard} {
		for _, sub := range b.subs[key] {
			if !sub.send(d) {
				b.dropped.Add(1)
				b.logger.WarnContext(ctx, "event dropped for slow subscriber",
					slog.String("event", name),
					slog.String("subscription", sub.name))
			}
		}
		if name == Wildcard {
			break
		}
	}
}

// Dropped returns the number of deliveries discarded because a subscriber's
// buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events, lets every subscriber drain its buffer and
// waits for the handlers to return. It is safe to call Close multiple times.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, byID := range b.subs {
		for _, sub := range byID {
			sub.close()
		}
	}
	clear(b.subs)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *Bus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if byID, ok := b.subs[sub.name]; ok {
		delete(byID, sub.id)
		if len(byID) == 0 {
			delete(b.subs, sub.name)
		}
	}
	sub.close()
}

func (b *Bus) consume(sub *subscription) {
	defer b.wg.Done()
	for d := range sub.ch {
		b.dispatch(sub, d)
	}
}

func (b *Bus) dispatch(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(d.ctx, "event handler panicked",
				slog.String("event", d.event.Name),
				slog.String("subscription", sub.name),
				slog.Any("panic", r))
		}
	}()
	sub.handler(d.ctx, d.event)
}
