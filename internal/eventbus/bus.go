package eventbus

import (
	"log/slog"
	"sync"
)

// Handler receives published events.
type Handler func(Event)

// PanicHandler is told about a handler that panicked during delivery.
type PanicHandler func(ch Channel, recovered any)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a channel-keyed handler registry. The zero value is not usable;
// create one with New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Channel][]subscription
	nextID uint64

	onPanic PanicHandler
	logger  *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithPanicHandler sets the hook told about panicking handlers.
func WithPanicHandler(h PanicHandler) Option {
	return func(b *Bus) {
		b.onPanic = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[Channel][]subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for ch and returns a function that removes exactly
// this registration. Calling the returned function more than once is a
// no-op.
func (b *Bus) Subscribe(ch Channel, h Handler) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[ch] = append(b.subs[ch], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(ch, id) })
	}
}

// On subscribes a handler typed to a single payload type. The channel is the
// one reported by T's zero value.
func On[T Event](b *Bus, h func(T)) (unsubscribe func()) {
	var zero T
	return b.Subscribe(zero.Channel(), func(ev Event) {
		if typed, ok := ev.(T); ok {
			h(typed)
		}
	})
}

// Publish delivers ev to every handler registered for ev.Channel() at call
// time, in registration order, on the calling goroutine, followed by the
// ChannelAll handlers. A panicking handler is isolated: later handlers still
// run and the panic never reaches the caller.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	ch := ev.Channel()

	b.mu.RLock()
	current := b.subs[ch]
	var all []subscription
	if ch != ChannelAll {
		all = b.subs[ChannelAll]
	}
	snapshot := make([]subscription, 0, len(current)+len(all))
	snapshot = append(snapshot, current...)
	snapshot = append(snapshot, all...)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		b.deliver(ch, sub.handler, ev)
	}
}

// Clear removes every subscription on every channel.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.subs = make(map[Channel][]subscription)
	b.mu.Unlock()
}

// Len returns the number of handlers registered for ch.
func (b *Bus) Len(ch Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ch])
}

func (b *Bus) remove(ch Channel, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[ch]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, ch)
		} else {
			b.subs[ch] = next
		}
		return
	}
}

func (b *Bus) deliver(ch Channel, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "channel", ch, "panic", r)
			if b.onPanic != nil {
				b.onPanic(ch, r)
			}
		}
	}()
	h(ev)
}
