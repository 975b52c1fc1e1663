package hal

import (
	"sync"
	"sync/atomic"
)

// Mode selects what a late subscriber observes.
type Mode int

const (
	// FanOut delivers only events published after subscription.
	FanOut Mode = iota
	// ReplayLast additionally delivers the most recent event of the topic
	// synchronously at subscribe time.
	ReplayLast
)

func (m Mode) String() string {
	switch m {
	case FanOut:
		return "fan-out"
	case ReplayLast:
		return "replay-last"
	}
	return "unknown"
}

// Handler is a generic event handler function
type Handler[T any] func(T)

// SubscribeOption configures a subscription
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	once       bool
	async      bool
	sequential bool
}

// Once configures the handler to be called only once
func Once() SubscribeOption {
	return func(c *subscribeConfig) {
		c.once = true
	}
}

// Async configures the handler to run asynchronously
// If sequential is true, events are processed one at a time (no concurrency)
func Async(sequential bool) SubscribeOption {
	return func(c *subscribeConfig) {
		c.async = true
		c.sequential = sequential
	}
}

// PanicHandler is called when a handler panics
type PanicHandler func(topic string, event any, panicValue any)

// subscriber wraps a handler with metadata
type subscriber[T any] struct {
	id       uint64
	handler  Handler[T]
	cfg      subscribeConfig
	mu       sync.Mutex
	executed int32  // once handlers: atomically tracks if executed
	seen     uint64 // highest topic version delivered
}

// Bus is a topic-keyed publish/subscribe bus for events of type T.
type Bus[T any] struct {
	mode         Mode
	subs         map[string][]*subscriber[T]
	last         map[string]T
	versions     map[string]uint64
	nextID       uint64
	panicHandler PanicHandler
	mu           sync.RWMutex
	wg           sync.WaitGroup
}

// NewBus creates a Bus with the given delivery mode.
func NewBus[T any](mode Mode) *Bus[T] {
	return &Bus[T]{
		mode:     mode,
		subs:     make(map[string][]*subscriber[T]),
		last:     make(map[string]T),
		versions: make(map[string]uint64),
	}
}

// Mode returns the delivery mode of the bus.
func (b *Bus[T]) Mode() Mode {
	return b.mode
}

// Subscribe registers handler for topic and returns a function that removes
// it. In ReplayLast mode the last event of topic, if any, is delivered before
// Subscribe returns.
func (b *Bus[T]) Subscribe(topic string, handler Handler[T], opts ...SubscribeOption) (cancel func()) {
	s := &subscriber[T]{handler: handler}
	for _, opt := range opts {
		opt(&s.cfg)
	}

	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	b.subs[topic] = append(b.subs[topic], s)
	last, replay := b.last[topic]
	version := b.versions[topic]
	replay = replay && b.mode == ReplayLast
	b.mu.Unlock()

	if replay {
		b.deliver(topic, s, last, version)
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, s) })
	}
}

// SubscribeSeeded registers handler for topic and then delivers the value
// returned by current, unless an event published after the registration
// reached the handler first. It lets a caller seed a subscriber from state
// kept outside the bus without the seed overtaking a newer event.
func (b *Bus[T]) SubscribeSeeded(topic string, handler Handler[T], current func() (T, bool), opts ...SubscribeOption) (cancel func()) {
	s := &subscriber[T]{handler: handler}
	for _, opt := range opts {
		opt(&s.cfg)
	}

	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	b.subs[topic] = append(b.subs[topic], s)
	version := b.versions[topic]
	s.seen = version
	b.mu.Unlock()

	if v, ok := current(); ok && atomic.LoadUint64(&s.seen) == version {
		b.dispatch(topic, s, v)
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, s) })
	}
}

// Publish sends event to every subscriber of topic.
func (b *Bus[T]) Publish(topic string, event T) {
	b.mu.Lock()
	if b.mode == ReplayLast {
		b.last[topic] = event
	}
	b.versions[topic]++
	version := b.versions[topic]
	handlers := b.subs[topic]
	// Copy handlers slice to avoid holding lock during execution
	handlersCopy := make([]*subscriber[T], len(handlers))
	copy(handlersCopy, handlers)
	b.mu.Unlock()

	for _, s := range handlersCopy {
		b.deliver(topic, s, event, version)
	}
}

func (b *Bus[T]) deliver(topic string, s *subscriber[T], event T, version uint64) {
	// A replay racing a publish must not deliver the older event last.
	for {
		seen := atomic.LoadUint64(&s.seen)
		if version <= seen {
			return
		}
		if atomic.CompareAndSwapUint64(&s.seen, seen, version) {
			break
		}
	}
	b.dispatch(topic, s, event)
}

func (b *Bus[T]) dispatch(topic string, s *subscriber[T], event T) {
	if s.cfg.once {
		if !atomic.CompareAndSwapInt32(&s.executed, 0, 1) {
			return
		}
		b.remove(topic, s)
	}

	if !s.cfg.async {
		b.call(topic, s, event)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if s.cfg.sequential {
			s.mu.Lock()
			defer s.mu.Unlock()
		}
		b.call(topic, s, event)
	}()
}

// call executes a handler, routing panics to the panic handler
func (b *Bus[T]) call(topic string, s *subscriber[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.RLock()
			ph := b.panicHandler
			b.mu.RUnlock()
			if ph != nil {
				ph(topic, event, r)
			}
		}
	}()
	s.handler(event)
}

func (b *Bus[T]) remove(topic string, s *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.subs[topic]
	for i, h := range handlers {
		if h.id == s.id {
			newHandlers := make([]*subscriber[T], 0, len(handlers)-1)
			newHandlers = append(newHandlers, handlers[:i]...)
			newHandlers = append(newHandlers, handlers[i+1:]...)
			if len(newHandlers) == 0 {
				delete(b.subs, topic)
			} else {
				b.subs[topic] = newHandlers
			}
			return
		}
	}
}

// Last returns the retained event of topic. Always false in FanOut mode.
func (b *Bus[T]) Last(topic string) (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.last[topic]
	return v, ok
}

// Forget drops the retained event of topic so late subscribers wait for the
// next publish.
func (b *Bus[T]) Forget(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.last, topic)
}

// HasSubscribers returns true if topic has any handlers
func (b *Bus[T]) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic]) > 0
}

// Subscribers returns the number of handlers registered for topic.
func (b *Bus[T]) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Topics returns the number of topics with at least one subscriber.
func (b *Bus[T]) Topics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Clear removes all handlers and retained events
func (b *Bus[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = make(map[string][]*subscriber[T])
	b.last = make(map[string]T)
}

// WaitAsync waits for all async handlers to complete
func (b *Bus[T]) WaitAsync() {
	b.wg.Wait()
}

// SetPanicHandler sets a function to be called when a handler panics
func (b *Bus[T]) SetPanicHandler(handler PanicHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.panicHandler = handler
}

const channelTopic = ""

// Channel is a single-topic Bus, used for the per-handle data, loading,
// options and items streams.
type Channel[T any] struct {
	bus *Bus[T]
}

// NewChannel creates a Channel with the given delivery mode.
func NewChannel[T any](mode Mode) *Channel[T] {
	return &Channel[T]{bus: NewBus[T](mode)}
}

// Subscribe registers handler and returns its cancel function.
func (c *Channel[T]) Subscribe(handler Handler[T], opts ...SubscribeOption) (cancel func()) {
	return c.bus.Subscribe(channelTopic, handler, opts...)
}

// Publish sends v to every subscriber.
func (c *Channel[T]) Publish(v T) {
	c.bus.Publish(channelTopic, v)
}

// Last returns the retained value.
func (c *Channel[T]) Last() (T, bool) {
	return c.bus.Last(channelTopic)
}

// Forget drops the retained value.
func (c *Channel[T]) Forget() {
	c.bus.Forget(channelTopic)
}

// HasSubscribers reports whether anyone listens.
func (c *Channel[T]) HasSubscribers() bool {
	return c.bus.HasSubscribers(channelTopic)
}

// Close removes all subscribers and the retained value.
func (c *Channel[T]) Close() {
	c.bus.Clear()
}

// WaitAsync waits for async subscribers.
func (c *Channel[T]) WaitAsync() {
	c.bus.WaitAsync()
}
