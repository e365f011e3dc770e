// Package eventbus provides two publish-subscribe buses with different delivery
// guarantees.
//
// Bus is buffered and asynchronous. Publish never blocks; when the shared buffer
// is full the oldest pending event is dropped. Each subscription runs its handler
// on its own goroutine until the supplied context is cancelled.
//
// SyncBus invokes subscribers in registration order on the publisher's goroutine.
//
// Typical usage:
//
//	bus := eventbus.New(64)
//	defer bus.Close()
//
//	eventbus.Subscribe(ctx, bus, func(ev FlowChanged) error {
//	    log.Println("flow:", ev.Value)
//	    return nil
//	})
//
//	bus.Publish(FlowChanged{Value: 42})
//
// Neither bus replays events published before a subscription was registered.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/keshon/companion/pkg/logx"
	"github.com/rs/zerolog"
)

// DefaultCapacity is the shared buffer size used when New is given a non-positive capacity.
const DefaultCapacity = 64

type envelope struct {
	seq uint64
	ev  any
}

// Bus is the buffered asynchronous bus. Safe for concurrent use.
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]*subscription
	stream  chan envelope
	dropped uint64
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
	log  zerolog.Logger
}

// New creates a Bus and starts its fan-out goroutine. Close releases it.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{
		subs:   make(map[uint64]*subscription),
		stream: make(chan envelope, capacity),
		done:   make(chan struct{}),
		log:    logx.With("eventbus"),
	}
	b.wg.Add(1)
	go b.fanOut()
	return b
}

// Publish enqueues ev for every current subscriber. It never blocks.
func (b *Bus) Publish(ev any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.seq++
	env := envelope{seq: b.seq, ev: ev}
	for {
		select {
		case b.stream <- env:
			return
		default:
		}
		select {
		case <-b.stream:
			b.dropped++
		default:
		}
	}
}

// Dropped returns how many deliveries were discarded by the overflow policy,
// in the shared buffer or in a slow subscriber's queue.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops fan-out and all subscriptions and waits for their goroutines.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	close(b.done)
	for _, s := range subs {
		s.cancel()
	}
	b.wg.Wait()
}

func (b *Bus) fanOut() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case env := <-b.stream:
			b.mu.Lock()
			for _, s := range b.subs {
				if env.seq > s.since && s.accept(env.ev) {
					b.dropped += s.offer(env.ev)
				}
			}
			b.mu.Unlock()
		}
	}
}

// Subscription is a handle to a live async subscription.
type Subscription struct {
	s *subscription
}

// Cancel stops the subscription. Safe to call more than once.
func (h *Subscription) Cancel() {
	if h != nil && h.s != nil {
		h.s.cancel()
	}
}

// Done is closed once the subscription goroutine has exited.
func (h *Subscription) Done() <-chan struct{} {
	return h.s.exited
}

type subscription struct {
	id     uint64
	since  uint64
	accept func(any) bool
	handle func(any) error
	once   bool
	queue  chan any
	cancel context.CancelFunc
	exited chan struct{}
}

// offer queues ev, evicting the oldest pending events of a slow subscriber.
// It returns how many were evicted.
func (s *subscription) offer(ev any) (evicted uint64) {
	for {
		select {
		case s.queue <- ev:
			return evicted
		default:
		}
		select {
		case <-s.queue:
			evicted++
		default:
		}
	}
}

// Option tunes a subscription.
type Option func(*subscription)

// Once cancels the subscription after the first delivered event.
func Once() Option {
	return func(s *subscription) { s.once = true }
}

// Subscribe registers fn for every published event assignable to T. T may be an
// interface, in which case every implementing event is delivered. The subscription
// lives until ctx is done, Cancel is called or the bus is closed.
func Subscribe[T any](ctx context.Context, b *Bus, fn func(T) error, opts ...Option) *Subscription {
	return b.subscribe(ctx,
		func(ev any) bool {
			_, ok := ev.(T)
			return ok
		},
		func(ev any) error {
			return fn(ev.(T))
		},
		opts...,
	)
}

func (b *Bus) subscribe(ctx context.Context, accept func(any) bool, fn func(any) error, opts ...Option) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		accept: accept,
		handle: fn,
		queue:  make(chan any, cap(b.stream)),
		cancel: cancel,
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		close(s.exited)
		return &Subscription{s: s}
	}
	b.nextID++
	s.id = b.nextID
	s.since = b.seq
	b.subs[s.id] = s
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(ctx, s)
	return &Subscription{s: s}
}

func (b *Bus) run(ctx context.Context, s *subscription) {
	defer b.wg.Done()
	defer close(s.exited)
	defer func() {
		b.mu.Lock()
		delete(b.subs, s.id)
		b.mu.Unlock()
		s.cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			if ctx.Err() != nil {
				return
			}
			if err := b.deliver(s, ev); err != nil {
				b.log.Error().Err(err).Str("event", fmt.Sprintf("%T", ev)).Msg("subscriber failed")
			}
			if s.once {
				return
			}
		}
	}
}

func (b *Bus) deliver(s *subscription, ev any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.handle(ev)
}
