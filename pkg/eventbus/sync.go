package eventbus

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/keshon/companion/pkg/logx"
	"github.com/rs/zerolog"
)

// Handler receives events from a SyncBus.
type Handler interface {
	Handle(ev any) error
}

// HandlerFunc adapts a function to Handler. Func values are not comparable, so a
// HandlerFunc can only be removed through the SyncSubscription returned on registration.
type HandlerFunc func(ev any) error

func (f HandlerFunc) Handle(ev any) error { return f(ev) }

// SyncBus delivers events synchronously in registration order. Safe for concurrent use.
type SyncBus struct {
	mu   sync.RWMutex
	subs []*SyncSubscription
	log  zerolog.Logger
}

// SyncSubscription identifies one registration on a SyncBus.
type SyncSubscription struct {
	bus *SyncBus
	h   Handler
}

// Unsubscribe removes this registration.
func (s *SyncSubscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(func(x *SyncSubscription) bool { return x == s })
}

func NewSync() *SyncBus {
	return &SyncBus{log: logx.With("eventbus")}
}

// Subscribe appends h to the subscriber list.
func (b *SyncBus) Subscribe(h Handler) *SyncSubscription {
	sub := &SyncSubscription{bus: b, h: h}
	b.mu.Lock()
	// copy-on-write so Publish can iterate a stable snapshot
	next := make([]*SyncSubscription, len(b.subs), len(b.subs)+1)
	copy(next, b.subs)
	b.subs = append(next, sub)
	b.mu.Unlock()
	return sub
}

// SubscribeSync registers fn for events assignable to T.
func SubscribeSync[T any](b *SyncBus, fn func(T) error) *SyncSubscription {
	return b.Subscribe(HandlerFunc(func(ev any) error {
		if v, ok := ev.(T); ok {
			return fn(v)
		}
		return nil
	}))
}

// Unsubscribe removes every registration of h, compared by identity.
// Handlers of non-comparable types are ignored.
func (b *SyncBus) Unsubscribe(h Handler) {
	if h == nil || !reflect.TypeOf(h).Comparable() {
		return
	}
	b.remove(func(x *SyncSubscription) bool {
		return reflect.TypeOf(x.h).Comparable() && x.h == h
	})
}

func (b *SyncBus) remove(match func(*SyncSubscription) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]*SyncSubscription, 0, len(b.subs))
	for _, s := range b.subs {
		if !match(s) {
			next = append(next, s)
		}
	}
	b.subs = next
}

// Len returns the number of registered subscribers.
func (b *SyncBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish calls every subscriber in order. A failing subscriber is logged and skipped.
func (b *SyncBus) Publish(ev any) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.call(s.h, ev); err != nil {
			b.log.Error().Err(err).Str("event", fmt.Sprintf("%T", ev)).Msg("sync subscriber failed")
		}
	}
}

func (b *SyncBus) call(h Handler, ev any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return h.Handle(ev)
}
