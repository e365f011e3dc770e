package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type pinged struct{ N int }
type ponged struct{ N int }

type numbered interface{ Num() int }

func (p pinged) Num() int { return p.N }
func (p ponged) Num() int { return p.N }

func collect[T any](t *testing.T, ctx context.Context, b *Bus, opts ...Option) (<-chan T, *Subscription) {
	t.Helper()
	out := make(chan T, 16)
	sub := Subscribe(ctx, b, func(v T) error {
		out <- v
		return nil
	}, opts...)
	return out, sub
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestBus_TypeFiltering(t *testing.T) {
	b := New(0)
	defer b.Close()
	ctx := context.Background()

	pings, _ := collect[pinged](t, ctx, b)
	nums, _ := collect[numbered](t, ctx, b)

	b.Publish(ponged{N: 1})
	b.Publish(pinged{N: 2})

	assert.Equal(t, pinged{N: 2}, recv(t, pings))
	assert.Equal(t, 1, recv(t, nums).Num())
	assert.Equal(t, 2, recv(t, nums).Num())
}

func TestBus_Once(t *testing.T) {
	b := New(0)
	defer b.Close()

	ch, sub := collect[pinged](t, context.Background(), b, Once())
	b.Publish(pinged{N: 1})
	assert.Equal(t, 1, recv(t, ch).N)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("once subscription did not exit")
	}

	b.Publish(pinged{N: 2})
	select {
	case v := <-ch:
		t.Fatalf("unexpected delivery after once: %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_NoReplay(t *testing.T) {
	b := New(0)
	defer b.Close()

	b.Publish(pinged{N: 1})
	ch, _ := collect[pinged](t, context.Background(), b)
	b.Publish(pinged{N: 2})

	assert.Equal(t, 2, recv(t, ch).N)
}

func TestBus_SubscriberFailureIsolated(t *testing.T) {
	b := New(0)
	defer b.Close()
	ctx := context.Background()

	Subscribe(ctx, b, func(pinged) error { panic("boom") })
	Subscribe(ctx, b, func(pinged) error { return errors.New("nope") })
	ch, _ := collect[pinged](t, ctx, b)

	b.Publish(pinged{N: 1})
	b.Publish(pinged{N: 2})
	assert.Equal(t, 1, recv(t, ch).N)
	assert.Equal(t, 2, recv(t, ch).N)
}

func TestBus_ContextCancelEndsSubscription(t *testing.T) {
	b := New(0)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, sub := collect[pinged](t, ctx, b)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription still running after cancel")
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := New(4)
	defer b.Close()

	release := make(chan struct{})
	Subscribe(context.Background(), b, func(pinged) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(pinged{N: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
	close(release)
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := New(0)
	b.Close()
	b.Publish(pinged{N: 1})
	sub := Subscribe(context.Background(), b, func(pinged) error { return nil })
	<-sub.Done()
}

type recorder struct {
	mu  sync.Mutex
	tag string
	out *[]string
}

func (r *recorder) Handle(ev any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.out = append(*r.out, r.tag)
	return nil
}

func TestSyncBus_OrderAndRemoval(t *testing.T) {
	b := NewSync()
	var order []string

	first := &recorder{tag: "first", out: &order}
	second := &recorder{tag: "second", out: &order}
	b.Subscribe(first)
	b.Subscribe(HandlerFunc(func(any) error { panic("bad") }))
	b.Subscribe(second)

	b.Publish(pinged{})
	assert.Equal(t, []string{"first", "second"}, order)

	b.Unsubscribe(first)
	order = order[:0]
	b.Publish(pinged{})
	assert.Equal(t, []string{"second"}, order)
	require.Equal(t, 2, b.Len())
}

func TestSyncBus_TypedAndHandle(t *testing.T) {
	b := NewSync()
	var got []int
	sub := SubscribeSync(b, func(p pinged) error {
		got = append(got, p.N)
		return nil
	})

	b.Publish(ponged{N: 9})
	b.Publish(pinged{N: 1})
	sub.Unsubscribe()
	b.Publish(pinged{N: 2})

	assert.Equal(t, []int{1}, got)
	assert.Zero(t, b.Len())
}

func TestBus_OverflowDropsOldest(t *testing.T) {
	const capacity, extra = 4, 6
	b := New(capacity)
	defer b.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	got := make(chan int, capacity+extra+1)
	Subscribe(context.Background(), b, func(p pinged) error {
		if p.N == 0 {
			close(started)
			<-release
		}
		got <- p.N
		return nil
	})

	b.Publish(pinged{N: 0})
	<-started
	for i := 1; i <= capacity+extra; i++ {
		b.Publish(pinged{N: i})
	}
	require.Eventually(t, func() bool { return b.Dropped() >= extra }, 2*time.Second, 5*time.Millisecond)
	close(release)

	var seen []int
	for i := 0; i < capacity+1; i++ {
		seen = append(seen, recv(t, got))
	}
	assert.Equal(t, []int{0, 7, 8, 9, 10}, seen)
	assert.EqualValues(t, extra, b.Dropped())
}
