// Package dispatch runs at most one generation task per conversation and arbitrates
// triggers that arrive while one is running.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/pkg/eventbus"
	"github.com/keshon/companion/pkg/logx"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("dispatch: dispatcher not running")

// Composer produces the sentences the agent will say for a trigger.
type Composer interface {
	Compose(ctx context.Context, t Trigger) ([]string, error)
}

// Sender delivers one sentence to the channel.
type Sender interface {
	Send(ctx context.Context, key chat.Key, text string) error
}

// FlowReader exposes the current engagement value of a conversation.
type FlowReader interface {
	FlowValue(key chat.Key) float64
}

// Config holds timing parameters of the send/receive cycle.
type Config struct {
	TypingCPM    float64       `env:"TYPING_CPM" envDefault:"160"`
	TypingJitter float64       `env:"TYPING_JITTER" envDefault:"0.15"`
	TypingFloor  time.Duration `env:"TYPING_FLOOR" envDefault:"300ms"`
	CloseTimeout time.Duration `env:"CLOSE_TIMEOUT" envDefault:"5m"`
}

func DefaultConfig() Config {
	return Config{
		TypingCPM:    160,
		TypingJitter: 0.15,
		TypingFloor:  300 * time.Millisecond,
		CloseTimeout: 5 * time.Minute,
	}
}

// Deps are the collaborators of a Dispatcher. Flow may be nil.
type Deps struct {
	Bus      *eventbus.Bus
	Sync     *eventbus.SyncBus
	Composer Composer
	Sender   Sender
	Flow     FlowReader
}

// State is what arriving triggers see of the running task.
type State struct {
	Flags   Flags
	cancel  func()
	grabbed bool
}

type slot struct {
	key   chat.Key
	queue chan Trigger
	run   sync.Mutex
	state *State
}

// enqueue replaces any trigger still waiting in the slot, except that a waiting
// GRAB is only displaced by another GRAB. It returns the trigger that lost.
// Callers hold d.mu, so the slot has no other producer.
func (s *slot) enqueue(t Trigger) (dropped *Trigger) {
	for {
		select {
		case s.queue <- t:
			return dropped
		default:
		}
		select {
		case old := <-s.queue:
			if old.Flags.Has(Grab) && !t.Flags.Has(Grab) {
				s.queue <- old
				return &t
			}
			dropped = &old
		default:
		}
	}
}

// Dispatcher is safe for concurrent use. Start must be called before triggers are run.
type Dispatcher struct {
	cfg  Config
	deps Deps

	mu    sync.Mutex
	slots map[chat.Key]*slot
	base  context.Context
	wg    sync.WaitGroup

	draw func() int
	rnd  func() float64
	log  zerolog.Logger
}

func New(cfg Config, deps Deps) *Dispatcher {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rmu sync.Mutex
	return &Dispatcher{
		cfg:   cfg,
		deps:  deps,
		slots: make(map[chat.Key]*slot),
		draw: func() int {
			rmu.Lock()
			defer rmu.Unlock()
			return r.Intn(101)
		},
		rnd: func() float64 {
			rmu.Lock()
			defer rmu.Unlock()
			return r.Float64()
		},
		log: logx.With("dispatch"),
	}
}

// Start binds the dispatcher to ctx. Workers stop when ctx is done; Wait blocks until they have.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.base = ctx
}

// Wait blocks until every per-key worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Running reports whether a task currently holds key.
func (d *Dispatcher) Running(key chat.Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.slots[key]
	return ok && s.state != nil
}

// Submit hands t to the dispatcher and returns immediately. Outcomes are published
// as events carrying t.CorrelationID.
func (d *Dispatcher) Submit(t Trigger) {
	if t.CorrelationID == "" {
		t.CorrelationID = uuid.NewString()
	}
	lg := d.log.With().Str("key", t.Key.String()).Str("correlation_id", t.CorrelationID).Str("flags", t.Flags.String()).Logger()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.base == nil || d.base.Err() != nil {
		lg.Error().Err(ErrClosed).Msg("trigger dropped")
		return
	}

	s := d.slotLocked(t.Key)
	if st := s.state; st != nil {
		switch {
		case t.Flags.Has(ChatUrgent):
			lg.Info().Msg("chat urgent")
			d.deps.Bus.Publish(ChatUrgentSignal{Envelope: t.envelope(), Trigger: t})
			return
		case t.Flags.Has(Grab):
			if st.Flags.Has(IgnoreInterrupt) {
				if t.Flags.Has(Fallback) {
					lg.Warn().Msg("grab rejected, falling back")
					d.deps.Bus.Publish(FallbackEvent{Envelope: t.envelope()})
				} else {
					lg.Warn().Msg("grab rejected")
					d.deps.Bus.Publish(RejectGrab{Envelope: t.envelope()})
				}
				return
			}
			if !st.grabbed {
				st.grabbed = true
				if st.cancel != nil {
					st.cancel()
				}
			}
			lg.Info().Msg("grabbed running task")
		case t.Flags.Has(Fallback):
			lg.Warn().Msg("busy, falling back")
			d.deps.Bus.Publish(FallbackEvent{Envelope: t.envelope()})
			return
		}
	}

	if lost := s.enqueue(t); lost != nil {
		lg.Debug().Str("dropped", lost.CorrelationID).Msg("conflated pending trigger")
	}
}

// slotLocked returns the slot for key, creating it and its worker on first use. d.mu must be held.
func (d *Dispatcher) slotLocked(key chat.Key) *slot {
	if s, ok := d.slots[key]; ok {
		return s
	}
	s := &slot{key: key, queue: make(chan Trigger, 1)}
	d.slots[key] = s
	d.wg.Add(1)
	go d.loop(d.base, s)
	return s
}

func (d *Dispatcher) loop(ctx context.Context, s *slot) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			if ctx.Err() != nil {
				return
			}
			d.execute(ctx, s, t)
		}
	}
}

// execute runs one task. Nothing it does may stop the worker loop.
func (d *Dispatcher) execute(parent context.Context, s *slot, t Trigger) {
	lg := d.log.With().Str("key", t.Key.String()).Str("correlation_id", t.CorrelationID).Logger()

	s.run.Lock()
	defer s.run.Unlock()

	d.mu.Lock()
	s.state = &State{Flags: t.Flags}
	d.mu.Unlock()

	d.deps.Bus.Publish(CallStart{Envelope: t.envelope()})

	taskCtx, cancelTask := context.WithCancel(parent)
	toolCtx, cancelTool := context.WithCancel(taskCtx)
	cancel := func() {
		cancelTool()
		cancelTask()
	}

	d.mu.Lock()
	s.state.cancel = cancel
	grabbed := s.state.grabbed
	d.mu.Unlock()
	if grabbed {
		cancel()
	}

	err := d.protect(func() error { return d.generate(taskCtx, toolCtx, t) })
	cancel()

	d.mu.Lock()
	s.state = nil
	d.mu.Unlock()

	d.deps.Bus.Publish(CallCompletion{Envelope: t.envelope(), Err: err})

	switch {
	case err == nil:
		lg.Info().Msg("task finished")
	case errors.Is(err, context.Canceled):
		lg.Warn().Err(err).Msg("task cancelled")
	default:
		lg.Error().Err(err).Msg("task failed")
	}
}

func (d *Dispatcher) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: task panic: %v", r)
		}
	}()
	return fn()
}

func (d *Dispatcher) generate(ctx, toolCtx context.Context, t Trigger) error {
	lines, err := d.deps.Composer.Compose(toolCtx, t)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.converse(ctx, t, lines)
}

func (d *Dispatcher) flow(key chat.Key) float64 {
	if d.deps.Flow == nil {
		return 0
	}
	return d.deps.Flow.FlowValue(key)
}
