package mind

import (
	"context"
	"sync"
	"time"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/pkg/eventbus"
)

// Flow is the engagement gauge of one conversation.
type Flow struct {
	persister
	bus *eventbus.Bus
	now func() time.Time

	mu       sync.Mutex
	state    FlowState
	pleasure float64
	arousal  float64
}

func newFlow(ctx context.Context, key chat.Key, d Deps, baseline affect.PAD) *Flow {
	n := baseline.Normalize()
	f := &Flow{
		persister: persister{kind: KindFlow, key: key, store: d.Store, log: d.logger(KindFlow, key)},
		bus:       d.Bus,
		now:       d.clock(),
		pleasure:  n.P,
		arousal:   n.A,
	}
	f.state.LastUpdate = f.now()
	var st FlowState
	if f.load(ctx, &st) {
		st.Value = clamp100(st.Value)
		f.state = st
	}
	return f
}

// FlowGain is the charge added by e at the given normalized pleasure and arousal.
func FlowGain(e FlowEvent, pleasure, arousal float64) float64 {
	modifier := 1 + arousal*0.5 + pleasure*0.3
	return e.BaseCharge * e.Interest * e.Momentum * modifier * (1 + e.GlobalArousal)
}

// FlowPenalty is the drain caused by e and the change it makes to pleasure.
func FlowPenalty(e FlowEvent) (drain, pleasureDelta float64) {
	drain = e.Penalty
	if e.Kind == Negative {
		drain *= 1.2
		pleasureDelta = -0.3
	}
	return drain, pleasureDelta
}

// FlowIdleDrain is the decay owed after elapsed without events. A sour mood drains five times faster.
func FlowIdleDrain(elapsed time.Duration, pleasure float64) float64 {
	if elapsed <= 0 {
		return 0
	}
	m := elapsed.Minutes()
	if pleasure < -0.3 {
		return 5 * m
	}
	return m
}

// BandOf maps a flow value to its band.
func BandOf(v float64) FlowBand {
	switch {
	case v < 30:
		return Standby
	case v < 70:
		return GettingBetter
	default:
		return FlowBurst
	}
}

// Apply charges or drains the gauge and publishes FlowChanged.
func (f *Flow) Apply(e FlowEvent) float64 {
	f.mu.Lock()
	if e.Kind.IsDrain() {
		drain, dp := FlowPenalty(e)
		f.pleasure += dp
		f.state.Value = clamp100(f.state.Value - drain)
	} else {
		f.state.Value = clamp100(f.state.Value + FlowGain(e, f.pleasure, f.arousal))
	}
	f.state.LastUpdate = f.now()
	v := f.state.Value
	f.mu.Unlock()

	f.log.Debug().Str("event", string(e.Kind)).Float64("value", v).Msg("flow updated")
	f.bus.Publish(FlowChanged{Key: f.key, Value: v})
	return v
}

// Decay applies idle drain up to now. Nothing changes when no time has passed.
func (f *Flow) Decay(now time.Time) {
	f.mu.Lock()
	drain := FlowIdleDrain(now.Sub(f.state.LastUpdate), f.pleasure)
	if drain == 0 {
		f.mu.Unlock()
		return
	}
	f.state.Value = clamp100(f.state.Value - drain)
	f.state.LastUpdate = now
	v := f.state.Value
	f.mu.Unlock()

	f.bus.Publish(FlowChanged{Key: f.key, Value: v})
}

func (f *Flow) Value() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Value
}

func (f *Flow) Band() FlowBand {
	return BandOf(f.Value())
}

// Mood returns the normalized pleasure and arousal the gauge is working with.
func (f *Flow) Mood() (pleasure, arousal float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pleasure, f.arousal
}

func (f *Flow) Snapshot() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) setMood(v affect.PAD) {
	n := v.Normalize()
	f.mu.Lock()
	f.pleasure, f.arousal = n.P, n.A
	f.mu.Unlock()
}

func (f *Flow) persist(ctx context.Context) {
	f.save(ctx, f.Snapshot())
}

func (f *Flow) start(ctx context.Context, cfg Config, spawn func(func())) {
	eventbus.Subscribe(ctx, f.bus, func(ev FlowEvent) error {
		if sameKey(f.key, ev) {
			f.Apply(ev)
		}
		return nil
	})
	eventbus.Subscribe(ctx, f.bus, func(ev EmotionChanged) error {
		if sameKey(f.key, ev) {
			f.setMood(ev.PAD)
		}
		return nil
	})
	spawn(func() {
		every(ctx, cfg.DecayInterval, f.log, "decay", func() { f.Decay(f.now()) })
	})
	spawn(func() {
		every(ctx, cfg.PersistInterval, f.log, "persist", func() { f.persist(ctx) })
		f.persist(context.WithoutCancel(ctx))
	})
}
