package mind

import (
	"context"
	"sync"
	"time"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/pkg/eventbus"
)

// Volition is the urge-to-speak gauge of one conversation.
type Volition struct {
	persister
	cfg Config
	bus *eventbus.Bus
	now func() time.Time

	mu       sync.Mutex
	state    VolitionState
	mood     affect.Category
	pleasure float64
	arousal  float64
	flow     float64
}

func newVolition(ctx context.Context, key chat.Key, cfg Config, d Deps, baseline affect.PAD) *Volition {
	n := baseline.Normalize()
	v := &Volition{
		persister: persister{kind: KindVolition, key: key, store: d.Store, log: d.logger(KindVolition, key)},
		cfg:       cfg,
		bus:       d.Bus,
		now:       d.clock(),
		mood:      affect.Closest(baseline),
		pleasure:  n.P,
		arousal:   n.A,
	}
	v.state.LastActive = v.now()
	var st VolitionState
	if v.load(ctx, &st) {
		st.Fatigue = clamp100(st.Fatigue)
		st.Stimulus = clamp100(st.Stimulus)
		v.state = st
	}
	return v
}

// Apply moves the stimulus by e.
func (v *Volition) Apply(e VolitionEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Stimulus = clamp100(v.state.Stimulus + VolitionStimulus(e, v.arousal))
	v.log.Debug().Str("event", string(e.Kind)).Float64("stimulus", v.state.Stimulus).Msg("volition updated")
}

func (v *Volition) input() ImpulseInput {
	return ImpulseInput{
		BaseDesire: v.cfg.BaseDesire,
		Stimulus:   v.state.Stimulus,
		Fatigue:    v.state.Fatigue,
		Pleasure:   v.pleasure,
		Arousal:    v.arousal,
		Flow:       v.flow,
		FlowBurst:  v.cfg.FlowBurstAt,
	}
}

func (v *Volition) Impulse() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Impulse(v.input())
}

// ShouldSpeak reports whether the impulse exceeds the current threshold.
func (v *Volition) ShouldSpeak() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Impulse(v.input()) > SpeakThreshold(v.cfg, v.flow)
}

// Spoke records that the agent took the floor: fatigue jumps and the silence clock restarts.
func (v *Volition) Spoke() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Fatigue = clamp100(v.state.Fatigue + v.cfg.SpeakFatigue)
	v.state.LastActive = v.now()
}

// Touch restarts the silence clock without adding fatigue.
func (v *Volition) Touch() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.LastActive = v.now()
}

// Recover lowers fatigue by one decay step.
func (v *Volition) Recover() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Fatigue = clamp100(v.state.Fatigue - FatigueRecovery(v.arousal))
}

// SilentFor returns how long the conversation has gone without the agent or anyone being active.
func (v *Volition) SilentFor(now time.Time) time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return now.Sub(v.state.LastActive)
}

func (v *Volition) Mood() affect.Category {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mood
}

func (v *Volition) Snapshot() VolitionState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *Volition) setEmotion(pad affect.PAD) {
	n := pad.Normalize()
	c := affect.Closest(pad)
	v.mu.Lock()
	v.mood = c
	v.pleasure, v.arousal = n.P, n.A
	v.mu.Unlock()
}

func (v *Volition) setFlow(value float64) {
	v.mu.Lock()
	v.flow = value
	v.mu.Unlock()
}

func (v *Volition) persist(ctx context.Context) {
	v.save(ctx, v.Snapshot())
}

func (v *Volition) start(ctx context.Context, spawn func(func())) {
	eventbus.Subscribe(ctx, v.bus, func(ev VolitionEvent) error {
		if sameKey(v.key, ev) {
			v.Apply(ev)
		}
		return nil
	})
	eventbus.Subscribe(ctx, v.bus, func(ev EmotionChanged) error {
		if sameKey(v.key, ev) {
			v.setEmotion(ev.PAD)
		}
		return nil
	})
	eventbus.Subscribe(ctx, v.bus, func(ev FlowChanged) error {
		if sameKey(v.key, ev) {
			v.setFlow(ev.Value)
		}
		return nil
	})
	spawn(func() {
		every(ctx, v.cfg.DecayInterval, v.log, "recover", v.Recover)
	})
	spawn(func() {
		every(ctx, v.cfg.PersistInterval, v.log, "persist", func() { v.persist(ctx) })
		v.persist(context.WithoutCancel(ctx))
	})
}
