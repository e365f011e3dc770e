package mind

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/pkg/eventbus"
)

// AnalysisStep folds a stimulus into the previous state. Without a previous state
// the baseline stands in for both emotion and mood.
func AnalysisStep(prev EmotionState, baseline, stimulus affect.PAD, decay affect.DecayLevel, gain float64) (emotion, mood affect.PAD) {
	if !prev.Initialized {
		emotion = baseline.Scale(float64(decay)).Add(stimulus)
		mood = baseline.Add(stimulus.Scale(gain))
		return emotion, mood
	}
	emotion = prev.Emotion.Scale(float64(decay)).Add(stimulus)
	mood = prev.Mood.Add(emotion.Scale(gain))
	return emotion, mood
}

// DecayStep relaxes emotion toward zero and mood toward the baseline over elapsed.
func DecayStep(prev EmotionState, baseline affect.PAD, elapsed time.Duration, cfg Config) (emotion, mood affect.PAD) {
	sec := elapsed.Seconds()
	if sec <= 0 {
		return prev.Emotion, prev.Mood
	}
	emotion = prev.Emotion.Scale(math.Exp(-cfg.EmotionDecay * sec))
	pa := math.Exp(-cfg.MoodLambdaPA * sec)
	d := math.Exp(-cfg.MoodLambdaD * sec)
	delta := prev.Mood.Sub(baseline)
	mood = affect.PAD{
		P: baseline.P + delta.P*pa,
		A: baseline.A + delta.A*pa,
		D: baseline.D + delta.D*d,
	}
	return emotion, mood
}

// Emotion is the affect gauge of one conversation.
type Emotion struct {
	persister
	cfg      Config
	bus      *eventbus.Bus
	now      func() time.Time
	baseline affect.PAD
	audience func() affect.Audience

	mu    sync.Mutex
	state EmotionState
}

func newEmotion(ctx context.Context, key chat.Key, cfg Config, d Deps, baseline affect.PAD) *Emotion {
	e := &Emotion{
		persister: persister{kind: KindEmotion, key: key, store: d.Store, log: d.logger(KindEmotion, key)},
		cfg:       cfg,
		bus:       d.Bus,
		now:       d.clock(),
		baseline:  baseline,
		audience:  func() affect.Audience { return d.audience(key) },
	}
	e.state = EmotionState{
		Mood:      baseline,
		Behavior:  affect.Classify(baseline, e.audience()),
		UpdatedAt: e.now(),
	}
	var st EmotionState
	if e.load(ctx, &st) {
		e.state = st
	}
	return e
}

// Analyze applies one analysis window: stimulus is the scored mood of the window
// and messages its size. The fresh emotion is published.
func (e *Emotion) Analyze(stimulus affect.PAD, messages int) EmotionState {
	aud := e.audience()

	e.mu.Lock()
	emotion, mood := AnalysisStep(e.state, e.baseline, stimulus, affect.DecayForMessages(messages), e.cfg.MoodGain)
	e.state = EmotionState{
		Emotion:     emotion,
		Mood:        mood,
		Stimulus:    stimulus,
		Behavior:    affect.Classify(emotion, aud),
		Initialized: true,
		UpdatedAt:   e.now(),
	}
	st := e.state
	e.mu.Unlock()

	e.log.Info().Str("emotion", st.Behavior.Emotion.String()).Str("pad", emotion.String()).Int("messages", messages).Msg("emotion analyzed")
	e.bus.Publish(EmotionChanged{Key: e.key, PAD: emotion, Emotion: emotion, Mood: mood, Behavior: st.Behavior})
	return st
}

// Decay relaxes the state up to now and publishes the mood. Nothing happens before the first analysis.
func (e *Emotion) Decay(now time.Time) {
	aud := e.audience()

	e.mu.Lock()
	if !e.state.Initialized || !now.After(e.state.UpdatedAt) {
		e.mu.Unlock()
		return
	}
	emotion, mood := DecayStep(e.state, e.baseline, now.Sub(e.state.UpdatedAt), e.cfg)
	e.state.Emotion = emotion
	e.state.Mood = mood
	e.state.Behavior = affect.Classify(mood.Add(emotion.Scale(float64(affect.DecayLow)*e.cfg.MoodGain)), aud)
	e.state.UpdatedAt = now
	st := e.state
	e.mu.Unlock()

	e.bus.Publish(EmotionChanged{Key: e.key, PAD: mood, Emotion: emotion, Mood: mood, Behavior: st.Behavior})
}

// Behavior returns the current gated behavior profile.
func (e *Emotion) Behavior() affect.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Behavior
}

func (e *Emotion) Snapshot() EmotionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Emotion) persist(ctx context.Context) {
	e.save(ctx, e.Snapshot())
}

func (e *Emotion) start(ctx context.Context, spawn func(func())) {
	spawn(func() {
		every(ctx, e.cfg.DecayInterval, e.log, "decay", func() { e.Decay(e.now()) })
	})
	spawn(func() {
		every(ctx, e.cfg.PersistInterval, e.log, "persist", func() { e.persist(ctx) })
		e.persist(context.WithoutCancel(ctx))
	})
}
