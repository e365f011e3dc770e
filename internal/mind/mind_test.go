package mind

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/dispatch"
	"github.com/keshon/companion/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) LoadState(_ context.Context, kind string, key chat.Key, dst any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[kind+":"+key.String()]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (s *memStore) SaveState(_ context.Context, kind string, key chat.Key, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[kind+":"+key.String()] = b
	s.saves++
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type submitted struct {
	mu  sync.Mutex
	got []dispatch.Trigger
}

func (s *submitted) Submit(t dispatch.Trigger) {
	s.mu.Lock()
	s.got = append(s.got, t)
	s.mu.Unlock()
}

func (s *submitted) all() []dispatch.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatch.Trigger(nil), s.got...)
}

var testKey = chat.NewKey("agent", "chan")

// newTestMind returns a started Mind with loops disabled.
func newTestMind(t *testing.T, store StateStore, clock *fakeClock) (*Mind, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(0)
	cfg := DefaultConfig()
	cfg.DecayInterval = 0
	cfg.PersistInterval = 0
	cfg.SilenceCheck = 0
	deps := Deps{Bus: bus, Store: store}
	if clock != nil {
		deps.Now = clock.Now
	}
	m := New(cfg, deps)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	t.Cleanup(func() {
		cancel()
		m.Wait()
		bus.Close()
	})
	return m, bus
}

func TestImpulse_FatigueSuppresses(t *testing.T) {
	cfg := DefaultConfig()
	in := ImpulseInput{BaseDesire: cfg.BaseDesire, Stimulus: 10, Fatigue: 90, FlowBurst: cfg.FlowBurstAt}
	assert.Zero(t, Impulse(in))
	assert.False(t, Impulse(in) > SpeakThreshold(cfg, 0))
}

func TestImpulse_Clamped(t *testing.T) {
	in := ImpulseInput{BaseDesire: 15, Stimulus: 100, Arousal: 1, Flow: 100, FlowBurst: 70}
	assert.Equal(t, 100.0, Impulse(in))

	in = ImpulseInput{BaseDesire: 15, Pleasure: -1}
	assert.Zero(t, Impulse(in))
}

func TestSpeakThreshold_LowersInFlow(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 80.0, SpeakThreshold(cfg, 70))
	assert.Equal(t, 60.0, SpeakThreshold(cfg, 71))
}

func TestVolitionStimulus_KeywordNeedsArousal(t *testing.T) {
	e := NewVolitionEvent(testKey, KeywordHit)
	assert.Zero(t, VolitionStimulus(e, 0.3))
	assert.Equal(t, 30.0, VolitionStimulus(e, 0.31))
	assert.Equal(t, -50.0, VolitionStimulus(NewVolitionEvent(testKey, ResetStimulus), 0))
}

func TestVolition_ResetLowersStimulus(t *testing.T) {
	m, _ := newTestMind(t, nil, nil)
	v := m.Gauges(testKey).Volition
	for i := 0; i < 8; i++ {
		v.Apply(NewVolitionEvent(testKey, BusyGroup))
	}
	require.Equal(t, 80.0, v.Snapshot().Stimulus)

	v.Apply(NewVolitionEvent(testKey, ResetStimulus))
	assert.Equal(t, 30.0, v.Snapshot().Stimulus)

	v.Apply(NewVolitionEvent(testKey, ResetStimulus))
	assert.Zero(t, v.Snapshot().Stimulus)
}

func TestFlowGain_DeepReplyNeutral(t *testing.T) {
	assert.InDelta(t, 7.5, FlowGain(NewFlowEvent(testKey, DeepReply), 0, 0), 1e-9)
}

func TestFlowIdleDrain(t *testing.T) {
	assert.Zero(t, FlowIdleDrain(0, 0))
	assert.InDelta(t, 2.0, FlowIdleDrain(2*time.Minute, 0), 1e-9)
	assert.InDelta(t, 10.0, FlowIdleDrain(2*time.Minute, -0.5), 1e-9)
}

func TestBandOf(t *testing.T) {
	assert.Equal(t, Standby, BandOf(0))
	assert.Equal(t, GettingBetter, BandOf(30))
	assert.Equal(t, FlowBurst, BandOf(70))
}

func TestFlow_ApplyPublishesOnce(t *testing.T) {
	m, bus := newTestMind(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan FlowChanged, 4)
	eventbus.Subscribe(ctx, bus, func(ev FlowChanged) error {
		changes <- ev
		return nil
	})

	g := m.Gauges(testKey)
	v := g.Flow.Apply(NewFlowEvent(testKey, DeepReply))
	assert.Greater(t, v, 0.0)
	assert.LessOrEqual(t, v, 100.0)

	select {
	case ev := <-changes:
		assert.Equal(t, v, ev.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no FlowChanged")
	}
	select {
	case ev := <-changes:
		t.Fatalf("unexpected second event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFlow_StaysInRange(t *testing.T) {
	m, _ := newTestMind(t, nil, nil)
	f := m.Gauges(testKey).Flow
	for i := 0; i < 50; i++ {
		f.Apply(NewFlowEvent(testKey, CoreInterest))
	}
	assert.Equal(t, 100.0, f.Value())
	for i := 0; i < 50; i++ {
		f.Apply(NewFlowEvent(testKey, Negative))
	}
	assert.Zero(t, f.Value())
}

func TestFlow_DecayWithoutElapsedIsNoop(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	m, _ := newTestMind(t, nil, clock)
	f := m.Gauges(testKey).Flow
	f.Apply(NewFlowEvent(testKey, CoreInterest))
	before := f.Snapshot()

	f.Decay(clock.Now())
	assert.Equal(t, before, f.Snapshot())

	clock.Set(clock.Now().Add(3 * time.Minute))
	f.Decay(clock.Now())
	assert.InDelta(t, before.Value-3, f.Value(), 1e-9)
}

func TestVolition_SpokeAddsFatigue(t *testing.T) {
	m, _ := newTestMind(t, nil, nil)
	v := m.Gauges(testKey).Volition
	v.Apply(NewVolitionEvent(testKey, IndirectMention))
	require.Equal(t, 25.0, v.Snapshot().Stimulus)

	v.Spoke()
	assert.Equal(t, 100.0, v.Snapshot().Fatigue)
	assert.False(t, v.ShouldSpeak())

	v.Recover()
	assert.Equal(t, 92.0, v.Snapshot().Fatigue)
}

func TestAnalysisStep_FirstWindowUsesBaseline(t *testing.T) {
	stim := affect.PAD{P: -2, A: 1, D: 1.1}
	emotion, mood := AnalysisStep(EmotionState{}, affect.PAD{}, stim, affect.DecayLow, 0.05)
	opt := cmpopts.EquateApprox(0, 1e-9)
	if diff := cmp.Diff(stim, emotion, opt); diff != "" {
		t.Errorf("emotion mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(stim.Scale(0.05), mood, opt); diff != "" {
		t.Errorf("mood mismatch (-want +got):\n%s", diff)
	}
}

func TestDecayStep_ZeroElapsed(t *testing.T) {
	prev := EmotionState{Emotion: affect.PAD{P: 1}, Mood: affect.PAD{A: 1}, Initialized: true}
	e, mood := DecayStep(prev, affect.PAD{}, 0, DefaultConfig())
	assert.Equal(t, prev.Emotion, e)
	assert.Equal(t, prev.Mood, mood)
}

func TestDecayStep_RelaxesTowardBaseline(t *testing.T) {
	prev := EmotionState{Emotion: affect.PAD{P: 2}, Mood: affect.PAD{P: 1, D: 1}, Initialized: true}
	base := affect.PAD{}
	e, mood := DecayStep(prev, base, 24*time.Hour, DefaultConfig())
	assert.Less(t, e.P, prev.Emotion.P)
	assert.Less(t, mood.P, 1.0)
	assert.Less(t, mood.D, mood.P)
}

func TestEmotion_AnalyzePublishesAndGates(t *testing.T) {
	bus := eventbus.New(0)
	defer bus.Close()
	cfg := DefaultConfig()
	cfg.DecayInterval, cfg.PersistInterval = 0, 0
	m := New(cfg, Deps{Bus: bus, Audience: func(chat.Key) affect.Audience {
		return affect.Audience{GroupSize: 50}
	}})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() { cancel(); m.Wait() }()
	m.Start(ctx)

	got := make(chan EmotionChanged, 1)
	eventbus.Subscribe(ctx, bus, func(ev EmotionChanged) error {
		got <- ev
		return nil
	}, eventbus.Once())

	st := m.Gauges(testKey).Emotion.Analyze(affect.PAD{P: -2, A: 1, D: 1.1}, 10)
	assert.Equal(t, affect.Hostility, st.Behavior.Emotion)
	assert.Equal(t, affect.AggressivenessNone, st.Behavior.Aggressiveness)

	select {
	case ev := <-got:
		assert.Equal(t, st.Emotion, ev.PAD)
	case <-time.After(2 * time.Second):
		t.Fatal("no EmotionChanged")
	}
}

func TestMind_PersistRoundTrip(t *testing.T) {
	store := newMemStore()
	m, _ := newTestMind(t, store, nil)
	g := m.Gauges(testKey)
	g.Flow.Apply(NewFlowEvent(testKey, CoreInterest))
	g.Volition.Spoke()

	m.Persist(context.Background())
	first := map[string][]byte{}
	store.mu.Lock()
	for k, v := range store.data {
		first[k] = v
	}
	store.mu.Unlock()
	m.Persist(context.Background())
	store.mu.Lock()
	assert.Equal(t, first, store.data)
	store.mu.Unlock()

	other, _ := newTestMind(t, store, nil)
	h := other.Gauges(testKey)
	assert.Equal(t, g.Flow.Value(), h.Flow.Value())
	assert.Equal(t, 100.0, h.Volition.Snapshot().Fatigue)
}

func TestMind_KeysAndFlowValue(t *testing.T) {
	m, _ := newTestMind(t, nil, nil)
	a := chat.NewKey("a", "2")
	b := chat.NewKey("a", "1")
	c := chat.NewKey("z", "1")
	for _, k := range []chat.Key{a, b, c} {
		m.Gauges(k)
	}
	assert.Equal(t, []chat.Key{b, a}, m.Keys("a"))
	assert.Len(t, m.Keys(""), 3)
	assert.Zero(t, m.FlowValue(a))
	_, ok := m.Lookup(chat.NewKey("q", "q"))
	assert.False(t, ok)
}

func TestNextOccurrence(t *testing.T) {
	s := DailySlot{Hour: 12, Minute: 30}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 40, 0, 0, time.UTC), NextOccurrence(now, s, 10*time.Minute))

	now = time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC), NextOccurrence(now, s, 0))
}

func TestScheduler_CheckSilence(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	m, _ := newTestMind(t, nil, clock)
	sub := &submitted{}
	s := NewScheduler(m, sub, nil)
	m.Gauges(testKey)

	s.CheckSilence(clock.Now().Add(time.Hour))
	assert.Empty(t, sub.all())

	clock.Set(clock.Now().Add(5 * time.Hour))
	s.CheckSilence(clock.Now())
	got := sub.all()
	require.Len(t, got, 1)
	assert.Equal(t, dispatch.Icebreak, got[0].Mode)
	assert.Equal(t, testKey, got[0].Key)

	// silence clock restarted
	s.CheckSilence(clock.Now())
	assert.Len(t, sub.all(), 1)

	clock.Set(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	s.CheckSilence(clock.Now())
	assert.Len(t, sub.all(), 1)
	assert.Zero(t, m.Gauges(testKey).Volition.SilentFor(clock.Now()))
}

func TestScheduler_FireAll(t *testing.T) {
	m, _ := newTestMind(t, nil, nil)
	sub := &submitted{}
	s := NewScheduler(m, sub, DefaultDailySlots())
	m.Gauges(chat.NewKey("a", "1"))
	m.Gauges(chat.NewKey("a", "2"))

	assert.Equal(t, 2, s.FireAll(dispatch.Routine))
	for _, tr := range sub.all() {
		assert.Equal(t, dispatch.Routine, tr.Mode)
		assert.NotEmpty(t, tr.CorrelationID)
	}
}

func TestMind_ObserveConversation(t *testing.T) {
	clock := &fakeClock{}
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock.Set(start)
	m, _ := newTestMind(t, nil, clock)
	lifecycle := eventbus.NewSync()
	subs := m.Observe(lifecycle)
	require.Len(t, subs, 2)

	env := dispatch.Envelope{Key: testKey, CorrelationID: "c1"}
	clock.Set(start.Add(time.Hour))
	lifecycle.Publish(dispatch.AfterSend{Envelope: env, Text: "hi"})
	assert.Zero(t, m.Gauges(testKey).Volition.SilentFor(start.Add(time.Hour)))

	lifecycle.Publish(dispatch.ReceivedReply{Envelope: env})
	assert.Zero(t, m.FlowValue(testKey), "urgent interruption carries no reply")

	lifecycle.Publish(dispatch.ReceivedReply{Envelope: env, Message: &chat.Message{UserID: "u1", Content: "yo"}})
	assert.Greater(t, m.FlowValue(testKey), 0.0)

	for _, s := range subs {
		s.Unsubscribe()
	}
	assert.Zero(t, lifecycle.Len())
}

// gatedStore blocks loads for one channel until release is closed.
type gatedStore struct {
	*memStore
	channel string
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) LoadState(ctx context.Context, kind string, key chat.Key, dst any) (bool, error) {
	if key.ChannelID == s.channel {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.release
	}
	return s.memStore.LoadState(ctx, kind, key, dst)
}

func TestMind_LoadDoesNotHoldRegistry(t *testing.T) {
	store := &gatedStore{memStore: newMemStore(), channel: "slow", entered: make(chan struct{}, 1), release: make(chan struct{})}
	m, _ := newTestMind(t, store, nil)
	fast := chat.NewKey("a", "fast")
	m.Gauges(fast)

	created := make(chan *Gauges)
	go func() { created <- m.Gauges(chat.NewKey("a", "slow")) }()
	<-store.entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Equal(t, []chat.Key{fast}, m.Keys("a"))
		_, ok := m.Lookup(fast)
		assert.True(t, ok)
		assert.Zero(t, m.FlowValue(fast))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registry blocked by a load for another key")
	}

	close(store.release)
	g := <-created
	assert.Same(t, g, m.Gauges(chat.NewKey("a", "slow")))
	assert.Len(t, m.Keys("a"), 2)
}

func TestMind_VolitionSeesLoadedFlow(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	require.NoError(t, store.SaveState(ctx, KindFlow, testKey, FlowState{Value: 75}))
	require.NoError(t, store.SaveState(ctx, KindVolition, testKey, VolitionState{Stimulus: 50}))

	m := New(DefaultConfig(), Deps{Store: store})
	v := m.Gauges(testKey).Volition
	// 15 + 50 + (75-70) clears the lowered bar of 60 but not the default 80
	assert.Equal(t, 70.0, v.Impulse())
	assert.True(t, v.ShouldSpeak())
}
