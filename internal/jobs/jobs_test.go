package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/analysis"
	"github.com/keshon/companion/internal/audience"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/config"
	"github.com/keshon/companion/internal/dispatch"
	"github.com/keshon/companion/internal/mind"
	"github.com/keshon/companion/internal/storage"
	"github.com/keshon/companion/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personasYAML = `
agents:
  - id: bot
    name: Erii
    prompt: You are Erii.
    baseline_emotion: JOY
    interests: [games]
`

var (
	t0  = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	key = chat.NewKey("bot", "general")
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	flow     analysis.FlowAnalysis
	stim     analysis.StimulusAnalysis
	pad      affect.PAD
	memory   analysis.MemoryUpdate
	err      error
	calls    map[string]int
	lastSeen map[string][]chat.Message
}

func (f *fakeAnalyzer) record(name string, msgs []chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
		f.lastSeen = map[string][]chat.Message{}
	}
	f.calls[name]++
	f.lastSeen[name] = msgs
}

func (f *fakeAnalyzer) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAnalyzer) AnalyzeFlow(_ context.Context, _, _ string, msgs []chat.Message) (analysis.FlowAnalysis, error) {
	f.record("flow", msgs)
	return f.flow, f.err
}

func (f *fakeAnalyzer) AnalyzeEmotion(_ context.Context, _ string, earlier, fresh []chat.Message) (affect.PAD, error) {
	f.record("emotion", fresh)
	f.record("emotion-context", earlier)
	return f.pad, f.err
}

func (f *fakeAnalyzer) AnalyzeStimulus(_ context.Context, _, _, _ string, msgs []chat.Message) (analysis.StimulusAnalysis, error) {
	f.record("volition", msgs)
	return f.stim, f.err
}

func (f *fakeAnalyzer) Summarize(_ context.Context, _ string, msgs []chat.Message) (analysis.MemoryUpdate, error) {
	f.record("memory", msgs)
	return f.memory, f.err
}

type submitted struct {
	mu  sync.Mutex
	got []dispatch.Trigger
}

func (s *submitted) Submit(t dispatch.Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, t)
}

type fixture struct {
	runner *Runner
	repo   *storage.Repository
	mind   *mind.Mind
	bus    *eventbus.Bus
	an     *fakeAnalyzer
	sub    *submitted
	book   *audience.Book
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := storage.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	personas, err := config.ParsePersonas([]byte(personasYAML))
	require.NoError(t, err)

	bus := eventbus.New(64)
	t.Cleanup(bus.Close)

	m := mind.New(mind.DefaultConfig(), mind.Deps{
		Bus:      bus,
		Baseline: personas.Baseline,
		Now:      func() time.Time { return t0 },
	})

	f := &fixture{repo: repo, mind: m, bus: bus, an: &fakeAnalyzer{}, sub: &submitted{}, book: audience.NewBook(time.Hour)}
	f.runner = New(DefaultConfig(), Deps{
		Repo:     repo,
		Mind:     m,
		Bus:      bus,
		Analyzer: f.an,
		Personas: personas,
		Submit:   f.sub,
		Audience: f.book,
	})
	f.runner.now = func() time.Time { return t0 }
	return f
}

func (f *fixture) insert(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.repo.InsertMessage(context.Background(), key, chat.Message{
			ID:        fmt.Sprintf("m%d-%d", time.Now().UnixNano(), i),
			UserID:    "u1",
			Nick:      "alice",
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: t0.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
}

func TestRunFlow_BelowMinimumSkips(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 3)
	require.NoError(t, f.runner.RunFlow(context.Background()))
	assert.Zero(t, f.an.count("flow"))
}

func TestRunFlow_PublishesEventsAndAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	events := make(chan mind.FlowEvent, 8)
	eventbus.Subscribe(ctx, f.bus, func(e mind.FlowEvent) error {
		events <- e
		return nil
	})

	f.an.flow.FlowSuggestions.ShouldCharge = []string{"DeepReply"}
	f.an.flow.NegativeSignals.Exists = true
	f.an.flow.TopicAnalysis.RevisedTopic = "speedruns"
	f.an.flow.Keywords = []string{" GG ", ""}
	f.insert(t, 5)

	require.NoError(t, f.runner.RunFlow(ctx))
	assert.Equal(t, 1, f.an.count("flow"))
	assert.Equal(t, "speedruns", f.runner.topic(key))
	assert.Equal(t, 1, f.book.Audience(key).RecentNegativeCount)

	var kinds []mind.FlowEventKind
	for i := 0; i < 2; i++ {
		select {
		case e := <-events:
			kinds = append(kinds, e.Kind)
		case <-time.After(2 * time.Second):
			t.Fatal("flow event not published")
		}
	}
	assert.ElementsMatch(t, []mind.FlowEventKind{mind.DeepReply, mind.Negative}, kinds)

	words, err := f.repo.Vocabulary(ctx, key, 0, t0)
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.Equal(t, "gg", words[0].Word)

	n, err := f.repo.CountNew(ctx, JobFlow, key)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunFlow_FailureKeepsCursor(t *testing.T) {
	f := newFixture(t)
	f.an.err = errors.New("model down")
	f.insert(t, 5)

	require.NoError(t, f.runner.RunFlow(context.Background()))
	n, err := f.repo.CountNew(context.Background(), JobFlow, key)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRunEmotion_AnalyzesWithContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, 4)
	require.NoError(t, f.repo.AdvanceCursor(ctx, JobEmotion, key, 4))
	f.insert(t, 11)
	f.an.pad = affect.Hostility.Vector()

	require.NoError(t, f.runner.RunEmotion(ctx))
	assert.Equal(t, 1, f.an.count("emotion"))
	f.an.mu.Lock()
	assert.Len(t, f.an.lastSeen["emotion"], 11)
	assert.Len(t, f.an.lastSeen["emotion-context"], 4)
	f.an.mu.Unlock()

	st := f.mind.Gauges(key).Emotion.Snapshot()
	assert.True(t, st.Initialized)
	assert.Equal(t, affect.Hostility.Vector(), st.Stimulus)
}

func TestRunEmotion_QuietChannelDecays(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 2)
	require.NoError(t, f.runner.RunEmotion(context.Background()))
	assert.Zero(t, f.an.count("emotion"))
}

func TestRunVolition_SpeaksOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.an.stim = analysis.StimulusAnalysis{
		KeywordHit: true, KeywordStrength: 1, IsBusy: true, IndirectMention: true, EmotionalResonance: true,
	}
	f.insert(t, 1)

	require.NoError(t, f.runner.RunVolition(ctx))
	require.Len(t, f.sub.got, 1)
	trig := f.sub.got[0]
	assert.Equal(t, key, trig.Key)
	assert.Equal(t, dispatch.Interrupt, trig.Mode)
	assert.Equal(t, dispatch.None, trig.Flags)
	assert.NotEmpty(t, trig.CorrelationID)

	g := f.mind.Gauges(key)
	assert.Equal(t, 100.0, g.Volition.Snapshot().Fatigue)
	assert.False(t, g.Volition.ShouldSpeak())

	f.insert(t, 1)
	require.NoError(t, f.runner.RunVolition(ctx))
	assert.Len(t, f.sub.got, 1)
	assert.Equal(t, 2, f.an.count("volition"))
}

func TestRunVolition_NoNewMessages(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.runner.RunVolition(context.Background()))
	assert.Zero(t, f.an.count("volition"))
}

func TestRunMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.an.memory = analysis.MemoryUpdate{
		Summary:  "alice plays games",
		Facts:    []string{"alice speedruns", ""},
		Profiles: map[string]string{"u1": "gamer", "u2": "lurker"},
	}
	f.insert(t, 31)

	require.NoError(t, f.runner.RunMemory(ctx))
	s, err := f.repo.Summary(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "alice plays games", s)
	facts, err := f.repo.FactCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, facts)
	profiles, err := f.repo.ProfileCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, profiles)
}

func TestRunPrune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.UseWord(ctx, key, "old", 30, t0.Add(-5*24*time.Hour)))
	require.NoError(t, f.repo.UseWord(ctx, key, "fresh", 30, t0))

	require.NoError(t, f.runner.RunPrune(ctx))
	words, err := f.repo.Vocabulary(ctx, key, 0, t0)
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.Equal(t, "fresh", words[0].Word)
}

func TestStart_SchedulesAndStops(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.runner.Start(ctx))
	assert.Contains(t, f.runner.Status(), JobFlow)
	cancel()
	f.runner.Wait()
}
