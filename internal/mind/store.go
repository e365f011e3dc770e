package mind

import (
	"context"
	"sort"
	"sync"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/chat"
)

// Gauges bundles the three gauges of one conversation.
type Gauges struct {
	Key      chat.Key
	Emotion  *Emotion
	Flow     *Flow
	Volition *Volition

	started bool
}

// Mind holds gauges per conversation. Safe for concurrent use.
type Mind struct {
	cfg  Config
	deps Deps

	mu     sync.RWMutex
	gauges map[chat.Key]*Gauges
	base   context.Context
	wg     sync.WaitGroup
}

func New(cfg Config, deps Deps) *Mind {
	return &Mind{
		cfg:    cfg,
		deps:   deps,
		gauges: make(map[chat.Key]*Gauges),
	}
}

func (m *Mind) Config() Config { return m.cfg }

// Start binds the gauges to ctx and starts the loops of any created so far.
// Gauges created later start on creation.
func (m *Mind) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = ctx
	for _, g := range m.gauges {
		m.startLocked(g)
	}
}

// Wait blocks until every gauge loop has exited and persisted its final state.
func (m *Mind) Wait() {
	m.wg.Wait()
}

// Gauges returns the gauges for key, creating and loading them if needed.
// Stored state is loaded outside the registry lock; when two callers race
// the first insert wins and the other copy is discarded unstarted.
func (m *Mind) Gauges(key chat.Key) *Gauges {
	m.mu.RLock()
	g := m.gauges[key]
	ctx := m.base
	m.mu.RUnlock()
	if g != nil {
		return g
	}
	if ctx == nil {
		ctx = context.Background()
	}

	fresh := m.build(ctx, key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if g = m.gauges[key]; g != nil {
		return g
	}
	m.gauges[key] = fresh
	if m.base != nil {
		m.startLocked(fresh)
	}
	return fresh
}

// build loads the three gauges of key and syncs the derived inputs they
// otherwise only learn from bus events.
func (m *Mind) build(ctx context.Context, key chat.Key) *Gauges {
	baseline := m.deps.baseline(key.AgentID)
	g := &Gauges{
		Key:      key,
		Emotion:  newEmotion(ctx, key, m.cfg, m.deps, baseline),
		Flow:     newFlow(ctx, key, m.deps, baseline),
		Volition: newVolition(ctx, key, m.cfg, m.deps, baseline),
	}
	mood := g.Emotion.Snapshot().Mood
	g.Flow.setMood(mood)
	g.Volition.setEmotion(mood)
	g.Volition.setFlow(g.Flow.Value())
	return g
}

// Lookup returns the gauges for key without creating them.
func (m *Mind) Lookup(key chat.Key) (*Gauges, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.gauges[key]
	return g, ok
}

// FlowValue satisfies dispatch.FlowReader.
func (m *Mind) FlowValue(key chat.Key) float64 {
	return m.Gauges(key).Flow.Value()
}

// Mood returns the behavior profile and flow band the composer should speak with.
func (m *Mind) Mood(key chat.Key) (affect.Profile, FlowBand) {
	g := m.Gauges(key)
	return g.Emotion.Behavior(), g.Flow.Band()
}

// Keys lists known conversations of agentID, or of every agent when agentID is empty.
func (m *Mind) Keys(agentID string) []chat.Key {
	m.mu.RLock()
	keys := make([]chat.Key, 0, len(m.gauges))
	for k := range m.gauges {
		if agentID == "" || k.AgentID == agentID {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Persist saves every gauge now.
func (m *Mind) Persist(ctx context.Context) {
	m.mu.RLock()
	all := make([]*Gauges, 0, len(m.gauges))
	for _, g := range m.gauges {
		all = append(all, g)
	}
	m.mu.RUnlock()
	for _, g := range all {
		g.Emotion.persist(ctx)
		g.Flow.persist(ctx)
		g.Volition.persist(ctx)
	}
}

func (m *Mind) startLocked(g *Gauges) {
	if g.started || m.base.Err() != nil {
		return
	}
	g.started = true
	spawn := func(fn func()) {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			fn()
		}()
	}
	g.Emotion.start(m.base, spawn)
	g.Flow.start(m.base, m.cfg, spawn)
	g.Volition.start(m.base, spawn)
}
