// Package status reports the state of an agent's conversations without changing it.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/mind"
	"github.com/keshon/companion/internal/storage"
)

// Flow is the flow reading of a channel.
type Flow struct {
	Meter float64       `json:"meter"`
	State mind.FlowBand `json:"state"`
}

// Volition is the urge-to-speak reading of a channel.
type Volition struct {
	Stimulus    float64 `json:"stimulus"`
	Fatigue     float64 `json:"fatigue"`
	ShouldSpeak bool    `json:"should_speak"`
}

// Channel is the snapshot of one conversation.
type Channel struct {
	ChannelID    string         `json:"channel_id"`
	Behavior     affect.Profile `json:"behavior"`
	Flow         Flow           `json:"flow"`
	Volition     Volition       `json:"volition"`
	Vocabulary   []string       `json:"vocabulary"`
	Summary      string         `json:"summary"`
	FactCount    int            `json:"fact_count"`
	ProfileCount int            `json:"profile_count"`
}

// Snapshot is the status of one agent.
type Snapshot struct {
	AgentID  string    `json:"agent_id"`
	TakenAt  time.Time `json:"taken_at"`
	Channels []Channel `json:"channels"`
}

// Memory is the read side of long-term notes. *storage.Repository implements it.
type Memory interface {
	Keys(ctx context.Context, agentID string) ([]chat.Key, error)
	Summary(ctx context.Context, key chat.Key) (string, error)
	FactCount(ctx context.Context, key chat.Key) (int, error)
	ProfileCount(ctx context.Context, key chat.Key) (int, error)
	Vocabulary(ctx context.Context, key chat.Key, min float64, now time.Time) ([]storage.Word, error)
}

// Service builds snapshots. By default it reads only gauges that already exist.
type Service struct {
	mind   *mind.Mind
	memory Memory
	now    func() time.Time
	load   bool
}

func New(m *mind.Mind, memory Memory) *Service {
	return &Service{mind: m, memory: memory, now: time.Now}
}

// LoadPersisted makes the service load gauges from their store for channels
// not yet in memory. Use it with a Mind that was never started, so loaded
// gauges neither tick nor persist.
func (s *Service) LoadPersisted() *Service {
	s.load = true
	return s
}

func (s *Service) gauges(key chat.Key) (*mind.Gauges, bool) {
	if s.load {
		return s.mind.Gauges(key), true
	}
	return s.mind.Lookup(key)
}

// Status returns every channel of agentID known to either the gauges or the history.
func (s *Service) Status(ctx context.Context, agentID string) (Snapshot, error) {
	keys, err := s.memory.Keys(ctx, agentID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list channels: %w", err)
	}
	seen := make(map[chat.Key]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	for _, k := range s.mind.Keys(agentID) {
		if !seen[k] {
			keys = append(keys, k)
		}
	}

	now := s.now()
	snap := Snapshot{AgentID: agentID, TakenAt: now, Channels: make([]Channel, 0, len(keys))}
	for _, k := range keys {
		ch, err := s.channel(ctx, k, now)
		if err != nil {
			return Snapshot{}, fmt.Errorf("channel %s: %w", k.ChannelID, err)
		}
		snap.Channels = append(snap.Channels, ch)
	}
	return snap, nil
}

func (s *Service) channel(ctx context.Context, key chat.Key, now time.Time) (Channel, error) {
	ch := Channel{ChannelID: key.ChannelID, Flow: Flow{State: mind.Standby}, Vocabulary: []string{}}

	if g, ok := s.gauges(key); ok {
		ch.Behavior = g.Emotion.Behavior()
		ch.Flow = Flow{Meter: g.Flow.Value(), State: g.Flow.Band()}
		v := g.Volition.Snapshot()
		ch.Volition = Volition{Stimulus: v.Stimulus, Fatigue: v.Fatigue, ShouldSpeak: g.Volition.ShouldSpeak()}
	} else {
		ch.Behavior = affect.BehaviorFor(affect.Closest(affect.PAD{}))
	}

	summary, err := s.memory.Summary(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Channel{}, err
	}
	ch.Summary = summary
	if ch.FactCount, err = s.memory.FactCount(ctx, key); err != nil {
		return Channel{}, err
	}
	if ch.ProfileCount, err = s.memory.ProfileCount(ctx, key); err != nil {
		return Channel{}, err
	}
	words, err := s.memory.Vocabulary(ctx, key, storage.VocabularyActive, now)
	if err != nil {
		return Channel{}, err
	}
	for _, w := range words {
		ch.Vocabulary = append(ch.Vocabulary, w.Word)
	}
	return ch, nil
}
