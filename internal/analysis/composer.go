package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/ai"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/config"
	"github.com/keshon/companion/internal/dispatch"
	"github.com/keshon/companion/internal/mind"
	"github.com/keshon/companion/internal/storage"
	"github.com/keshon/companion/pkg/logx"
	"github.com/rs/zerolog"
)

// MaxSentences caps how many lines one task may send.
const MaxSentences = 5

// ErrUnknownAgent is returned when no persona exists for the trigger's agent.
var ErrUnknownAgent = errors.New("analysis: unknown agent")

// Memory is the read side of channel history and long-term notes.
type Memory interface {
	Recent(ctx context.Context, key chat.Key, before int64, limit int) ([]chat.Message, error)
	Summary(ctx context.Context, key chat.Key) (string, error)
	Facts(ctx context.Context, key chat.Key, limit int) ([]string, error)
	Vocabulary(ctx context.Context, key chat.Key, min float64, now time.Time) ([]storage.Word, error)
}

// MoodSource reports how a conversation's agent currently feels.
type MoodSource interface {
	Mood(key chat.Key) (affect.Profile, mind.FlowBand)
}

// PersonaSource looks up agent personas.
type PersonaSource interface {
	Get(id string) (config.Persona, bool)
}

// Composer writes what the agent says for a trigger. It implements dispatch.Composer.
type Composer struct {
	ai       ai.Provider
	personas PersonaSource
	memory   Memory
	moods    MoodSource
	history  int
	now      func() time.Time
	log      zerolog.Logger
}

func NewComposer(provider ai.Provider, personas PersonaSource, memory Memory, moods MoodSource) *Composer {
	return &Composer{
		ai:       provider,
		personas: personas,
		memory:   memory,
		moods:    moods,
		history:  30,
		now:      time.Now,
		log:      logx.With("composer"),
	}
}

const composeInstructions = `Write what you say next in the chat, as %s.
Write 2 to 3 short sentences, never more than %d. Each sentence is sent as its own chat message.
Do not prefix your name. Do not describe actions.
Answer with strict JSON only: {"sentences": ["...", "..."]}`

// Compose builds the prompt from the persona, speech constraints, memory and recent history.
func (c *Composer) Compose(ctx context.Context, t dispatch.Trigger) ([]string, error) {
	p, ok := c.personas.Get(t.Key.AgentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, t.Key.AgentID)
	}
	msgs, err := c.Prompt(ctx, p, t)
	if err != nil {
		return nil, err
	}
	reply, err := c.ai.Generate(ai.WithScope(ctx, "compose:"+t.Key.String()), msgs)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	lines := ParseSentences(reply)
	c.log.Debug().Str("key", t.Key.String()).Str("correlation_id", t.CorrelationID).
		Int("sentences", len(lines)).Msg("composed")
	return lines, nil
}

// Prompt assembles the messages sent to the model for t.
func (c *Composer) Prompt(ctx context.Context, p config.Persona, t dispatch.Trigger) ([]ai.Message, error) {
	profile, band := c.moods.Mood(t.Key)
	cons := ConstraintsFor(profile, t.Mode, band)

	summary, err := c.memory.Summary(ctx, t.Key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	facts, err := c.memory.Facts(ctx, t.Key, MaxFactsIncluded)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	words, err := c.memory.Vocabulary(ctx, t.Key, storage.VocabularyActive, c.now())
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	history, err := c.memory.Recent(ctx, t.Key, 0, c.history)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var b strings.Builder
	b.WriteString(TrimToChars(p.Prompt, MaxPersonaChars))
	b.WriteString("\n\n--- Current state ---\n")
	fmt.Fprintf(&b, "emotion=%s tone=%s flow=%s entrance=%s\n", profile.Emotion, profile.Tone, band, t.Mode)
	b.WriteString("\n--- Speech rules ---\n")
	b.WriteString(cons.Render())
	if summary != "" {
		b.WriteString("\n--- Channel summary ---\n")
		b.WriteString(TrimToChars(summary, MaxSummaryChars))
		b.WriteString("\n")
	}
	if len(facts) > 0 {
		b.WriteString("\n--- Things you remember ---\n")
		for _, f := range facts {
			b.WriteString("- " + f + "\n")
		}
	}
	if len(words) > 0 {
		ws := make([]string, len(words))
		for i, w := range words {
			ws[i] = w.Word
		}
		b.WriteString("\n--- Words this channel uses ---\n")
		b.WriteString(strings.Join(ws, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, composeInstructions, p.Name, MaxSentences)

	user := "Recent messages:\n" + FormatHistory(history, MaxHistoryChars)
	if t.Input != "" {
		user += "\n\nYou were just addressed with:\n" + TrimToChars(t.Input, MaxMessageChars)
	}
	return []ai.Message{ai.System(b.String()), ai.User(user)}, nil
}

// ParseSentences reads the sentence list from a reply, falling back to one
// sentence per non-empty line. At most MaxSentences are kept.
func ParseSentences(reply string) []string {
	var raw []string
	var out struct {
		Sentences []string `json:"sentences"`
	}
	if s, ok := ai.ExtractJSON(reply); ok && json.Unmarshal([]byte(s), &out) == nil {
		raw = out.Sentences
	} else {
		raw = strings.Split(reply, "\n")
	}

	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lines = append(lines, l)
		if len(lines) == MaxSentences {
			break
		}
	}
	return lines
}
