package mind

import (
	"time"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/pkg/eventbus"
	"github.com/keshon/companion/pkg/logx"
	"github.com/rs/zerolog"
)

// Config holds gauge tunables. Zero durations disable the matching loop.
type Config struct {
	DecayInterval   time.Duration `env:"GAUGE_DECAY_INTERVAL" envDefault:"60s"`
	PersistInterval time.Duration `env:"GAUGE_PERSIST_INTERVAL" envDefault:"120s"`

	BaseDesire         float64 `env:"VOLITION_BASE_DESIRE" envDefault:"15"`
	SpeakThreshold     float64 `env:"VOLITION_THRESHOLD" envDefault:"80"`
	FlowSpeakThreshold float64 `env:"VOLITION_FLOW_THRESHOLD" envDefault:"60"`
	FlowBurstAt        float64 `env:"VOLITION_FLOW_BURST" envDefault:"70"`
	SpeakFatigue       float64 `env:"VOLITION_SPEAK_FATIGUE" envDefault:"100"`

	EmotionDecay float64 `env:"EMOTION_DECAY_RATE" envDefault:"0.0001"`
	MoodLambdaPA float64 `env:"MOOD_LAMBDA_PA" envDefault:"0.000005"`
	MoodLambdaD  float64 `env:"MOOD_LAMBDA_D" envDefault:"0.00001"`
	MoodGain     float64 `env:"MOOD_GAIN" envDefault:"0.05"`

	SilencePeriod time.Duration `env:"SILENCE_PERIOD" envDefault:"4h"`
	SilenceCheck  time.Duration `env:"SILENCE_CHECK_INTERVAL" envDefault:"10m"`
	DayStartHour  int           `env:"DAY_START_HOUR" envDefault:"8"`
	DayEndHour    int           `env:"DAY_END_HOUR" envDefault:"22"`
}

func DefaultConfig() Config {
	return Config{
		DecayInterval:      time.Minute,
		PersistInterval:    2 * time.Minute,
		BaseDesire:         15,
		SpeakThreshold:     80,
		FlowSpeakThreshold: 60,
		FlowBurstAt:        70,
		SpeakFatigue:       100,
		EmotionDecay:       1e-4,
		MoodLambdaPA:       5e-6,
		MoodLambdaD:        1e-5,
		MoodGain:           0.05,
		SilencePeriod:      4 * time.Hour,
		SilenceCheck:       10 * time.Minute,
		DayStartHour:       8,
		DayEndHour:         22,
	}
}

// Deps are shared by every gauge. Store, Baseline, Audience and Now may be nil.
type Deps struct {
	Bus      *eventbus.Bus
	Store    StateStore
	Baseline func(agentID string) affect.PAD
	Audience func(key chat.Key) affect.Audience
	Now      func() time.Time
}

func (d Deps) clock() func() time.Time {
	if d.Now != nil {
		return d.Now
	}
	return time.Now
}

func (d Deps) baseline(agentID string) affect.PAD {
	if d.Baseline == nil {
		return affect.PAD{}
	}
	return d.Baseline(agentID)
}

func (d Deps) audience(key chat.Key) affect.Audience {
	if d.Audience == nil {
		return affect.Audience{}
	}
	return d.Audience(key)
}

func (d Deps) logger(kind string, key chat.Key) zerolog.Logger {
	return logx.With("mind").With().Str("gauge", kind).Str("key", key.String()).Logger()
}
