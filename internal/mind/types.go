package mind

import (
	"time"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/chat"
)

// FlowEventKind tags a FlowEvent.
type FlowEventKind string

const (
	CoreInterest          FlowEventKind = "core_interest"
	ContinuousInteraction FlowEventKind = "continuous_interaction"
	DeepReply             FlowEventKind = "deep_reply"
	GroupResonance        FlowEventKind = "group_resonance"

	Negative       FlowEventKind = "negative"
	TopicInterrupt FlowEventKind = "topic_interrupt"
	LowActivity    FlowEventKind = "low_activity"
	RepeatTopic    FlowEventKind = "repeat_topic"
)

// IsDrain reports whether events of this kind lower the flow value.
func (k FlowEventKind) IsDrain() bool {
	switch k {
	case Negative, TopicInterrupt, LowActivity, RepeatTopic:
		return true
	}
	return false
}

// FlowEvent charges or drains the flow gauge of Key. Build it with NewFlowEvent
// so unset multipliers carry their defaults.
type FlowEvent struct {
	Key           chat.Key
	Kind          FlowEventKind
	BaseCharge    float64
	Interest      float64
	Momentum      float64
	GlobalArousal float64
	Penalty       float64
}

func (e FlowEvent) EventKey() chat.Key { return e.Key }

// NewFlowEvent returns an event of kind with default payload.
func NewFlowEvent(key chat.Key, kind FlowEventKind) FlowEvent {
	e := FlowEvent{
		Key:           key,
		Kind:          kind,
		BaseCharge:    10,
		Interest:      1,
		Momentum:      1,
		GlobalArousal: 0.5,
	}
	switch kind {
	case CoreInterest:
		e.BaseCharge = 20
	case DeepReply:
		e.BaseCharge = 5
	case Negative:
		e.Penalty = 40
	case TopicInterrupt:
		e.Penalty = 30
	case LowActivity:
		e.Penalty = 5
	case RepeatTopic:
		e.Penalty = 10
	}
	return e
}

// FlowChanged is published after every flow mutation.
type FlowChanged struct {
	Key   chat.Key
	Value float64
}

func (e FlowChanged) EventKey() chat.Key { return e.Key }

// EmotionChanged carries the vector other gauges should react to: the fresh
// emotion after analysis, or the relaxed mood after time decay.
type EmotionChanged struct {
	Key      chat.Key
	PAD      affect.PAD
	Emotion  affect.PAD
	Mood     affect.PAD
	Behavior affect.Profile
}

func (e EmotionChanged) EventKey() chat.Key { return e.Key }

// VolitionEventKind tags a VolitionEvent.
type VolitionEventKind string

const (
	ResetStimulus      VolitionEventKind = "reset_stimulus"
	KeywordHit         VolitionEventKind = "keyword_hit"
	BusyGroup          VolitionEventKind = "busy_group"
	IndirectMention    VolitionEventKind = "indirect_mention"
	EmotionalResonance VolitionEventKind = "emotional_resonance"
)

// VolitionEvent moves the stimulus of the volition gauge of Key.
type VolitionEvent struct {
	Key      chat.Key
	Kind     VolitionEventKind
	Stimulus float64
}

func (e VolitionEvent) EventKey() chat.Key { return e.Key }

// NewVolitionEvent returns an event of kind with its default stimulus.
func NewVolitionEvent(key chat.Key, kind VolitionEventKind) VolitionEvent {
	e := VolitionEvent{Key: key, Kind: kind}
	switch kind {
	case ResetStimulus:
		e.Stimulus = 50
	case KeywordHit:
		e.Stimulus = 30
	case BusyGroup:
		e.Stimulus = 10
	case IndirectMention:
		e.Stimulus = 25
	case EmotionalResonance:
		e.Stimulus = 15
	}
	return e
}

// FlowState is the persisted flow record.
type FlowState struct {
	Value      float64   `json:"value"`
	LastUpdate time.Time `json:"last_update"`
}

// VolitionState is the persisted volition record.
type VolitionState struct {
	Fatigue    float64   `json:"fatigue"`
	Stimulus   float64   `json:"stimulus"`
	LastActive time.Time `json:"last_active"`
}

// EmotionState is the persisted emotion record.
type EmotionState struct {
	Emotion     affect.PAD     `json:"emotion"`
	Mood        affect.PAD     `json:"mood"`
	Stimulus    affect.PAD     `json:"stimulus"`
	Behavior    affect.Profile `json:"behavior"`
	Initialized bool           `json:"initialized"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// FlowBand is the discrete reading of the flow value.
type FlowBand string

const (
	Standby       FlowBand = "STANDBY"
	GettingBetter FlowBand = "GETTING_BETTER"
	FlowBurst     FlowBand = "FLOW_BURST"
)

// Gauge kinds used as persistence namespaces.
const (
	KindFlow     = "flow"
	KindVolition = "volition"
	KindEmotion  = "emotion"
)

func clamp100(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}
