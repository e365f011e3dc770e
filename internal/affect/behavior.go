package affect

// Tone of voice the agent should use.
type Tone string

const (
	ToneFriendly  Tone = "FRIENDLY"
	ToneGentle    Tone = "GENTLE"
	ToneNeutral   Tone = "NEUTRAL"
	ToneIronic    Tone = "IRONIC"
	ToneLowEnergy Tone = "LOW_ENERGY"
)

type Aggressiveness string

const (
	AggressivenessNone            Aggressiveness = "NONE"
	AggressivenessAbstractSarcasm Aggressiveness = "ABSTRACT_SARCASM"
	AggressivenessTeasing         Aggressiveness = "TEASING"
)

type EmojiLevel string

const (
	EmojiNone   EmojiLevel = "NONE"
	EmojiLow    EmojiLevel = "LOW"
	EmojiMedium EmojiLevel = "MEDIUM"
	EmojiHigh   EmojiLevel = "HIGH"
)

// Profile is the behavior policy derived from an affect category.
type Profile struct {
	Emotion        Category       `json:"emotion"`
	Tone           Tone           `json:"tone"`
	Aggressiveness Aggressiveness `json:"aggressiveness"`
	EmojiLevel     EmojiLevel     `json:"emoji_level"`
}

// BehaviorFor maps a category to its ungated profile.
func BehaviorFor(c Category) Profile {
	p := Profile{Emotion: c, Aggressiveness: AggressivenessNone}
	switch c {
	case Joy, Optimism:
		p.Tone, p.EmojiLevel = ToneFriendly, EmojiHigh
	case Relaxation, Mildness, Dependence:
		p.Tone, p.EmojiLevel = ToneGentle, EmojiLow
	case Boredom:
		p.Tone, p.Aggressiveness, p.EmojiLevel = ToneNeutral, AggressivenessTeasing, EmojiNone
	case Sadness, Anxiety:
		p.Tone, p.EmojiLevel = ToneLowEnergy, EmojiLow
	case Fear:
		p.Tone, p.EmojiLevel = ToneNeutral, EmojiNone
	case Contempt, Disgust, Resentment, Hostility:
		p.Tone, p.Aggressiveness, p.EmojiLevel = ToneIronic, AggressivenessAbstractSarcasm, EmojiLow
	case Surprise:
		p.Tone, p.EmojiLevel = ToneFriendly, EmojiMedium
	default:
		p.Tone, p.EmojiLevel = ToneNeutral, EmojiNone
	}
	return p
}

// Audience describes who is listening, for the safety gate.
type Audience struct {
	GroupSize           int
	AdminPresent        bool
	RecentNegativeCount int
}

const (
	SafeGroupSize     = 20
	NegativeCoolingAt = 2
)

// Gate suppresses aggression in large or moderated groups and emoji after repeated negative feedback.
func Gate(p Profile, a Audience) Profile {
	if a.GroupSize > SafeGroupSize || a.AdminPresent {
		p.Aggressiveness = AggressivenessNone
	}
	if a.RecentNegativeCount >= NegativeCoolingAt {
		p.EmojiLevel = EmojiNone
	}
	return p
}

// Classify is Closest, BehaviorFor and Gate in one call.
func Classify(v PAD, a Audience) Profile {
	return Gate(BehaviorFor(Closest(v)), a)
}
