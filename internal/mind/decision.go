package mind

import "math"

// ImpulseInput bundles everything the impulse formula reads.
type ImpulseInput struct {
	BaseDesire float64
	Stimulus   float64
	Fatigue    float64
	Pleasure   float64 // normalized
	Arousal    float64 // normalized
	Flow       float64
	FlowBurst  float64
}

// Impulse is the clamped urge to speak:
// base + stimulus + arousal*30 - max(0, -pleasure*20) + max(0, flow-burst) - fatigue.
func Impulse(in ImpulseInput) float64 {
	v := in.BaseDesire +
		in.Stimulus +
		in.Arousal*30 -
		math.Max(0, -in.Pleasure*20) +
		math.Max(0, in.Flow-in.FlowBurst) -
		in.Fatigue
	return clamp100(v)
}

// SpeakThreshold is the impulse level the agent must exceed. A conversation in
// full flow lowers the bar.
func SpeakThreshold(cfg Config, flow float64) float64 {
	if flow > cfg.FlowBurstAt {
		return cfg.FlowSpeakThreshold
	}
	return cfg.SpeakThreshold
}

// FatigueRecovery is how much fatigue one decay tick removes. A calm agent recovers faster.
func FatigueRecovery(arousal float64) float64 {
	if arousal < 0.2 {
		return 8
	}
	return 5
}

// VolitionStimulus is the stimulus delta of e given the current arousal.
// A reset lowers the stimulus by its payload. Keyword hits only register when
// the agent is somewhat aroused.
func VolitionStimulus(e VolitionEvent, arousal float64) float64 {
	switch e.Kind {
	case ResetStimulus:
		return -e.Stimulus
	case KeywordHit:
		if arousal <= 0.3 {
			return 0
		}
	}
	return e.Stimulus
}
