package analysis

import (
	"context"
	"fmt"

	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/mind"
)

const stimulusSystemPrompt = `You decide what in a group chat would make a participant want to speak up.
keywordHit: the messages touch one of their interests; keywordStrength (0..1) is how strongly.
isBusy: many people are talking at once.
indirectMention: someone talks about them or something they said without mentioning them.
emotionalResonance: the mood of the chat matches how they feel right now.
Answer with strict JSON only:
{"keywordHit": bool, "keywordStrength": 0..1, "isBusy": bool, "indirectMention": bool, "emotionalResonance": bool}`

// StimulusAnalysis is what the model found in a window that could prompt the agent to talk.
type StimulusAnalysis struct {
	KeywordHit         bool    `json:"keywordHit"`
	KeywordStrength    float64 `json:"keywordStrength"`
	IsBusy             bool    `json:"isBusy"`
	IndirectMention    bool    `json:"indirectMention"`
	EmotionalResonance bool    `json:"emotionalResonance"`
}

// VolitionEvents maps an analysis to gauge events. The window always starts
// with ResetStimulus so older stimulus fades as new windows arrive.
func VolitionEvents(key chat.Key, s StimulusAnalysis) []mind.VolitionEvent {
	out := []mind.VolitionEvent{mind.NewVolitionEvent(key, mind.ResetStimulus)}
	if s.KeywordHit {
		e := mind.NewVolitionEvent(key, mind.KeywordHit)
		e.Stimulus *= max(0, min(s.KeywordStrength, 1))
		out = append(out, e)
	}
	if s.IsBusy {
		out = append(out, mind.NewVolitionEvent(key, mind.BusyGroup))
	}
	if s.IndirectMention {
		out = append(out, mind.NewVolitionEvent(key, mind.IndirectMention))
	}
	if s.EmotionalResonance {
		out = append(out, mind.NewVolitionEvent(key, mind.EmotionalResonance))
	}
	return out
}

// AnalyzeStimulus reads msgs for reasons the agent would speak, given its interests and current mood name.
func (a *Analyzer) AnalyzeStimulus(ctx context.Context, name, interests, mood string, msgs []chat.Message) (StimulusAnalysis, error) {
	user := fmt.Sprintf("Participant: %s\nInterests: %s\nCurrent mood: %s\nMessages:\n%s",
		name, interests, mood, FormatHistory(msgs, MaxHistoryChars))

	var s StimulusAnalysis
	if err := a.generateJSON(ctx, "volition", stimulusSystemPrompt, user, &s); err != nil {
		return StimulusAnalysis{}, err
	}
	return s, nil
}
