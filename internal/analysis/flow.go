package analysis

import (
	"context"
	"fmt"

	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/mind"
)

const flowSystemPrompt = `You watch a group chat on behalf of a participant and judge how engaging the conversation is for them.
Read the new messages. Use the earlier topic only to judge drift.
Be conservative: report a signal only when the messages clearly show it.
Answer with strict JSON and nothing else:
{
  "topicAnalysis": {"isOnTopic": bool, "topicDriftLevel": 0..1, "revisedTopic": "short topic"},
  "interestMatch": {"hit": bool, "score": 1..50, "matchedReasons": ["..."]},
  "interactionQuality": {"deepReplies": bool, "reason": "..."},
  "groupResonance": {"exists": bool, "participants": int, "arousal": 0..1},
  "negativeSignals": {"exists": bool, "types": ["..."]},
  "repetition": {"exists": bool, "confidence": 0..1},
  "flowSuggestions": {
    "shouldCharge": ["CoreInterest" | "GroupResonance" | "DeepReply" | "ContinuousInteraction"],
    "shouldDrain": ["Negative" | "TopicInterrupt" | "LowActivity" | "RepeatTopic"]
  },
  "keywords": ["words or slang the group keeps using"]
}`

// FlowAnalysis is the model's reading of a message window.
type FlowAnalysis struct {
	TopicAnalysis struct {
		IsOnTopic       bool    `json:"isOnTopic"`
		TopicDriftLevel float64 `json:"topicDriftLevel"`
		RevisedTopic    string  `json:"revisedTopic"`
	} `json:"topicAnalysis"`
	InterestMatch struct {
		Hit            bool     `json:"hit"`
		Score          float64  `json:"score"`
		MatchedReasons []string `json:"matchedReasons"`
	} `json:"interestMatch"`
	InteractionQuality struct {
		DeepReplies bool   `json:"deepReplies"`
		Reason      string `json:"reason"`
	} `json:"interactionQuality"`
	GroupResonance struct {
		Exists       bool    `json:"exists"`
		Participants int     `json:"participants"`
		Arousal      float64 `json:"arousal"`
	} `json:"groupResonance"`
	NegativeSignals struct {
		Exists bool     `json:"exists"`
		Types  []string `json:"types"`
	} `json:"negativeSignals"`
	Repetition struct {
		Exists     bool    `json:"exists"`
		Confidence float64 `json:"confidence"`
	} `json:"repetition"`
	FlowSuggestions struct {
		ShouldCharge []string `json:"shouldCharge"`
		ShouldDrain  []string `json:"shouldDrain"`
	} `json:"flowSuggestions"`
	Keywords []string `json:"keywords"`
}

var flowKinds = map[string]mind.FlowEventKind{
	"CoreInterest":          mind.CoreInterest,
	"GroupResonance":        mind.GroupResonance,
	"DeepReply":             mind.DeepReply,
	"ContinuousInteraction": mind.ContinuousInteraction,
	"Negative":              mind.Negative,
	"TopicInterrupt":        mind.TopicInterrupt,
	"LowActivity":           mind.LowActivity,
	"RepeatTopic":           mind.RepeatTopic,
}

// FlowEvents maps an analysis to gauge events, each kind at most once.
// Suggested kinds come first; topic drift above 0.6, negative signals and
// repetition with confidence above 0.7 add drains on their own.
func FlowEvents(key chat.Key, fa FlowAnalysis) []mind.FlowEvent {
	seen := make(map[mind.FlowEventKind]bool)
	var out []mind.FlowEvent
	emit := func(kind mind.FlowEventKind) {
		if seen[kind] {
			return
		}
		seen[kind] = true
		e := mind.NewFlowEvent(key, kind)
		switch kind {
		case mind.CoreInterest:
			// scores run 1..50; 10 is an ordinary match
			if fa.InterestMatch.Score > 0 {
				e.Interest = fa.InterestMatch.Score / 10
			}
		case mind.GroupResonance:
			if fa.GroupResonance.Arousal > 0 {
				e.GlobalArousal = fa.GroupResonance.Arousal
			}
		}
		out = append(out, e)
	}

	for _, s := range fa.FlowSuggestions.ShouldCharge {
		if k, ok := flowKinds[s]; ok && !k.IsDrain() {
			emit(k)
		}
	}
	for _, s := range fa.FlowSuggestions.ShouldDrain {
		if k, ok := flowKinds[s]; ok && k.IsDrain() {
			emit(k)
		}
	}
	if !fa.TopicAnalysis.IsOnTopic && fa.TopicAnalysis.TopicDriftLevel > 0.6 {
		emit(mind.TopicInterrupt)
	}
	if fa.NegativeSignals.Exists {
		emit(mind.Negative)
	}
	if fa.Repetition.Exists && fa.Repetition.Confidence > 0.7 {
		emit(mind.RepeatTopic)
	}
	return out
}

// AnalyzeFlow asks the model how engaging msgs are for an agent with the given interests.
func (a *Analyzer) AnalyzeFlow(ctx context.Context, interests, topic string, msgs []chat.Message) (FlowAnalysis, error) {
	if topic == "" {
		topic = "unknown"
	}
	user := fmt.Sprintf("Interests: %s\nEarlier topic: %s\nNew messages:\n%s",
		interests, topic, FormatHistory(msgs, MaxHistoryChars))

	var fa FlowAnalysis
	if err := a.generateJSON(ctx, "flow", flowSystemPrompt, user, &fa); err != nil {
		return FlowAnalysis{}, err
	}
	a.log.Debug().Int("messages", len(msgs)).Bool("on_topic", fa.TopicAnalysis.IsOnTopic).
		Float64("interest", fa.InterestMatch.Score).Msg("flow analyzed")
	return fa, nil
}
