package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/chat"
)

const emotionSystemPrompt = `You rate how a group chat makes one participant feel.
Answer twelve items on a scale from -4 to 4. A negative value leans to the first word of the pair, a positive value to the second.
q1 angry / energetic
q2 wide awake / sleepy
q3 controlled / in control
q4 friendly / scornful
q5 calm / excited
q6 dominant / submissive
q7 cruel / joyful
q8 interested / relaxed
q9 guided / autonomous
q10 excited / enraged
q11 relaxed / hopeful
q12 influential / influenced
Weigh the new messages most. If there is not enough information, answer close to 0.
Answer with strict JSON only: {"q1": n, "q2": n, ..., "q12": n}`

// AnalyzeEmotion rates the new messages against their context and returns the stimulus vector.
func (a *Analyzer) AnalyzeEmotion(ctx context.Context, persona string, earlier, fresh []chat.Message) (affect.PAD, error) {
	user := fmt.Sprintf("Participant:\n%s\n\nEarlier messages:\n%s\n\nNew messages:\n%s",
		TrimToChars(persona, MaxPersonaChars),
		FormatHistory(earlier, MaxHistoryChars/2),
		FormatHistory(fresh, MaxHistoryChars))

	var s affect.PadScale12
	if err := a.generateJSON(ctx, "emotion", emotionSystemPrompt, user, &s); err != nil {
		return affect.PAD{}, err
	}
	s = clampScale(s)
	pad := s.PAD()
	a.log.Debug().Str("stimulus", pad.String()).Int("messages", len(fresh)).Msg("emotion analyzed")
	return pad, nil
}

func clampScale(s affect.PadScale12) affect.PadScale12 {
	for _, q := range []*float64{&s.Q1, &s.Q2, &s.Q3, &s.Q4, &s.Q5, &s.Q6, &s.Q7, &s.Q8, &s.Q9, &s.Q10, &s.Q11, &s.Q12} {
		*q = math.Max(-4, math.Min(4, *q))
	}
	return s
}
