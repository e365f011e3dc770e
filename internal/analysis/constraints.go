package analysis

import (
	"strings"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/dispatch"
	"github.com/keshon/companion/internal/mind"
)

// Constraints are the speech rules rendered into the generation prompt.
type Constraints struct {
	Style     []string `json:"style"`
	Forbidden []string `json:"forbidden"`
}

func (c *Constraints) add(style string, forbidden ...string) {
	if style != "" {
		c.Style = append(c.Style, style)
	}
	c.Forbidden = append(c.Forbidden, forbidden...)
}

// ConstraintsFor derives speech rules from the behavior profile, the entrance mode and the flow band.
func ConstraintsFor(p affect.Profile, mode dispatch.InterruptionMode, band mind.FlowBand) Constraints {
	var c Constraints

	switch p.Emotion {
	case affect.Joy, affect.Optimism:
		c.add("light and natural, sentences a little livelier")
	case affect.Relaxation, affect.Mildness:
		c.add("calm and unhurried")
	case affect.Boredom:
		c.add("short and slightly perfunctory", "no enthusiasm or exaggeration")
	case affect.Sadness:
		c.add("shorter and restrained, pauses or ellipses are fine", "do not state your feelings directly")
	case affect.Fear, affect.Anxiety:
		c.add("cautious and tentative", "no strong judgments or aggression")
	case affect.Contempt, affect.Disgust:
		c.add("cool, mild distaste is allowed", "no insults")
	case affect.Resentment, affect.Hostility:
		c.add("cold and hard", "do not escalate the conflict")
	case affect.Surprise:
		c.add("questioning or disbelieving, rhetorical questions are fine", "no flat statements")
	case affect.Dependence:
		c.add("seek confirmation, use softeners", "no bossy commands")
	}

	switch p.Tone {
	case affect.ToneFriendly:
		c.add("close and natural")
	case affect.ToneGentle:
		c.add("mild, without edge")
	case affect.ToneNeutral:
		c.add("neutral, take no stance")
	case affect.ToneIronic:
		c.add("light irony is allowed", "no overdone sarcasm")
	case affect.ToneLowEnergy:
		c.add("slow and short", "no exclamation marks")
	}

	switch p.Aggressiveness {
	case affect.AggressivenessNone:
		c.add("", "no roasting or sarcasm")
	case affect.AggressivenessAbstractSarcasm:
		c.add("indirect teasing about things, not people", "never target a specific person")
	case affect.AggressivenessTeasing:
		c.add("light teasing is fine", "do not keep teasing the same person")
	}

	switch p.EmojiLevel {
	case affect.EmojiNone:
		c.add("", "no emoji")
	case affect.EmojiLow:
		c.add("at most one emoji")
	case affect.EmojiMedium:
		c.add("a moderate amount of emoji")
	case affect.EmojiHigh:
		c.add("emoji are welcome")
	}

	switch mode {
	case dispatch.Interrupt:
		c.add("casually follow the current topic", "do not open a new topic")
	case dispatch.Icebreak:
		c.add("like thinking aloud, light, no reply expected", "do not address everyone", "no question icebreakers")
	case dispatch.Routine:
		c.add("a passing greeting", "no template greetings")
	}

	switch band {
	case mind.Standby:
		c.add("two sentences at most", "do not extend the topic")
	case mind.GettingBetter:
		c.add("may expand a little, stay concise")
	case mind.FlowBurst:
		c.add("may say a bit more with detail", "no long or off-topic output")
	}
	return c
}

// Render formats the constraints as two bullet lists.
func (c Constraints) Render() string {
	var b strings.Builder
	if len(c.Style) > 0 {
		b.WriteString("Style:\n")
		for _, s := range c.Style {
			b.WriteString("- " + s + "\n")
		}
	}
	if len(c.Forbidden) > 0 {
		b.WriteString("Forbidden:\n")
		for _, s := range c.Forbidden {
			b.WriteString("- " + s + "\n")
		}
	}
	return b.String()
}
