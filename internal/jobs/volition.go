package jobs

import (
	"context"
	"fmt"

	"github.com/keshon/companion/internal/analysis"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/config"
	"github.com/keshon/companion/internal/dispatch"
)

// RunVolition reads unread messages for reasons to speak and submits an
// Interrupt trigger when the impulse crosses the threshold.
func (r *Runner) RunVolition(ctx context.Context) error {
	return r.exclusive(ctx, JobVolition, func(ctx context.Context) error {
		return r.forEachKey(ctx, JobVolition, r.volitionOne)
	})
}

func (r *Runner) volitionOne(ctx context.Context, p config.Persona, key chat.Key) error {
	n, err := r.deps.Repo.CountNew(ctx, JobVolition, key)
	if err != nil || n == 0 {
		return err
	}
	msgs, err := r.deps.Repo.NewMessages(ctx, JobVolition, key, r.cfg.VolitionBatch)
	if err != nil || len(msgs) == 0 {
		return err
	}

	g := r.deps.Mind.Gauges(key)
	s, err := r.deps.Analyzer.AnalyzeStimulus(ctx, p.Name, p.InterestText(), g.Volition.Mood().String(), msgs)
	if err != nil {
		return fmt.Errorf("analyze stimulus: %w", err)
	}
	// applied in place so the decision below sees them
	for _, e := range analysis.VolitionEvents(key, s) {
		g.Volition.Apply(e)
	}
	if err := r.deps.Repo.AdvanceCursor(ctx, JobVolition, key, lastSeq(msgs)); err != nil {
		return err
	}

	if !g.Volition.ShouldSpeak() {
		return nil
	}
	t := dispatch.NewTrigger(key, dispatch.Interrupt, dispatch.None)
	t.Impulse = g.Volition.Impulse()
	r.log.Info().Str("key", key.String()).Str("correlation_id", t.CorrelationID).
		Float64("impulse", t.Impulse).Msg("decided to speak")
	r.deps.Submit.Submit(t)
	g.Volition.Spoke()
	return nil
}
