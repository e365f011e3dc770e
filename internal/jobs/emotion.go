package jobs

import (
	"context"
	"fmt"

	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/config"
)

// RunEmotion runs the analysis step for channels with more than EmotionMinNew
// unread messages and the time decay step for the rest.
func (r *Runner) RunEmotion(ctx context.Context) error {
	return r.exclusive(ctx, JobEmotion, func(ctx context.Context) error {
		return r.forEachKey(ctx, JobEmotion, r.emotionOne)
	})
}

func (r *Runner) emotionOne(ctx context.Context, p config.Persona, key chat.Key) error {
	g := r.deps.Mind.Gauges(key)
	n, err := r.deps.Repo.CountNew(ctx, JobEmotion, key)
	if err != nil {
		return err
	}
	if n <= r.cfg.EmotionMinNew {
		g.Emotion.Decay(r.now())
		return nil
	}

	fresh, err := r.deps.Repo.NewMessages(ctx, JobEmotion, key, r.cfg.EmotionBatch)
	if err != nil || len(fresh) == 0 {
		return err
	}
	earlier, err := r.deps.Repo.Recent(ctx, key, fresh[0].Seq, r.cfg.EmotionContext)
	if err != nil {
		return err
	}

	stimulus, err := r.deps.Analyzer.AnalyzeEmotion(ctx, p.Prompt, earlier, fresh)
	if err != nil {
		return fmt.Errorf("analyze emotion: %w", err)
	}
	st := g.Emotion.Analyze(stimulus, n)
	r.log.Debug().Str("key", key.String()).Str("emotion", st.Emotion.String()).
		Str("behavior", st.Behavior.Emotion.String()).Msg("emotion job done")
	return r.deps.Repo.AdvanceCursor(ctx, JobEmotion, key, lastSeq(fresh))
}
