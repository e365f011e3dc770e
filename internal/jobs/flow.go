package jobs

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/keshon/companion/internal/analysis"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/config"
)

// RunFlow analyzes channels with more than FlowMinNew unread messages and
// publishes the resulting charge and drain events.
func (r *Runner) RunFlow(ctx context.Context) error {
	return r.exclusive(ctx, JobFlow, func(ctx context.Context) error {
		return r.forEachKey(ctx, JobFlow, r.flowOne)
	})
}

func (r *Runner) flowOne(ctx context.Context, p config.Persona, key chat.Key) error {
	n, err := r.deps.Repo.CountNew(ctx, JobFlow, key)
	if err != nil || n <= r.cfg.FlowMinNew {
		return err
	}
	msgs, err := r.deps.Repo.NewMessages(ctx, JobFlow, key, r.cfg.FlowBatch)
	if err != nil || len(msgs) == 0 {
		return err
	}

	fa, err := r.deps.Analyzer.AnalyzeFlow(ctx, p.InterestText(), r.topic(key), msgs)
	if err != nil {
		return fmt.Errorf("analyze flow: %w", err)
	}
	r.setTopic(key, fa.TopicAnalysis.RevisedTopic)

	// gauges must exist before their events are published
	r.deps.Mind.Gauges(key)
	events := analysis.FlowEvents(key, fa)
	for _, e := range events {
		r.deps.Bus.Publish(e)
	}

	now := r.now()
	if fa.NegativeSignals.Exists && r.deps.Audience != nil {
		r.deps.Audience.RecordNegative(key, now)
	}
	for _, w := range fa.Keywords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || utf8.RuneCountInString(w) > 32 {
			continue
		}
		if err := r.deps.Repo.UseWord(ctx, key, w, KeywordBoost, now); err != nil {
			return err
		}
	}

	r.log.Debug().Str("key", key.String()).Int("messages", len(msgs)).Int("events", len(events)).Msg("flow job done")
	return r.deps.Repo.AdvanceCursor(ctx, JobFlow, key, lastSeq(msgs))
}
