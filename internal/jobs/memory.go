package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/config"
	"github.com/keshon/companion/internal/storage"
)

// RunMemory folds unread history into the channel summary, facts and user profiles.
func (r *Runner) RunMemory(ctx context.Context) error {
	return r.exclusive(ctx, JobMemory, func(ctx context.Context) error {
		return r.forEachKey(ctx, JobMemory, r.memoryOne)
	})
}

func (r *Runner) memoryOne(ctx context.Context, _ config.Persona, key chat.Key) error {
	n, err := r.deps.Repo.CountNew(ctx, JobMemory, key)
	if err != nil || n <= r.cfg.MemoryMinNew {
		return err
	}
	msgs, err := r.deps.Repo.NewMessages(ctx, JobMemory, key, r.cfg.MemoryBatch)
	if err != nil || len(msgs) == 0 {
		return err
	}
	previous, err := r.deps.Repo.Summary(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	mu, err := r.deps.Analyzer.Summarize(ctx, previous, msgs)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	now := r.now()
	if mu.Summary != "" {
		if err := r.deps.Repo.SetSummary(ctx, key, mu.Summary, now); err != nil {
			return err
		}
	}
	for _, f := range mu.Facts {
		if f == "" {
			continue
		}
		if err := r.deps.Repo.AddFact(ctx, key, f, now); err != nil {
			return err
		}
	}
	users := make([]string, 0, len(mu.Profiles))
	for u := range mu.Profiles {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		if err := r.deps.Repo.UpsertProfile(ctx, key, u, mu.Profiles[u], now); err != nil {
			return err
		}
	}
	return r.deps.Repo.AdvanceCursor(ctx, JobMemory, key, lastSeq(msgs))
}

// RunPrune drops vocabulary whose weight decayed below the minimum.
func (r *Runner) RunPrune(ctx context.Context) error {
	return r.exclusive(ctx, JobVocabulary, func(ctx context.Context) error {
		n, err := r.deps.Repo.PruneVocabulary(ctx, r.now())
		if err != nil {
			return err
		}
		if n > 0 {
			r.log.Info().Int("pruned", n).Msg("vocabulary pruned")
		}
		return nil
	})
}
