package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/keshon/companion/internal/chat"
)

// Vocabulary weights. A word loses VocabularyDailyDecay for every idle day;
// below VocabularyMin it is pruned, from VocabularyActive it is in use.
const (
	VocabularyMin        = 20.0
	VocabularyActive     = 50.0
	VocabularyDailyDecay = 10.0
	VocabularyMax        = 100.0
)

// Word is one vocabulary entry with its weight after idle decay.
type Word struct {
	Word     string    `json:"word"`
	Weight   float64   `json:"weight"`
	LastUsed time.Time `json:"last_used"`
}

// EffectiveWeight applies idle decay to a stored weight.
func EffectiveWeight(stored float64, lastUsed, now time.Time) float64 {
	days := math.Floor(now.Sub(lastUsed).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return stored - VocabularyDailyDecay*days
}

// Summary returns the running summary of key.
func (r *Repository) Summary(ctx context.Context, key chat.Key) (string, error) {
	var s string
	err := r.db.QueryRowContext(ctx,
		`SELECT summary FROM memory_summary WHERE agent_id = ? AND channel_id = ?`,
		key.AgentID, key.ChannelID,
	).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read summary: %w", err)
	}
	return s, nil
}

func (r *Repository) SetSummary(ctx context.Context, key chat.Key, summary string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memory_summary (agent_id, channel_id, summary, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(agent_id, channel_id) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`,
		key.AgentID, key.ChannelID, summary, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func (r *Repository) AddFact(ctx context.Context, key chat.Key, fact string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memory_facts (agent_id, channel_id, fact, created_at) VALUES (?, ?, ?, ?)`,
		key.AgentID, key.ChannelID, fact, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

// Facts returns up to limit most recent facts, newest first.
func (r *Repository) Facts(ctx context.Context, key chat.Key, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT fact FROM memory_facts WHERE agent_id = ? AND channel_id = ? ORDER BY id DESC LIMIT ?`,
		key.AgentID, key.ChannelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *Repository) count(ctx context.Context, table string, key chat.Key) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE agent_id = ? AND channel_id = ?`,
		key.AgentID, key.ChannelID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *Repository) FactCount(ctx context.Context, key chat.Key) (int, error) {
	return r.count(ctx, "memory_facts", key)
}

func (r *Repository) UpsertProfile(ctx context.Context, key chat.Key, userID, profile string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_profiles (agent_id, channel_id, user_id, profile, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id, channel_id, user_id) DO UPDATE SET profile = excluded.profile, updated_at = excluded.updated_at`,
		key.AgentID, key.ChannelID, userID, profile, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

func (r *Repository) ProfileCount(ctx context.Context, key chat.Key) (int, error) {
	return r.count(ctx, "user_profiles", key)
}

// UseWord raises the weight of word by boost, capped at VocabularyMax, and marks it used now.
// The stored weight is first brought up to date with idle decay.
func (r *Repository) UseWord(ctx context.Context, key chat.Key, word string, boost float64, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var weight float64
	var last string
	err = tx.QueryRowContext(ctx,
		`SELECT weight, last_used FROM vocabulary WHERE agent_id = ? AND channel_id = ? AND word = ?`,
		key.AgentID, key.ChannelID, word,
	).Scan(&weight, &last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		weight = 0
	case err != nil:
		return fmt.Errorf("read word: %w", err)
	default:
		weight = math.Max(0, EffectiveWeight(weight, parseTime(last), now))
	}

	weight = math.Min(VocabularyMax, weight+boost)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO vocabulary (agent_id, channel_id, word, weight, last_used) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id, channel_id, word) DO UPDATE SET weight = excluded.weight, last_used = excluded.last_used`,
		key.AgentID, key.ChannelID, word, weight, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("write word: %w", err)
	}
	return tx.Commit()
}

// Vocabulary returns words of key whose effective weight is at least min, heaviest first.
func (r *Repository) Vocabulary(ctx context.Context, key chat.Key, min float64, now time.Time) ([]Word, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT word, weight, last_used FROM vocabulary WHERE agent_id = ? AND channel_id = ? ORDER BY weight DESC, word ASC`,
		key.AgentID, key.ChannelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query vocabulary: %w", err)
	}
	defer rows.Close()
	var out []Word
	for rows.Next() {
		var w Word
		var last string
		if err := rows.Scan(&w.Word, &w.Weight, &last); err != nil {
			return nil, fmt.Errorf("scan word: %w", err)
		}
		w.LastUsed = parseTime(last)
		w.Weight = EffectiveWeight(w.Weight, w.LastUsed, now)
		if w.Weight >= min {
			out = append(out, w)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// decay can reorder entries
	sortWords(out)
	return out, nil
}

// PruneVocabulary deletes words whose effective weight fell below VocabularyMin.
func (r *Repository) PruneVocabulary(ctx context.Context, now time.Time) (int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT agent_id, channel_id, word, weight, last_used FROM vocabulary`)
	if err != nil {
		return 0, fmt.Errorf("query vocabulary: %w", err)
	}
	type victim struct{ agent, channel, word string }
	var stale []victim
	for rows.Next() {
		var v victim
		var weight float64
		var last string
		if err := rows.Scan(&v.agent, &v.channel, &v.word, &weight, &last); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan word: %w", err)
		}
		if EffectiveWeight(weight, parseTime(last), now) < VocabularyMin {
			stale = append(stale, v)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, v := range stale {
		if _, err := r.db.ExecContext(ctx,
			`DELETE FROM vocabulary WHERE agent_id = ? AND channel_id = ? AND word = ?`,
			v.agent, v.channel, v.word,
		); err != nil {
			return 0, fmt.Errorf("delete word: %w", err)
		}
	}
	return len(stale), nil
}

func sortWords(ws []Word) {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Weight != ws[j].Weight {
			return ws[i].Weight > ws[j].Weight
		}
		return ws[i].Word < ws[j].Word
	})
}
