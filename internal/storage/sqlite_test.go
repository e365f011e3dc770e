package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/keshon/companion/internal/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func insertN(t *testing.T, r *Repository, k chat.Key, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := r.InsertMessage(context.Background(), k, chat.Message{
			ID:        fmt.Sprintf("m%d", i),
			UserID:    "u1",
			Nick:      "alice",
			Content:   fmt.Sprintf("hello %d", i),
			Timestamp: t0.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
}

func TestInsertMessage_Idempotent(t *testing.T) {
	r := tempRepo(t)
	ctx := context.Background()
	m := chat.Message{ID: "x", UserID: "u", Content: "hi", Timestamp: t0}

	a, err := r.InsertMessage(ctx, key, m)
	require.NoError(t, err)
	b, err := r.InsertMessage(ctx, key, m)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	n, err := r.CountNew(ctx, "flow", key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCursorWindow(t *testing.T) {
	r := tempRepo(t)
	ctx := context.Background()
	insertN(t, r, key, 5)

	msgs, err := r.NewMessages(ctx, "flow", key, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello 0", msgs[0].Content)
	assert.True(t, msgs[0].Timestamp.Equal(t0))

	require.NoError(t, r.AdvanceCursor(ctx, "flow", key, msgs[2].Seq))
	require.NoError(t, r.AdvanceCursor(ctx, "flow", key, msgs[0].Seq))

	n, err := r.CountNew(ctx, "flow", key)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	other, err := r.CountNew(ctx, "emotion", key)
	require.NoError(t, err)
	assert.Equal(t, 5, other)

	rest, err := r.NewMessages(ctx, "flow", key, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)

	ctxMsgs, err := r.Recent(ctx, key, rest[0].Seq, 2)
	require.NoError(t, err)
	require.Len(t, ctxMsgs, 2)
	assert.Equal(t, "hello 1", ctxMsgs[0].Content)
	assert.Equal(t, "hello 2", ctxMsgs[1].Content)
}

func TestKeysAndSpokeSince(t *testing.T) {
	r := tempRepo(t)
	ctx := context.Background()
	insertN(t, r, chat.NewKey("agent", "b"), 1)
	insertN(t, r, chat.NewKey("agent", "a"), 2)
	insertN(t, r, chat.NewKey("other", "c"), 1)

	keys, err := r.Keys(ctx, "agent")
	require.NoError(t, err)
	assert.Equal(t, []chat.Key{chat.NewKey("agent", "a"), chat.NewKey("agent", "b")}, keys)

	ok, err := r.SpokeSince(ctx, chat.NewKey("agent", "a"), []string{"admin", "u1"}, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.SpokeSince(ctx, chat.NewKey("agent", "a"), []string{"u1"}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	r := tempRepo(t)
	ctx := context.Background()

	_, err := r.Summary(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.SetSummary(ctx, key, "first", t0))
	require.NoError(t, r.SetSummary(ctx, key, "second", t0))
	s, err := r.Summary(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "second", s)

	require.NoError(t, r.AddFact(ctx, key, "likes tea", t0))
	require.NoError(t, r.AddFact(ctx, key, "has a cat", t0))
	facts, err := r.Facts(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"has a cat"}, facts)
	n, err := r.FactCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, r.UpsertProfile(ctx, key, "u1", "quiet", t0))
	require.NoError(t, r.UpsertProfile(ctx, key, "u1", "chatty", t0))
	n, err = r.ProfileCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEffectiveWeight(t *testing.T) {
	assert.Equal(t, 60.0, EffectiveWeight(60, t0, t0.Add(23*time.Hour)))
	assert.Equal(t, 40.0, EffectiveWeight(60, t0, t0.Add(49*time.Hour)))
	assert.Equal(t, 60.0, EffectiveWeight(60, t0, t0.Add(-time.Hour)))
}

func TestVocabulary(t *testing.T) {
	r := tempRepo(t)
	ctx := context.Background()

	require.NoError(t, r.UseWord(ctx, key, "meow", 60, t0))
	require.NoError(t, r.UseWord(ctx, key, "nya", 30, t0))
	require.NoError(t, r.UseWord(ctx, key, "nya", 90, t0))

	active, err := r.Vocabulary(ctx, key, VocabularyActive, t0)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "nya", active[0].Word)
	assert.Equal(t, VocabularyMax, active[0].Weight)

	later := t0.Add(5 * 24 * time.Hour)
	active, err = r.Vocabulary(ctx, key, VocabularyActive, later)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 50.0, active[0].Weight)

	pruned, err := r.PruneVocabulary(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	all, err := r.Vocabulary(ctx, key, 0, later)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "nya", all[0].Word)
}
