package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/keshon/companion/internal/chat"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flowRecord struct {
	Value      float64   `json:"value"`
	LastUpdate time.Time `json:"last_update"`
}

var key = chat.NewKey("agent", "chan")

func TestFileStateStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFileStateStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	var got flowRecord
	ok, err := s.LoadState(ctx, "flow", key, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	want := flowRecord{Value: 42, LastUpdate: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, s.SaveState(ctx, "flow", key, want))
	require.NoError(t, s.Close())

	reopened, err := NewFileStateStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	ok, err = reopened.LoadState(ctx, "flow", key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

type fakeRedis struct {
	redis.Cmdable
	data map[string]string
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func TestRedisStateStore_RoundTrip(t *testing.T) {
	rdb := &fakeRedis{data: map[string]string{}}
	s := NewRedisStateStore(rdb, "test:")
	ctx := context.Background()

	var got flowRecord
	ok, err := s.LoadState(ctx, "flow", key, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveState(ctx, "flow", key, flowRecord{Value: 7}))
	assert.Contains(t, rdb.data, "test:flow:agent/chan")

	ok, err = s.LoadState(ctx, "flow", key, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7.0, got.Value)
}

func TestRedisStateStore_BadPayload(t *testing.T) {
	rdb := &fakeRedis{data: map[string]string{"flow:agent/chan": "{"}}
	s := NewRedisStateStore(rdb, "")
	var got flowRecord
	_, err := s.LoadState(context.Background(), "flow", key, &got)
	assert.Error(t, err)
}
