package audience

import (
	"testing"
	"time"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/chat"
	"github.com/stretchr/testify/assert"
)

func TestBook(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b := NewBook(10 * time.Minute)
	b.now = func() time.Time { return now }
	k := chat.NewKey("a", "c")

	assert.Equal(t, affect.Audience{}, b.Audience(k))

	b.SetGroup(k, 25, true)
	b.RecordNegative(k, now.Add(-20*time.Minute))
	b.RecordNegative(k, now.Add(-time.Minute))
	b.RecordNegative(k, now)

	got := b.Audience(k)
	assert.Equal(t, affect.Audience{GroupSize: 25, AdminPresent: true, RecentNegativeCount: 2}, got)

	gated := affect.Classify(affect.Hostility.Vector(), got)
	assert.Equal(t, affect.AggressivenessNone, gated.Aggressiveness)
	assert.Equal(t, affect.EmojiNone, gated.EmojiLevel)
}
