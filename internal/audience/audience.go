// Package audience tracks who is listening in each conversation for the behavior safety gate.
package audience

import (
	"sync"
	"time"

	"github.com/keshon/companion/internal/affect"
	"github.com/keshon/companion/internal/chat"
)

// DefaultWindow is how long a negative signal counts toward the cooling rule.
const DefaultWindow = 30 * time.Minute

type entry struct {
	groupSize    int
	adminPresent bool
	negatives    []time.Time
}

// Book is safe for concurrent use.
type Book struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	byKey  map[chat.Key]*entry
}

func NewBook(window time.Duration) *Book {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Book{window: window, now: time.Now, byKey: make(map[chat.Key]*entry)}
}

func (b *Book) entryLocked(key chat.Key) *entry {
	e, ok := b.byKey[key]
	if !ok {
		e = &entry{}
		b.byKey[key] = e
	}
	return e
}

// SetGroup records the member count of the channel and whether an admin spoke recently.
func (b *Book) SetGroup(key chat.Key, size int, adminPresent bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entryLocked(key)
	e.groupSize = size
	e.adminPresent = adminPresent
}

// RecordNegative counts one negative reaction at t.
func (b *Book) RecordNegative(key chat.Key, t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entryLocked(key)
	e.negatives = append(e.negatives, t)
}

// Audience returns the current reading for key, dropping negatives older than the window.
func (b *Book) Audience(key chat.Key) affect.Audience {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byKey[key]
	if !ok {
		return affect.Audience{}
	}
	cutoff := b.now().Add(-b.window)
	kept := e.negatives[:0]
	for _, t := range e.negatives {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.negatives = kept
	return affect.Audience{
		GroupSize:           e.groupSize,
		AdminPresent:        e.adminPresent,
		RecentNegativeCount: len(kept),
	}
}
