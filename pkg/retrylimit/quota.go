package retrylimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Quota caps model calls globally per minute and per hour, and per key by a
// minimum cooldown between calls. Safe for concurrent use.
type Quota struct {
	mu       sync.Mutex
	minute   *rate.Limiter
	hour     *rate.Limiter
	cooldown time.Duration
	last     map[string]time.Time
}

// NewQuota returns a quota of perMinute and perHour calls with cooldown per key.
// Non-positive limits disable that cap.
func NewQuota(perMinute, perHour int, cooldown time.Duration) *Quota {
	q := &Quota{cooldown: cooldown, last: make(map[string]time.Time)}
	if perMinute > 0 {
		q.minute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	if perHour > 0 {
		q.hour = rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour)
	}
	return q
}

// Allow reports whether key may call now and, if so, records the call.
func (q *Quota) Allow(key string, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if last, ok := q.last[key]; ok && now.Sub(last) < q.cooldown {
		return false
	}

	var taken []*rate.Reservation
	for _, l := range []*rate.Limiter{q.minute, q.hour} {
		if l == nil {
			continue
		}
		r := l.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, t := range taken {
				t.CancelAt(now)
			}
			return false
		}
		taken = append(taken, r)
	}

	q.last[key] = now
	return true
}
