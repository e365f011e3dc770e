package mind

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/keshon/companion/internal/dispatch"
	"github.com/keshon/companion/pkg/logx"
	"github.com/rs/zerolog"
)

// Submitter accepts triggers. *dispatch.Dispatcher implements it.
type Submitter interface {
	Submit(t dispatch.Trigger)
}

// DailySlot is a time of day at which every known conversation gets a trigger,
// shifted by a random delay up to Jitter.
type DailySlot struct {
	Hour   int
	Minute int
	Jitter time.Duration
	Mode   dispatch.InterruptionMode
}

func DefaultDailySlots() []DailySlot {
	return []DailySlot{
		{Hour: 8, Minute: 0, Jitter: time.Hour, Mode: dispatch.Routine},
		{Hour: 12, Minute: 30, Jitter: 30 * time.Minute, Mode: dispatch.Icebreak},
		{Hour: 18, Minute: 0, Jitter: 30 * time.Minute, Mode: dispatch.Routine},
		{Hour: 22, Minute: 0, Jitter: 30 * time.Minute, Mode: dispatch.Routine},
	}
}

// NextOccurrence returns the first time after now at which s fires, given the drawn jitter.
func NextOccurrence(now time.Time, s DailySlot, jitter time.Duration) time.Time {
	y, m, d := now.Date()
	at := time.Date(y, m, d, s.Hour, s.Minute, 0, 0, now.Location()).Add(jitter)
	if !at.After(now) {
		at = time.Date(y, m, d+1, s.Hour, s.Minute, 0, 0, now.Location()).Add(jitter)
	}
	return at
}

// Scheduler produces triggers from the clock: daily greetings and icebreakers
// for conversations that went silent.
type Scheduler struct {
	mind   *Mind
	submit Submitter
	slots  []DailySlot
	now    func() time.Time
	log    zerolog.Logger

	rmu sync.Mutex
	rnd *rand.Rand
}

func NewScheduler(m *Mind, submit Submitter, slots []DailySlot) *Scheduler {
	return &Scheduler{
		mind:   m,
		submit: submit,
		slots:  slots,
		now:    m.deps.clock(),
		log:    logx.With("scheduler"),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Scheduler) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return time.Duration(s.rnd.Int63n(int64(max)))
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, slot := range s.slots {
		wg.Add(1)
		go func(slot DailySlot) {
			defer wg.Done()
			s.runSlot(ctx, slot)
		}(slot)
	}
	every(ctx, s.mind.cfg.SilenceCheck, s.log, "silence", func() { s.CheckSilence(s.now()) })
	wg.Wait()
}

func (s *Scheduler) runSlot(ctx context.Context, slot DailySlot) {
	for {
		at := NextOccurrence(s.now(), slot, s.jitter(slot.Jitter))
		s.log.Debug().Time("at", at).Str("mode", string(slot.Mode)).Msg("daily trigger scheduled")
		timer := time.NewTimer(time.Until(at))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := safely(func() { s.FireAll(slot.Mode) }); err != nil {
				s.log.Error().Err(err).Msg("daily trigger failed")
			}
		}
	}
}

// FireAll submits one trigger of mode for every known conversation.
func (s *Scheduler) FireAll(mode dispatch.InterruptionMode) int {
	keys := s.mind.Keys("")
	for _, k := range keys {
		s.fire(s.mind.Gauges(k), mode)
	}
	s.log.Info().Str("mode", string(mode)).Int("conversations", len(keys)).Msg("daily trigger fired")
	return len(keys)
}

// CheckSilence restarts the silence clock of every conversation quiet for longer
// than the silence period and, during the day window, breaks the ice.
func (s *Scheduler) CheckSilence(now time.Time) {
	cfg := s.mind.cfg
	for _, k := range s.mind.Keys("") {
		g := s.mind.Gauges(k)
		if g.Volition.SilentFor(now) <= cfg.SilencePeriod {
			continue
		}
		g.Volition.Touch()
		if h := now.Hour(); h < cfg.DayStartHour || h >= cfg.DayEndHour {
			s.log.Debug().Str("key", k.String()).Msg("silent outside day window")
			continue
		}
		s.fire(g, dispatch.Icebreak)
	}
}

func (s *Scheduler) fire(g *Gauges, mode dispatch.InterruptionMode) {
	t := dispatch.NewTrigger(g.Key, mode, dispatch.Fallback)
	t.Impulse = g.Volition.Impulse()
	s.submit.Submit(t)
}
