package dispatch

import (
	"context"
	"time"
	"unicode"

	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/pkg/eventbus"
)

// TypingDelay estimates how long a person needs to type text at cpm characters per
// minute, varied by ±jitter and never shorter than floor. rnd returns values in [0,1).
func TypingDelay(text string, cpm, jitter float64, floor time.Duration, rnd func() float64) time.Duration {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	if cpm <= 0 {
		cpm = 160
	}
	base := time.Duration(float64(n) / (cpm / 60) * float64(time.Second))
	factor := 1 + (rnd()*2-1)*jitter
	d := time.Duration(float64(base) * factor)
	if d < floor {
		return floor
	}
	return d
}

// listener collects the two signals that end a send/receive cycle early.
type listener struct {
	replies chan chat.Message
	urgent  chan struct{}
	cancel  context.CancelFunc
	subs    []*eventbus.Subscription
}

func (l *listener) stop() {
	l.cancel()
	for _, s := range l.subs {
		<-s.Done()
	}
}

func (d *Dispatcher) listen(ctx context.Context, t Trigger) *listener {
	ctx, cancel := context.WithCancel(ctx)
	l := &listener{
		replies: make(chan chat.Message, 1),
		urgent:  make(chan struct{}, 1),
		cancel:  cancel,
	}

	l.subs = append(l.subs, eventbus.Subscribe(ctx, d.deps.Bus, func(ev chat.MessageReceived) error {
		if ev.Key != t.Key || ev.Message.UserID == t.Key.AgentID {
			return nil
		}
		// accepted when draw(0..100) <= flow+50
		if float64(d.draw()) > d.flow(t.Key)+50 {
			return nil
		}
		select {
		case l.replies <- ev.Message:
		default:
		}
		return nil
	}))

	l.subs = append(l.subs, eventbus.Subscribe(ctx, d.deps.Bus, func(ev ChatUrgentSignal) error {
		if ev.Key != t.Key {
			return nil
		}
		select {
		case l.urgent <- struct{}{}:
		default:
		}
		return nil
	}))

	return l
}

// converse sends lines one by one. Before each line after the first it waits for
// whichever comes first: an accepted reply, an urgent chat or the typing delay.
// A reply or urgent chat stops the remaining lines. Once all lines are out it waits
// for a reply until CloseTimeout and then publishes Closed.
func (d *Dispatcher) converse(ctx context.Context, t Trigger, lines []string) error {
	env := t.envelope()
	defer d.deps.Sync.Publish(Finally{Envelope: env})

	if len(lines) == 0 {
		return nil
	}

	l := d.listen(ctx, t)
	defer l.stop()

	for i, line := range lines {
		if i > 0 {
			timer := time.NewTimer(TypingDelay(line, d.cfg.TypingCPM, d.cfg.TypingJitter, d.cfg.TypingFloor, d.rnd))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case m := <-l.replies:
				timer.Stop()
				d.deps.Sync.Publish(ReceivedReply{Envelope: env, Message: &m})
				return nil
			case <-l.urgent:
				timer.Stop()
				d.deps.Sync.Publish(ReceivedReply{Envelope: env})
				return nil
			case <-timer.C:
			}
		}

		d.deps.Sync.Publish(BeforeSend{Envelope: env, Index: i, Text: line})
		if err := d.deps.Sender.Send(ctx, t.Key, line); err != nil {
			return err
		}
		d.deps.Sync.Publish(AfterSend{Envelope: env, Index: i, Text: line})
	}

	timer := time.NewTimer(d.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m := <-l.replies:
		d.deps.Sync.Publish(ReceivedReply{Envelope: env, Message: &m})
	case <-l.urgent:
		d.deps.Sync.Publish(ReceivedReply{Envelope: env})
	case <-timer.C:
		d.deps.Sync.Publish(Closed{Envelope: env})
	}
	return nil
}
