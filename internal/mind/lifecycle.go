package mind

import (
	"github.com/keshon/companion/internal/dispatch"
	"github.com/keshon/companion/pkg/eventbus"
)

// Observe lets the gauges react to the agent's own conversations: each sent
// line restarts the silence clock and a reply to the agent counts as
// continuous interaction. The returned subscriptions can be removed by the caller.
func (m *Mind) Observe(sync *eventbus.SyncBus) []*eventbus.SyncSubscription {
	return []*eventbus.SyncSubscription{
		eventbus.SubscribeSync(sync, func(ev dispatch.AfterSend) error {
			m.Gauges(ev.Key).Volition.Touch()
			return nil
		}),
		eventbus.SubscribeSync(sync, func(ev dispatch.ReceivedReply) error {
			if ev.Message == nil {
				return nil
			}
			m.Gauges(ev.Key).Flow.Apply(NewFlowEvent(ev.Key, ContinuousInteraction))
			return nil
		}),
	}
}
