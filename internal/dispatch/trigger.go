package dispatch

import (
	"strings"

	"github.com/google/uuid"
	"github.com/keshon/companion/internal/chat"
)

// Flags select how a trigger is arbitrated against a running task.
type Flags uint8

const (
	// IgnoreInterrupt protects a running task from GRAB.
	IgnoreInterrupt Flags = 1 << iota
	// Grab cancels the running task unless it is protected.
	Grab
	// Fallback asks for a Fallback event instead of waiting.
	Fallback
	// ChatUrgent signals the running task that someone is talking to the agent.
	ChatUrgent

	None Flags = 0
)

func (f Flags) Has(x Flags) bool { return f&x == x && x != 0 }

func (f Flags) String() string {
	if f == None {
		return "NONE"
	}
	var parts []string
	for _, x := range []struct {
		f Flags
		n string
	}{{IgnoreInterrupt, "IGNORE_INTERRUPT"}, {Grab, "GRAB"}, {Fallback, "FALLBACK"}, {ChatUrgent, "CHAT_URGENT"}} {
		if f.Has(x.f) {
			parts = append(parts, x.n)
		}
	}
	return strings.Join(parts, "|")
}

// InterruptionMode tells the composer what kind of entrance the agent is making.
type InterruptionMode string

const (
	// Interrupt joins an ongoing conversation.
	Interrupt InterruptionMode = "Interrupt"
	// Icebreak speaks into a quiet channel.
	Icebreak InterruptionMode = "Icebreak"
	// Routine is a scheduled greeting.
	Routine InterruptionMode = "Routine"
)

// Trigger asks the dispatcher to run one generation task for Key.
type Trigger struct {
	Key           chat.Key         `json:"key"`
	Impulse       float64          `json:"impulse"`
	Mode          InterruptionMode `json:"mode"`
	Input         string           `json:"input,omitempty"`
	Flags         Flags            `json:"flags"`
	CorrelationID string           `json:"correlation_id"`
}

// NewTrigger returns a trigger with a fresh correlation id.
func NewTrigger(key chat.Key, mode InterruptionMode, flags Flags) Trigger {
	return Trigger{
		Key:           key,
		Mode:          mode,
		Flags:         flags,
		CorrelationID: uuid.NewString(),
	}
}

func (t Trigger) envelope() Envelope {
	return Envelope{Key: t.Key, CorrelationID: t.CorrelationID}
}
