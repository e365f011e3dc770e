package dispatch

import (
	"context"
	"errors"

	"github.com/keshon/companion/internal/chat"
)

// Envelope is carried by every dispatch and lifecycle event.
type Envelope struct {
	Key           chat.Key
	CorrelationID string
}

func (e Envelope) EventKey() chat.Key { return e.Key }

// Event is implemented by every event this package publishes.
type Event interface {
	chat.Keyed
	Kind() string
	Correlation() string
}

func (e Envelope) Correlation() string { return e.CorrelationID }

// Dispatch-level events, published on the async bus.
type (
	CallStart struct{ Envelope }

	CallCompletion struct {
		Envelope
		Err error
	}

	RejectGrab struct{ Envelope }

	FallbackEvent struct{ Envelope }

	// ChatUrgentSignal reaches a running task when a CHAT_URGENT trigger arrives for its key.
	ChatUrgentSignal struct {
		Envelope
		Trigger Trigger
	}
)

func (CallStart) Kind() string        { return "call_start" }
func (CallCompletion) Kind() string   { return "call_completion" }
func (RejectGrab) Kind() string       { return "reject_grab" }
func (FallbackEvent) Kind() string    { return "fallback" }
func (ChatUrgentSignal) Kind() string { return "chat_urgent" }

// Cancelled reports whether the task ended by cancellation rather than failure.
func (c CallCompletion) Cancelled() bool {
	return errors.Is(c.Err, context.Canceled)
}

// Lifecycle events of the send/receive cycle, published on the sync bus.
type (
	BeforeSend struct {
		Envelope
		Index int
		Text  string
	}

	AfterSend struct {
		Envelope
		Index int
		Text  string
	}

	// ReceivedReply ends the cycle early. Message is nil when an urgent chat caused it.
	ReceivedReply struct {
		Envelope
		Message *chat.Message
	}

	Closed struct{ Envelope }

	Finally struct{ Envelope }
)

func (BeforeSend) Kind() string    { return "before_send" }
func (AfterSend) Kind() string     { return "after_send" }
func (ReceivedReply) Kind() string { return "received_reply" }
func (Closed) Kind() string        { return "closed" }
func (Finally) Kind() string       { return "finally" }
