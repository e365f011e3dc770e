// Package chat holds the identity and message types shared by every per-conversation component.
package chat

import (
	"fmt"
	"time"
)

// Key identifies one conversation: an agent speaking in one channel.
type Key struct {
	AgentID   string `json:"agent_id"`
	ChannelID string `json:"channel_id"`
}

func NewKey(agentID, channelID string) Key {
	return Key{AgentID: agentID, ChannelID: channelID}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.AgentID, k.ChannelID)
}

// Message is one row of channel history.
type Message struct {
	Seq       int64     `json:"seq,omitempty"`
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Nick      string    `json:"nick"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Mentioned bool      `json:"mentioned,omitempty"`
}

// MessageReceived is published on the async bus for every inbound message.
type MessageReceived struct {
	Key     Key
	Message Message
}

// Keyed is implemented by events scoped to one conversation.
type Keyed interface {
	EventKey() Key
}

func (e MessageReceived) EventKey() Key { return e.Key }
