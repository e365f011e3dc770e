package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/keshon/companion/internal/chat"
)

// Route is the decision for a message that mentions the agent.
type Route string

const (
	RouteChat   Route = "CHAT"
	RouteIgnore Route = "IGNORE"
)

const routerSystemPrompt = `You route messages that mention a chat participant.
CHAT: the message talks to them, asks them something or expects an answer.
IGNORE: the mention is incidental, spam, a bare ping or a command meant for another bot.
Judge the current message. Use the earlier messages only to resolve ambiguity.
Answer with strict JSON only: {"route": "CHAT" | "IGNORE"}`

// RouteMessage decides whether msg deserves a reply. Any failure routes to CHAT.
func (a *Analyzer) RouteMessage(ctx context.Context, name string, history []chat.Message, msg chat.Message) Route {
	user := fmt.Sprintf("Participant: %s\nEarlier messages:\n%s\n\nCurrent message:\n%s",
		name, FormatHistory(history, MaxHistoryChars/4), FormatMessage(msg))

	var out struct {
		Route string `json:"route"`
	}
	if err := a.generateJSON(ctx, "router", routerSystemPrompt, user, &out); err != nil {
		a.log.Warn().Err(err).Msg("routing failed, defaulting to chat")
		return RouteChat
	}
	if Route(strings.ToUpper(strings.TrimSpace(out.Route))) == RouteIgnore {
		return RouteIgnore
	}
	return RouteChat
}
