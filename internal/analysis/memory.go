package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/keshon/companion/internal/chat"
)

const memorySystemPrompt = `You keep the long-term notes of a chat participant about one channel.
Update the running summary with the new messages, keeping it under 150 words.
Extract durable facts worth remembering (who likes what, plans, running jokes). Skip small talk.
Write a one-line profile for each active user, keyed by user id.
Answer with strict JSON only:
{"summary": "...", "facts": ["..."], "profiles": {"<user id>": "..."}}`

// MemoryUpdate is the model's revision of channel memory.
type MemoryUpdate struct {
	Summary  string            `json:"summary"`
	Facts    []string          `json:"facts"`
	Profiles map[string]string `json:"profiles"`
}

// Summarize folds msgs into the previous summary.
func (a *Analyzer) Summarize(ctx context.Context, previous string, msgs []chat.Message) (MemoryUpdate, error) {
	if previous == "" {
		previous = "(none)"
	}
	user := fmt.Sprintf("Previous summary:\n%s\n\nNew messages:\n%s",
		TrimToChars(previous, MaxSummaryChars), FormatHistory(msgs, MaxHistoryChars))

	var mu MemoryUpdate
	if err := a.generateJSON(ctx, "memory", memorySystemPrompt, user, &mu); err != nil {
		return MemoryUpdate{}, err
	}
	mu.Summary = strings.TrimSpace(mu.Summary)
	return mu, nil
}
