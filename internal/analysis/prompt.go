// Package analysis turns channel history into gauge stimuli and turns gauge state
// into the lines the agent says. Every call goes through an ai.Provider.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/keshon/companion/internal/ai"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/pkg/logx"
	"github.com/rs/zerolog"
)

// ErrNoJSON is returned when a model reply carries no JSON object.
var ErrNoJSON = errors.New("analysis: reply has no JSON object")

// Character budgets for prompt sections, about four characters per token.
const (
	MaxPersonaChars  = 2400
	MaxSummaryChars  = 1600
	MaxHistoryChars  = 6000
	MaxMessageChars  = 500
	MaxFactsIncluded = 10
)

// TrimToChars truncates s to maxChars runes, cutting at a word boundary when one is close.
func TrimToChars(s string, maxChars int) string {
	r := []rune(s)
	if maxChars <= 0 || len(r) <= maxChars {
		return s
	}
	out := string(r[:maxChars])
	if i := strings.LastIndex(out, " "); i > len(out)/2 {
		return strings.TrimSpace(out[:i])
	}
	return strings.TrimSpace(out)
}

// FormatMessage renders one history line as "[id:seq user nick time] content".
func FormatMessage(m chat.Message) string {
	return fmt.Sprintf("[id:%d %s %s %s] %s",
		m.Seq, m.UserID, m.Nick, m.Timestamp.UTC().Format("2006-01-02 15:04"),
		TrimToChars(strings.TrimSpace(m.Content), MaxMessageChars))
}

// FormatHistory renders messages oldest first, dropping the oldest lines past maxChars.
func FormatHistory(msgs []chat.Message, maxChars int) string {
	lines := make([]string, 0, len(msgs))
	total := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		line := FormatMessage(msgs[i])
		if maxChars > 0 && total+len(line) > maxChars {
			break
		}
		total += len(line) + 1
		lines = append(lines, line)
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

// Analyzer runs the structured model calls.
type Analyzer struct {
	ai  ai.Provider
	log zerolog.Logger
}

func New(provider ai.Provider) *Analyzer {
	return &Analyzer{ai: provider, log: logx.With("analysis")}
}

// generateJSON sends system and user prompts and decodes the JSON object of the reply into dst.
func (a *Analyzer) generateJSON(ctx context.Context, scope, system, user string, dst any) error {
	return generateJSON(ctx, a.ai, scope, system, user, dst)
}

func generateJSON(ctx context.Context, p ai.Provider, scope, system, user string, dst any) error {
	reply, err := p.Generate(ai.WithScope(ctx, scope), []ai.Message{ai.System(system), ai.User(user)})
	if err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}
	raw, ok := ai.ExtractJSON(reply)
	if !ok {
		return fmt.Errorf("%s: %w", scope, ErrNoJSON)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("%s: decode reply: %w", scope, err)
	}
	return nil
}
