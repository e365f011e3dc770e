// Package ai wraps the language model backends behind one Provider interface.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keshon/companion/pkg/logx"
	"github.com/keshon/companion/pkg/retrylimit"
)

// ErrQuota is returned when the call quota is exhausted.
var ErrQuota = errors.New("ai: call quota exhausted")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

func System(content string) Message { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: RoleUser, Content: content} }

type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Config selects and tunes the model backend.
type Config struct {
	Provider        string        `env:"AI_PROVIDER" envDefault:"gemini"`
	GeminiAPIKey    string        `env:"GEMINI_API_KEY"`
	GeminiBaseURL   string        `env:"GEMINI_BASE_URL"`
	Model           string        `env:"AI_MODEL" envDefault:"gemini-2.5-flash"`
	Temperature     float32       `env:"AI_TEMPERATURE" envDefault:"0.9"`
	MaxTokens       int           `env:"AI_MAX_TOKENS" envDefault:"1024"`
	PollinationsURL string        `env:"POLLINATIONS_URL" envDefault:"https://text.pollinations.ai/openai"`
	Timeout         time.Duration `env:"AI_TIMEOUT" envDefault:"25s"`
	MaxAttempts     int           `env:"AI_MAX_ATTEMPTS" envDefault:"3"`
	PerMinute       int           `env:"AI_CALLS_PER_MINUTE" envDefault:"20"`
	PerHour         int           `env:"AI_CALLS_PER_HOUR" envDefault:"600"`
	Cooldown        time.Duration `env:"AI_SCOPE_COOLDOWN" envDefault:"0s"`
}

// NewProvider builds the configured backend wrapped in retry and quota limits.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "gemini", "":
		g, err := NewGeminiProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p = g
	case "pollinations":
		p = NewPollinationsProvider(cfg.PollinationsURL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unsupported AI_PROVIDER: %s", cfg.Provider)
	}
	return NewLimited(p, cfg), nil
}

type scopeKey struct{}

// WithScope tags ctx with the conversation a call is made for, so the quota
// cooldown applies per conversation.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

func scopeOf(ctx context.Context) string {
	if s, ok := ctx.Value(scopeKey{}).(string); ok {
		return s
	}
	return "global"
}

// Limited applies the call quota and retries with adaptive rate limiting.
type Limited struct {
	next     Provider
	lim      *retrylimit.AdaptiveLimiter
	quota    *retrylimit.Quota
	attempts int
	now      func() time.Time
}

func NewLimited(next Provider, cfg Config) *Limited {
	return &Limited{
		next:     next,
		lim:      retrylimit.NewAdaptiveLimiter(2, 1, 5, 1, 0.5),
		quota:    retrylimit.NewQuota(cfg.PerMinute, cfg.PerHour, cfg.Cooldown),
		attempts: cfg.MaxAttempts,
		now:      time.Now,
	}
}

func (l *Limited) Generate(ctx context.Context, messages []Message) (string, error) {
	scope := scopeOf(ctx)
	if !l.quota.Allow(scope, l.now()) {
		lg := logx.With("ai")
		lg.Warn().Str("scope", scope).Msg("call skipped, quota exhausted")
		return "", ErrQuota
	}
	var out string
	err := retrylimit.WithRetryMax(ctx, func() error {
		reply, err := l.next.Generate(ctx, messages)
		if err != nil {
			return err
		}
		out = reply
		return nil
	}, l.lim, l.attempts)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return out, nil
}
