package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/keshon/companion/pkg/retrylimit"
	"google.golang.org/genai"
)

// GeminiProvider generates through an eino chat model backed by the Gemini API.
type GeminiProvider struct {
	chat model.BaseChatModel
}

func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.GeminiBaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.GeminiBaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	temperature := cfg.Temperature
	maxTokens := cfg.MaxTokens
	chat, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}
	return &GeminiProvider{chat: chat}, nil
}

func toSchema(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

func (g *GeminiProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	msg, err := g.chat.Generate(ctx, toSchema(messages))
	if err != nil {
		return "", geminiError(err)
	}
	reply := cleanReply(msg.Content)
	if reply == "" {
		return "", fmt.Errorf("gemini returned empty reply")
	}
	return reply, nil
}

// geminiError maps API errors onto retrylimit's classes: 429 and 5xx are
// retried, any other status is fatal.
func geminiError(err error) error {
	var code int
	var msg string
	var apiErr genai.APIError
	var apiPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, msg = apiErr.Code, apiErr.Message
	case errors.As(err, &apiPtr) && apiPtr != nil:
		code, msg = apiPtr.Code, apiPtr.Message
	default:
		return fmt.Errorf("gemini: %w", err)
	}
	serr := &retrylimit.StatusError{Code: code, Body: msg}
	if code != http.StatusTooManyRequests && code < 500 {
		return &retrylimit.FatalError{Err: fmt.Errorf("gemini: %w", serr)}
	}
	return fmt.Errorf("gemini: %w", serr)
}
