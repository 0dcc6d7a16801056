package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// OpenAIConfig configures the OpenAI-compatible chat adapter.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAI talks to any OpenAI-compatible chat completion endpoint through
// eino's ChatModel.
type OpenAI struct {
	chat        *openai.ChatModel
	temperature float32
	maxTokens   int
}

// NewOpenAI builds the adapter. It does not contact the endpoint.
func NewOpenAI(ctx context.Context, cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: create chat model: %w", err)
	}
	return &OpenAI{chat: chat, temperature: cfg.Temperature, maxTokens: cfg.MaxTokens}, nil
}

// Complete implements Client.
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]*schema.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, schema.SystemMessage(req.System))
	}
	messages = append(messages, schema.UserMessage(req.Prompt))

	temperature := o.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := o.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	opts := []model.Option{model.WithTemperature(temperature)}
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}

	msg, err := o.chat.Generate(ctx, messages, opts...)
	if err != nil {
		return "", Classify(req.Tag, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", &Error{Kind: KindBadResponse, Tag: req.Tag, Err: fmt.Errorf("empty completion")}
	}
	return msg.Content, nil
}
