package langchain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quailyquaily/deskmate/llm"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	OllamaHost string
}

// Client adapts a langchaingo model to llm.Client.
type Client struct {
	model     llms.Model
	modelName string
}

func New(cfg Config) (*Client, error) {
	var model llms.Model
	var err error

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai api key is required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if base := strings.TrimSpace(cfg.BaseURL); base != "" {
			opts = append(opts, openai.WithBaseURL(base))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic api key is required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported langchain provider: %s", cfg.Provider)
	}

	return NewWithModel(model, cfg.Model), nil
}

func NewWithModel(model llms.Model, modelName string) *Client {
	return &Client{model: model, modelName: strings.TrimSpace(modelName)}
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	if c == nil || c.model == nil {
		return llm.Result{}, fmt.Errorf("langchain client is not initialized")
	}
	start := time.Now()

	messages := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, llms.TextParts(messageType(m.Role), m.Content))
	}

	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = c.modelName
	}
	var opts []llms.CallOption
	if modelName != "" {
		opts = append(opts, llms.WithModel(modelName))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*req.Temperature))
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return llm.Result{}, fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.Result{}, fmt.Errorf("no response choices")
	}

	choice := resp.Choices[0]
	usage := llm.Usage{
		InputTokens:  firstInt(choice.GenerationInfo, "PromptTokens", "InputTokens", "prompt_tokens"),
		OutputTokens: firstInt(choice.GenerationInfo, "CompletionTokens", "OutputTokens", "completion_tokens"),
	}
	usage.TotalTokens = firstInt(choice.GenerationInfo, "TotalTokens", "total_tokens")
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return llm.Result{
		Text:     choice.Content,
		Model:    modelName,
		Usage:    usage,
		Duration: time.Since(start),
	}, nil
}

func messageType(role string) llms.ChatMessageType {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case llm.RoleSystem:
		return llms.ChatMessageTypeSystem
	case llm.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
