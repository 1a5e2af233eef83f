// Package llm builds chat models for session configurations. Both providers
// speak the OpenAI-compatible chat API: hosted OpenAI with the session's
// credential, local Ollama through its /v1 endpoint.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	// Ollama ignores the key but the OpenAI client requires one.
	ollamaPlaceholderKey = "ollama"
)

type Config struct {
	OpenAIBaseURL string        `envconfig:"OPENAI_BASE_URL" split_words:"true"`
	OllamaBaseURL string        `envconfig:"OLLAMA_BASE_URL" split_words:"true" default:"http://localhost:11434/v1"`
	Timeout       time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
	MaxTokens     int           `envconfig:"MAX_TOKENS" split_words:"true" default:"2000"`
	Temperature   float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
}

type Factory struct {
	cfg Config
}

func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// New builds a tool-calling chat model for the session configuration. The
// openai provider requires the session credential; ollama runs without one.
func (f *Factory) New(ctx context.Context, sc contractx.SessionConfig, credential string) (einomodel.ToolCallingChatModel, error) {
	modelName := strings.TrimSpace(sc.Model)
	if modelName == "" {
		return nil, fmt.Errorf("%w: model name is required", contractx.ErrValidation)
	}

	var baseURL, apiKey string
	switch strings.ToLower(strings.TrimSpace(sc.Provider)) {
	case ProviderOpenAI:
		if strings.TrimSpace(credential) == "" {
			return nil, fmt.Errorf("%w: provider openai needs an api key", contractx.ErrCredentialMissing)
		}
		baseURL = strings.TrimRight(f.cfg.OpenAIBaseURL, "/")
		apiKey = strings.TrimSpace(credential)
	case "", ProviderOllama:
		baseURL = strings.TrimRight(f.cfg.OllamaBaseURL, "/")
		apiKey = ollamaPlaceholderKey
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", contractx.ErrValidation, sc.Provider)
	}

	temperature := sc.Temperature
	if temperature <= 0 {
		temperature = f.cfg.Temperature
	}
	maxTokens := sc.MaxTokens
	if maxTokens <= 0 {
		maxTokens = f.cfg.MaxTokens
	}

	conf := &openaimodel.ChatModelConfig{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       modelName,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		Timeout:     f.cfg.Timeout,
	}

	m, err := openaimodel.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("%w: create chat model %s/%s: %v", contractx.ErrModelInvoke, sc.Provider, modelName, err)
	}
	return m, nil
}
