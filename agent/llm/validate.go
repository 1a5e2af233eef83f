package llm

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
)

// ValidateKey checks an OpenAI-compatible API key by listing models. A key
// that cannot list models is rejected before it is ever stored.
func ValidateKey(ctx context.Context, baseURL, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("%w: api key is empty", contractx.ErrCredentialMissing)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}

	client := openaisdk.NewClient(opts...)
	if _, err := client.Models.List(ctx); err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrCredentialMissing, err)
	}
	return nil
}
