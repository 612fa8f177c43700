package provider

import (
	"context"
	"fmt"
)

// Settings selects and configures a backend.
type Settings struct {
	Type       string
	Model      string
	EmbedModel string
	BaseURL    string
	APIKey     string
	// CLIPath forces the cli backend to a specific binary.
	CLIPath string
}

// New builds the backend named by s.Type.
func New(ctx context.Context, s Settings) (Provider, error) {
	switch s.Type {
	case "ollama", "":
		return NewOllamaProvider(s.BaseURL, s.Model, s.EmbedModel)
	case "openai":
		return NewOpenAIProvider(s.APIKey, s.BaseURL, s.Model, s.EmbedModel)
	case "gemini":
		return NewGeminiProvider(ctx, s.APIKey, s.Model, s.EmbedModel)
	case "anthropic":
		return NewAnthropicProvider(s.APIKey, s.Model)
	case "cli":
		if s.CLIPath != "" {
			return NewCLIProvider(s.CLIPath, nil)
		}
		return DetectCLIProvider()
	case "stub":
		return NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (use ollama, openai, gemini, anthropic, cli, stub)", s.Type)
	}
}
