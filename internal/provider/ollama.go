package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/ollama/ollama/api"
)

type OllamaProvider struct {
	client     *api.Client
	model      string
	embedModel string
}

// NewOllamaProvider talks to a local Ollama server. An empty host falls back
// to OLLAMA_HOST and then to the default port.
func NewOllamaProvider(host, model, embedModel string) (*OllamaProvider, error) {
	if model == "" {
		model = "llama3.2"
	}
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}

	baseURL := "http://localhost:11434"
	if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
		baseURL = envURL
	}
	if host != "" {
		baseURL = host
	}
	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	return &OllamaProvider{
		client:     api.NewClient(uri, http.DefaultClient),
		model:      model,
		embedModel: embedModel,
	}, nil
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) Model() string {
	return "ollama/" + p.embedModel
}

func (p *OllamaProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if err := checkInput(prompt); err != nil {
		return "", err
	}

	req := &api.ChatRequest{
		Model:    p.model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   new(bool), // false
	}

	var out strings.Builder
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", unavailable(ErrModelUnavailable, "ollama chat", ollamaStatus(err), err)
	}

	if strings.TrimSpace(out.String()) == "" {
		return "", emptyResponse("ollama chat")
	}
	return out.String(), nil
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkInput(text); err != nil {
		return nil, err
	}

	req := &api.EmbeddingRequest{
		Model:  p.embedModel,
		Prompt: text,
	}
	resp, err := p.client.Embeddings(ctx, req)
	if err != nil {
		return nil, unavailable(ErrEmbeddingUnavailable, "ollama embed", ollamaStatus(err), err)
	}
	if len(resp.Embedding) == 0 {
		return nil, unavailable(ErrEmbeddingUnavailable, "ollama embed", 0, errors.New("no embedding returned"))
	}

	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func ollamaStatus(err error) int {
	var se api.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
