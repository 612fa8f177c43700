package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type GeminiProvider struct {
	client     *genai.Client
	model      string
	embedModel string
}

func NewGeminiProvider(ctx context.Context, apiKey, model, embedModel string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	if model == "" {
		model = "gemini-1.5-flash"
	}
	if embedModel == "" {
		embedModel = "text-embedding-004"
	}

	return &GeminiProvider{
		client:     client,
		model:      model,
		embedModel: embedModel,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Model() string {
	return "gemini/" + p.embedModel
}

// Close releases the underlying gRPC connection.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if err := checkInput(prompt); err != nil {
		return "", err
	}

	resp, err := p.client.GenerativeModel(p.model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", fmt.Errorf("gemini completion blocked: %w: %v", ErrModelEmptyResponse, blocked)
		}
		return "", unavailable(ErrModelUnavailable, "gemini completion", grpcStatus(err), err)
	}

	var out strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				out.WriteString(string(t))
			}
		}
		break
	}

	if strings.TrimSpace(out.String()) == "" {
		return "", emptyResponse("gemini completion")
	}
	return out.String(), nil
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkInput(text); err != nil {
		return nil, err
	}

	res, err := p.client.EmbeddingModel(p.embedModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, unavailable(ErrEmbeddingUnavailable, "gemini embed", grpcStatus(err), err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, unavailable(ErrEmbeddingUnavailable, "gemini embed", 0, errors.New("no embedding returned"))
	}
	return res.Embedding.Values, nil
}

// grpcStatus translates a gRPC code into the HTTP status transientStatus
// understands.
func grpcStatus(err error) int {
	switch status.Code(err) {
	case codes.Unavailable, codes.Internal, codes.Unknown, codes.Aborted:
		return 503
	case codes.ResourceExhausted:
		return 429
	case codes.DeadlineExceeded:
		return 408
	default:
		return 400
	}
}
