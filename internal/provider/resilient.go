package provider

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/diario/internal/fault"
	"github.com/felixgeelhaar/diario/internal/retry"
)

// ResilientEmbedder retries transient embedding failures. Input errors such
// as blank text fail on the first attempt.
type ResilientEmbedder struct {
	inner  Embedder
	policy retry.Policy
}

func Resilient(e Embedder, policy retry.Policy) *ResilientEmbedder {
	return &ResilientEmbedder{inner: e, policy: policy}
}

func (r *ResilientEmbedder) Model() string {
	return r.inner.Model()
}

func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkInput(text); err != nil {
		return nil, err
	}
	vec, _, err := retry.Value(ctx, r.policy, fault.Retryable, func(ctx context.Context) ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
	return vec, err
}

// dimensionSample is embedded once to learn a model's vector length.
const dimensionSample = "diario dimension check"

// Dimension embeds a fixed sample with e and returns the vector length.
func Dimension(ctx context.Context, e Embedder) (int, error) {
	vec, err := e.Embed(ctx, dimensionSample)
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding dimension of %s: %w", e.Model(), err)
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("%s: embedding has no dimensions: %w", e.Model(), ErrModelEmptyResponse)
	}
	return len(vec), nil
}
