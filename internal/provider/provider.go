package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/diario/internal/fault"
)

var (
	// ErrEmptyInput is returned before any network call for blank text.
	ErrEmptyInput = fault.Define(fault.ErrInput, "empty text")

	ErrEmbeddingUnavailable = fault.Define(fault.ErrTransient, "embedding service unavailable")
	ErrModelUnavailable     = fault.Define(fault.ErrTransient, "language model unavailable")
	ErrModelEmptyResponse   = fault.Define(fault.ErrEmptyResponse, "model returned an empty response")

	ErrEmbeddingUnsupported = errors.New("provider does not support embeddings")
)

// Embedder maps a text to a vector. For a given Model the output is
// deterministic and its length constant.
type Embedder interface {
	// Embed returns the embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model identifies the embedding model, e.g. "ollama/nomic-embed-text".
	// It is stored with the index to detect incompatible reuse.
	Model() string
}

// Completer turns a prompt into model output.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Provider is a model backend. Completion-only backends return
// ErrEmbeddingUnsupported from Embed.
type Provider interface {
	Completer
	Embedder

	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

func checkInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	return nil
}

// transientStatus reports whether an HTTP status is worth retrying.
// Zero means the request never got a response.
func transientStatus(code int) bool {
	return code == 0 || code == 408 || code == 429 || code >= 500
}

// unavailable wraps err with the sentinel when it is transient and leaves
// permanent failures (bad key, unknown model) unclassified.
func unavailable(sentinel error, op string, code int, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s canceled: %w", op, err)
	}
	if transientStatus(code) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s failed: %w: %w", op, sentinel, err)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

func emptyResponse(op string) error {
	return fmt.Errorf("%s: %w", op, ErrModelEmptyResponse)
}
