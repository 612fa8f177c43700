// Package retriever finds the diary passages most relevant to a question.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/diario/internal/fault"
	"github.com/felixgeelhaar/diario/internal/index"
	"github.com/felixgeelhaar/diario/internal/observe"
	"github.com/felixgeelhaar/diario/internal/provider"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultK is the number of passages returned when none is requested.
const DefaultK = 5

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = fault.Define(fault.ErrInput, "question is empty")

// Passage is a diary excerpt ranked for a question.
type Passage struct {
	ChunkID string  `json:"chunk_id"`
	Date    string  `json:"date"`
	Text    string  `json:"text"`
	Score   float32 `json:"score"`
}

// Searcher is the read side of the vector index.
type Searcher interface {
	Len() int
	Search(q []float32, k int) ([]index.Hit, error)
}

type Retriever struct {
	embedder provider.Embedder
	index    Searcher
	k        int
	obs      *observe.Observer
}

// New returns a Retriever. k <= 0 selects DefaultK.
func New(embedder provider.Embedder, ix Searcher, k int, obs *observe.Observer) *Retriever {
	if k <= 0 {
		k = DefaultK
	}
	return &Retriever{embedder: embedder, index: ix, k: k, obs: observe.OrNop(obs)}
}

func (r *Retriever) K() int {
	return r.k
}

// Retrieve embeds question and returns up to k passages, best first. k <= 0
// uses the configured default. An empty index yields no passages and the
// embedder is not called.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]Passage, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = r.k
	}

	ctx, span := r.obs.StartSpan(ctx, "retriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if r.index.Len() == 0 {
		r.obs.Log().Info().Msg("index is empty, nothing to retrieve")
		return []Passage{}, nil
	}

	q, err := r.embedder.Embed(ctx, question)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	hits, err := r.index.Search(q, k)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	passages := make([]Passage, len(hits))
	for i, h := range hits {
		passages[i] = Passage{
			ChunkID: h.Chunk.ID,
			Date:    h.Chunk.SourceDate,
			Text:    h.Chunk.Text,
			Score:   h.Score,
		}
	}
	span.SetAttributes(attribute.Int("passages", len(passages)))
	r.obs.Log().Debug().Int("passages", len(passages)).Msg("retrieved diary passages")
	return passages, nil
}
