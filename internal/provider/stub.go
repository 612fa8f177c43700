package provider

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// StubDimension is the vector length produced by StubProvider.
const StubDimension = 64

// StubProvider runs without any model. Embeddings are hashed bag-of-words
// vectors, so texts sharing words land close together, and completions
// come from a queue of canned answers.
type StubProvider struct {
	mu        sync.Mutex
	Responses []string
	Prompts   []string
}

func NewStubProvider(responses ...string) *StubProvider {
	return &StubProvider{Responses: responses}
}

func (m *StubProvider) Name() string {
	return "stub"
}

func (m *StubProvider) Model() string {
	return "stub/bow-64"
}

// Complete pops the next canned answer. With none left it reports how many
// diary passages the prompt carried.
func (m *StubProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if err := checkInput(prompt); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)

	if len(m.Responses) == 0 {
		return "I found " + strconv.Itoa(strings.Count(prompt, "\n[")) + " related diary passages.", nil
	}
	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	if strings.TrimSpace(resp) == "" {
		return "", emptyResponse("stub")
	}
	return resp, nil
}

func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkInput(text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return HashEmbedding(text, StubDimension), nil
}

// HashEmbedding folds lower-cased words into dim buckets with FNV-1a.
func HashEmbedding(text string, dim int) []float32 {
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(dim)]++
	}
	return vec
}
