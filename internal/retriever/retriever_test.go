package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/felixgeelhaar/diario/internal/fault"
	"github.com/felixgeelhaar/diario/internal/index"
)

// fixedEmbedder maps known texts to fixed vectors.
type fixedEmbedder struct {
	vectors map[string][]float32
	calls   int
	err     error
}

func (f *fixedEmbedder) Model() string { return "fixed" }

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func seeded(t *testing.T) *index.Index {
	t.Helper()
	ix := index.New("fixed", 3)
	add := func(date, text string, vec []float32) {
		c := index.Chunk{ID: index.ChunkID(date, 0), SourceDate: date, Text: text, End: len(text)}
		if err := ix.Add(c, vec, false); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	add("2025-12-14", "Fui al médico", []float32{0.1, 1, 0})
	add("2025-12-15", "Hablé con mi hermana", []float32{1, 0.1, 0})
	return ix
}

func TestRetrieve_Ranking(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float32{
		"¿Qué pasó con mi hermana?": {1, 0, 0},
	}}
	r := New(emb, seeded(t), 0, nil)

	got, err := r.Retrieve(context.Background(), "¿Qué pasó con mi hermana?", 0)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(got))
	}
	if got[0].Date != "2025-12-15" || got[0].Text != "Hablé con mi hermana" {
		t.Errorf("expected the sister entry first, got %+v", got[0])
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("expected descending scores, got %v then %v", got[0].Score, got[1].Score)
	}
	if got[0].ChunkID != "2025-12-15#0000" {
		t.Errorf("unexpected chunk id %q", got[0].ChunkID)
	}
}

func TestRetrieve_K(t *testing.T) {
	r := New(&fixedEmbedder{}, seeded(t), 4, nil)
	if r.K() != 4 {
		t.Errorf("expected k=4, got %d", r.K())
	}
	got, _ := r.Retrieve(context.Background(), "algo", 1)
	if len(got) != 1 {
		t.Errorf("expected 1 passage, got %d", len(got))
	}
	if New(&fixedEmbedder{}, seeded(t), 0, nil).K() != DefaultK {
		t.Error("expected default k")
	}
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	emb := &fixedEmbedder{}
	r := New(emb, index.New("fixed", 0), 5, nil)

	got, err := r.Retrieve(context.Background(), "¿Qué hice ayer?", 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected an empty, non-nil slice, got %#v", got)
	}
	if emb.calls != 0 {
		t.Errorf("expected the embedder not to be called, got %d calls", emb.calls)
	}
}

func TestRetrieve_Errors(t *testing.T) {
	t.Run("empty question", func(t *testing.T) {
		r := New(&fixedEmbedder{}, seeded(t), 5, nil)
		_, err := r.Retrieve(context.Background(), "  ", 0)
		if !errors.Is(err, ErrEmptyQuestion) || !errors.Is(err, fault.ErrInput) {
			t.Errorf("expected ErrEmptyQuestion, got %v", err)
		}
	})

	t.Run("embedder failure", func(t *testing.T) {
		unavailable := fault.Define(fault.ErrTransient, "down")
		r := New(&fixedEmbedder{err: unavailable}, seeded(t), 5, nil)
		_, err := r.Retrieve(context.Background(), "hola", 0)
		if !errors.Is(err, unavailable) || fault.KindOf(err) != fault.Transient {
			t.Errorf("expected transient failure, got %v", err)
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		emb := &fixedEmbedder{vectors: map[string][]float32{"hola": {1, 0}}}
		r := New(emb, seeded(t), 5, nil)
		_, err := r.Retrieve(context.Background(), "hola", 0)
		if !errors.Is(err, fault.ErrIntegrity) {
			t.Errorf("expected integrity failure, got %v", err)
		}
	})
}
