package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/felixgeelhaar/diario/internal/fault"
)

func chunk(date string, seq int, text string) Chunk {
	return Chunk{ID: ChunkID(date, seq), SourceDate: date, Seq: seq, Text: text, End: len(text)}
}

type memPersister struct {
	snap *Snapshot
}

func (m *memPersister) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	m.snap = snap
	return nil
}

func (m *memPersister) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	return m.snap, nil
}

func TestIndex_AddDuplicate(t *testing.T) {
	ix := New("test", 0)
	c := chunk("2025-12-14", 0, "Fui al médico")

	if err := ix.Add(c, []float32{1, 0}, false); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	err := ix.Add(c, []float32{0, 1}, false)
	var dup *DuplicateChunkError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateChunkError, got %v", err)
	}
	if dup.ID != c.ID {
		t.Errorf("expected id %s, got %s", c.ID, dup.ID)
	}
	if ix.Len() != 1 {
		t.Errorf("expected 1 record, got %d", ix.Len())
	}
}

func TestIndex_Replace(t *testing.T) {
	ix := New("test", 2)
	c := chunk("2025-12-14", 0, "Fui al médico")
	ix.Add(c, []float32{1, 0}, false)

	if err := ix.Add(c, []float32{0, 1}, true); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if ix.Len() != 1 {
		t.Fatalf("expected 1 record after replace, got %d", ix.Len())
	}

	hits, _ := ix.Search([]float32{0, 1}, 5)
	if len(hits) != 1 {
		t.Fatalf("expected a single hit, got %d", len(hits))
	}
	if hits[0].Score < 0.999 {
		t.Errorf("expected the new vector to match, score %f", hits[0].Score)
	}
	hits, _ = ix.Search([]float32{1, 0}, 5)
	if hits[0].Score > 0.001 {
		t.Errorf("expected the old vector to be gone, score %f", hits[0].Score)
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ix := New("test", 3)
	err := ix.Add(chunk("2025-12-14", 0, "x"), []float32{1, 0}, false)
	var inc *IncompatibleError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompatibleError, got %v", err)
	}
	if !errors.Is(err, fault.ErrIntegrity) {
		t.Error("expected integrity fault")
	}

	ix.Add(chunk("2025-12-14", 0, "x"), []float32{1, 0, 0}, false)
	if _, err := ix.Search([]float32{1, 0}, 1); !errors.As(err, &inc) {
		t.Errorf("expected IncompatibleError for query, got %v", err)
	}
}

func TestIndex_ZeroVector(t *testing.T) {
	ix := New("test", 0)
	err := ix.Add(chunk("2025-12-14", 0, "x"), []float32{0, 0}, false)
	if !errors.Is(err, ErrZeroVector) {
		t.Errorf("expected ErrZeroVector, got %v", err)
	}
	if ix.Dimension() != 0 {
		t.Error("expected dimension to stay unset after a rejected insert")
	}
}

func TestIndex_SearchUnderPopulated(t *testing.T) {
	ix := New("test", 2)

	hits, err := ix.Search([]float32{1, 0}, 4)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected empty result on empty index, got %v, %v", hits, err)
	}

	for i := 0; i < 3; i++ {
		ix.Add(chunk("2025-12-1"+fmt.Sprint(i), 0, "x"), []float32{1, float32(i)}, false)
		hits, err := ix.Search([]float32{1, 0}, 4)
		if err != nil {
			t.Fatalf("search failed with %d records: %v", i+1, err)
		}
		if len(hits) != i+1 {
			t.Errorf("expected %d hits, got %d", i+1, len(hits))
		}
	}

	hits, _ = ix.Search([]float32{1, 0}, 2)
	if len(hits) != 2 {
		t.Errorf("expected k=2 hits, got %d", len(hits))
	}
	hits, _ = ix.Search([]float32{1, 0}, 0)
	if len(hits) != 0 {
		t.Errorf("expected no hits for k=0, got %d", len(hits))
	}
}

func TestIndex_Ranking(t *testing.T) {
	ix := New("test", 3)
	ix.Add(chunk("2025-12-14", 0, "Fui al médico"), []float32{0.2, 1, 0}, false)
	ix.Add(chunk("2025-12-15", 0, "Hablé con mi hermana"), []float32{1, 0.1, 0}, false)
	ix.Add(chunk("2025-12-16", 0, "Nada"), []float32{0, 0, 1}, false)

	hits, err := ix.Search([]float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if hits[0].Chunk.SourceDate != "2025-12-15" {
		t.Errorf("expected 2025-12-15 first, got %s", hits[0].Chunk.SourceDate)
	}
	if hits[1].Chunk.SourceDate != "2025-12-14" {
		t.Errorf("expected 2025-12-14 second, got %s", hits[1].Chunk.SourceDate)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not in descending order at %d", i)
		}
	}
}

func TestIndex_TiesFavourRecent(t *testing.T) {
	ix := New("test", 2)
	ix.Add(chunk("2025-01-01", 0, "old"), []float32{1, 1}, false)
	ix.Add(chunk("2025-06-01", 0, "new"), []float32{1, 1}, false)
	ix.Add(chunk("2025-03-01", 0, "mid"), []float32{1, 1}, false)

	hits, _ := ix.Search([]float32{1, 1}, 3)
	want := []string{"2025-06-01", "2025-03-01", "2025-01-01"}
	for i, w := range want {
		if hits[i].Chunk.SourceDate != w {
			t.Errorf("position %d: expected %s, got %s", i, w, hits[i].Chunk.SourceDate)
		}
	}
}

func TestIndex_ReplaceSource(t *testing.T) {
	ix := New("test", 2)
	ix.Add(chunk("2025-12-14", 0, "a"), []float32{1, 0}, false)
	ix.Add(chunk("2025-12-14", 1, "b"), []float32{1, 0}, false)
	ix.Add(chunk("2025-12-15", 0, "c"), []float32{0, 1}, false)

	removed, err := ix.ReplaceSource("2025-12-14", []Record{
		{Chunk: chunk("2025-12-14", 0, "new"), Vector: []float32{0, 3}},
	})
	if err != nil {
		t.Fatalf("ReplaceSource failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 stale chunks removed, got %d", removed)
	}
	if ix.Len() != 2 {
		t.Errorf("expected 2 records, got %d", ix.Len())
	}

	_, err = ix.ReplaceSource("2025-12-14", []Record{
		{Chunk: chunk("2025-12-15", 3, "wrong date"), Vector: []float32{0, 1}},
	})
	if !errors.Is(err, fault.ErrInput) {
		t.Errorf("expected input fault for foreign chunk, got %v", err)
	}

	_, err = ix.ReplaceSource("2025-12-14", []Record{
		{Chunk: chunk("2025-12-14", 0, "bad dim"), Vector: []float32{0, 1, 2}},
	})
	if !errors.Is(err, fault.ErrIntegrity) {
		t.Errorf("expected integrity fault, got %v", err)
	}
	if ix.Len() != 2 {
		t.Errorf("expected a failed replace to leave the index untouched, got %d records", ix.Len())
	}

	if n := ix.RemoveSource("2025-12-15"); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	if got := ix.Sources(); len(got) != 1 || got[0] != "2025-12-14" {
		t.Errorf("unexpected sources %v", got)
	}
}

func TestIndex_PersistRoundTrip(t *testing.T) {
	ix := New("stub/bow-64", 0)
	vectors := [][]float32{{0.3, 0.1, 0.7}, {0.9, 0.05, 0.2}, {0.1, 0.8, 0.3}, {0.3, 0.1, 0.7}}
	for i, v := range vectors {
		ix.Add(chunk(fmt.Sprintf("2025-12-%02d", 10+i), 0, "t"), v, false)
	}

	p := &memPersister{}
	if err := ix.Save(context.Background(), p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := New("stub/bow-64", 3)
	if err := restored.Load(context.Background(), p); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	q := []float32{0.4, 0.2, 0.6}
	before, _ := ix.Search(q, 10)
	after, _ := restored.Search(q, 10)
	if len(before) != len(after) {
		t.Fatalf("expected %d hits, got %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Chunk.ID != after[i].Chunk.ID || before[i].Score != after[i].Score {
			t.Errorf("hit %d differs: %+v vs %+v", i, before[i], after[i])
		}
	}
}

func TestIndex_LoadIncompatible(t *testing.T) {
	p := &memPersister{snap: &Snapshot{
		Model:     "ollama/nomic-embed-text",
		Dimension: 768,
		Records:   []Record{{Chunk: chunk("2025-12-14", 0, "x"), Vector: make([]float32, 768)}},
	}}

	err := New("ollama/nomic-embed-text", 1024).Load(context.Background(), p)
	var inc *IncompatibleError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompatibleError for dimension, got %v", err)
	}

	err = New("openai/text-embedding-3-small", 0).Load(context.Background(), p)
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompatibleError for model tag, got %v", err)
	}

	p.snap.Records[0].Vector = make([]float32, 12)
	err = New("ollama/nomic-embed-text", 0).Load(context.Background(), p)
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompatibleError for record dimension, got %v", err)
	}
}

func TestIndex_LoadNothing(t *testing.T) {
	ix := New("test", 0)
	if err := ix.Load(context.Background(), &memPersister{}); err != nil {
		t.Fatalf("expected no error without snapshot, got %v", err)
	}
	if ix.Len() != 0 {
		t.Error("expected empty index")
	}
}

func TestIndex_ConcurrentReadWrite(t *testing.T) {
	ix := New("test", 4)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				date := fmt.Sprintf("2025-%02d-%02d", w+1, i%28+1)
				ix.ReplaceSource(date, []Record{
					{Chunk: chunk(date, 0, "a"), Vector: []float32{1, float32(i), 0, 1}},
					{Chunk: chunk(date, 1, "b"), Vector: []float32{0, 1, float32(w), 1}},
				})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				hits, err := ix.Search([]float32{1, 1, 1, 1}, 5)
				if err != nil {
					t.Errorf("search failed: %v", err)
					return
				}
				for _, h := range hits {
					if h.Chunk.ID == "" {
						t.Error("observed a record without chunk metadata")
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	if ix.Len()%2 != 0 {
		t.Errorf("expected whole entries only, got %d records", ix.Len())
	}
}
