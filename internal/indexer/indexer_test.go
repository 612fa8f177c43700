package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/felixgeelhaar/diario/internal/chunker"
	"github.com/felixgeelhaar/diario/internal/diary"
	"github.com/felixgeelhaar/diario/internal/fault"
	"github.com/felixgeelhaar/diario/internal/index"
	"github.com/felixgeelhaar/diario/internal/provider"
	"github.com/felixgeelhaar/diario/internal/store"
)

// failingEmbedder fails for texts containing any of the given markers.
type failingEmbedder struct {
	inner   provider.Embedder
	mu      sync.Mutex
	markers []string
	calls   int
}

func (f *failingEmbedder) Model() string { return f.inner.Model() }

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, m := range f.markers {
		if strings.Contains(text, m) {
			return nil, provider.ErrEmbeddingUnavailable
		}
	}
	return f.inner.Embed(ctx, text)
}

type fixture struct {
	entries *diary.FileStore
	db      *store.SQLiteStore
	emb     *failingEmbedder
	idx     *Indexer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	entries, err := diary.NewFileStore(filepath.Join(dir, "entries"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	db, err := store.NewSQLiteStore(filepath.Join(dir, "diario.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	emb := &failingEmbedder{inner: provider.NewStubProvider()}
	idx, err := New(entries, emb, index.New(emb.Model(), 0), db, opts, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &fixture{entries: entries, db: db, emb: emb, idx: idx}
}

func smallChunks() Options {
	return Options{Chunking: chunker.Options{Size: 20, Overlap: 5}, Workers: 2}
}

func TestNew_InvalidChunking(t *testing.T) {
	_, err := New(nil, provider.NewStubProvider(), index.New("stub", 0), nil, Options{Chunking: chunker.Options{Size: 10, Overlap: 10}}, nil)
	var cfgErr *chunker.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigError, got %v", err)
	}
}

func TestSaveEntry(t *testing.T) {
	f := newFixture(t, smallChunks())
	ctx := context.Background()

	rep, err := f.idx.SaveEntry(ctx, "2025-12-14", "Fui al médico por la mañana y luego caminé por el parque.")
	if err != nil {
		t.Fatalf("SaveEntry failed: %v", err)
	}
	if rep.Chunks < 2 || rep.Indexed != rep.Chunks || rep.Partial() {
		t.Errorf("unexpected report %+v", rep)
	}
	if f.idx.Index().Len() != rep.Indexed {
		t.Errorf("expected %d records, got %d", rep.Indexed, f.idx.Index().Len())
	}

	e, err := f.entries.Get("2025-12-14")
	if err != nil || !strings.HasPrefix(e.Text, "Fui al médico") {
		t.Errorf("expected the entry to be stored, got %+v, %v", e, err)
	}

	restored := index.New(f.emb.Model(), 0)
	if err := restored.Load(ctx, f.db); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if restored.Len() != rep.Indexed {
		t.Errorf("expected the index to be persisted, got %d records", restored.Len())
	}

	if _, err := f.idx.SaveEntry(ctx, "14-12-2025", "x"); !errors.Is(err, fault.ErrInput) {
		t.Errorf("expected input error for a bad date, got %v", err)
	}
}

func TestSaveEntry_ResaveRemovesStaleChunks(t *testing.T) {
	f := newFixture(t, smallChunks())
	ctx := context.Background()

	long := strings.Repeat("Hablé con mi hermana. ", 6)
	first, _ := f.idx.SaveEntry(ctx, "2025-12-15", long)
	if first.Indexed < 3 {
		t.Fatalf("expected several chunks, got %+v", first)
	}

	second, err := f.idx.SaveEntry(ctx, "2025-12-15", "Corto.")
	if err != nil {
		t.Fatalf("re-save failed: %v", err)
	}
	if second.Indexed != 1 || second.Removed != first.Indexed {
		t.Errorf("expected 1 chunk and %d removed, got %+v", first.Indexed, second)
	}
	if f.idx.Index().Len() != 1 {
		t.Errorf("expected only the new chunk, got %d records", f.idx.Index().Len())
	}

	third, _ := f.idx.SaveEntry(ctx, "2025-12-15", "   ")
	if third.Empty != 1 || third.Removed != 1 || f.idx.Index().Len() != 0 {
		t.Errorf("expected an emptied entry to drop its chunks, got %+v", third)
	}
}

func TestIndexEntry_SkipsFailedChunks(t *testing.T) {
	f := newFixture(t, smallChunks())
	f.emb.markers = []string{"ROTO"}

	text := "aaaaaaaaaaaaaaa ROTO bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	rep, err := f.idx.IndexEntry(context.Background(), diary.Entry{Date: "2025-12-16", Text: text})
	if err != nil {
		t.Fatalf("IndexEntry failed: %v", err)
	}
	if !rep.Partial() || rep.Failed == 0 || rep.Indexed == 0 {
		t.Errorf("expected partial success, got %+v", rep)
	}
	if rep.Failed+rep.Indexed != rep.Chunks {
		t.Errorf("expected every chunk accounted for, got %+v", rep)
	}
	if f.idx.Index().Len() != rep.Indexed {
		t.Errorf("expected only embedded chunks indexed, got %d", f.idx.Index().Len())
	}
}

func TestIndexEntry_AllFailedKeepsPrevious(t *testing.T) {
	f := newFixture(t, smallChunks())
	ctx := context.Background()
	f.idx.SaveEntry(ctx, "2025-12-14", "Fui al médico")

	f.emb.markers = []string{""}
	rep, err := f.idx.SaveEntry(ctx, "2025-12-14", "Fui al dentista")
	if err != nil {
		t.Fatalf("SaveEntry failed: %v", err)
	}
	if rep.Indexed != 0 || rep.Failed != 1 {
		t.Errorf("unexpected report %+v", rep)
	}
	if f.idx.Index().Len() != 1 {
		t.Errorf("expected the previous chunk to stay, got %d records", f.idx.Index().Len())
	}
}

func TestReindex(t *testing.T) {
	f := newFixture(t, smallChunks())
	ctx := context.Background()

	f.entries.Save("2025-12-14", "Fui al médico")
	f.entries.Save("2025-12-15", "Hablé con mi hermana ROTO sobre las fiestas de fin de año")
	f.entries.Save("2025-12-16", "")

	// A chunk of an entry that no longer exists on disk.
	f.idx.Index().Add(index.Chunk{ID: index.ChunkID("2024-01-01", 0), SourceDate: "2024-01-01", Text: "x"}, provider.HashEmbedding("x", provider.StubDimension), false)

	f.emb.markers = []string{"ROTO"}
	rep, err := f.idx.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
	if rep.Entries != 3 || rep.Empty != 1 {
		t.Errorf("unexpected report %+v", rep)
	}
	if !rep.Partial() {
		t.Errorf("expected partial success, got %+v", rep)
	}
	if rep.Removed != 1 {
		t.Errorf("expected the orphaned chunk removed, got %+v", rep)
	}
	for _, src := range f.idx.Index().Sources() {
		if src == "2024-01-01" || src == "2025-12-16" {
			t.Errorf("unexpected source %s in index", src)
		}
	}

	restored := index.New(f.emb.Model(), 0)
	restored.Load(ctx, f.db)
	if restored.Len() != f.idx.Index().Len() {
		t.Errorf("expected %d persisted records, got %d", f.idx.Index().Len(), restored.Len())
	}
}

func TestReindex_Canceled(t *testing.T) {
	f := newFixture(t, smallChunks())
	f.entries.Save("2025-12-14", "Fui al médico")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.idx.Reindex(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// savingStore saves another entry through the indexer the first time an
// entry is read, the way an HTTP save can land in the middle of a rebuild.
type savingStore struct {
	EntryStore
	idx  *Indexer
	once sync.Once
	done chan error
}

func (s *savingStore) Get(date string) (diary.Entry, error) {
	s.once.Do(func() {
		go func() {
			_, err := s.idx.SaveEntry(context.Background(), "2025-12-15", "Hablé con mi hermana")
			s.done <- err
		}()
	})
	return s.EntryStore.Get(date)
}

func TestReindex_ConcurrentSaveSurvives(t *testing.T) {
	f := newFixture(t, smallChunks())
	ctx := context.Background()
	if err := f.entries.Save("2025-12-14", "Fui al médico"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	wrapped := &savingStore{EntryStore: f.entries, done: make(chan error, 1)}
	idx, err := New(wrapped, f.emb, index.New(f.emb.Model(), 0), f.db, smallChunks(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	wrapped.idx = idx

	if _, err := idx.Reindex(ctx); err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
	if err := <-wrapped.done; err != nil {
		t.Fatalf("concurrent SaveEntry failed: %v", err)
	}

	got := idx.Index().Sources()
	if len(got) != 2 || got[0] != "2025-12-14" || got[1] != "2025-12-15" {
		t.Errorf("expected both entries indexed, got %v", got)
	}

	snap, err := f.db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	persisted := make(map[string]bool)
	for _, r := range snap.Records {
		persisted[r.Chunk.SourceDate] = true
	}
	if !persisted["2025-12-15"] {
		t.Errorf("expected the concurrently saved entry to be persisted, got %v", persisted)
	}
}
