// Package index keeps chunk embeddings in memory and answers nearest
// neighbour queries by cosine similarity.
//
// Vectors are L2-normalized once when they are added, so a search is a dot
// product per record. All mutations happen under a write lock in a single
// step; readers never observe a partially applied insert or replace.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/felixgeelhaar/diario/internal/fault"
)

// ErrZeroVector is returned for embeddings with no direction.
var ErrZeroVector = fault.Define(fault.ErrInput, "zero-length embedding vector")

// Chunk is the metadata kept for every indexed vector.
type Chunk struct {
	ID         string
	SourceDate string // YYYY-MM-DD, compares lexically in date order
	Seq        int
	Start      int
	End        int
	Text       string
}

// ChunkID builds the stable identifier of the seq-th chunk of an entry.
func ChunkID(date string, seq int) string {
	return fmt.Sprintf("%s#%04d", date, seq)
}

// Record pairs a chunk with its normalized vector.
type Record struct {
	Chunk  Chunk
	Vector []float32
}

// Hit is a search result.
type Hit struct {
	Chunk Chunk
	Score float32
}

// DuplicateChunkError is returned by Add when the id exists and replace is
// false.
type DuplicateChunkError struct {
	ID string
}

func (e *DuplicateChunkError) Error() string {
	return fmt.Sprintf("chunk %s already indexed", e.ID)
}

func (e *DuplicateChunkError) Is(target error) bool {
	return target == fault.ErrInput
}

// IncompatibleError reports vectors or a stored index that do not match the
// active embedding model.
type IncompatibleError struct {
	WantModel string
	GotModel  string
	WantDim   int
	GotDim    int
}

func (e *IncompatibleError) Error() string {
	if e.WantModel != e.GotModel {
		return fmt.Sprintf("index built with model %q (dimension %d), active model is %q (dimension %d)",
			e.GotModel, e.GotDim, e.WantModel, e.WantDim)
	}
	return fmt.Sprintf("vector dimension %d does not match index dimension %d", e.GotDim, e.WantDim)
}

func (e *IncompatibleError) Is(target error) bool {
	return target == fault.ErrIntegrity
}

// Index is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	model   string
	dim     int
	records map[string]Record
}

// New creates an empty index for vectors of the given model. A zero dim is
// fixed by the first vector added.
func New(model string, dim int) *Index {
	return &Index{
		model:   model,
		dim:     dim,
		records: make(map[string]Record),
	}
}

func (ix *Index) Model() string {
	return ix.model
}

// Dimension returns the vector length, or 0 before the first insert.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Add indexes vec for chunk. Re-adding an existing id fails with
// DuplicateChunkError unless replace is set, in which case the old vector
// is swapped out.
func (ix *Index) Add(chunk Chunk, vec []float32, replace bool) error {
	norm, err := normalize(vec)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", chunk.ID, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.checkDim(len(norm)); err != nil {
		return err
	}
	if _, exists := ix.records[chunk.ID]; exists && !replace {
		return &DuplicateChunkError{ID: chunk.ID}
	}
	ix.setDim(len(norm))
	ix.records[chunk.ID] = Record{Chunk: chunk, Vector: norm}
	return nil
}

// ReplaceSource swaps every chunk of date for records in one step. Vectors
// in records are normalized here. It returns how many old chunks went away.
func (ix *Index) ReplaceSource(date string, records []Record) (int, error) {
	prepared := make([]Record, len(records))
	for i, r := range records {
		norm, err := normalize(r.Vector)
		if err != nil {
			return 0, fmt.Errorf("chunk %s: %w", r.Chunk.ID, err)
		}
		if r.Chunk.SourceDate != date {
			return 0, fmt.Errorf("chunk %s belongs to %s, not %s: %w", r.Chunk.ID, r.Chunk.SourceDate, date, fault.ErrInput)
		}
		prepared[i] = Record{Chunk: r.Chunk, Vector: norm}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, r := range prepared {
		if err := ix.checkDim(len(r.Vector)); err != nil {
			return 0, err
		}
	}

	removed := ix.removeSourceLocked(date)
	for _, r := range prepared {
		ix.setDim(len(r.Vector))
		ix.records[r.Chunk.ID] = r
	}
	return removed, nil
}

// RemoveSource drops every chunk of date.
func (ix *Index) RemoveSource(date string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeSourceLocked(date)
}

func (ix *Index) removeSourceLocked(date string) int {
	removed := 0
	for id, r := range ix.records {
		if r.Chunk.SourceDate == date {
			delete(ix.records, id)
			removed++
		}
	}
	return removed
}

// Sources lists the dates that have at least one chunk, ascending.
func (ix *Index) Sources() []string {
	ix.mu.RLock()
	seen := make(map[string]struct{})
	for _, r := range ix.records {
		seen[r.Chunk.SourceDate] = struct{}{}
	}
	ix.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Search returns up to k chunks ordered by descending similarity to q.
// Equal scores favour the more recent entry. An index holding fewer than k
// chunks returns all of them.
func (ix *Index) Search(q []float32, k int) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if k <= 0 || len(ix.records) == 0 {
		return []Hit{}, nil
	}
	if len(q) != ix.dim {
		return nil, &IncompatibleError{WantModel: ix.model, GotModel: ix.model, WantDim: ix.dim, GotDim: len(q)}
	}

	query, err := normalize(q)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(ix.records))
	for _, r := range ix.records {
		hits = append(hits, Hit{Chunk: r.Chunk, Score: dot(query, r.Vector)})
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.SourceDate != b.Chunk.SourceDate {
			return a.Chunk.SourceDate > b.Chunk.SourceDate
		}
		return a.Chunk.ID < b.Chunk.ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (ix *Index) checkDim(n int) error {
	if ix.dim != 0 && n != ix.dim {
		return &IncompatibleError{WantModel: ix.model, GotModel: ix.model, WantDim: ix.dim, GotDim: n}
	}
	return nil
}

func (ix *Index) setDim(n int) {
	if ix.dim == 0 {
		ix.dim = n
	}
}

// Snapshot is the persisted form of an index.
type Snapshot struct {
	Model     string
	Dimension int
	Records   []Record
}

// Persister stores and restores snapshots.
type Persister interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	// LoadSnapshot returns nil, nil when nothing was saved yet.
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
}

// Snapshot copies the index state, records ordered by id.
func (ix *Index) Snapshot() *Snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	snap := &Snapshot{
		Model:     ix.model,
		Dimension: ix.dim,
		Records:   make([]Record, 0, len(ix.records)),
	}
	for _, r := range ix.records {
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		snap.Records = append(snap.Records, Record{Chunk: r.Chunk, Vector: vec})
	}
	sort.Slice(snap.Records, func(i, j int) bool {
		return snap.Records[i].Chunk.ID < snap.Records[j].Chunk.ID
	})
	return snap
}

// Restore replaces the index content with snap. Vectors are taken as stored
// (already normalized). A snapshot from another model or dimension fails
// with IncompatibleError and leaves the index untouched.
func (ix *Index) Restore(snap *Snapshot) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	incompatible := &IncompatibleError{WantModel: ix.model, GotModel: snap.Model, WantDim: ix.dim, GotDim: snap.Dimension}
	if snap.Model != "" && ix.model != "" && snap.Model != ix.model {
		return incompatible
	}
	if ix.dim != 0 && snap.Dimension != 0 && snap.Dimension != ix.dim {
		return incompatible
	}

	dim := ix.dim
	if dim == 0 {
		dim = snap.Dimension
	}
	records := make(map[string]Record, len(snap.Records))
	for _, r := range snap.Records {
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim {
			incompatible.GotDim = len(r.Vector)
			incompatible.WantDim = dim
			return incompatible
		}
		records[r.Chunk.ID] = r
	}

	ix.dim = dim
	ix.records = records
	return nil
}

// Save persists a snapshot. The lock is released before p is called.
func (ix *Index) Save(ctx context.Context, p Persister) error {
	return p.SaveSnapshot(ctx, ix.Snapshot())
}

// Load restores the index from p. Nothing saved yet is not an error.
func (ix *Index) Load(ctx context.Context, p Persister) error {
	snap, err := p.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	return ix.Restore(snap)
}

func normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrZeroVector
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out, nil
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
