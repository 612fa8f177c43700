// Package indexer keeps the vector index in step with the diary: it chunks
// and embeds entries when they are saved and rebuilds the whole index on
// demand.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/diario/internal/chunker"
	"github.com/felixgeelhaar/diario/internal/diary"
	"github.com/felixgeelhaar/diario/internal/fault"
	"github.com/felixgeelhaar/diario/internal/index"
	"github.com/felixgeelhaar/diario/internal/observe"
	"github.com/felixgeelhaar/diario/internal/provider"
	"github.com/felixgeelhaar/diario/internal/ui"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent embedding calls per entry.
const DefaultWorkers = 4

// EntryStore is where diary entries live.
type EntryStore interface {
	Save(date, text string) error
	Get(date string) (diary.Entry, error)
	Dates() ([]string, error)
}

// Report summarizes an indexing run.
type Report struct {
	Entries int `json:"entries"` // entries visited
	Chunks  int `json:"chunks"`  // chunks produced by the chunker
	Indexed int `json:"indexed"` // chunks embedded and stored
	Failed  int `json:"failed"`  // chunks or entries skipped after an error
	Empty   int `json:"empty"`   // entries with no text
	Removed int `json:"removed"` // stale chunks dropped
}

// Partial reports whether anything was skipped.
func (r Report) Partial() bool {
	return r.Failed > 0
}

func (r *Report) add(o Report) {
	r.Entries += o.Entries
	r.Chunks += o.Chunks
	r.Indexed += o.Indexed
	r.Failed += o.Failed
	r.Empty += o.Empty
	r.Removed += o.Removed
}

type Options struct {
	Chunking chunker.Options
	Workers  int
}

type Indexer struct {
	entries   EntryStore
	embedder  provider.Embedder
	index     *index.Index
	persister index.Persister
	opts      Options
	obs       *observe.Observer
	ui        ui.UI

	// rebuildMu is held shared by saves and exclusively by Reindex, so an
	// entry saved during a rebuild is neither dropped as orphaned nor
	// overwritten with chunks read before the save.
	rebuildMu sync.RWMutex
	// writeMu orders index writes with their snapshots.
	writeMu sync.Mutex
}

// New returns an Indexer. persister may be nil to keep the index in memory
// only. The chunking options are validated here.
func New(entries EntryStore, embedder provider.Embedder, ix *index.Index, persister index.Persister, opts Options, obs *observe.Observer) (*Indexer, error) {
	if err := opts.Chunking.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Indexer{
		entries:   entries,
		embedder:  embedder,
		index:     ix,
		persister: persister,
		opts:      opts,
		obs:       observe.OrNop(obs),
		ui:        ui.Silent{},
	}, nil
}

// SetUI routes re-index progress to u.
func (ix *Indexer) SetUI(u ui.UI) {
	if u == nil {
		u = ui.Silent{}
	}
	ix.ui = u
}

func (ix *Indexer) Index() *index.Index {
	return ix.index
}

// SaveEntry stores text under date and re-indexes it. Chunks of a previous
// version of the entry are replaced.
func (ix *Indexer) SaveEntry(ctx context.Context, date, text string) (Report, error) {
	date, err := diary.ParseDate(date)
	if err != nil {
		return Report{}, err
	}

	ix.rebuildMu.RLock()
	defer ix.rebuildMu.RUnlock()
	if err := ix.entries.Save(date, text); err != nil {
		return Report{}, fmt.Errorf("failed to save entry: %w", err)
	}
	return ix.indexAndPersist(ctx, diary.Entry{Date: date, Text: text})
}

// IndexEntry chunks and embeds entry and swaps its chunks into the index in
// one step. Chunks that cannot be embedded are logged and skipped. When no
// chunk could be embedded the previous chunks of the entry are kept.
func (ix *Indexer) IndexEntry(ctx context.Context, entry diary.Entry) (Report, error) {
	ix.rebuildMu.RLock()
	defer ix.rebuildMu.RUnlock()
	return ix.indexAndPersist(ctx, entry)
}

func (ix *Indexer) indexAndPersist(ctx context.Context, entry diary.Entry) (Report, error) {
	rep, err := ix.indexEntry(ctx, entry)
	if err != nil {
		return rep, err
	}
	if rep.Indexed > 0 || rep.Removed > 0 {
		if err := ix.persist(ctx); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (ix *Indexer) indexEntry(ctx context.Context, entry diary.Entry) (Report, error) {
	ctx, span := ix.obs.StartSpan(ctx, "indexer.IndexEntry")
	defer span.End()
	span.SetAttributes(attribute.String("date", entry.Date))

	rep := Report{Entries: 1}
	spans, err := chunker.Chunk(entry.Text, ix.opts.Chunking)
	if err != nil {
		return rep, err
	}
	rep.Chunks = len(spans)

	if len(spans) == 0 {
		rep.Empty = 1
		ix.obs.Log().Info().Str("date", entry.Date).Msg("entry is empty, nothing to index")
		ix.writeMu.Lock()
		rep.Removed = ix.index.RemoveSource(entry.Date)
		ix.writeMu.Unlock()
		return rep, nil
	}

	vectors := make([][]float32, len(spans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Workers)
	for i, sp := range spans {
		g.Go(func() error {
			vec, err := ix.embedder.Embed(gctx, sp.Text)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				ix.obs.Log().Warn().Str("date", entry.Date).Int("seq", sp.Seq).Err(err).Msg("skipping chunk that could not be embedded")
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, fmt.Errorf("indexing %s interrupted: %w", entry.Date, err)
	}

	records := make([]index.Record, 0, len(spans))
	for i, sp := range spans {
		if vectors[i] == nil {
			rep.Failed++
			continue
		}
		records = append(records, index.Record{
			Chunk: index.Chunk{
				ID:         index.ChunkID(entry.Date, sp.Seq),
				SourceDate: entry.Date,
				Seq:        sp.Seq,
				Start:      sp.Start,
				End:        sp.End,
				Text:       sp.Text,
			},
			Vector: vectors[i],
		})
	}
	span.SetAttributes(attribute.Int("chunks", rep.Chunks), attribute.Int("failed", rep.Failed))

	if len(records) == 0 {
		ix.obs.Log().Warn().Str("date", entry.Date).Int("failed", rep.Failed).Msg("no chunk could be embedded, keeping previous index state")
		return rep, nil
	}

	ix.writeMu.Lock()
	removed, err := ix.index.ReplaceSource(entry.Date, records)
	ix.writeMu.Unlock()
	if err != nil {
		return rep, fmt.Errorf("failed to index %s: %w", entry.Date, err)
	}
	rep.Indexed = len(records)
	rep.Removed = removed

	ix.obs.Log().Info().Str("date", entry.Date).Int("chunks", rep.Indexed).Int("failed", rep.Failed).Msg("indexed entry")
	return rep, nil
}

// Reindex indexes every entry in the store and drops chunks of entries that
// no longer exist. A failing entry is logged and counted; input and
// integrity errors, which would fail every entry alike, stop the run.
// Saves issued meanwhile wait for the run to finish.
func (ix *Indexer) Reindex(ctx context.Context) (Report, error) {
	ctx, span := ix.obs.StartSpan(ctx, "indexer.Reindex")
	defer span.End()

	ix.rebuildMu.Lock()
	defer ix.rebuildMu.Unlock()

	var total Report
	dates, err := ix.entries.Dates()
	if err != nil {
		return total, fmt.Errorf("failed to list entries: %w", err)
	}
	ix.ui.UpdateStatus(fmt.Sprintf("Re-indexing %d entries with %s", len(dates), ix.embedder.Model()))

	present := make(map[string]struct{}, len(dates))
	for i, date := range dates {
		present[date] = struct{}{}

		entry, err := ix.entries.Get(date)
		if err != nil {
			total.Entries++
			total.Failed++
			ix.obs.Log().Warn().Str("date", date).Err(err).Msg("skipping unreadable entry")
			ix.ui.Log(date + ": unreadable")
			continue
		}

		rep, err := ix.indexEntry(ctx, entry)
		total.add(rep)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, fault.ErrInput) || errors.Is(err, fault.ErrIntegrity) {
				span.RecordError(err)
				return total, err
			}
			total.Failed++
			ix.obs.Log().Warn().Str("date", date).Err(err).Msg("skipping entry")
		}
		ix.ui.Log(fmt.Sprintf("%s: %d/%d chunks", date, rep.Indexed, rep.Chunks))
		ix.ui.UpdateProgress(i+1, len(dates))
	}

	ix.writeMu.Lock()
	for _, src := range ix.index.Sources() {
		if _, ok := present[src]; !ok {
			total.Removed += ix.index.RemoveSource(src)
		}
	}
	ix.writeMu.Unlock()

	if err := ix.persist(ctx); err != nil {
		return total, err
	}

	span.SetAttributes(attribute.Int("entries", total.Entries), attribute.Int("failed", total.Failed))
	ix.obs.Log().Info().
		Int("entries", total.Entries).
		Int("indexed", total.Indexed).
		Int("failed", total.Failed).
		Msg("re-index finished")
	ix.ui.UpdateStatus("Done")
	return total, nil
}

func (ix *Indexer) persist(ctx context.Context) error {
	if ix.persister == nil {
		return nil
	}
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if err := ix.index.Save(ctx, ix.persister); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}
	return nil
}
