package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/felixgeelhaar/diario/internal/chat"
	"github.com/felixgeelhaar/diario/internal/config"
	"github.com/felixgeelhaar/diario/internal/diary"
	"github.com/felixgeelhaar/diario/internal/fault"
	"github.com/felixgeelhaar/diario/internal/generator"
	"github.com/felixgeelhaar/diario/internal/index"
	"github.com/felixgeelhaar/diario/internal/indexer"
	"github.com/felixgeelhaar/diario/internal/observe"
	"github.com/felixgeelhaar/diario/internal/provider"
	"github.com/felixgeelhaar/diario/internal/retriever"
	"github.com/felixgeelhaar/diario/internal/secret"
	"github.com/felixgeelhaar/diario/internal/store"
	"github.com/spf13/cobra"
)

// App wires the diary, the index and the chat for one command run.
type App struct {
	Config  *config.Config
	Obs     *observe.Observer
	Store   *store.SQLiteStore
	Vault   *secret.Vault
	Entries *diary.FileStore
	Index   *index.Index
	Indexer *indexer.Indexer
	Chat    *chat.Service

	closers []io.Closer
}

type appOptions struct {
	// freshIndex starts from an empty index instead of the persisted one,
	// for a rebuild after the embedding model changed.
	freshIndex bool
}

func newApp(cmd *cobra.Command, opts appOptions) (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openApp(cmd.Context(), cfg, newObserver(cmd), opts)
}

func openApp(ctx context.Context, cfg *config.Config, obs *observe.Observer, opts appOptions) (app *App, err error) {
	db, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	app = &App{Config: cfg, Obs: obs, Store: db, closers: []io.Closer{obs, db}}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	box, err := secret.NewBox()
	if err != nil {
		return nil, err
	}
	app.Vault = secret.NewVault(db, box)

	app.Entries, err = diary.NewFileStore(cfg.EntriesDir)
	if err != nil {
		return nil, err
	}

	completer, embedder, err := app.providers(ctx)
	if err != nil {
		return nil, err
	}
	resilient := provider.Resilient(embedder, cfg.EmbedPolicy())

	if opts.freshIndex {
		app.Index = index.New(embedder.Model(), 0)
	} else if app.Index, err = loadIndex(ctx, db, resilient, obs); err != nil {
		return nil, err
	}
	obs.Log().Info().Str("model", embedder.Model()).Int("chunks", app.Index.Len()).Msg("index ready")

	app.Indexer, err = indexer.New(app.Entries, resilient, app.Index, db, indexer.Options{
		Chunking: cfg.Chunking,
		Workers:  cfg.Index.Workers,
	}, obs)
	if err != nil {
		return nil, err
	}

	var turns chat.TurnStore
	if cfg.Memory.Persist {
		turns = db
	}
	gen := generator.New(completer, generator.Options{
		Policy:          cfg.CompletePolicy(),
		MaxContextChars: cfg.Retrieval.MaxContextChars,
	}, obs)
	reg := chat.NewRegistry(
		retriever.New(resilient, app.Index, cfg.Retrieval.K, obs),
		gen,
		turns,
		chat.Options{
			MaxSessions:    cfg.Sessions.Max,
			IdleTTL:        cfg.Sessions.IdleTTL,
			MemoryCapacity: cfg.Memory.Capacity,
			K:              cfg.Retrieval.K,
		},
		obs,
	)
	app.Chat = chat.NewService(reg)
	return app, nil
}

// loadIndex restores the persisted index for embedder. The active vector
// length is measured first so a stored index of another dimension is
// rejected here rather than on the first search. When the embedding service
// is down the length is left open and checked on first use.
func loadIndex(ctx context.Context, p index.Persister, embedder provider.Embedder, obs *observe.Observer) (*index.Index, error) {
	snap, err := p.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	if snap == nil || len(snap.Records) == 0 {
		return index.New(embedder.Model(), 0), nil
	}

	dim, err := provider.Dimension(ctx, embedder)
	if err != nil {
		if !errors.Is(err, fault.ErrTransient) {
			return nil, err
		}
		obs.Log().Warn().Err(err).Msg("embedding service unavailable, index dimension not verified")
		dim = 0
	}

	ix := index.New(embedder.Model(), dim)
	if err := ix.Restore(snap); err != nil {
		var inc *index.IncompatibleError
		if errors.As(err, &inc) {
			return nil, fmt.Errorf("%w; run `diario reindex` to rebuild it", err)
		}
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	return ix, nil
}

// providers builds the completion and embedding backends. They share one
// client when the config names the same backend for both.
func (a *App) providers(ctx context.Context) (provider.Completer, provider.Embedder, error) {
	cfg := a.Config

	key, err := a.apiKey(ctx, cfg.Provider.Type, cfg.Provider.APIKeyEnv)
	if err != nil {
		return nil, nil, err
	}
	completion, err := provider.New(ctx, cfg.CompletionSettings(key))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize provider: %w", err)
	}
	a.track(completion)

	if cfg.Embedding.Provider == cfg.Provider.Type {
		return completion, completion, nil
	}

	key, err = a.apiKey(ctx, cfg.Embedding.Provider, cfg.Embedding.APIKeyEnv)
	if err != nil {
		return nil, nil, err
	}
	embedding, err := provider.New(ctx, cfg.EmbeddingSettings(key))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	a.track(embedding)
	return completion, embedding, nil
}

// apiKey returns "" when the key comes from the environment, otherwise the
// key stored with `diario config set <provider>.api_key`.
func (a *App) apiKey(ctx context.Context, providerType, envName string) (string, error) {
	if envName != "" && lookupEnv(envName) != "" {
		return "", nil
	}
	switch providerType {
	case "openai", "gemini", "anthropic":
		return a.Vault.Get(ctx, providerType+".api_key")
	}
	return "", nil
}

func (a *App) track(p provider.Provider) {
	if c, ok := p.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
