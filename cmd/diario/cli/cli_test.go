package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/diario/internal/index"
	"github.com/felixgeelhaar/diario/internal/observe"
	"github.com/felixgeelhaar/diario/internal/store"
)

// setup points the CLI at a stub provider and a throwaway data directory.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, name := range []string{"DIARIO_PROVIDER", "DIARIO_MODEL", "DIARIO_EMBED_MODEL", "DIARIO_EMBED_PROVIDER", "DIARIO_DATA_DIR", "DIARIO_ADDR"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Chdir(dir)

	cfg := "data_dir: " + filepath.Join(dir, "data") + "\nprovider:\n  type: stub\n"
	path := filepath.Join(dir, "diario.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, verbose, ciMode, providerType, modelName = "", false, true, "", ""
	askSession, chatSession, serveAddr = "", "", ""
	entryDate, entryFile, configInitForce = "", "", false

	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&bytes.Buffer{})
	RootCmd.SetIn(strings.NewReader(""))
	RootCmd.SetArgs(append([]string{"--ci"}, args...))
	err := RootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_Commands(t *testing.T) {
	want := map[string]bool{"serve": false, "ask": false, "chat": false, "entry": false, "reindex": false, "config": false}
	for _, cmd := range RootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %s not registered", name)
		}
	}
}

func TestCLI_EntryAndAsk(t *testing.T) {
	setup(t)

	out, err := run(t, "entry", "save", "--date", "2025-12-14", "Fui al médico por la mañana")
	if err != nil {
		t.Fatalf("entry save failed: %v", err)
	}
	if !strings.Contains(out, "Saved 2025-12-14: 1 chunks indexed") {
		t.Errorf("unexpected save output %q", out)
	}
	if _, err := run(t, "entry", "save", "--date", "2025-12-15", "Hablé con mi hermana sobre el médico"); err != nil {
		t.Fatalf("entry save failed: %v", err)
	}

	out, err = run(t, "entry", "list")
	if err != nil {
		t.Fatalf("entry list failed: %v", err)
	}
	if out != "2025-12-14\n2025-12-15\n" {
		t.Errorf("unexpected list output %q", out)
	}

	out, err = run(t, "entry", "show", "2025-12-15")
	if err != nil {
		t.Fatalf("entry show failed: %v", err)
	}
	if !strings.Contains(out, "hermana") {
		t.Errorf("unexpected show output %q", out)
	}

	if _, err := run(t, "entry", "show", "2025-01-01"); err == nil {
		t.Error("expected an error for a missing entry")
	}
	if _, err := run(t, "entry", "save", "--date", "2025-13-40", "x"); err == nil {
		t.Error("expected an error for an invalid date")
	}

	out, err = run(t, "ask", "¿Cuándo fui al médico?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if strings.TrimSpace(out) != "I found 2 related diary passages." {
		t.Errorf("unexpected answer %q", out)
	}
}

func TestCLI_Reindex(t *testing.T) {
	setup(t)

	if _, err := run(t, "entry", "save", "--date", "2025-12-14", "Fui al médico"); err != nil {
		t.Fatalf("entry save failed: %v", err)
	}
	out, err := run(t, "reindex")
	if err != nil {
		t.Fatalf("reindex failed: %v", err)
	}
	if !strings.Contains(out, "Reindexed 1 entries: 1 chunks indexed") {
		t.Errorf("unexpected reindex output %q", out)
	}
}

func TestCLI_Config(t *testing.T) {
	setup(t)

	if _, err := run(t, "config", "set", "openai.api_key", "sk-abcdefghijklmnop"); err != nil {
		t.Fatalf("config set failed: %v", err)
	}
	out, err := run(t, "config", "get", "openai.api_key")
	if err != nil {
		t.Fatalf("config get failed: %v", err)
	}
	if strings.Contains(out, "abcdefghijklmnop") {
		t.Errorf("expected the key to be masked, got %q", out)
	}

	run(t, "config", "set", "editor", "vim")
	out, _ = run(t, "config", "get", "editor")
	if strings.TrimSpace(out) != "vim" {
		t.Errorf("expected vim, got %q", out)
	}

	out, _ = run(t, "config", "get", "missing")
	if strings.TrimSpace(out) != "(not set)" {
		t.Errorf("expected (not set), got %q", out)
	}
}

func TestCLI_ConfigInit(t *testing.T) {
	setup(t)
	path := filepath.Join(t.TempDir(), "conf", "diario.yaml")

	if _, err := run(t, "config", "init", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if _, err := run(t, "config", "init", path); err == nil {
		t.Error("expected init to refuse overwriting")
	}
	if _, err := run(t, "config", "init", "--force", path); err != nil {
		t.Errorf("expected --force to overwrite: %v", err)
	}
}

func TestOpenApp_RejectsIndexOfOtherDimension(t *testing.T) {
	setup(t)
	configPath, providerType, modelName = "", "", ""
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	db, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	// Same model tag as the stub embedder, but 3 dimensions instead of 64.
	old := index.New("stub/bow-64", 0)
	c := index.Chunk{ID: index.ChunkID("2025-12-14", 0), SourceDate: "2025-12-14", End: 13, Text: "Fui al médico"}
	if err := old.Add(c, []float32{0.2, 0.9, 0.1}, false); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := old.Save(ctx, db); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	db.Close()

	_, err = openApp(ctx, cfg, observe.Nop(), appOptions{})
	var inc *index.IncompatibleError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompatibleError at load, got %v", err)
	}
	if !strings.Contains(err.Error(), "diario reindex") {
		t.Errorf("expected a reindex hint, got %q", err)
	}

	if _, err := run(t, "ask", "¿Cuándo fui al médico?"); !errors.As(err, &inc) {
		t.Errorf("expected ask to fail on the stale index, got %v", err)
	}

	if err := os.MkdirAll(cfg.EntriesDir, 0750); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.EntriesDir, "2025-12-14.md"), []byte("Fui al médico"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := run(t, "reindex"); err != nil {
		t.Fatalf("reindex failed: %v", err)
	}
	app, err := openApp(ctx, cfg, observe.Nop(), appOptions{})
	if err != nil {
		t.Fatalf("expected the rebuilt index to load, got %v", err)
	}
	defer app.Close()
	if app.Index.Dimension() != 64 || app.Index.Len() != 1 {
		t.Errorf("expected 1 record of dimension 64, got %d of %d", app.Index.Len(), app.Index.Dimension())
	}
}
