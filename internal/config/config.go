// Package config loads diario settings from YAML, a .env file and DIARIO_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/diario/internal/chunker"
	"github.com/felixgeelhaar/diario/internal/fault"
	"github.com/felixgeelhaar/diario/internal/provider"
	"github.com/felixgeelhaar/diario/internal/retry"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is looked up in the working directory.
const FileName = "diario.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = fault.Define(fault.ErrInput, "invalid configuration")

// ProviderConfig selects the language model backend.
type ProviderConfig struct {
	Type      string `yaml:"type"` // ollama, openai, gemini, anthropic, cli, stub
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	CLIPath   string `yaml:"cli_path,omitempty"`
}

// EmbeddingConfig selects the embedding backend. It defaults to the
// completion backend, or to ollama when that one cannot embed.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

type RetrievalConfig struct {
	K               int `yaml:"k"`
	MaxContextChars int `yaml:"max_context_chars"`
}

type MemoryConfig struct {
	Capacity int  `yaml:"capacity"`
	Persist  bool `yaml:"persist"`
}

type SessionConfig struct {
	Max     int           `yaml:"max"`
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// TimeoutConfig bounds each external call attempt.
type TimeoutConfig struct {
	Embed    time.Duration `yaml:"embed"`
	Complete time.Duration `yaml:"complete"`
}

type RetryConfig struct {
	EmbedAttempts    int           `yaml:"embed_attempts"`
	CompleteAttempts int           `yaml:"complete_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RatePerSecond  float64  `yaml:"rate_per_second"`
	Burst          int      `yaml:"burst"`
}

type IndexConfig struct {
	Workers int `yaml:"workers"`
}

// Config is the root configuration.
type Config struct {
	DataDir    string          `yaml:"data_dir"`
	EntriesDir string          `yaml:"entries_dir"`
	Provider   ProviderConfig  `yaml:"provider"`
	Embedding  EmbeddingConfig `yaml:"embedding"`
	Chunking   chunker.Options `yaml:"chunking"`
	Retrieval  RetrievalConfig `yaml:"retrieval"`
	Memory     MemoryConfig    `yaml:"memory"`
	Sessions   SessionConfig   `yaml:"sessions"`
	Timeouts   TimeoutConfig   `yaml:"timeouts"`
	Retry      RetryConfig     `yaml:"retry"`
	Server     ServerConfig    `yaml:"server"`
	Index      IndexConfig     `yaml:"index"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Overrides come from command line flags and win over everything else.
type Overrides struct {
	Provider string
	Model    string
}

// Load reads path, or when path is empty the first of ./diario.yaml and
// ~/.diario/config.yaml that exists. No file at all yields defaults. A .env
// file in the working directory, DIARIO_* variables and o are applied on
// top. It returns the file actually read, "" when none was.
func Load(path string, o Overrides) (*Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("failed to read .env: %w", err)
	}

	if path == "" {
		path = discover()
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	if o.Provider != "" {
		cfg.Provider.Type = o.Provider
	}
	if o.Model != "" {
		cfg.Provider.Model = o.Model
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// UserPath is ~/.diario/config.yaml.
func UserPath() string {
	return filepath.Join(homeDir(), ".diario", "config.yaml")
}

func discover() string {
	for _, p := range []string{FileName, UserPath()} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func applyEnv(cfg *Config) {
	set := func(dst *string, name string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Provider.Type, "DIARIO_PROVIDER")
	set(&cfg.Provider.Model, "DIARIO_MODEL")
	set(&cfg.Embedding.Model, "DIARIO_EMBED_MODEL")
	set(&cfg.Embedding.Provider, "DIARIO_EMBED_PROVIDER")
	set(&cfg.DataDir, "DIARIO_DATA_DIR")
	set(&cfg.Server.Addr, "DIARIO_ADDR")
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(homeDir(), ".diario")
	}
	if cfg.EntriesDir == "" {
		cfg.EntriesDir = filepath.Join(cfg.DataDir, "entries")
	}
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = "ollama"
	}
	if cfg.Embedding.Provider == "" {
		switch cfg.Provider.Type {
		case "anthropic", "cli":
			cfg.Embedding.Provider = "ollama"
		default:
			cfg.Embedding.Provider = cfg.Provider.Type
		}
	}
	if cfg.Embedding.Provider == cfg.Provider.Type {
		if cfg.Embedding.BaseURL == "" {
			cfg.Embedding.BaseURL = cfg.Provider.BaseURL
		}
		if cfg.Embedding.APIKeyEnv == "" {
			cfg.Embedding.APIKeyEnv = cfg.Provider.APIKeyEnv
		}
	}
	if cfg.Provider.APIKeyEnv == "" {
		cfg.Provider.APIKeyEnv = defaultKeyEnv(cfg.Provider.Type)
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = defaultKeyEnv(cfg.Embedding.Provider)
	}
	if cfg.Chunking == (chunker.Options{}) {
		cfg.Chunking = chunker.DefaultOptions()
	}
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 5
	}
	if cfg.Retrieval.MaxContextChars == 0 {
		cfg.Retrieval.MaxContextChars = 12000
	}
	if cfg.Memory.Capacity == 0 {
		cfg.Memory.Capacity = 6
	}
	if cfg.Sessions.Max == 0 {
		cfg.Sessions.Max = 256
	}
	if cfg.Sessions.IdleTTL == 0 {
		cfg.Sessions.IdleTTL = 2 * time.Hour
	}
	if cfg.Timeouts.Embed == 0 {
		cfg.Timeouts.Embed = 15 * time.Second
	}
	if cfg.Timeouts.Complete == 0 {
		cfg.Timeouts.Complete = 60 * time.Second
	}
	if cfg.Retry.EmbedAttempts == 0 {
		cfg.Retry.EmbedAttempts = 3
	}
	if cfg.Retry.CompleteAttempts == 0 {
		cfg.Retry.CompleteAttempts = 2
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 200 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 2 * time.Second
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8000"
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"http://localhost:4321"}
	}
	if cfg.Server.RatePerSecond == 0 {
		cfg.Server.RatePerSecond = 2
	}
	if cfg.Server.Burst == 0 {
		cfg.Server.Burst = 10
	}
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = 4
	}
}

func defaultKeyEnv(providerType string) string {
	switch providerType {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	var problems []string
	if err := c.Chunking.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Retrieval.K <= 0 {
		problems = append(problems, "retrieval.k must be positive")
	}
	if c.Memory.Capacity <= 0 {
		problems = append(problems, "memory.capacity must be positive")
	}
	if c.Sessions.Max <= 0 {
		problems = append(problems, "sessions.max must be positive")
	}
	if c.Timeouts.Embed < 0 || c.Timeouts.Complete < 0 {
		problems = append(problems, "timeouts must not be negative")
	}
	if c.Server.RatePerSecond < 0 || c.Server.Burst < 0 {
		problems = append(problems, "server rate limits must not be negative")
	}
	switch c.Embedding.Provider {
	case "anthropic", "cli":
		problems = append(problems, fmt.Sprintf("embedding.provider %q cannot produce embeddings", c.Embedding.Provider))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// DBPath is the SQLite database holding the index, settings and turns.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "diario.db")
}

// EmbedPolicy is the retry policy for embedding calls.
func (c *Config) EmbedPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.EmbedAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Timeout:     c.Timeouts.Embed,
	}
}

// CompletePolicy is the retry policy for completion calls.
func (c *Config) CompletePolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.CompleteAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Timeout:     c.Timeouts.Complete,
	}
}

// CompletionSettings describes the completion backend. apiKey overrides
// the key taken from the environment.
func (c *Config) CompletionSettings(apiKey string) provider.Settings {
	if apiKey == "" && c.Provider.APIKeyEnv != "" {
		apiKey = os.Getenv(c.Provider.APIKeyEnv)
	}
	s := provider.Settings{
		Type:    c.Provider.Type,
		Model:   c.Provider.Model,
		BaseURL: c.Provider.BaseURL,
		APIKey:  apiKey,
		CLIPath: c.Provider.CLIPath,
	}
	if c.Embedding.Provider == c.Provider.Type {
		s.EmbedModel = c.Embedding.Model
	}
	return s
}

// EmbeddingSettings describes the embedding backend.
func (c *Config) EmbeddingSettings(apiKey string) provider.Settings {
	if apiKey == "" && c.Embedding.APIKeyEnv != "" {
		apiKey = os.Getenv(c.Embedding.APIKeyEnv)
	}
	return provider.Settings{
		Type:       c.Embedding.Provider,
		EmbedModel: c.Embedding.Model,
		BaseURL:    c.Embedding.BaseURL,
		APIKey:     apiKey,
	}
}
