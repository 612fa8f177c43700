package cli

import (
	"fmt"
	"os"

	"github.com/felixgeelhaar/diario/internal/config"
	"github.com/felixgeelhaar/diario/internal/observe"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	verbose      bool
	ciMode       bool
	providerType string
	modelName    string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "diario",
	Short: "Chat with your personal diary",
	Long: `diario keeps dated diary entries and answers questions about them.
Entries are split into chunks, embedded and indexed; questions are answered
by a language model from the most relevant passages, remembering the last
few turns of the conversation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	f := RootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "Config file (default ./diario.yaml or ~/.diario/config.yaml)")
	f.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	f.BoolVar(&ciMode, "ci", false, "CI mode: JSON logs, non-interactive output")
	f.StringVarP(&providerType, "provider", "p", "", "AI provider (ollama, openai, gemini, anthropic, cli, stub)")
	f.StringVarP(&modelName, "model", "m", "", "Model name (default depends on provider)")
}

func newObserver(cmd *cobra.Command) *observe.Observer {
	if ciMode {
		return observe.NewJSON(cmd.ErrOrStderr(), verbose)
	}
	return observe.New(cmd.ErrOrStderr(), verbose)
}

func loadConfig() (*config.Config, error) {
	cfg, _, err := config.Load(configPath, config.Overrides{Provider: providerType, Model: modelName})
	return cfg, err
}
