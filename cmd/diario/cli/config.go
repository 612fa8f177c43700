package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/felixgeelhaar/diario/internal/config"
	"github.com/felixgeelhaar/diario/internal/secret"
	"github.com/felixgeelhaar/diario/internal/store"
	"github.com/spf13/cobra"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.UserPath()
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(path, config.Default()); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written: %s\n", path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Store a setting such as openai.api_key",
	Long: `Store a setting in the local database. Keys ending in api_key or token are
encrypted at rest and used when the matching environment variable is unset.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, closeStore, err := openVault()
		if err != nil {
			return err
		}
		defer closeStore()

		if err := v.Set(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("failed to set config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", args[0])
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show a stored setting; secrets are masked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, closeStore, err := openVault()
		if err != nil {
			return err
		}
		defer closeStore()

		key := args[0]
		val, err := v.Get(cmd.Context(), key)
		if err != nil {
			if errors.Is(err, secret.ErrDecryptionFailed) {
				return fmt.Errorf("%s was stored on another machine; set it again: %w", key, err)
			}
			return err
		}
		out := cmd.OutOrStdout()
		switch {
		case val == "":
			fmt.Fprintln(out, "(not set)")
		case secret.IsSecretKey(key):
			fmt.Fprintln(out, secret.Mask(val))
		default:
			fmt.Fprintln(out, val)
		}
		return nil
	},
}

func openVault() (*secret.Vault, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	box, err := secret.NewBox()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return secret.NewVault(db, box), func() { db.Close() }, nil
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
}
