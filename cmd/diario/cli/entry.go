package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/felixgeelhaar/diario/internal/diary"
	"github.com/felixgeelhaar/diario/internal/indexer"
	"github.com/spf13/cobra"
)

var (
	entryDate string
	entryFile string
)

var entryCmd = &cobra.Command{
	Use:   "entry",
	Short: "Write and read diary entries",
}

var entrySaveCmd = &cobra.Command{
	Use:   "save [text...]",
	Short: "Save the entry for a day and index it",
	Long: `Save the entry for a day (today unless --date is given) and index it.
The text comes from the arguments, from --file, or from stdin when neither
is given. Saving again replaces the day's entry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := entryText(cmd, args)
		if err != nil {
			return err
		}
		date := entryDate
		if date == "" {
			date = diary.Today()
		}

		app, err := newApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer app.Close()

		rep, err := app.Indexer.SaveEntry(cmd.Context(), date, text)
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), "Saved "+date, rep)
		return nil
	},
}

var entryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the days that have an entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := openEntries()
		if err != nil {
			return err
		}
		dates, err := entries.Dates()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(dates) == 0 {
			fmt.Fprintln(out, "No entries yet.")
			return nil
		}
		for _, d := range dates {
			fmt.Fprintln(out, d)
		}
		return nil
	},
}

var entryShowCmd = &cobra.Command{
	Use:   "show [date]",
	Short: "Print the entry of a day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := openEntries()
		if err != nil {
			return err
		}
		date, err := diary.ParseDate(args[0])
		if err != nil {
			return err
		}
		e, err := entries.Get(date)
		if err != nil {
			return fmt.Errorf("%s: %w", date, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), e.Text)
		return nil
	},
}

// openEntries reads entries without touching the index or any provider.
func openEntries() (*diary.FileStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return diary.NewFileStore(cfg.EntriesDir)
}

func entryText(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case len(args) > 0:
		return strings.Join(args, " "), nil
	case entryFile != "":
		data, err := os.ReadFile(entryFile)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", entryFile, err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
}

func printReport(w io.Writer, title string, rep indexer.Report) {
	fmt.Fprintf(w, "%s: %d chunks indexed", title, rep.Indexed)
	if rep.Removed > 0 {
		fmt.Fprintf(w, ", %d stale removed", rep.Removed)
	}
	if rep.Empty > 0 {
		fmt.Fprintf(w, ", %d empty", rep.Empty)
	}
	fmt.Fprintln(w)
	if rep.Partial() {
		fmt.Fprintf(w, "Warning: %d chunks could not be embedded and were skipped; run again later.\n", rep.Failed)
	}
}

func init() {
	RootCmd.AddCommand(entryCmd)
	entryCmd.AddCommand(entrySaveCmd)
	entryCmd.AddCommand(entryListCmd)
	entryCmd.AddCommand(entryShowCmd)
	entrySaveCmd.Flags().StringVar(&entryDate, "date", "", "Entry date YYYY-MM-DD (default today)")
	entrySaveCmd.Flags().StringVarP(&entryFile, "file", "f", "", "Read the entry text from a file")
}
