package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/felixgeelhaar/diario/internal/indexer"
	"github.com/felixgeelhaar/diario/internal/ui"
	"github.com/felixgeelhaar/diario/internal/ui/tui"
	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from every entry",
	Long: `Re-chunk and re-embed every entry. The index starts empty, so this also
repairs an index built with a different embedding model.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd, appOptions{freshIndex: true})
		if err != nil {
			return err
		}
		defer app.Close()

		out := cmd.OutOrStdout()
		var rep indexer.Report
		if interactive(out) {
			rep, err = reindexWithTUI(cmd, app)
		} else {
			app.Indexer.SetUI(ui.NewPlain(out))
			rep, err = app.Indexer.Reindex(cmd.Context())
		}
		if err != nil {
			return err
		}
		printReport(out, fmt.Sprintf("Reindexed %d entries", rep.Entries), rep)
		return nil
	},
}

func reindexWithTUI(cmd *cobra.Command, app *App) (indexer.Report, error) {
	model := tui.NewProgressModel("Reindexing diary")
	program := tea.NewProgram(model, tea.WithContext(cmd.Context()))
	t := tui.NewTUI(program)
	app.Indexer.SetUI(t)

	type result struct {
		rep indexer.Report
		err error
	}
	done := make(chan result, 1)
	go func() {
		rep, err := app.Indexer.Reindex(cmd.Context())
		t.Done()
		done <- result{rep, err}
	}()

	if _, err := program.Run(); err != nil {
		return indexer.Report{}, fmt.Errorf("progress display failed: %w", err)
	}
	r := <-done
	return r.rep, r.err
}

func init() {
	RootCmd.AddCommand(reindexCmd)
}
