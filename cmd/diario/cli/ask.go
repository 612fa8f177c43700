package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask [question...]",
	Short: "Ask your diary a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer app.Close()

		session := askSession
		if session == "" {
			session = uuid.NewString()
		}
		answer, err := app.Chat.Ask(cmd.Context(), session, strings.Join(args, " "))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, answer.Text)
		if len(answer.Sources) > 0 && verbose {
			fmt.Fprintln(out)
			for _, p := range answer.Sources {
				fmt.Fprintf(out, "  %s  %.3f  %s\n", p.Date, p.Score, p.ChunkID)
			}
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askSession, "session", "", "Session id; reuse it to keep the conversation going")
}
