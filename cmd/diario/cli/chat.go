package cli

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/felixgeelhaar/diario/internal/chat"
	"github.com/felixgeelhaar/diario/internal/ui/tui"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat with your diary",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer app.Close()

		session := chatSession
		if session == "" {
			session = uuid.NewString()
		}
		ask := func(ctx context.Context, q string) (chat.Answer, error) {
			return app.Chat.Ask(ctx, session, q)
		}

		model := tui.NewChatModel(cmd.Context(), session, ask)
		_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
		return err
	},
}

func init() {
	RootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Resume a session by id")
}
