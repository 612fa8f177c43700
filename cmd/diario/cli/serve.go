package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/diario/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the diary and chat HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		app, err := newApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer app.Close()

		addr := app.Config.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := server.New(app.Entries, app.Indexer, app.Chat, server.Options{
			AllowedOrigins: app.Config.Server.AllowedOrigins,
			RatePerSecond:  app.Config.Server.RatePerSecond,
			Burst:          app.Config.Server.Burst,
		}, app.Obs)
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}
