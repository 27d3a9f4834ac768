package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/superadvisor/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the advisory HTTP API",
	Long: `Starts the HTTP server with POST /v1/query and /healthz. Shutdown on
SIGINT/SIGTERM is graceful: in-flight queries finish and the audit queue
is drained before exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}

		srv := server.New(serveAddr, app.controller, app.members, Version)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			app.close(ctx)
			return err
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutdown_requested")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http_shutdown_incomplete")
		}
		app.close(shutdownCtx)
		log.Info().Msg("shutdown_complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}
