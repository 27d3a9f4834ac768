// Package cmd wires the superadvisor CLI: one-shot queries, the HTTP server,
// and audit/cost reporting over the governance store.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	saotel "github.com/dativo-io/superadvisor/internal/otel"
)

// Version metadata, set at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	flagLogLevel  string
	flagLogFormat string
	flagOTel      bool

	otelShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "superadvisor",
	Short: "Governed retirement advisory pipeline",
	Long: `superadvisor answers member retirement questions through a governed
pipeline: tiered classification, jurisdiction-aware calculation tools,
grounded synthesis, and a validation gate. Every query is cost-accounted
and written to a signed audit trail.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(); err != nil {
			return err
		}
		shutdown, err := saotel.Setup("superadvisor", Version, flagOTel)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		otelShutdown = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if otelShutdown != nil {
			return otelShutdown(cmd.Context())
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&flagOTel, "otel", false, "emit OpenTelemetry traces and metrics")

	viper.SetConfigName("superadvisor.config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}
	// Missing config file is fine; env vars and defaults cover everything.
	_ = viper.ReadInConfig()
}

func setupLogging() error {
	level, err := zerolog.ParseLevel(strings.ToLower(flagLogLevel))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", flagLogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	switch flagLogFormat {
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	default:
		return fmt.Errorf("invalid log format %q (want console or json)", flagLogFormat)
	}
	return nil
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
