package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fundingcalc/internal/app"
	"fundingcalc/internal/config"
	"fundingcalc/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "fundingcalc",
	Short: "Compute funding-rate profits for perpetual futures positions",
	Long: `fundingcalc pulls funding-rate settlements from the Binance history endpoint,
caches them locally and rolls the profit of a hypothetical position up into
daily, monthly and yearly buckets (UTC+8).`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initApp,
}

// initApp loads configuration once per process and builds the shared App.
func initApp(cmd *cobra.Command, _ []string) error {
	if appHandle != nil {
		return nil
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	appHandle = app.NewApp(cfg, logging.NewLogger(cfg.Logging))
	appHandle.Out = cmd.OutOrStdout()
	return nil
}

// Execute runs the root command. SIGINT/SIGTERM cancel the command context, so a
// long ingestion stops between pages instead of being killed mid-write.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file (default ./config.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "Override logging.level")
	flags.StringVar(&logFormat, "log-format", "", "Override logging.format (json|console)")

	rootCmd.AddCommand(calculateCmd, backfillCmd, historyCmd, migrateCmd, serveCmd, symbolsCmd, versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("cli: app used before initApp")
	}
	return appHandle
}
