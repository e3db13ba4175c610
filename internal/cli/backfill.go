package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fundingcalc/internal/app"
	"fundingcalc/internal/service"
)

var (
	backfillSymbols []string
	backfillStart   string
	backfillEnd     string
	backfillDryRun  bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Warm the funding-rate cache for one or more symbols",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillStart == "" {
			return fmt.Errorf("--start must be provided")
		}

		opts := app.BackfillOptions{
			Symbols:   backfillSymbols,
			StartDate: backfillStart,
			EndDate:   backfillEnd,
			DryRun:    backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringSliceVar(&backfillSymbols, "symbol", []string{"BTCUSDT"}, "Symbols to backfill (repeatable or comma separated)")
	backfillCmd.Flags().StringVar(&backfillStart, "start", "", "Start date (YYYY-MM-DD, UTC+8) or "+service.PresetKeys())
	backfillCmd.Flags().StringVar(&backfillEnd, "end", "", "Inclusive end date (YYYY-MM-DD, UTC+8)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Fetch without reading or writing storage")
}
