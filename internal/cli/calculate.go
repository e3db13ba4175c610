package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fundingcalc/internal/app"
	"fundingcalc/internal/service"
)

var (
	calcSymbol    string
	calcMode      string
	calcValue     string
	calcStart     string
	calcEnd       string
	calcCSVPath   string
	calcPNGPath   string
	calcMaxPoints int
	calcNoCache   bool
)

var calculateCmd = &cobra.Command{
	Use:     "calculate",
	Aliases: []string{"calc"},
	Short:   "Compute funding profits for a symbol over a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if calcValue == "" {
			return fmt.Errorf("--value must be provided")
		}

		opts := app.CalculateOptions{
			Symbol:    calcSymbol,
			Mode:      calcMode,
			Value:     calcValue,
			StartDate: calcStart,
			EndDate:   calcEnd,
			CSVPath:   calcCSVPath,
			PNGPath:   calcPNGPath,
			MaxPoints: calcMaxPoints,
			NoCache:   calcNoCache,
		}

		return getApp().Calculate(cmd.Context(), opts)
	},
}

func init() {
	calculateCmd.Flags().StringVar(&calcSymbol, "symbol", "BTCUSDT", "Perpetual contract symbol")
	calculateCmd.Flags().StringVar(&calcMode, "mode", "quantity", "Sizing mode: quantity or amount")
	calculateCmd.Flags().StringVar(&calcValue, "value", "", "Position quantity, or quote amount in amount mode")
	calculateCmd.Flags().StringVar(&calcStart, "start", "30d", "Start date (YYYY-MM-DD, UTC+8) or "+service.PresetKeys())
	calculateCmd.Flags().StringVar(&calcEnd, "end", "", "Inclusive end date (YYYY-MM-DD, UTC+8); defaults to now")
	calculateCmd.Flags().StringVar(&calcCSVPath, "csv", "", "Path to write the daily series as CSV")
	calculateCmd.Flags().StringVar(&calcPNGPath, "png", "", "Path to write the daily series as a PNG chart")
	calculateCmd.Flags().IntVar(&calcMaxPoints, "max-points", 0, "Maximum chart points (defaults to config)")
	calculateCmd.Flags().BoolVar(&calcNoCache, "no-cache", false, "Bypass the configured storage")
}
