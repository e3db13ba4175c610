package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"fundingcalc/internal/service"
	"fundingcalc/internal/storage"
)

// History prints recent calculations.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if backend == nil {
		return errors.New("storage not configured; cannot show history")
	}
	defer closeStore()

	records, err := backend.ListRecentCalculations(ctx, a.Config.ResolveHistoryLimit(opts.Limit))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.out(), "no calculations recorded")
		return nil
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tMode\tValue\tRange\tEvents\tProfit\tCache")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%s\t%t\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Symbol,
			rec.SizingMode,
			rec.SizingValue.String(),
			formatRange(rec),
			rec.EventCount,
			formatDecimal(rec.TotalProfit, 4),
			rec.FromCacheOnly,
		)
	}

	return writer.Flush()
}

// Symbols prints the preset contracts and date shortcuts.
func (a *App) Symbols() error {
	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tName")
	for _, s := range service.SymbolPresets {
		fmt.Fprintf(writer, "%s\t%s\n", s.Symbol, s.Name)
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(a.out(), "\nstart date shortcuts: %s\n", service.PresetKeys())
	return err
}

func formatRange(rec storage.CalculationRecord) string {
	return rec.StartDate + ".." + orOpen(rec.EndDate)
}
