package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"fundingcalc/internal/calculator"
	"fundingcalc/internal/service"
)

// Calculate runs one calculation and prints the report.
func (a *App) Calculate(ctx context.Context, opts CalculateOptions) error {
	value, err := decimal.NewFromString(opts.Value)
	if err != nil {
		return &service.ValidationError{Field: "value", Reason: "must be a number"}
	}

	now := time.Now()
	req := service.Request{
		Symbol:      strings.ToUpper(strings.TrimSpace(opts.Symbol)),
		SizingMode:  opts.Mode,
		SizingValue: value,
		StartDate:   service.ResolveDate(opts.StartDate, now),
		EndDate:     service.ResolveDate(opts.EndDate, now),
	}

	svc, closeStore, err := a.newService(ctx, !opts.NoCache)
	if err != nil {
		return err
	}
	defer closeStore()

	resp, err := svc.Calculate(ctx, req)
	if err != nil {
		return err
	}

	if resp.Partial {
		fmt.Fprintln(a.out(), "warning: upstream retries exhausted, results may be incomplete")
	}
	a.printReport(req, resp)

	if opts.CSVPath == "" && opts.PNGPath == "" {
		return nil
	}
	return a.exportDaily(resp.Daily, opts)
}

func (a *App) printReport(req service.Request, resp service.Response) {
	s := resp.Summary
	out := a.out()

	source := "upstream"
	if resp.ServedFromCacheOnly {
		source = "cache"
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Symbol\t%s\n", req.Symbol)
	fmt.Fprintf(w, "Range (UTC+8)\t%s .. %s\n", req.StartDate, orOpen(req.EndDate))
	fmt.Fprintf(w, "Events\t%d (%s)\n", resp.EventCount, source)
	fmt.Fprintf(w, "Quantity\t%s\n", formatDecimal(s.Quantity, 6))
	fmt.Fprintf(w, "Initial price\t%s\n", formatDecimal(s.InitialPrice, 4))
	fmt.Fprintf(w, "Initial value\t%s\n", formatDecimal(s.InitialValue, 2))
	fmt.Fprintf(w, "Total profit\t%s\n", formatDecimal(s.TotalProfit, 4))
	fmt.Fprintf(w, "Return\t%s%%\n", formatDecimal(returnPct(s), 2))
	fmt.Fprintf(w, "Active days\t%d\n", s.DayCount)
	fmt.Fprintf(w, "Avg daily profit\t%s\n", formatDecimal(s.AvgDailyProfit, 4))
	w.Flush()

	if len(resp.Yearly) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "Year\tProfit\tEvents\tAvg/Month")
		for _, y := range resp.Yearly {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", y.Year, formatDecimal(y.Profit, 4), y.EventCount, formatDecimal(y.AvgMonthlyProfit, 4))
		}
		w.Flush()
	}

	if len(resp.Monthly) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "Month\tProfit\tEvents\tAvg/Day")
		for _, m := range resp.Monthly {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.Month, formatDecimal(m.Profit, 4), m.EventCount, formatDecimal(m.AvgDailyProfit, 4))
		}
		w.Flush()
	}

	if len(resp.Daily) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "Date\tProfit\tEvents\tFirst price\tAvg rate%")
		for _, d := range resp.Daily {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				d.Date,
				formatDecimal(d.Profit, 4),
				d.EventCount,
				formatDecimal(d.FirstPrice, 4),
				formatDecimal(d.AvgFundingRate.Mul(decimal.NewFromInt(100)), 4),
			)
		}
		w.Flush()
	}
}

// returnPct is totalProfit / initialValue in percent, 0 without a basis.
func returnPct(s calculator.Summary) decimal.Decimal {
	if !s.InitialValue.IsPositive() {
		return decimal.Zero
	}
	return s.TotalProfit.Div(s.InitialValue).Mul(decimal.NewFromInt(100))
}

func orOpen(date string) string {
	if date == "" {
		return "now"
	}
	return date
}
