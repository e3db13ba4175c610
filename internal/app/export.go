package app

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"fundingcalc/internal/calculator"
	"fundingcalc/internal/tz"
)

// exportDaily writes the daily series, oldest first, as CSV and/or PNG.
func (a *App) exportDaily(daily []calculator.DailyStat, opts CalculateOptions) error {
	if len(daily) == 0 {
		a.Logger.Info().Msg("no daily data to export")
		return nil
	}

	series := make([]calculator.DailyStat, len(daily))
	copy(series, daily)
	sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })

	if opts.CSVPath != "" {
		if err := writeDailyCSV(opts.CSVPath, series); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.CSVPath).Int("rows", len(series)).Msg("daily csv written")
	}

	if opts.PNGPath != "" {
		points := downsampleDaily(series, a.Config.ResolveMaxPoints(opts.MaxPoints))
		if err := writeDailyPNG(opts.PNGPath, points); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.PNGPath).Int("points", len(points)).Msg("daily chart written")
	}

	return nil
}

func downsampleDaily(series []calculator.DailyStat, max int) []calculator.DailyStat {
	if max <= 1 || len(series) <= max {
		return series
	}

	result := make([]calculator.DailyStat, 0, max)
	step := float64(len(series)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(series) {
			idx = len(series) - 1
		}
		result = append(result, series[idx])
	}
	return result
}

func writeDailyCSV(path string, series []calculator.DailyStat) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "profit", "cumulative_profit", "event_count", "first_price", "avg_funding_rate"}
	if err := writer.Write(header); err != nil {
		return err
	}

	cumulative := decimal.Zero
	for _, d := range series {
		cumulative = cumulative.Add(d.Profit)
		record := []string{
			d.Date,
			d.Profit.String(),
			cumulative.String(),
			strconv.Itoa(d.EventCount),
			d.FirstPrice.String(),
			d.AvgFundingRate.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeDailyPNG(path string, series []calculator.DailyStat) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(series))
	cumulative := make([]float64, len(series))
	price := make([]float64, len(series))

	running := decimal.Zero
	for i, d := range series {
		day, err := tz.ParseDate(d.Date)
		if err != nil {
			return err
		}
		running = running.Add(d.Profit)
		x[i] = day
		cumulative[i] = running.InexactFloat64()
		price[i] = d.FirstPrice.InexactFloat64()
	}

	// go-chart needs at least two points per series
	if len(series) == 1 {
		x = append(x, x[0].Add(24*time.Hour))
		cumulative = append(cumulative, cumulative[0])
		price = append(price, price[0])
	}

	profitFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Cumulative profit",
			ValueFormatter: profitFormatter,
			Range:          flatRange(cumulative),
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Mark price",
			ValueFormatter: profitFormatter,
			Range:          flatRange(price),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Cumulative profit",
				XValues: x,
				YValues: cumulative,
			},
			chart.TimeSeries{
				Name:    "First mark price",
				XValues: x,
				YValues: price,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// flatRange pads a constant series so the axis keeps a non-zero span. It returns nil
// when the data already spans a range.
func flatRange(values []float64) chart.Range {
	if len(values) == 0 {
		return nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi > lo {
		return nil
	}
	pad := math.Max(math.Abs(lo)*0.01, 1)
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
