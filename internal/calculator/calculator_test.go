package calculator

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingcalc/internal/storage"
	"fundingcalc/internal/tz"
)

func at(t *testing.T, local string) int64 {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", local, tz.Beijing)
	require.NoError(t, err)
	return ts.UnixMilli()
}

func ev(calcTime int64, price, rate string) storage.FundingEvent {
	return storage.FundingEvent{
		Symbol:               "BTCUSDT",
		CalcTime:             calcTime,
		FundingIntervalHours: 8,
		MarkPrice:            decimal.RequireFromString(price),
		FundingRate:          decimal.RequireFromString(rate),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msg)
}

func TestByQuantityTwoEventDay(t *testing.T) {
	events := []storage.FundingEvent{
		ev(at(t, "2024-03-05 17:00"), "101", "-0.0002"),
		ev(at(t, "2024-03-05 09:00"), "100", "0.0001"),
	}

	res := ByQuantity(events, decimal.NewFromInt(10))

	require.Len(t, res.Daily, 1)
	day := res.Daily[0]
	assert.Equal(t, "2024-03-05", day.Date)
	assertDecimal(t, "-0.102", day.Profit)
	assert.Equal(t, 2, day.EventCount)
	assertDecimal(t, "100", day.FirstPrice, "first price is resolved by time")
	assertDecimal(t, "-0.00005", day.AvgFundingRate)

	require.Len(t, res.Monthly, 1)
	assert.Equal(t, "2024-03", res.Monthly[0].Month)
	assertDecimal(t, "-0.102", res.Monthly[0].AvgDailyProfit)

	require.Len(t, res.Yearly, 1)
	assert.Equal(t, "2024", res.Yearly[0].Year)
	assert.Equal(t, 2, res.Yearly[0].EventCount)

	s := res.Summary
	assertDecimal(t, "-0.102", s.TotalProfit)
	assert.Equal(t, 2, s.TotalRecords)
	assert.Equal(t, 1, s.DayCount)
	assertDecimal(t, "10", s.Quantity)
	assertDecimal(t, "100", s.InitialPrice)
	assertDecimal(t, "1000", s.InitialValue)
}

func TestByQuantityEmptyInput(t *testing.T) {
	res := ByQuantity(nil, decimal.NewFromInt(5))

	assert.Empty(t, res.Daily)
	assert.Empty(t, res.Monthly)
	assert.Empty(t, res.Yearly)
	assert.True(t, res.Summary.TotalProfit.IsZero())
	assert.Zero(t, res.Summary.TotalRecords)
	assert.Zero(t, res.Summary.DayCount)
	assert.True(t, res.Summary.AvgDailyProfit.IsZero())
	assertDecimal(t, "5", res.Summary.Quantity)
	assert.True(t, res.Summary.InitialPrice.IsZero())
	assert.True(t, res.Summary.InitialValue.IsZero())

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"daily":[]`)
	assert.Contains(t, string(raw), `"monthly":[]`)
	assert.Contains(t, string(raw), `"yearly":[]`)
}

func TestByAmountEmptyInput(t *testing.T) {
	_, err := ByAmount(nil, decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Compute([]storage.FundingEvent{}, Sizing{Mode: ModeAmount, Value: decimal.NewFromInt(1000)})
	assert.True(t, errors.Is(err, ErrEmptyInput))
}

func TestByAmountZeroEntryPrice(t *testing.T) {
	_, err := ByAmount([]storage.FundingEvent{ev(at(t, "2024-03-05 08:00"), "0", "0.0001")}, decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestByAmountUsesEarliestPrice(t *testing.T) {
	events := []storage.FundingEvent{
		ev(at(t, "2024-03-06 16:00"), "105", "0.0001"),
		ev(at(t, "2024-03-05 08:00"), "3", "0.0001"),
		ev(at(t, "2024-03-06 00:00"), "110", "0.0003"),
	}

	res, err := ByAmount(events, decimal.NewFromInt(1000))
	require.NoError(t, err)

	assertDecimal(t, "3", res.Summary.InitialPrice)
	back := res.Summary.Quantity.Mul(dec("3"))
	assert.True(t, back.Sub(decimal.NewFromInt(1000)).Abs().LessThan(dec("1e-9")), "quantity × entry price = %s", back)
	assert.True(t, res.Summary.InitialValue.Sub(decimal.NewFromInt(1000)).Abs().LessThan(dec("1e-9")))
}

func TestBucketingUsesUTC8(t *testing.T) {
	// 16:30 UTC is 00:30 the next day in UTC+8.
	utc := time.Date(2024, 2, 29, 16, 30, 0, 0, time.UTC).UnixMilli()
	res := ByQuantity([]storage.FundingEvent{ev(utc, "1", "0.01")}, decimal.NewFromInt(1))
	require.Len(t, res.Daily, 1)
	assert.Equal(t, "2024-03-01", res.Daily[0].Date)
	assert.Equal(t, "2024-03", res.Monthly[0].Month)
}

func TestRollupsAndOrdering(t *testing.T) {
	events := []storage.FundingEvent{
		ev(at(t, "2023-12-31 16:00"), "10", "0.01"),
		ev(at(t, "2024-01-01 00:00"), "10", "0.02"),
		ev(at(t, "2024-01-01 08:00"), "10", "0.02"),
		ev(at(t, "2024-01-03 16:00"), "10", "0.03"),
		ev(at(t, "2024-02-10 08:00"), "10", "-0.01"),
	}

	res := ByQuantity(events, decimal.NewFromInt(2))

	var dates []string
	for _, d := range res.Daily {
		dates = append(dates, d.Date)
	}
	assert.Equal(t, []string{"2024-02-10", "2024-01-03", "2024-01-01", "2023-12-31"}, dates)

	require.Len(t, res.Monthly, 3)
	assert.Equal(t, "2024-02", res.Monthly[0].Month)
	jan := res.Monthly[1]
	assert.Equal(t, "2024-01", jan.Month)
	// 2×10×(0.02+0.02+0.03) = 1.4 over two active days
	assertDecimal(t, "1.4", jan.Profit)
	assertDecimal(t, "0.7", jan.AvgDailyProfit)
	assert.Equal(t, 3, jan.EventCount)

	require.Len(t, res.Yearly, 2)
	y2024 := res.Yearly[0]
	assert.Equal(t, "2024", y2024.Year)
	// 1.4 + (-0.2) = 1.2 over two active months
	assertDecimal(t, "1.2", y2024.Profit)
	assertDecimal(t, "0.6", y2024.AvgMonthlyProfit)
	assert.Equal(t, "2023", res.Yearly[1].Year)

	assertDecimal(t, "1.4", res.Summary.TotalProfit)
	assert.Equal(t, 4, res.Summary.DayCount)
	assertDecimal(t, "0.35", res.Summary.AvgDailyProfit)
}

func TestSummationLaws(t *testing.T) {
	var events []storage.FundingEvent
	start := at(t, "2023-11-20 00:00")
	rates := []string{"0.0001", "-0.00025", "0.00037", "0.0000125", "-0.0001"}
	prices := []string{"36000.5", "41000.25", "39999.99", "0.0421", "72000"}
	for i := 0; i < 300; i++ {
		events = append(events, ev(start+int64(i)*8*3600*1000, prices[i%len(prices)], rates[i%len(rates)]))
	}

	res := ByQuantity(events, dec("0.37"))

	sumDaily := decimal.Zero
	for _, d := range res.Daily {
		sumDaily = sumDaily.Add(d.Profit)
	}
	assert.True(t, sumDaily.Equal(res.Summary.TotalProfit))

	for _, y := range res.Yearly {
		sumMonths := decimal.Zero
		count := 0
		for _, m := range res.Monthly {
			if m.Month[:4] == y.Year {
				sumMonths = sumMonths.Add(m.Profit)
				count += m.EventCount
			}
		}
		assert.True(t, sumMonths.Equal(y.Profit), y.Year)
		assert.Equal(t, count, y.EventCount)
	}

	total := 0
	for _, d := range res.Daily {
		total += d.EventCount
	}
	assert.Equal(t, len(events), total)
	assert.Equal(t, len(events), res.Summary.TotalRecords)
}

func TestComputeIsDeterministic(t *testing.T) {
	events := []storage.FundingEvent{
		ev(at(t, "2024-01-01 00:00"), "100", "0.0001"),
		ev(at(t, "2024-01-02 08:00"), "101", "0.0002"),
		ev(at(t, "2024-01-01 16:00"), "99", "-0.0003"),
	}
	sizing := Sizing{Mode: ModeAmount, Value: dec("777")}

	a, err := Compute(events, sizing)
	require.NoError(t, err)

	// shuffled input must not change the output
	shuffled := []storage.FundingEvent{events[2], events[0], events[1]}
	b, err := Compute(shuffled, sizing)
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(ja), string(jb))
}

func TestComputeUnknownMode(t *testing.T) {
	_, err := Compute(nil, Sizing{Mode: "leverage", Value: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEmptyInput))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Amount ")
	require.NoError(t, err)
	assert.Equal(t, ModeAmount, m)

	m, err = ParseMode("quantity")
	require.NoError(t, err)
	assert.Equal(t, ModeQuantity, m)

	_, err = ParseMode("notional")
	assert.Error(t, err)
}
