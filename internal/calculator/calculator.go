// Package calculator turns a set of funding settlements into per-day, per-month and
// per-year profit aggregates for a fixed position size. It performs no I/O.
package calculator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fundingcalc/internal/storage"
	"fundingcalc/internal/tz"
)

// ErrEmptyInput is returned when amount sizing has no event to take an entry price from.
var ErrEmptyInput = errors.New("no funding events available")

// Mode selects how the position size is derived.
type Mode string

const (
	ModeQuantity Mode = "quantity"
	ModeAmount   Mode = "amount"
)

// ParseMode accepts "quantity" or "amount", case-insensitively.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeQuantity:
		return ModeQuantity, nil
	case ModeAmount:
		return ModeAmount, nil
	default:
		return "", fmt.Errorf("unknown sizing mode %q", raw)
	}
}

// Sizing is a position sizing rule: a fixed quantity, or a fixed quote amount converted
// at the earliest mark price.
type Sizing struct {
	Mode  Mode
	Value decimal.Decimal
}

// DailyStat is one UTC+8 calendar day. FirstPrice is the mark price of its earliest event.
type DailyStat struct {
	Date           string          `json:"date"`
	Profit         decimal.Decimal `json:"profit"`
	EventCount     int             `json:"count"`
	FirstPrice     decimal.Decimal `json:"firstPrice"`
	AvgFundingRate decimal.Decimal `json:"avgFundingRate"`
}

// MonthlyStat rolls up the active days of a month.
type MonthlyStat struct {
	Month          string          `json:"month"`
	Profit         decimal.Decimal `json:"profit"`
	EventCount     int             `json:"count"`
	AvgDailyProfit decimal.Decimal `json:"avgDailyProfit"`
}

// YearlyStat rolls up the active months of a year.
type YearlyStat struct {
	Year             string          `json:"year"`
	Profit           decimal.Decimal `json:"profit"`
	EventCount       int             `json:"count"`
	AvgMonthlyProfit decimal.Decimal `json:"avgMonthlyProfit"`
}

// Summary totals the whole range. InitialValue is Quantity × InitialPrice.
type Summary struct {
	TotalProfit    decimal.Decimal `json:"totalProfit"`
	TotalRecords   int             `json:"totalRecords"`
	DayCount       int             `json:"dayCount"`
	AvgDailyProfit decimal.Decimal `json:"avgDailyProfit"`
	Quantity       decimal.Decimal `json:"quantity"`
	InitialPrice   decimal.Decimal `json:"initialPrice"`
	InitialValue   decimal.Decimal `json:"initialValue"`
}

// Result is the full aggregation. Every bucket list is ordered by key, newest first.
type Result struct {
	Daily   []DailyStat   `json:"daily"`
	Monthly []MonthlyStat `json:"monthly"`
	Yearly  []YearlyStat  `json:"yearly"`
	Summary Summary       `json:"summary"`
}

// Compute dispatches on the sizing mode.
func Compute(events []storage.FundingEvent, sizing Sizing) (Result, error) {
	switch sizing.Mode {
	case ModeQuantity:
		return ByQuantity(events, sizing.Value), nil
	case ModeAmount:
		return ByAmount(events, sizing.Value)
	default:
		return Result{}, fmt.Errorf("unknown sizing mode %q", sizing.Mode)
	}
}

// ByQuantity aggregates with a fixed position quantity. Empty input yields empty buckets
// and a zero summary carrying the quantity.
func ByQuantity(events []storage.FundingEvent, quantity decimal.Decimal) Result {
	return aggregate(events, quantity)
}

// ByAmount derives the quantity as amount / markPrice of the earliest event.
func ByAmount(events []storage.FundingEvent, amount decimal.Decimal) (Result, error) {
	earliest, ok := earliestEvent(events)
	if !ok {
		return Result{}, ErrEmptyInput
	}
	if earliest.MarkPrice.IsZero() {
		return Result{}, fmt.Errorf("%w: zero entry price at %d", ErrEmptyInput, earliest.CalcTime)
	}
	return aggregate(events, amount.Div(earliest.MarkPrice)), nil
}

// EventProfit is quantity × markPrice × fundingRate; the sign follows the rate.
func EventProfit(quantity decimal.Decimal, ev storage.FundingEvent) decimal.Decimal {
	return quantity.Mul(ev.MarkPrice).Mul(ev.FundingRate)
}

type dayAcc struct {
	profit    decimal.Decimal
	rateSum   decimal.Decimal
	count     int
	firstTime int64
	firstPx   decimal.Decimal
}

type rollupAcc struct {
	profit decimal.Decimal
	count  int
	active int
}

func aggregate(events []storage.FundingEvent, quantity decimal.Decimal) Result {
	days := make(map[string]*dayAcc)
	for _, ev := range events {
		key := tz.DateKey(ev.CalcTime)
		acc, ok := days[key]
		if !ok {
			acc = &dayAcc{firstTime: ev.CalcTime, firstPx: ev.MarkPrice}
			days[key] = acc
		}
		acc.profit = acc.profit.Add(EventProfit(quantity, ev))
		acc.rateSum = acc.rateSum.Add(ev.FundingRate)
		acc.count++
		// 按时间取当天最早价格，不依赖输入顺序
		if ev.CalcTime < acc.firstTime {
			acc.firstTime = ev.CalcTime
			acc.firstPx = ev.MarkPrice
		}
	}

	daily := make([]DailyStat, 0, len(days))
	for key, acc := range days {
		daily = append(daily, DailyStat{
			Date:           key,
			Profit:         acc.profit,
			EventCount:     acc.count,
			FirstPrice:     acc.firstPx,
			AvgFundingRate: acc.rateSum.Div(decimal.NewFromInt(int64(acc.count))),
		})
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date > daily[j].Date })

	months := make(map[string]*rollupAcc)
	for _, d := range daily {
		acc := bucket(months, d.Date[:7])
		acc.profit = acc.profit.Add(d.Profit)
		acc.count += d.EventCount
		acc.active++
	}
	monthly := make([]MonthlyStat, 0, len(months))
	for key, acc := range months {
		monthly = append(monthly, MonthlyStat{
			Month:          key,
			Profit:         acc.profit,
			EventCount:     acc.count,
			AvgDailyProfit: acc.profit.Div(decimal.NewFromInt(int64(acc.active))),
		})
	}
	sort.Slice(monthly, func(i, j int) bool { return monthly[i].Month > monthly[j].Month })

	years := make(map[string]*rollupAcc)
	for _, m := range monthly {
		acc := bucket(years, m.Month[:4])
		acc.profit = acc.profit.Add(m.Profit)
		acc.count += m.EventCount
		acc.active++
	}
	yearly := make([]YearlyStat, 0, len(years))
	for key, acc := range years {
		yearly = append(yearly, YearlyStat{
			Year:             key,
			Profit:           acc.profit,
			EventCount:       acc.count,
			AvgMonthlyProfit: acc.profit.Div(decimal.NewFromInt(int64(acc.active))),
		})
	}
	sort.Slice(yearly, func(i, j int) bool { return yearly[i].Year > yearly[j].Year })

	return Result{
		Daily:   daily,
		Monthly: monthly,
		Yearly:  yearly,
		Summary: summarize(events, daily, quantity),
	}
}

func summarize(events []storage.FundingEvent, daily []DailyStat, quantity decimal.Decimal) Summary {
	total := decimal.Zero
	for _, d := range daily {
		total = total.Add(d.Profit)
	}

	avg := decimal.Zero
	if len(daily) > 0 {
		avg = total.Div(decimal.NewFromInt(int64(len(daily))))
	}

	initial := decimal.Zero
	if earliest, ok := earliestEvent(events); ok {
		initial = earliest.MarkPrice
	}

	return Summary{
		TotalProfit:    total,
		TotalRecords:   len(events),
		DayCount:       len(daily),
		AvgDailyProfit: avg,
		Quantity:       quantity,
		InitialPrice:   initial,
		InitialValue:   quantity.Mul(initial),
	}
}

func bucket(m map[string]*rollupAcc, key string) *rollupAcc {
	acc, ok := m[key]
	if !ok {
		acc = &rollupAcc{}
		m[key] = acc
	}
	return acc
}

func earliestEvent(events []storage.FundingEvent) (storage.FundingEvent, bool) {
	if len(events) == 0 {
		return storage.FundingEvent{}, false
	}
	earliest := events[0]
	for _, ev := range events[1:] {
		if ev.CalcTime < earliest.CalcTime {
			earliest = ev
		}
	}
	return earliest, true
}
