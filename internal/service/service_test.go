package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingcalc/internal/calculator"
	"fundingcalc/internal/ingest"
	"fundingcalc/internal/storage"
	"fundingcalc/internal/tz"
)

type stubCoverer struct {
	cov    ingest.Coverage
	err    error
	calls  int
	symbol string
	rng    ingest.Range
}

func (s *stubCoverer) FetchCoverage(_ context.Context, symbol string, rng ingest.Range) (ingest.Coverage, error) {
	s.calls++
	s.symbol = symbol
	s.rng = rng
	return s.cov, s.err
}

type stubHistory struct {
	records []storage.CalculationRecord
	err     error
}

func (h *stubHistory) InsertCalculation(_ context.Context, rec storage.CalculationRecord) error {
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, rec)
	return nil
}

func (h *stubHistory) ListRecentCalculations(_ context.Context, limit int) ([]storage.CalculationRecord, error) {
	if limit > len(h.records) {
		limit = len(h.records)
	}
	return h.records[:limit], h.err
}

func sampleEvents(t *testing.T) []storage.FundingEvent {
	t.Helper()
	day, err := tz.ParseDate("2024-03-05")
	require.NoError(t, err)
	return []storage.FundingEvent{
		{Symbol: "BTCUSDT", CalcTime: day.Add(17 * time.Hour).UnixMilli(), FundingIntervalHours: 8, MarkPrice: decimal.NewFromInt(101), FundingRate: decimal.RequireFromString("-0.0002")},
		{Symbol: "BTCUSDT", CalcTime: day.Add(9 * time.Hour).UnixMilli(), FundingIntervalHours: 8, MarkPrice: decimal.NewFromInt(100), FundingRate: decimal.RequireFromString("0.0001")},
	}
}

func validRequest() Request {
	return Request{
		Symbol:      " btcusdt ",
		SizingMode:  "quantity",
		SizingValue: decimal.NewFromInt(10),
		StartDate:   "2024-03-05",
	}
}

func TestValidateRejectsBadRequests(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Request)
		field  string
	}{
		"missing symbol":   {func(r *Request) { r.Symbol = "  " }, "symbol"},
		"missing mode":     {func(r *Request) { r.SizingMode = "" }, "inputType"},
		"unknown mode":     {func(r *Request) { r.SizingMode = "leverage" }, "inputType"},
		"zero value":       {func(r *Request) { r.SizingValue = decimal.Zero }, "inputValue"},
		"negative value":   {func(r *Request) { r.SizingValue = decimal.NewFromInt(-1) }, "inputValue"},
		"missing start":    {func(r *Request) { r.StartDate = "" }, "startDate"},
		"malformed start":  {func(r *Request) { r.StartDate = "2024/03/05" }, "startDate"},
		"impossible start": {func(r *Request) { r.StartDate = "2024-02-30" }, "startDate"},
		"malformed end":    {func(r *Request) { r.EndDate = "tomorrow" }, "endDate"},
		"end before start": {func(r *Request) { r.EndDate = "2024-03-04" }, "endDate"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cov := &stubCoverer{}
			svc := New(cov, nil, zerolog.Nop())

			req := validRequest()
			tc.mutate(&req)
			_, err := svc.Calculate(context.Background(), req)

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tc.field, vErr.Field)
			assert.Zero(t, cov.calls, "core must not run for invalid requests")
		})
	}
}

func TestValidateNormalisesRange(t *testing.T) {
	req := validRequest()
	req.EndDate = "2024-03-06"

	q, err := req.Validate()
	require.NoError(t, err)

	start, _ := tz.StartOfDay("2024-03-05")
	end, _ := tz.StartOfDay("2024-03-07")
	assert.Equal(t, "BTCUSDT", q.Symbol)
	assert.Equal(t, calculator.ModeQuantity, q.Sizing.Mode)
	assert.Equal(t, ingest.Range{Start: start, End: end}, q.Range)
}

func TestCalculateQuantity(t *testing.T) {
	cov := &stubCoverer{cov: ingest.Coverage{Events: sampleEvents(t), FromCacheOnly: true}}
	hist := &stubHistory{}
	svc := New(cov, hist, zerolog.Nop())

	resp, err := svc.Calculate(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cov.symbol)
	assert.True(t, resp.ServedFromCacheOnly)
	assert.Equal(t, 2, resp.EventCount)
	assert.True(t, decimal.RequireFromString("-0.102").Equal(resp.Summary.TotalProfit))

	require.Len(t, hist.records, 1)
	rec := hist.records[0]
	assert.Equal(t, "BTCUSDT", rec.Symbol)
	assert.Equal(t, "quantity", rec.SizingMode)
	assert.Equal(t, 2, rec.EventCount)
	assert.True(t, rec.FromCacheOnly)
	assert.NotEqual(t, [16]byte{}, [16]byte(rec.ID))
}

func TestCalculateAmountWithoutDataIsEmptyInput(t *testing.T) {
	svc := New(&stubCoverer{}, nil, zerolog.Nop())
	req := validRequest()
	req.SizingMode = "amount"
	req.SizingValue = decimal.NewFromInt(1000)

	_, err := svc.Calculate(context.Background(), req)
	assert.ErrorIs(t, err, calculator.ErrEmptyInput)
}

func TestCalculateQuantityWithoutDataIsZero(t *testing.T) {
	svc := New(&stubCoverer{}, nil, zerolog.Nop())
	req := validRequest()
	req.SizingValue = decimal.NewFromInt(5)

	resp, err := svc.Calculate(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, resp.EventCount)
	assert.True(t, resp.Summary.Quantity.Equal(decimal.NewFromInt(5)))
}

func TestCalculateUpstreamUnavailable(t *testing.T) {
	svc := New(&stubCoverer{cov: ingest.Coverage{Partial: true}}, nil, zerolog.Nop())

	_, err := svc.Calculate(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestCalculatePartialWithDataSucceeds(t *testing.T) {
	svc := New(&stubCoverer{cov: ingest.Coverage{Events: sampleEvents(t), Partial: true}}, nil, zerolog.Nop())

	resp, err := svc.Calculate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, resp.Partial)
	assert.Equal(t, 2, resp.EventCount)
}

func TestCalculateHistoryFailureIsNonFatal(t *testing.T) {
	hist := &stubHistory{err: errors.New("read-only database")}
	svc := New(&stubCoverer{cov: ingest.Coverage{Events: sampleEvents(t)}}, hist, zerolog.Nop())

	_, err := svc.Calculate(context.Background(), validRequest())
	assert.NoError(t, err)
}

func TestCalculatePropagatesCancellation(t *testing.T) {
	svc := New(&stubCoverer{err: context.Canceled}, nil, zerolog.Nop())

	_, err := svc.Calculate(context.Background(), validRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackfill(t *testing.T) {
	cov := &stubCoverer{cov: ingest.Coverage{Events: sampleEvents(t), Fetched: 2}}
	svc := New(cov, nil, zerolog.Nop())

	got, err := svc.Backfill(context.Background(), "ethusdt", "2024-03-05", "")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Fetched)
	assert.Equal(t, "ETHUSDT", cov.symbol)
	assert.Zero(t, cov.rng.End)

	_, err = svc.Backfill(context.Background(), "", "2024-03-05", "")
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestRecentCalculations(t *testing.T) {
	svc := New(&stubCoverer{}, nil, zerolog.Nop())
	_, err := svc.RecentCalculations(context.Background(), 10)
	assert.ErrorIs(t, err, storage.ErrNotConfigured)

	hist := &stubHistory{records: []storage.CalculationRecord{{Symbol: "A"}, {Symbol: "B"}}}
	svc = New(&stubCoverer{}, hist, zerolog.Nop())
	recs, err := svc.RecentCalculations(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestResolveDate(t *testing.T) {
	now := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC) // 2024-03-11 04:00 UTC+8
	assert.Equal(t, "2024-03-04", ResolveDate("7d", now))
	assert.Equal(t, "2023-03-12", ResolveDate("365D", now))
	assert.Equal(t, "2024-01-01", ResolveDate(" 2024-01-01 ", now))
	assert.Equal(t, "7d|30d|90d|365d", PresetKeys())
}
