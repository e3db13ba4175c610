package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fundingcalc/internal/calculator"
	"fundingcalc/internal/ingest"
	"fundingcalc/internal/metrics"
	"fundingcalc/internal/storage"
	"fundingcalc/internal/tz"
)

// ErrUpstreamUnavailable is returned when every upstream retry failed and nothing was
// cached for the requested range.
var ErrUpstreamUnavailable = errors.New("upstream unavailable and no cached data")

// ValidationError reports a malformed request field. The core never runs for such requests.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Coverer yields the merged funding history for a range.
type Coverer interface {
	FetchCoverage(ctx context.Context, symbol string, rng ingest.Range) (ingest.Coverage, error)
}

// Request is a profit calculation request. Dates are UTC+8 calendar days; EndDate is
// optional and inclusive.
type Request struct {
	Symbol      string
	SizingMode  string
	SizingValue decimal.Decimal
	StartDate   string
	EndDate     string
}

// Response wraps the aggregation with ingestion metadata.
type Response struct {
	calculator.Result
	ServedFromCacheOnly bool `json:"servedFromCacheOnly"`
	EventCount          int  `json:"eventCount"`
	// Partial is logged and counted but not part of the wire format.
	Partial bool `json:"-"`
}

// Query is a validated request.
type Query struct {
	Symbol    string
	Sizing    calculator.Sizing
	StartDate string
	EndDate   string
	Range     ingest.Range
}

// Validate normalises the request into a Query.
func (r Request) Validate() (Query, error) {
	symbol := strings.ToUpper(strings.TrimSpace(r.Symbol))
	if symbol == "" {
		return Query{}, &ValidationError{Field: "symbol", Reason: "is required"}
	}

	if strings.TrimSpace(r.SizingMode) == "" {
		return Query{}, &ValidationError{Field: "inputType", Reason: "is required"}
	}
	mode, err := calculator.ParseMode(r.SizingMode)
	if err != nil {
		return Query{}, &ValidationError{Field: "inputType", Reason: "must be quantity or amount"}
	}

	if !r.SizingValue.IsPositive() {
		return Query{}, &ValidationError{Field: "inputValue", Reason: "must be greater than zero"}
	}

	rng, err := ParseRange(r.StartDate, r.EndDate)
	if err != nil {
		return Query{}, err
	}

	return Query{
		Symbol:    symbol,
		Sizing:    calculator.Sizing{Mode: mode, Value: r.SizingValue},
		StartDate: strings.TrimSpace(r.StartDate),
		EndDate:   strings.TrimSpace(r.EndDate),
		Range:     rng,
	}, nil
}

// ParseRange converts UTC+8 calendar dates into a millisecond range. The end date is
// inclusive, so the range ends at the following midnight.
func ParseRange(startDate, endDate string) (ingest.Range, error) {
	startDate = strings.TrimSpace(startDate)
	if startDate == "" {
		return ingest.Range{}, &ValidationError{Field: "startDate", Reason: "is required"}
	}
	start, err := tz.StartOfDay(startDate)
	if err != nil {
		return ingest.Range{}, &ValidationError{Field: "startDate", Reason: "must be a valid YYYY-MM-DD date"}
	}

	rng := ingest.Range{Start: start}
	if endDate = strings.TrimSpace(endDate); endDate != "" {
		end, err := tz.StartOfDay(endDate)
		if err != nil {
			return ingest.Range{}, &ValidationError{Field: "endDate", Reason: "must be a valid YYYY-MM-DD date"}
		}
		if end < start {
			return ingest.Range{}, &ValidationError{Field: "endDate", Reason: "must not be before startDate"}
		}
		rng.End = end + (24 * time.Hour).Milliseconds()
	}
	return rng, nil
}

// Service runs calculations end to end: ingestion, aggregation, history.
type Service struct {
	coverage Coverer
	history  storage.HistoryStore
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs the calculation service. history may be nil.
func New(coverage Coverer, history storage.HistoryStore, logger zerolog.Logger) *Service {
	return &Service{
		coverage: coverage,
		history:  history,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      time.Now,
	}
}

// Calculate validates req, assembles its funding history and aggregates profits.
func (s *Service) Calculate(ctx context.Context, req Request) (Response, error) {
	q, err := req.Validate()
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues(modeLabel(req.SizingMode), "invalid").Inc()
		return Response{}, err
	}

	mode := string(q.Sizing.Mode)
	started := s.now()
	defer func() {
		metrics.CalculationDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	}()

	log := s.logger.With().Str("symbol", q.Symbol).Str("mode", mode).Str("start", q.StartDate).Str("end", q.EndDate).Logger()

	cov, err := s.coverage.FetchCoverage(ctx, q.Symbol, q.Range)
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues(mode, "error").Inc()
		return Response{}, fmt.Errorf("fetch coverage: %w", err)
	}

	if len(cov.Events) == 0 && cov.Partial {
		metrics.CalculationsTotal.WithLabelValues(mode, "upstream_unavailable").Inc()
		log.Warn().Msg("no data: upstream retries exhausted")
		return Response{}, ErrUpstreamUnavailable
	}

	result, err := calculator.Compute(cov.Events, q.Sizing)
	if err != nil {
		if errors.Is(err, calculator.ErrEmptyInput) {
			metrics.CalculationsTotal.WithLabelValues(mode, "empty").Inc()
		} else {
			metrics.CalculationsTotal.WithLabelValues(mode, "error").Inc()
		}
		return Response{}, err
	}

	resp := Response{
		Result:              result,
		ServedFromCacheOnly: cov.FromCacheOnly,
		EventCount:          len(cov.Events),
		Partial:             cov.Partial,
	}

	s.recordHistory(ctx, log, q, resp)

	metrics.CalculationsTotal.WithLabelValues(mode, "ok").Inc()
	log.Info().
		Int("events", resp.EventCount).
		Bool("from_cache_only", resp.ServedFromCacheOnly).
		Bool("partial", resp.Partial).
		Str("total_profit", result.Summary.TotalProfit.String()).
		Msg("calculation complete")

	return resp, nil
}

// Backfill runs ingestion only, warming the cache for the range.
func (s *Service) Backfill(ctx context.Context, symbol, startDate, endDate string) (ingest.Coverage, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return ingest.Coverage{}, &ValidationError{Field: "symbol", Reason: "is required"}
	}
	rng, err := ParseRange(startDate, endDate)
	if err != nil {
		return ingest.Coverage{}, err
	}
	return s.coverage.FetchCoverage(ctx, symbol, rng)
}

// RecentCalculations lists the latest recorded calculations, newest first.
func (s *Service) RecentCalculations(ctx context.Context, limit int) ([]storage.CalculationRecord, error) {
	if s.history == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.history.ListRecentCalculations(ctx, limit)
}

// recordHistory never fails the request.
func (s *Service) recordHistory(ctx context.Context, log zerolog.Logger, q Query, resp Response) {
	if s.history == nil {
		return
	}
	rec := storage.CalculationRecord{
		ID:            uuid.New(),
		Symbol:        q.Symbol,
		SizingMode:    string(q.Sizing.Mode),
		SizingValue:   q.Sizing.Value,
		StartDate:     q.StartDate,
		EndDate:       q.EndDate,
		EventCount:    resp.EventCount,
		TotalProfit:   resp.Summary.TotalProfit,
		FromCacheOnly: resp.ServedFromCacheOnly,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.history.InsertCalculation(ctx, rec); err != nil {
		metrics.PersistenceErrorsTotal.WithLabelValues("history").Inc()
		log.Error().Err(err).Msg("failed to record calculation history")
	}
}

func modeLabel(raw string) string {
	if m, err := calculator.ParseMode(raw); err == nil {
		return string(m)
	}
	return "unknown"
}
