// Package ingest assembles a complete, deduplicated funding history for a symbol from the
// local cache, patching missing ranges from the upstream history endpoint.
package ingest

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"fundingcalc/internal/fetcher"
	"fundingcalc/internal/metrics"
	"fundingcalc/internal/storage"
)

const defaultFundingInterval = 8 * time.Hour

// Options tune pagination and cache acceptance.
type Options struct {
	PageSize   int
	PageDelay  time.Duration
	RetryDelay time.Duration
	// Tolerance is how far after the requested start the oldest cached event may lie
	// while the cache still counts as covering the start.
	Tolerance time.Duration
}

// DefaultOptions matches the upstream's documented rate limits.
func DefaultOptions() Options {
	return Options{
		PageSize:   100,
		PageDelay:  300 * time.Millisecond,
		RetryDelay: time.Second,
		Tolerance:  time.Second,
	}
}

// Range selects events with Start <= calcTime, and calcTime < End when End > 0.
// Both bounds are UTC milliseconds.
type Range struct {
	Start int64
	End   int64
}

// Coverage is the merged event set for one request.
type Coverage struct {
	// Events are unique by CalcTime and ordered newest first.
	Events []storage.FundingEvent
	// FromCacheOnly is true when no upstream request was made.
	FromCacheOnly bool
	// Fetched counts records kept from upstream pages.
	Fetched int
	// Partial is true when pagination stopped because a page failed twice.
	Partial bool
}

// Ingestor implements the cache-then-patch retrieval policy.
type Ingestor struct {
	fetcher fetcher.FundingPageFetcher
	store   storage.FundingStore
	opts    Options
	logger  zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New constructs an Ingestor. store may be nil, in which case every request goes upstream
// and nothing is persisted.
func New(f fetcher.FundingPageFetcher, store storage.FundingStore, opts Options, logger zerolog.Logger) *Ingestor {
	defaults := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = defaults.PageSize
	}
	if opts.PageDelay < 0 {
		opts.PageDelay = defaults.PageDelay
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = defaults.RetryDelay
	}
	if opts.Tolerance < 0 {
		opts.Tolerance = defaults.Tolerance
	}
	return &Ingestor{
		fetcher: f,
		store:   store,
		opts:    opts,
		logger:  logger.With().Str("component", "ingest").Logger(),
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// FetchCoverage returns every event for symbol inside rng, drawing from the cache first.
// Upstream failures never surface here: after one retry the ingestion stops and returns
// what it has, with Partial set. Only context cancellation is returned as an error.
func (in *Ingestor) FetchCoverage(ctx context.Context, symbol string, rng Range) (Coverage, error) {
	log := in.logger.With().Str("symbol", symbol).Int64("from", rng.Start).Int64("to", rng.End).Logger()

	cached := in.readCache(ctx, log, symbol, rng)

	lower, outcome := in.plan(cached, rng)
	metrics.CacheLookupsTotal.WithLabelValues(outcome).Inc()
	if outcome == outcomeHit {
		log.Debug().Int("cached", len(cached)).Msg("cache covers requested range")
		return Coverage{Events: cached, FromCacheOnly: true}, nil
	}

	log.Info().Int("cached", len(cached)).Str("reason", outcome).Int64("lower_bound", lower).Msg("fetching from upstream")

	fetched, partial, err := in.paginate(ctx, log, symbol, lower, rng.End)
	if err != nil {
		return Coverage{}, err
	}
	if partial {
		metrics.PartialCoverageTotal.Inc()
		log.Warn().Int("fetched", len(fetched)).Msg("upstream retries exhausted; returning partial coverage")
	}

	in.persist(ctx, log, fetched)

	merged := merge(cached, fetched)
	log.Info().Int("cached", len(cached)).Int("fetched", len(fetched)).Int("total", len(merged)).Msg("coverage assembled")

	return Coverage{Events: merged, Fetched: len(fetched), Partial: partial}, nil
}

const (
	outcomeHit       = "hit"
	outcomeTailMiss  = "tail_miss"
	outcomeHeadStale = "head_stale"
	outcomeGap       = "gap"
)

func (in *Ingestor) readCache(ctx context.Context, log zerolog.Logger, symbol string, rng Range) []storage.FundingEvent {
	if in.store == nil {
		return nil
	}
	events, err := in.store.ListEvents(ctx, symbol, rng.Start, rng.End)
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("cache read failed; treating cache as empty")
		return nil
	}
	sortDesc(events)
	return events
}

// plan decides the lower bound of the upstream fetch. The cache is a hit only if its
// oldest event lies within the tolerance of the start, adjacent events are at most one
// funding interval apart, and no settlement can fall between the newest event and the
// upper bound.
func (in *Ingestor) plan(cached []storage.FundingEvent, rng Range) (int64, string) {
	if len(cached) == 0 {
		return rng.Start, outcomeTailMiss
	}

	tol := in.opts.Tolerance.Milliseconds()
	oldest := cached[len(cached)-1]
	if oldest.CalcTime-rng.Start > tol {
		return rng.Start, outcomeTailMiss
	}

	// oldest gap first, so one descending pass refills every hole above it
	for i := len(cached) - 1; i > 0; i-- {
		older, newer := cached[i], cached[i-1]
		step := intervalOf(older)
		if ni := intervalOf(newer); ni > step {
			step = ni
		}
		if newer.CalcTime-older.CalcTime > step.Milliseconds()+tol {
			return older.CalcTime + 1, outcomeGap
		}
	}

	upper := in.now().UnixMilli()
	if rng.End > 0 && rng.End < upper {
		upper = rng.End
	}

	newest := cached[0]
	if newest.CalcTime+intervalOf(newest).Milliseconds() < upper {
		return newest.CalcTime + 1, outcomeHeadStale
	}

	return rng.Start, outcomeHit
}

func intervalOf(ev storage.FundingEvent) time.Duration {
	if ev.FundingIntervalHours <= 0 {
		return defaultFundingInterval
	}
	return time.Duration(ev.FundingIntervalHours) * time.Hour
}

// paginate walks pages newest-first until it crosses lower, exhausts the upstream total,
// or a page fails twice. Pages are requested strictly one after another.
func (in *Ingestor) paginate(ctx context.Context, log zerolog.Logger, symbol string, lower, end int64) ([]storage.FundingEvent, bool, error) {
	var (
		out     []storage.FundingEvent
		seen    int
		partial bool
	)

	for page := 1; ; page++ {
		res, err := in.fetcher.FetchFundingPage(ctx, symbol, page, in.opts.PageSize)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, false, ctxErr
			}
			metrics.UpstreamPagesTotal.WithLabelValues("error").Inc()
			log.Warn().Err(err).Int("page", page).Dur("retry_in", in.opts.RetryDelay).Msg("page fetch failed; retrying once")

			if err := in.sleep(ctx, in.opts.RetryDelay); err != nil {
				return nil, false, err
			}

			res, err = in.fetcher.FetchFundingPage(ctx, symbol, page, in.opts.PageSize)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, false, ctxErr
				}
				metrics.UpstreamPagesTotal.WithLabelValues("retry_error").Inc()
				log.Error().Err(err).Int("page", page).Msg("page retry failed; stopping pagination")
				partial = true
				break
			}
			metrics.UpstreamPagesTotal.WithLabelValues("retry_ok").Inc()
		}

		if res.Empty() {
			metrics.UpstreamPagesTotal.WithLabelValues("empty").Inc()
			log.Debug().Int("page", page).Msg("no more data")
			break
		}
		metrics.UpstreamPagesTotal.WithLabelValues("ok").Inc()

		seen += len(res.Records)
		kept, truncated := filterPage(res.Records, symbol, lower, end)
		out = append(out, kept...)
		metrics.UpstreamRecordsTotal.Add(float64(len(kept)))
		log.Debug().Int("page", page).Int("kept", len(kept)).Int("received", len(res.Records)).Msg("page processed")

		if truncated {
			log.Debug().Int("page", page).Msg("reached records before lower bound")
			break
		}
		if len(res.Records) < in.opts.PageSize || seen >= res.Total {
			log.Debug().Int("page", page).Int("seen", seen).Int("total", res.Total).Msg("reached end of upstream history")
			break
		}

		if err := in.sleep(ctx, in.opts.PageDelay); err != nil {
			return nil, false, err
		}
	}

	return out, partial, nil
}

// filterPage keeps lower <= calcTime (< end when end > 0). truncated reports whether any
// record fell below lower, which means older pages are out of range.
func filterPage(records []fetcher.FundingRecord, symbol string, lower, end int64) ([]storage.FundingEvent, bool) {
	kept := make([]storage.FundingEvent, 0, len(records))
	truncated := false
	for _, rec := range records {
		if rec.CalcTime < lower {
			truncated = true
			continue
		}
		if end > 0 && rec.CalcTime >= end {
			continue
		}
		sym := rec.Symbol
		if sym == "" {
			sym = symbol
		}
		kept = append(kept, storage.FundingEvent{
			Symbol:               sym,
			CalcTime:             rec.CalcTime,
			FundingIntervalHours: rec.FundingIntervalHours,
			FundingRate:          rec.FundingRate,
			MarkPrice:            rec.MarkPrice,
		})
	}
	return kept, truncated
}

// persist upserts each fetched record. A failed write is logged and skipped.
func (in *Ingestor) persist(ctx context.Context, log zerolog.Logger, events []storage.FundingEvent) {
	if in.store == nil || len(events) == 0 {
		return
	}
	failed := 0
	for _, ev := range events {
		if err := in.store.UpsertEvent(ctx, ev); err != nil {
			failed++
			metrics.PersistenceErrorsTotal.WithLabelValues("event").Inc()
			log.Error().Err(err).Int64("calc_time", ev.CalcTime).Msg("failed to cache funding event")
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
		}
	}
	if failed > 0 {
		log.Warn().Int("failed", failed).Int("total", len(events)).Msg("some funding events were not cached")
	}
}

// merge dedupes by calcTime, letting freshly fetched records win, and sorts newest first.
func merge(cached, fetched []storage.FundingEvent) []storage.FundingEvent {
	byTime := make(map[int64]storage.FundingEvent, len(cached)+len(fetched))
	for _, ev := range cached {
		byTime[ev.CalcTime] = ev
	}
	for _, ev := range fetched {
		byTime[ev.CalcTime] = ev
	}

	out := make([]storage.FundingEvent, 0, len(byTime))
	for _, ev := range byTime {
		out = append(out, ev)
	}
	sortDesc(out)
	return out
}

func sortDesc(events []storage.FundingEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].CalcTime > events[j].CalcTime })
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
