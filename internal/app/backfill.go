package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fundingcalc/internal/service"
)

// Backfill warms the cache for each symbol by running ingestion without aggregation.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if len(opts.Symbols) == 0 {
		return errors.New("至少需要一个 --symbol")
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会读写缓存")
	}

	svc, closeStore, err := a.newService(ctx, !opts.DryRun)
	if err != nil {
		return err
	}
	defer closeStore()

	now := time.Now()
	start := service.ResolveDate(opts.StartDate, now)
	end := service.ResolveDate(opts.EndDate, now)

	failed := 0
	for _, raw := range opts.Symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cov, err := svc.Backfill(ctx, symbol, start, end)
		if err != nil {
			var vErr *service.ValidationError
			if errors.As(err, &vErr) || errors.Is(err, context.Canceled) {
				return err
			}
			failed++
			a.Logger.Error().Err(err).Str("symbol", symbol).Msg("回填失败")
			continue
		}
		if cov.Partial {
			failed++
		}

		fmt.Fprintf(a.out(), "%s\tevents=%d\tfetched=%d\tcache_only=%t\tpartial=%t\n",
			symbol, len(cov.Events), cov.Fetched, cov.FromCacheOnly, cov.Partial)
	}

	a.Logger.Info().Int("symbols", len(opts.Symbols)).Int("failed", failed).Msg("回填完成")
	if failed > 0 {
		return errors.New("部分交易对回填不完整，请检查日志")
	}
	return nil
}
