package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"fundingcalc/internal/config"
	"fundingcalc/internal/fetcher"
	"fundingcalc/internal/httpapi"
	"fundingcalc/internal/ingest"
	"fundingcalc/internal/service"
	"fundingcalc/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; defaults to stdout.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) newFetcher() (*fetcher.Binance, error) {
	up := a.Config.Upstream
	return fetcher.NewBinance(fetcher.BinanceOptions{
		BaseURL: up.BaseURL,
		Transport: fetcher.TransportOptions{
			ProxyURL:  up.ProxyURL,
			Timeout:   up.RequestTimeout,
			UserAgent: up.UserAgent,
		},
		RequestsPerSecond: up.RequestsPerSecond,
	}, a.Logger)
}

func (a *App) ingestOptions() ingest.Options {
	up := a.Config.Upstream
	return ingest.Options{
		PageSize:   up.PageSize,
		PageDelay:  up.PageDelay,
		RetryDelay: up.RetryDelay,
		Tolerance:  up.CacheTolerance,
	}
}

func (a *App) openStore(ctx context.Context) (storage.Backend, func(), error) {
	backend, err := storage.Open(ctx, a.Config.Database, a.Config.Redis)
	if err != nil {
		return nil, nil, err
	}
	if backend == nil {
		return nil, nil, nil
	}
	return backend, backend.Close, nil
}

// newService wires fetcher, cache and history. When persist is false the cache is
// neither read nor written.
func (a *App) newService(ctx context.Context, persist bool) (*service.Service, func(), error) {
	f, err := a.newFetcher()
	if err != nil {
		return nil, nil, err
	}

	var (
		funding storage.FundingStore
		history storage.HistoryStore
		closer  = func() {}
	)

	if persist {
		backend, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		if backend == nil {
			a.Logger.Warn().Str("driver", a.Config.Database.Driver).Msg("no storage configured; cache and history disabled")
		} else {
			funding = backend
			if a.Config.History.Enabled {
				history = backend
			}
			closer = closeStore
		}
	}

	in := ingest.New(f, funding, a.ingestOptions(), a.Logger)
	return service.New(in, history, a.Logger), closer, nil
}

// Serve runs the HTTP API until SIGINT/SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closeStore, err := a.newService(ctx, true)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := httpapi.NewServer(a.Config.Server, a.Config.History.ListLimit, svc, a.Logger)

	a.Logger.Info().Str("addr", a.Config.Server.Addr).Msg("starting api server")
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("api server terminated with error")
		return err
	}

	a.Logger.Info().Msg("api server stopped")
	return nil
}

// CalculateOptions parameterise a one-off calculation.
type CalculateOptions struct {
	Symbol    string
	Mode      string
	Value     string
	StartDate string
	EndDate   string
	CSVPath   string
	PNGPath   string
	MaxPoints int
	// NoCache bypasses the configured storage.
	NoCache bool
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	Symbols   []string
	StartDate string
	EndDate   string
	DryRun    bool
}
