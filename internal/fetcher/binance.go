package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultBinanceURL = "https://www.binance.com/bapi/futures/v1/public/future/common/get-funding-rate-history"

// BinanceOptions parameterise the funding-rate history client.
type BinanceOptions struct {
	BaseURL   string
	Transport TransportOptions
	// RequestsPerSecond caps every request made through this client, across callers.
	// Zero disables the limiter.
	RequestsPerSecond float64
}

// Binance fetches funding-rate history pages from the Binance public web API.
type Binance struct {
	logger    zerolog.Logger
	client    *http.Client
	limiter   *rate.Limiter
	endpoint  string
	userAgent string
}

// NewBinance constructs the upstream client.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) (*Binance, error) {
	client, err := opts.Transport.NewHTTPClient()
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSpace(opts.BaseURL)
	if endpoint == "" {
		endpoint = defaultBinanceURL
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Binance{
		logger:    logger.With().Str("component", "binance_fetcher").Logger(),
		client:    client,
		limiter:   limiter,
		endpoint:  endpoint,
		userAgent: opts.Transport.userAgent(),
	}, nil
}

// FetchFundingPage requests one page of history. Transport, HTTP status and decoding
// failures are wrapped with ErrUpstream.
func (b *Binance) FetchFundingPage(ctx context.Context, symbol string, page, rows int) (FundingPage, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return FundingPage{}, err
		}
	}

	body, err := json.Marshal(pageRequest{Symbol: symbol, Page: page, Rows: rows})
	if err != nil {
		return FundingPage{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return FundingPage{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", b.userAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return FundingPage{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return FundingPage{}, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		return FundingPage{}, parseHTTPError(resp.StatusCode, payload)
	}

	var res pageResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return FundingPage{}, fmt.Errorf("%w: decode page: %v", ErrUpstream, err)
	}

	out := FundingPage{Success: res.Success, Total: res.Total}
	if len(res.Data) == 0 {
		return out, nil
	}

	out.Records = make([]FundingRecord, 0, len(res.Data))
	for _, item := range res.Data {
		record, err := item.toRecord(symbol)
		if err != nil {
			return FundingPage{}, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		out.Records = append(out.Records, record)
	}

	b.logger.Debug().Str("symbol", symbol).Int("page", page).Int("records", len(out.Records)).Int("total", out.Total).Msg("page fetched")
	return out, nil
}

type pageRequest struct {
	Symbol string `json:"symbol"`
	Page   int    `json:"page"`
	Rows   int    `json:"rows"`
}

type pageResponse struct {
	Success bool       `json:"success"`
	Total   int        `json:"total"`
	Data    []pageItem `json:"data"`
}

type pageItem struct {
	CalcTime             int64  `json:"calcTime"`
	Symbol               string `json:"symbol"`
	FundingIntervalHours int    `json:"fundingIntervalHours"`
	LastFundingRate      string `json:"lastFundingRate"`
	MarkPrice            string `json:"markPrice"`
}

func (p pageItem) toRecord(requested string) (FundingRecord, error) {
	rate, err := decimal.NewFromString(p.LastFundingRate)
	if err != nil {
		return FundingRecord{}, fmt.Errorf("parse funding rate %q: %w", p.LastFundingRate, err)
	}
	price, err := decimal.NewFromString(p.MarkPrice)
	if err != nil {
		return FundingRecord{}, fmt.Errorf("parse mark price %q: %w", p.MarkPrice, err)
	}
	symbol := p.Symbol
	if symbol == "" {
		symbol = requested
	}
	return FundingRecord{
		Symbol:               symbol,
		CalcTime:             p.CalcTime,
		FundingIntervalHours: p.FundingIntervalHours,
		FundingRate:          rate,
		MarkPrice:            price,
	}, nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("%w: binance api error (%d): %s", ErrUpstream, status, apiErr.Message)
		}
		if apiErr.Msg != "" {
			return fmt.Errorf("%w: binance api error (%d): %s", ErrUpstream, status, apiErr.Msg)
		}
		if apiErr.Code != "" {
			return fmt.Errorf("%w: binance api error (%d): %s", ErrUpstream, status, apiErr.Code)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%w: binance api error (%d): %s", ErrUpstream, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w: binance api error (%d)", ErrUpstream, status)
}

var _ FundingPageFetcher = (*Binance)(nil)
