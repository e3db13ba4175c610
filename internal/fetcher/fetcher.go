package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUpstream marks transport, status, and decoding failures of a page request.
// Callers treat it as transient.
var ErrUpstream = errors.New("upstream request failed")

// FundingRecord is one settlement as reported by the upstream history endpoint.
type FundingRecord struct {
	Symbol               string
	CalcTime             int64
	FundingIntervalHours int
	FundingRate          decimal.Decimal
	MarkPrice            decimal.Decimal
}

// FundingPage is one page of funding history, newest first.
type FundingPage struct {
	Success bool
	Total   int
	Records []FundingRecord
}

// Empty reports whether the page carries no usable data. A page with success=false or
// a missing data array is indistinguishable from the end of history.
func (p FundingPage) Empty() bool {
	return !p.Success || len(p.Records) == 0
}

// FundingPageFetcher retrieves one page of funding-rate history for a symbol.
type FundingPageFetcher interface {
	FetchFundingPage(ctx context.Context, symbol string, page, rows int) (FundingPage, error)
}
