package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FundingEvent is one funding settlement for one symbol. (Symbol, CalcTime) is the key;
// the remaining fields are updated in place on re-ingest.
type FundingEvent struct {
	Symbol               string          `json:"symbol"`
	CalcTime             int64           `json:"calcTime"`
	FundingIntervalHours int             `json:"fundingIntervalHours"`
	FundingRate          decimal.Decimal `json:"fundingRate"`
	MarkPrice            decimal.Decimal `json:"markPrice"`
}

// CalculationRecord captures a completed calculation for auditing.
type CalculationRecord struct {
	ID            uuid.UUID       `json:"id"`
	Symbol        string          `json:"symbol"`
	SizingMode    string          `json:"sizingMode"`
	SizingValue   decimal.Decimal `json:"sizingValue"`
	StartDate     string          `json:"startDate"`
	EndDate       string          `json:"endDate,omitempty"`
	EventCount    int             `json:"eventCount"`
	TotalProfit   decimal.Decimal `json:"totalProfit"`
	FromCacheOnly bool            `json:"servedFromCacheOnly"`
	CreatedAt     time.Time       `json:"createdAt"`
}
