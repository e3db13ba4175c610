package service

import (
	"strings"
	"time"

	"fundingcalc/internal/tz"
)

// Symbol is a commonly requested perpetual contract.
type Symbol struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// SymbolPresets lists the contracts offered by default in the input form.
var SymbolPresets = []Symbol{
	{Symbol: "BTCUSDT", Name: "Bitcoin"},
	{Symbol: "ETHUSDT", Name: "Ethereum"},
	{Symbol: "BNBUSDT", Name: "BNB"},
	{Symbol: "SOLUSDT", Name: "Solana"},
	{Symbol: "XRPUSDT", Name: "XRP"},
	{Symbol: "ADAUSDT", Name: "Cardano"},
	{Symbol: "DOGEUSDT", Name: "Dogecoin"},
	{Symbol: "XAGUSDT", Name: "Silver"},
}

// DatePreset is a relative start date, counted back from today in UTC+8.
type DatePreset struct {
	Key  string `json:"key"`
	Days int    `json:"days"`
}

var DatePresets = []DatePreset{
	{Key: "7d", Days: 7},
	{Key: "30d", Days: 30},
	{Key: "90d", Days: 90},
	{Key: "365d", Days: 365},
}

// ResolveDate expands a preset key such as "30d" into a YYYY-MM-DD date relative to now.
// Anything else is returned unchanged for the normal date validation.
func ResolveDate(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	for _, p := range DatePresets {
		if strings.EqualFold(raw, p.Key) {
			return tz.DaysAgo(now, p.Days)
		}
	}
	return raw
}

// PresetKeys renders the preset keys for help text.
func PresetKeys() string {
	keys := make([]string, 0, len(DatePresets))
	for _, p := range DatePresets {
		keys = append(keys, p.Key)
	}
	return strings.Join(keys, "|")
}
