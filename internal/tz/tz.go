// Package tz pins every calendar computation to the exchange's settlement zone (UTC+8),
// independent of the host's local time zone.
package tz

import (
	"fmt"
	"regexp"
	"time"
)

const (
	// DateLayout is the calendar day format used for request dates and daily buckets.
	DateLayout = "2006-01-02"

	offsetSeconds = 8 * 60 * 60
)

// Beijing is a fixed UTC+8 zone. No zone database lookup is involved.
var Beijing = time.FixedZone("UTC+8", offsetSeconds)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseDate parses a YYYY-MM-DD string as midnight in UTC+8.
func ParseDate(date string) (time.Time, error) {
	if !datePattern.MatchString(date) {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD", date)
	}
	t, err := time.ParseInLocation(DateLayout, date, Beijing)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return t, nil
}

// StartOfDay returns the UTC millisecond timestamp of 00:00:00 UTC+8 on the given date.
func StartOfDay(date string) (int64, error) {
	t, err := ParseDate(date)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// Time converts a millisecond timestamp into a UTC+8 wall-clock time.
func Time(ms int64) time.Time {
	return time.UnixMilli(ms).In(Beijing)
}

// DateKey renders the UTC+8 calendar day of a millisecond timestamp.
func DateKey(ms int64) string {
	return Time(ms).Format(DateLayout)
}

// DaysAgo returns the UTC+8 date that lies n days before now.
func DaysAgo(now time.Time, n int) string {
	return now.In(Beijing).AddDate(0, 0, -n).Format(DateLayout)
}
