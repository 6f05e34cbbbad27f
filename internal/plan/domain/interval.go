package domain

import (
	"fmt"
	"strings"
	"time"
)

type Interval string

const (
	IntervalWeekly    Interval = "weekly"
	IntervalBiweekly  Interval = "biweekly"
	IntervalMonthly   Interval = "monthly"
	IntervalQuarterly Interval = "quarterly"
	IntervalYearly    Interval = "yearly"
)

func (i Interval) Valid() bool {
	switch i {
	case IntervalWeekly, IntervalBiweekly, IntervalMonthly, IntervalQuarterly, IntervalYearly:
		return true
	}
	return false
}

func ParseInterval(raw string) (Interval, error) {
	i := Interval(strings.ToLower(strings.TrimSpace(raw)))
	if !i.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
	}
	return i, nil
}

// CalculatePeriodEnd advances from by count intervals. Month based intervals
// clamp to the last day of the target month, so Jan 31 + 1 month is Feb 28/29.
func CalculatePeriodEnd(from time.Time, interval Interval, count int) (time.Time, error) {
	if count < 1 {
		return time.Time{}, fmt.Errorf("%w: interval_count must be >= 1", ErrInvalidInterval)
	}
	switch interval {
	case IntervalWeekly:
		return from.AddDate(0, 0, 7*count), nil
	case IntervalBiweekly:
		return from.AddDate(0, 0, 14*count), nil
	case IntervalMonthly:
		return addMonthsClamped(from, count), nil
	case IntervalQuarterly:
		return addMonthsClamped(from, 3*count), nil
	case IntervalYearly:
		return addMonthsClamped(from, 12*count), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
