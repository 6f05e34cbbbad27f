package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 30, 0, 0, time.UTC)
}

func TestCalculatePeriodEnd(t *testing.T) {
	cases := []struct {
		name     string
		from     time.Time
		interval Interval
		count    int
		want     time.Time
	}{
		{"monthly leap year clamp", date(2024, time.January, 31), IntervalMonthly, 1, date(2024, time.February, 29)},
		{"monthly non leap clamp", date(2023, time.January, 31), IntervalMonthly, 1, date(2023, time.February, 28)},
		{"monthly mid month", date(2024, time.March, 15), IntervalMonthly, 1, date(2024, time.April, 15)},
		{"monthly across year", date(2024, time.December, 31), IntervalMonthly, 2, date(2025, time.February, 28)},
		{"weekly x2", date(2024, time.March, 15), IntervalWeekly, 2, date(2024, time.March, 29)},
		{"biweekly", date(2024, time.March, 15), IntervalBiweekly, 1, date(2024, time.March, 29)},
		{"quarterly clamp", date(2024, time.November, 30), IntervalQuarterly, 1, date(2025, time.February, 28)},
		{"yearly", date(2024, time.March, 15), IntervalYearly, 1, date(2025, time.March, 15)},
		{"yearly from leap day", date(2024, time.February, 29), IntervalYearly, 1, date(2025, time.February, 28)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CalculatePeriodEnd(tc.from, tc.interval, tc.count)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCalculatePeriodEndRejectsBadInput(t *testing.T) {
	_, err := CalculatePeriodEnd(date(2024, time.March, 15), IntervalMonthly, 0)
	require.ErrorIs(t, err, ErrInvalidInterval)

	_, err = CalculatePeriodEnd(date(2024, time.March, 15), Interval("daily"), 1)
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestParseInterval(t *testing.T) {
	i, err := ParseInterval(" Monthly ")
	require.NoError(t, err)
	require.Equal(t, IntervalMonthly, i)

	_, err = ParseInterval("fortnightly")
	require.Error(t, err)
}
