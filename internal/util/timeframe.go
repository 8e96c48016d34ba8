package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const year = 365 * 24 * time.Hour

// ParseTimeframe converts a bar interval such as "5m", "1h" or "1d" into a
// duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(tf))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid timeframe unit in %q", tf)
	}
	return time.Duration(n) * unit, nil
}

// StepsPerYear returns how many bars of the given timeframe fit in a
// 365-day year of round-the-clock trading (105120 for "5m").
func StepsPerYear(tf string) (float64, error) {
	d, err := ParseTimeframe(tf)
	if err != nil {
		return 0, err
	}
	return float64(year) / float64(d), nil
}
