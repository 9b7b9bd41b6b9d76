package tfutils

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// maxSeconds caps "Ns" timeframes at one day.
const maxSeconds = 24 * 60 * 60

// ParseTimeframe parses timeframe string (e.g., "5m", "1h") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d := GetTimeframeDuration(timeframe)
	if d == 0 {
		return 0, errors.New("unsupported timeframe")
	}
	return d, nil
}

// GetTimeframeDuration returns the duration for a given timeframe.
// Besides the fixed set it accepts "Ns" for any N seconds up to one day.
func GetTimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1s":
		return time.Second
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return secondsDuration(timeframe)
	}
}

func secondsDuration(timeframe string) time.Duration {
	digits, ok := strings.CutSuffix(timeframe, "s")
	if !ok || digits == "" || digits[0] == '+' {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 || n > maxSeconds {
		return 0
	}
	return time.Duration(n) * time.Second
}

// GetSupportedTimeframes returns all supported timeframes
func GetSupportedTimeframes() []string {
	return []string{"1s", "1m", "5m", "15m", "30m", "1h", "4h", "1d"}
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	return GetTimeframeDuration(timeframe) > 0
}

// BucketStart returns the start of the timeframe bucket containing ts.
// Buckets are aligned to UTC midnight.
func BucketStart(ts time.Time, timeframe string) time.Time {
	d := GetTimeframeDuration(timeframe)
	ts = ts.UTC()
	if d == 0 {
		return ts
	}
	y, m, day := ts.Date()
	midnight := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	return midnight.Add(ts.Sub(midnight).Truncate(d))
}
